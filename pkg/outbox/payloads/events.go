package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trialhub/trialhub-backend/pkg/enums"
)

// AuditOutcome separates successful operations from failed attempts in the audit trail.
type AuditOutcome string

const (
	AuditSuccess AuditOutcome = "success"
	AuditFailure AuditOutcome = "failure"
)

// AuditRecordedEvent is one entry of the financial audit trail.
type AuditRecordedEvent struct {
	Action     string                    `json:"action"`
	Outcome    AuditOutcome              `json:"outcome"`
	ActorID    *uuid.UUID                `json:"actor_id,omitempty"`
	ActorRole  enums.ActorRole           `json:"actor_role"`
	EntityType enums.OutboxAggregateType `json:"entity_type"`
	EntityID   uuid.UUID                 `json:"entity_id"`
	Details    map[string]any            `json:"details,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

// NotificationRequestedEvent asks the notification service to alert users or a role.
type NotificationRequestedEvent struct {
	Type          string                    `json:"type"`
	RecipientIDs  []uuid.UUID               `json:"recipient_ids,omitempty"`
	RecipientRole enums.ActorRole           `json:"recipient_role,omitempty"`
	EntityType    enums.OutboxAggregateType `json:"entity_type"`
	EntityID      uuid.UUID                 `json:"entity_id"`
	Data          map[string]any            `json:"data,omitempty"`
}

type CampaignStatusChangedEvent struct {
	CampaignID uuid.UUID            `json:"campaign_id"`
	SellerID   uuid.UUID            `json:"seller_id"`
	From       enums.CampaignStatus `json:"from"`
	To         enums.CampaignStatus `json:"to"`
	ChangedAt  time.Time            `json:"changed_at"`
}

type UGCStatusChangedEvent struct {
	UGCID      uuid.UUID       `json:"ugc_id"`
	CampaignID uuid.UUID       `json:"campaign_id"`
	SellerID   uuid.UUID       `json:"seller_id"`
	TesterID   uuid.UUID       `json:"tester_id"`
	From       enums.UGCStatus `json:"from"`
	To         enums.UGCStatus `json:"to"`
	ChangedAt  time.Time       `json:"changed_at"`
}

// TesterRewardPaidEvent is emitted once per completed session payout.
type TesterRewardPaidEvent struct {
	SessionID     uuid.UUID       `json:"session_id"`
	CampaignID    uuid.UUID       `json:"campaign_id"`
	TesterID      uuid.UUID       `json:"tester_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransferRef   string          `json:"transfer_ref"`
	PaidAt        time.Time       `json:"paid_at"`
}

type PayoutAccountUpdatedEvent struct {
	UserID          uuid.UUID `json:"user_id"`
	AccountRef      string    `json:"account_ref"`
	PayoutsEnabled  bool      `json:"payouts_enabled"`
	ChargesEnabled  bool      `json:"charges_enabled"`
	DetailsComplete bool      `json:"details_complete"`
}

// TransferReversedEvent reports funds clawed back from a tester after a reversal.
type TransferReversedEvent struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	TransferRef   string          `json:"transfer_ref"`
	UserID        uuid.UUID       `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// RefundSettlementFailedEvent flags a refund the processor could not settle.
type RefundSettlementFailedEvent struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	RefundRef     string          `json:"refund_ref"`
	Amount        decimal.Decimal `json:"amount"`
	CampaignID    *uuid.UUID      `json:"campaign_id,omitempty"`
	UGCID         *uuid.UUID      `json:"ugc_id,omitempty"`
}
