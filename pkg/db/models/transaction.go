package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trialhub/trialhub-backend/pkg/enums"
)

// Transaction is a single ledger entry. A nil WalletID means the entry only moves platform balances.
// Completed and cancelled rows are immutable.
type Transaction struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID    *uuid.UUID              `gorm:"column:wallet_id;type:uuid"`
	Type        enums.TransactionType   `gorm:"column:type;type:transaction_type_enum;not null"`
	Status      enums.TransactionStatus `gorm:"column:status;type:transaction_status_enum;not null"`
	Amount      decimal.Decimal         `gorm:"column:amount;type:numeric(14,2);not null"`
	HoldRef     *string                 `gorm:"column:hold_ref"`
	TransferRef *string                 `gorm:"column:transfer_ref"`
	RefundRef   *string                 `gorm:"column:refund_ref"`
	CampaignID  *uuid.UUID              `gorm:"column:campaign_id;type:uuid"`
	SessionID   *uuid.UUID              `gorm:"column:session_id;type:uuid"`
	UGCID       *uuid.UUID              `gorm:"column:ugc_id;type:uuid"`
	Description string                  `gorm:"column:description;not null;default:''"`
	Metadata    json.RawMessage         `gorm:"column:metadata;type:jsonb"`
	CompletedAt *time.Time              `gorm:"column:completed_at"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
