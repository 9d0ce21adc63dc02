package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trialhub/trialhub-backend/pkg/enums"
)

// UGC is a seller's request for content from a tester, optionally paid.
type UGC struct {
	ID                uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CampaignID        uuid.UUID                `gorm:"column:campaign_id;type:uuid;not null"`
	SessionID         uuid.UUID                `gorm:"column:session_id;type:uuid;not null"`
	SellerID          uuid.UUID                `gorm:"column:seller_id;type:uuid;not null"`
	TesterID          uuid.UUID                `gorm:"column:tester_id;type:uuid;not null"`
	Type              enums.UGCType            `gorm:"column:type;type:ugc_type_enum;not null"`
	Status            enums.UGCStatus          `gorm:"column:status;type:ugc_status_enum;not null"`
	Description       string                   `gorm:"column:description;not null;default:''"`
	IsPaid            bool                     `gorm:"column:is_paid;not null;default:false"`
	RequestedBonus    decimal.Decimal          `gorm:"column:requested_bonus;type:numeric(14,2);not null;default:0"`
	Commission        decimal.Decimal          `gorm:"column:commission;type:numeric(14,2);not null;default:0"`
	PaidBonus         decimal.NullDecimal      `gorm:"column:paid_bonus;type:numeric(14,2)"`
	HoldRef           *string                  `gorm:"column:hold_ref"`
	ChargeRef         *string                  `gorm:"column:charge_ref"`
	HoldCapturedAt    *time.Time               `gorm:"column:hold_captured_at"`
	ContentURL        *string                  `gorm:"column:content_url"`
	MediaID           *uuid.UUID               `gorm:"column:media_id;type:uuid"`
	RejectionCount    int                      `gorm:"column:rejection_count;not null;default:0"`
	RejectionReason   *string                  `gorm:"column:rejection_reason"`
	DisputeReason     *string                  `gorm:"column:dispute_reason"`
	DisputedBy        *uuid.UUID               `gorm:"column:disputed_by;type:uuid"`
	Resolution        *enums.DisputeResolution `gorm:"column:resolution;type:dispute_resolution_enum"`
	ResolutionNotes   *string                  `gorm:"column:resolution_notes"`
	ResolvedBy        *uuid.UUID               `gorm:"column:resolved_by;type:uuid"`
	ResolvedAt        *time.Time               `gorm:"column:resolved_at"`
	SubmittedAt       *time.Time               `gorm:"column:submitted_at"`
	ValidatedAt       *time.Time               `gorm:"column:validated_at"`
	CreatedAt         time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (UGC) TableName() string { return "ugc_requests" }

// TotalHold is the amount authorized on the seller's card for a paid request.
func (u UGC) TotalHold() decimal.Decimal {
	return u.RequestedBonus.Add(u.Commission)
}
