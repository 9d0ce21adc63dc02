package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trialhub/trialhub-backend/pkg/enums"
)

// CampaignOffer is the per-tester reimbursement the seller commits to.
type CampaignOffer struct {
	ExpectedPrice decimal.Decimal `gorm:"column:expected_price;type:numeric(14,2);not null;default:0"`
	ShippingCost  decimal.Decimal `gorm:"column:shipping_cost;type:numeric(14,2);not null;default:0"`
	Bonus         decimal.Decimal `gorm:"column:bonus;type:numeric(14,2);not null;default:0"`
	Quantity      int             `gorm:"column:quantity;not null;default:1"`
}

// Campaign is a seller's funded product-testing engagement.
type Campaign struct {
	ID                          uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID                    uuid.UUID            `gorm:"column:seller_id;type:uuid;not null"`
	Title                       string               `gorm:"column:title;not null"`
	Status                      enums.CampaignStatus `gorm:"column:status;type:campaign_status_enum;not null"`
	TotalSlots                  int                  `gorm:"column:total_slots;not null"`
	Offer                       CampaignOffer        `gorm:"embedded;embeddedPrefix:offer_"`
	EscrowAmount                decimal.Decimal      `gorm:"column:escrow_amount;type:numeric(14,2);not null;default:0"`
	PerTesterCost               decimal.Decimal      `gorm:"column:per_tester_cost;type:numeric(14,2);not null;default:0"`
	HoldRef                     *string              `gorm:"column:hold_ref"`
	ChargeRef                   *string              `gorm:"column:charge_ref"`
	PaymentAuthorizedAt         *time.Time           `gorm:"column:payment_authorized_at"`
	PaymentCapturedAt           *time.Time           `gorm:"column:payment_captured_at"`
	ActivationGracePeriodEndsAt *time.Time           `gorm:"column:activation_grace_period_ends_at"`
	CancelledAt                 *time.Time           `gorm:"column:cancelled_at"`
	CancellationReason          *string              `gorm:"column:cancellation_reason"`
	CreatedAt                   time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                   time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// IsCaptured reports whether the seller's payment has been captured into escrow.
func (c Campaign) IsCaptured() bool {
	return c.PaymentCapturedAt != nil
}

// WithinGracePeriod reports whether now falls before the post-activation grace deadline.
func (c Campaign) WithinGracePeriod(now time.Time) bool {
	return c.ActivationGracePeriodEndsAt != nil && now.Before(*c.ActivationGracePeriodEndsAt)
}
