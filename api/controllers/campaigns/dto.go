package campaigns

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	internalcampaigns "github.com/trialhub/trialhub-backend/internal/campaigns"
	"github.com/trialhub/trialhub-backend/internal/escrow"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
)

type createRequest struct {
	Title         string          `json:"title" validate:"required,max=200"`
	TotalSlots    int             `json:"total_slots" validate:"required,min=1"`
	ExpectedPrice decimal.Decimal `json:"expected_price" validate:"money"`
	ShippingCost  decimal.Decimal `json:"shipping_cost" validate:"money"`
	Bonus         decimal.Decimal `json:"bonus" validate:"money"`
	Quantity      int             `json:"quantity" validate:"omitempty,min=1"`
}

type paymentRequest struct {
	CustomerRef      string `json:"customer_ref" validate:"required"`
	PaymentMethodRef string `json:"payment_method_ref" validate:"required"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type offerResponse struct {
	ExpectedPrice decimal.Decimal `json:"expected_price"`
	ShippingCost  decimal.Decimal `json:"shipping_cost"`
	Bonus         decimal.Decimal `json:"bonus"`
	Quantity      int             `json:"quantity"`
}

type campaignResponse struct {
	ID                          uuid.UUID       `json:"id"`
	SellerID                    uuid.UUID       `json:"seller_id"`
	Title                       string          `json:"title"`
	Status                      string          `json:"status"`
	TotalSlots                  int             `json:"total_slots"`
	Offer                       offerResponse   `json:"offer"`
	EscrowAmount                decimal.Decimal `json:"escrow_amount"`
	PerTesterCost               decimal.Decimal `json:"per_tester_cost"`
	PaymentAuthorizedAt         *time.Time      `json:"payment_authorized_at,omitempty"`
	PaymentCapturedAt           *time.Time      `json:"payment_captured_at,omitempty"`
	ActivationGracePeriodEndsAt *time.Time      `json:"activation_grace_period_ends_at,omitempty"`
	CancelledAt                 *time.Time      `json:"cancelled_at,omitempty"`
	CancellationReason          *string         `json:"cancellation_reason,omitempty"`
	CreatedAt                   time.Time       `json:"created_at"`
	UpdatedAt                   time.Time       `json:"updated_at"`
}

type cancelResponse struct {
	Campaign      campaignResponse `json:"campaign"`
	Branch        string           `json:"branch"`
	Refund        decimal.Decimal  `json:"refund"`
	Fee           decimal.Decimal  `json:"fee"`
	RefundRef     string           `json:"refund_ref,omitempty"`
	RefundPending bool             `json:"refund_pending"`
}

type impactResponse struct {
	RefundToSeller        decimal.Decimal `json:"refund_to_seller"`
	CancellationFee       decimal.Decimal `json:"cancellation_fee"`
	CompensationPerTester decimal.Decimal `json:"compensation_per_tester"`
	TotalCompensation     decimal.Decimal `json:"total_compensation"`
}

// Hold and charge references stay server side.
func toCampaignResponse(c *models.Campaign) campaignResponse {
	return campaignResponse{
		ID:         c.ID,
		SellerID:   c.SellerID,
		Title:      c.Title,
		Status:     string(c.Status),
		TotalSlots: c.TotalSlots,
		Offer: offerResponse{
			ExpectedPrice: c.Offer.ExpectedPrice,
			ShippingCost:  c.Offer.ShippingCost,
			Bonus:         c.Offer.Bonus,
			Quantity:      c.Offer.Quantity,
		},
		EscrowAmount:                c.EscrowAmount,
		PerTesterCost:               c.PerTesterCost,
		PaymentAuthorizedAt:         c.PaymentAuthorizedAt,
		PaymentCapturedAt:           c.PaymentCapturedAt,
		ActivationGracePeriodEndsAt: c.ActivationGracePeriodEndsAt,
		CancelledAt:                 c.CancelledAt,
		CancellationReason:          c.CancellationReason,
		CreatedAt:                   c.CreatedAt,
		UpdatedAt:                   c.UpdatedAt,
	}
}

func toCancelResponse(r *internalcampaigns.CancelResult) cancelResponse {
	return cancelResponse{
		Campaign:      toCampaignResponse(r.Campaign),
		Branch:        string(r.Branch),
		Refund:        r.Refund,
		Fee:           r.Fee,
		RefundRef:     r.RefundRef,
		RefundPending: r.RefundPending,
	}
}

func toImpactResponse(i *escrow.Impact) impactResponse {
	return impactResponse{
		RefundToSeller:        i.RefundToSeller,
		CancellationFee:       i.CancellationFee,
		CompensationPerTester: i.CompensationPerTester,
		TotalCompensation:     i.TotalCompensation,
	}
}
