package ugc

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trialhub/trialhub-backend/pkg/db/models"
)

type requestBody struct {
	SessionID        uuid.UUID `json:"session_id" validate:"required"`
	Type             string    `json:"type" validate:"required,ugc_type"`
	Description      string    `json:"description" validate:"max=2000"`
	CustomerRef      string    `json:"customer_ref"`
	PaymentMethodRef string    `json:"payment_method_ref"`
}

type submitBody struct {
	ContentURL string     `json:"content_url" validate:"omitempty,url"`
	MediaID    *uuid.UUID `json:"media_id"`
}

type reasonBody struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type resolveBody struct {
	Resolution    string          `json:"resolution" validate:"required,dispute_resolution"`
	PartialAmount decimal.Decimal `json:"partial_amount" validate:"money"`
	Notes         string          `json:"notes" validate:"max=2000"`
}

type ugcResponse struct {
	ID              uuid.UUID        `json:"id"`
	CampaignID      uuid.UUID        `json:"campaign_id"`
	SessionID       uuid.UUID        `json:"session_id"`
	SellerID        uuid.UUID        `json:"seller_id"`
	TesterID        uuid.UUID        `json:"tester_id"`
	Type            string           `json:"type"`
	Status          string           `json:"status"`
	Description     string           `json:"description"`
	IsPaid          bool             `json:"is_paid"`
	RequestedBonus  decimal.Decimal  `json:"requested_bonus"`
	Commission      decimal.Decimal  `json:"commission"`
	PaidBonus       *decimal.Decimal `json:"paid_bonus,omitempty"`
	ContentURL      *string          `json:"content_url,omitempty"`
	MediaID         *uuid.UUID       `json:"media_id,omitempty"`
	RejectionCount  int              `json:"rejection_count"`
	RejectionReason *string          `json:"rejection_reason,omitempty"`
	DisputeReason   *string          `json:"dispute_reason,omitempty"`
	Resolution      *string          `json:"resolution,omitempty"`
	ResolutionNotes *string          `json:"resolution_notes,omitempty"`
	SubmittedAt     *time.Time       `json:"submitted_at,omitempty"`
	ValidatedAt     *time.Time       `json:"validated_at,omitempty"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func toResponse(u *models.UGC) ugcResponse {
	resp := ugcResponse{
		ID:              u.ID,
		CampaignID:      u.CampaignID,
		SessionID:       u.SessionID,
		SellerID:        u.SellerID,
		TesterID:        u.TesterID,
		Type:            string(u.Type),
		Status:          string(u.Status),
		Description:     u.Description,
		IsPaid:          u.IsPaid,
		RequestedBonus:  u.RequestedBonus,
		Commission:      u.Commission,
		ContentURL:      u.ContentURL,
		MediaID:         u.MediaID,
		RejectionCount:  u.RejectionCount,
		RejectionReason: u.RejectionReason,
		DisputeReason:   u.DisputeReason,
		ResolutionNotes: u.ResolutionNotes,
		SubmittedAt:     u.SubmittedAt,
		ValidatedAt:     u.ValidatedAt,
		ResolvedAt:      u.ResolvedAt,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
	if u.PaidBonus.Valid {
		paid := u.PaidBonus.Decimal
		resp.PaidBonus = &paid
	}
	if u.Resolution != nil {
		resolution := string(*u.Resolution)
		resp.Resolution = &resolution
	}
	return resp
}
