// Package campaigns runs the campaign funding state machine: authorization hold, capture into escrow,
// cancellation with refund, and the processor callbacks that move a campaign between those states.
package campaigns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/trialhub/trialhub-backend/internal/activity"
	"github.com/trialhub/trialhub-backend/internal/escrow"
	"github.com/trialhub/trialhub-backend/internal/gateway"
	"github.com/trialhub/trialhub-backend/internal/ledger"
	"github.com/trialhub/trialhub-backend/internal/rules"
	"github.com/trialhub/trialhub-backend/internal/sessions"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
	"github.com/trialhub/trialhub-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes the campaign payment lifecycle.
type Service interface {
	CreateDraft(ctx context.Context, input CreateInput) (*models.Campaign, error)
	Get(ctx context.Context, campaignID, sellerID uuid.UUID) (*models.Campaign, error)
	Activate(ctx context.Context, campaignID, sellerID uuid.UUID) (*models.Campaign, error)
	InitiatePayment(ctx context.Context, input PaymentInput) (*models.Campaign, error)
	CapturePayment(ctx context.Context, campaignID uuid.UUID) (bool, error)
	ExpireStaleHold(ctx context.Context, campaignID uuid.UUID) (bool, error)
	Cancel(ctx context.Context, input CancelInput) (*CancelResult, error)
	PreviewCancellation(ctx context.Context, campaignID, sellerID uuid.UUID) (*escrow.Impact, error)
	ListCapturable(ctx context.Context, limit int) ([]uuid.UUID, error)
	ListStaleHolds(ctx context.Context, age time.Duration, limit int) ([]uuid.UUID, error)

	ApplyHoldCaptured(ctx context.Context, tx *gorm.DB, holdRef, chargeRef string) (bool, error)
	ApplyHoldFailed(ctx context.Context, tx *gorm.DB, holdRef, reason string) (bool, error)
	ApplyHoldCanceled(ctx context.Context, tx *gorm.DB, holdRef string) (bool, error)
}

// CreateInput carries a seller's draft campaign.
type CreateInput struct {
	SellerID      uuid.UUID
	Title         string
	TotalSlots    int
	ExpectedPrice decimal.Decimal
	ShippingCost  decimal.Decimal
	Bonus         decimal.Decimal
	Quantity      int
}

// PaymentInput identifies the seller's card for the authorization hold.
type PaymentInput struct {
	CampaignID       uuid.UUID
	SellerID         uuid.UUID
	CustomerRef      string
	PaymentMethodRef string
}

type ServiceParams struct {
	Repo              Repository
	Sessions          sessions.Repository
	Ledger            ledger.Service
	Gateway           gateway.Gateway
	Rules             rules.Provider
	Activity          *activity.Emitter
	TransactionRunner txRunner
	Logger            *logger.Logger
	Clock             func() time.Time
}

type service struct {
	repo     Repository
	sessions sessions.Repository
	ledger   ledger.Service
	gateway  gateway.Gateway
	rules    rules.Provider
	activity *activity.Emitter
	tx       txRunner
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the campaign payment service with its collaborators.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("campaign repository required")
	case params.Sessions == nil:
		return nil, fmt.Errorf("session repository required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case params.Rules == nil:
		return nil, fmt.Errorf("rules provider required")
	case params.Activity == nil:
		return nil, fmt.Errorf("activity emitter required")
	case params.TransactionRunner == nil:
		return nil, fmt.Errorf("transaction runner required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:     params.Repo,
		sessions: params.Sessions,
		ledger:   params.Ledger,
		gateway:  params.Gateway,
		rules:    params.Rules,
		activity: params.Activity,
		tx:       params.TransactionRunner,
		logg:     params.Logger,
		now:      func() time.Time { return clock().UTC() },
	}, nil
}

func offerOf(c *models.Campaign) escrow.Offer {
	return escrow.Offer{
		ProductCost:  c.Offer.ExpectedPrice,
		ShippingCost: c.Offer.ShippingCost,
		Bonus:        c.Offer.Bonus,
		Quantity:     c.Offer.Quantity,
	}
}

func (s *service) CreateDraft(ctx context.Context, input CreateInput) (*models.Campaign, error) {
	if input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	if input.Title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "campaign title is required")
	}
	campaign := &models.Campaign{
		ID:         uuid.New(),
		SellerID:   input.SellerID,
		Title:      input.Title,
		Status:     enums.CampaignStatusDraft,
		TotalSlots: input.TotalSlots,
		Offer: models.CampaignOffer{
			ExpectedPrice: input.ExpectedPrice,
			ShippingCost:  input.ShippingCost,
			Bonus:         input.Bonus,
			Quantity:      input.Quantity,
		},
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	if err := escrow.ValidateOffer(offerOf(campaign), campaign.TotalSlots, s.rules.MinimumBonus()); err != nil {
		return nil, err
	}
	quote := escrow.QuoteCampaign(offerOf(campaign), campaign.TotalSlots, s.rules)
	campaign.PerTesterCost = quote.PerTesterCost
	campaign.EscrowAmount = quote.EscrowAmount

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, campaign); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create campaign")
		}
		return s.activity.Record(ctx, tx, activity.Entry{
			Action:     "campaign.created",
			Actor:      activity.User(input.SellerID, enums.ActorRoleSeller),
			EntityType: enums.AggregateCampaign,
			EntityID:   campaign.ID,
			Details:    map[string]any{"escrow_amount": quote.EscrowAmount.StringFixed(2)},
		})
	})
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *service) Get(ctx context.Context, campaignID, sellerID uuid.UUID) (*models.Campaign, error) {
	campaign, err := s.repo.FindByID(ctx, campaignID)
	if err != nil {
		return nil, notFoundOr(err)
	}
	if sellerID != uuid.Nil && campaign.SellerID != sellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "campaign belongs to another seller")
	}
	return campaign, nil
}

// loadOwned locks the campaign and checks the seller owns it.
func (s *service) loadOwned(ctx context.Context, tx *gorm.DB, campaignID, sellerID uuid.UUID) (*models.Campaign, error) {
	campaign, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, campaignID)
	if err != nil {
		return nil, notFoundOr(err)
	}
	if campaign.SellerID != sellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "campaign belongs to another seller")
	}
	return campaign, nil
}

// Activate moves a draft to PENDING_PAYMENT. Sellers pay by card so no payout account is checked.
func (s *service) Activate(ctx context.Context, campaignID, sellerID uuid.UUID) (*models.Campaign, error) {
	var campaign *models.Campaign
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		campaign, err = s.loadOwned(ctx, tx, campaignID, sellerID)
		if err != nil {
			return err
		}
		if campaign.Status != enums.CampaignStatusDraft {
			return stateConflict(campaign, "only draft campaigns can be activated")
		}
		return s.transition(ctx, tx, campaign, enums.CampaignStatusPendingPayment, map[string]any{}, transitionMeta{
			action: "campaign.activated",
			actor:  activity.User(sellerID, enums.ActorRoleSeller),
		})
	})
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

// InitiatePayment places a manual-capture hold for the full escrow amount. The campaign stays in
// PENDING_PAYMENT until the capture sweep moves the funds into escrow.
func (s *service) InitiatePayment(ctx context.Context, input PaymentInput) (*models.Campaign, error) {
	if input.PaymentMethodRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method is required")
	}
	ctx = s.withCampaign(ctx, input.CampaignID)
	actor := activity.User(input.SellerID, enums.ActorRoleSeller)

	var campaign *models.Campaign
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		campaign, err = s.loadOwned(ctx, tx, input.CampaignID, input.SellerID)
		if err != nil {
			return err
		}
		if campaign.Status != enums.CampaignStatusPendingPayment {
			return stateConflict(campaign, "campaign is not awaiting payment")
		}
		if campaign.HoldRef != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "campaign payment is already authorized")
		}
		if err := escrow.ValidateOffer(offerOf(campaign), campaign.TotalSlots, s.rules.MinimumBonus()); err != nil {
			return err
		}
		quote := escrow.QuoteCampaign(offerOf(campaign), campaign.TotalSlots, s.rules)

		hold, err := s.gateway.Authorize(ctx, gateway.AuthorizeInput{
			Amount:           quote.EscrowAmount,
			CustomerRef:      input.CustomerRef,
			PaymentMethodRef: input.PaymentMethodRef,
			Metadata: map[string]string{
				"campaign_id": campaign.ID.String(),
				"seller_id":   campaign.SellerID.String(),
			},
			IdempotencyKey: gateway.IdempotencyKey("campaign-authorize", campaign.ID) + ":" + input.PaymentMethodRef,
		})
		if err != nil {
			return err
		}

		now := s.now()
		updated, err := s.repo.WithTx(tx).UpdateFrom(ctx, campaign.ID, enums.CampaignStatusPendingPayment, map[string]any{
			"hold_ref":              hold.Ref,
			"payment_authorized_at": now,
			"escrow_amount":         quote.EscrowAmount,
			"per_tester_cost":       quote.PerTesterCost,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store authorization hold")
		}
		if !updated {
			return stateConflict(campaign, "campaign changed while authorizing payment")
		}
		campaign.HoldRef = &hold.Ref
		campaign.PaymentAuthorizedAt = &now
		campaign.EscrowAmount = quote.EscrowAmount
		campaign.PerTesterCost = quote.PerTesterCost

		campaignID := campaign.ID
		if _, err := s.ledger.Post(ctx, tx, ledger.PostInput{
			Type:        enums.TransactionCampaignPayment,
			Status:      enums.TransactionStatusPending,
			Amount:      quote.EscrowAmount,
			CampaignID:  &campaignID,
			HoldRef:     &hold.Ref,
			Description: "campaign escrow authorization",
			Metadata:    map[string]any{"per_tester_cost": quote.PerTesterCost.StringFixed(2), "slots": campaign.TotalSlots},
		}); err != nil {
			return err
		}

		if err := s.activity.Record(ctx, tx, activity.Entry{
			Action:     "campaign.payment_authorized",
			Actor:      actor,
			EntityType: enums.AggregateCampaign,
			EntityID:   campaign.ID,
			Details: map[string]any{
				"hold_ref":      hold.Ref,
				"escrow_amount": quote.EscrowAmount.StringFixed(2),
			},
		}); err != nil {
			return err
		}
		return s.activity.Notify(ctx, tx, activity.Notice{
			Type:       "campaign_payment_authorized",
			Recipients: []uuid.UUID{campaign.SellerID},
			EntityType: enums.AggregateCampaign,
			EntityID:   campaign.ID,
			Data:       map[string]any{"amount": quote.EscrowAmount.StringFixed(2)},
		})
	})
	if err != nil {
		s.activity.RecordFailure(ctx, activity.Entry{
			Action:     "campaign.payment_authorized",
			Actor:      actor,
			EntityType: enums.AggregateCampaign,
			EntityID:   input.CampaignID,
		}, err)
		return nil, err
	}
	s.info(ctx, "campaign.payment_authorized", map[string]any{"escrow_amount": campaign.EscrowAmount.StringFixed(2)})
	return campaign, nil
}

// ListCapturable returns campaigns whose hold is older than the capture delay.
func (s *service) ListCapturable(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return s.repo.ListAuthorizedBefore(ctx, s.now().Add(-s.rules.CaptureDelay()), limit)
}

// ListStaleHolds returns campaigns whose hold has been sitting uncaptured for longer than age.
func (s *service) ListStaleHolds(ctx context.Context, age time.Duration, limit int) ([]uuid.UUID, error) {
	return s.repo.ListAuthorizedBefore(ctx, s.now().Add(-age), limit)
}

func (s *service) PreviewCancellation(ctx context.Context, campaignID, sellerID uuid.UUID) (*escrow.Impact, error) {
	campaign, err := s.Get(ctx, campaignID, sellerID)
	if err != nil {
		return nil, err
	}
	started := campaign.CreatedAt
	if campaign.PaymentCapturedAt != nil {
		started = *campaign.PaymentCapturedAt
	}
	accepted, err := s.sessions.CountByStatus(ctx, campaign.ID, enums.SessionStatusAccepted, enums.SessionStatusInProgress)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count accepted testers")
	}
	impact := escrow.CancellationImpact(s.rules.CancellationPolicy(), s.now().Sub(started), int(accepted), campaign.EscrowAmount)
	return &impact, nil
}

func notFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "campaign not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load campaign")
}

func stateConflict(c *models.Campaign, msg string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, msg).
		WithDetails(map[string]any{"status": string(c.Status)})
}

func (s *service) withCampaign(ctx context.Context, id uuid.UUID) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithCampaignID(ctx, id.String())
}

func (s *service) info(ctx context.Context, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), msg)
}
