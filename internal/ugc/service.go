// Package ugc runs paid content requests: the seller's authorization hold, tester submission,
// seller review with rejection escalation, and admin dispute resolution.
package ugc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/trialhub/trialhub-backend/internal/activity"
	"github.com/trialhub/trialhub-backend/internal/campaigns"
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

type payoutChecker interface {
	RequireEligible(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error)
}

type Params struct {
	Repo              Repository
	Sessions          sessions.Repository
	Campaigns         campaigns.Repository
	Ledger            ledger.Service
	Gateway           gateway.Gateway
	Payouts           payoutChecker
	Rules             rules.Provider
	Activity          *activity.Emitter
	TransactionRunner txRunner
	Logger            *logger.Logger
	Clock             func() time.Time
}

type Service struct {
	repo      Repository
	sessions  sessions.Repository
	campaigns campaigns.Repository
	ledger    ledger.Service
	gateway   gateway.Gateway
	payouts   payoutChecker
	rules     rules.Provider
	activity  *activity.Emitter
	tx        txRunner
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params Params) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("ugc repository required")
	case params.Sessions == nil:
		return nil, fmt.Errorf("session repository required")
	case params.Campaigns == nil:
		return nil, fmt.Errorf("campaign repository required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case params.Payouts == nil:
		return nil, fmt.Errorf("payout service required")
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
	return &Service{
		repo:      params.Repo,
		sessions:  params.Sessions,
		campaigns: params.Campaigns,
		ledger:    params.Ledger,
		gateway:   params.Gateway,
		payouts:   params.Payouts,
		rules:     params.Rules,
		activity:  params.Activity,
		tx:        params.TransactionRunner,
		logg:      params.Logger,
		now:       func() time.Time { return clock().UTC() },
	}, nil
}

// RequestInput is a seller's content request for a finished test session.
type RequestInput struct {
	SessionID        uuid.UUID
	SellerID         uuid.UUID
	Type             enums.UGCType
	Description      string
	CustomerRef      string
	PaymentMethodRef string
}

// Request creates a content request. Paid types authorize price plus commission on the seller's card
// before anything is stored; the hold is released again if the request cannot be saved.
func (s *Service) Request(ctx context.Context, input RequestInput) (*models.UGC, error) {
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown content type")
	}
	pricing, err := s.rules.UGCPricing(input.Type)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "content type is not offered")
	}
	session, err := s.sessions.FindByID(ctx, input.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load session")
	}
	if session.Status != enums.SessionStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "content can only be requested after the session is completed")
	}
	campaign, err := s.campaigns.FindByID(ctx, session.CampaignID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load campaign")
	}
	if campaign.SellerID != input.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "session belongs to another seller's campaign")
	}

	now := s.now()
	request := &models.UGC{
		ID:             uuid.New(),
		CampaignID:     campaign.ID,
		SessionID:      session.ID,
		SellerID:       input.SellerID,
		TesterID:       session.TesterID,
		Type:           input.Type,
		Status:         enums.UGCStatusRequested,
		Description:    strings.TrimSpace(input.Description),
		IsPaid:         pricing.IsPaid,
		RequestedBonus: pricing.Price,
		Commission:     pricing.Commission,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if s.logg != nil {
		ctx = s.logg.WithUGCID(ctx, request.ID.String())
	}
	actor := activity.User(input.SellerID, enums.ActorRoleSeller)

	if request.IsPaid {
		if input.PaymentMethodRef == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method is required for paid content")
		}
		hold, err := s.gateway.Authorize(ctx, gateway.AuthorizeInput{
			Amount:           request.TotalHold(),
			CustomerRef:      input.CustomerRef,
			PaymentMethodRef: input.PaymentMethodRef,
			Metadata: map[string]string{
				"ugc_id":      request.ID.String(),
				"campaign_id": campaign.ID.String(),
			},
			IdempotencyKey: gateway.IdempotencyKey("ugc-authorize", request.ID),
		})
		if err != nil {
			s.activity.RecordFailure(ctx, activity.Entry{
				Action:     "ugc.requested",
				Actor:      actor,
				EntityType: enums.AggregateUGC,
				EntityID:   request.ID,
			}, err)
			return nil, err
		}
		request.HoldRef = &hold.Ref
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, request); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create content request")
		}
		if request.IsPaid {
			ugcID, campaignID := request.ID, request.CampaignID
			if _, err := s.ledger.Post(ctx, tx, ledger.PostInput{
				Type:        enums.TransactionUGCPayment,
				Status:      enums.TransactionStatusPending,
				Amount:      request.TotalHold(),
				CampaignID:  &campaignID,
				UGCID:       &ugcID,
				HoldRef:     request.HoldRef,
				Description: "content request authorization",
				Metadata: map[string]any{
					"price":      request.RequestedBonus.StringFixed(2),
					"commission": request.Commission.StringFixed(2),
				},
			}); err != nil {
				return err
			}
		}
		if err := s.activity.Record(ctx, tx, activity.Entry{
			Action:     "ugc.requested",
			Actor:      actor,
			EntityType: enums.AggregateUGC,
			EntityID:   request.ID,
			Details: map[string]any{
				"type":    string(request.Type),
				"is_paid": request.IsPaid,
				"price":   request.RequestedBonus.StringFixed(2),
			},
		}); err != nil {
			return err
		}
		return s.activity.Notify(ctx, tx, activity.Notice{
			Type:       "ugc_requested",
			Recipients: []uuid.UUID{request.TesterID},
			EntityType: enums.AggregateUGC,
			EntityID:   request.ID,
			Data:       map[string]any{"type": string(request.Type), "price": request.RequestedBonus.StringFixed(2)},
		})
	})
	if err != nil {
		if request.HoldRef != nil {
			key := gateway.IdempotencyKey("ugc-release", request.ID)
			if cancelErr := s.gateway.CancelHold(ctx, *request.HoldRef, enums.HoldCancelAbandoned, key); cancelErr != nil && s.logg != nil {
				s.logg.Error(s.logg.WithField(ctx, "hold_ref", *request.HoldRef), "ugc.orphan_hold_not_released", cancelErr)
			}
		}
		return nil, err
	}
	return request, nil
}

func (s *Service) Get(ctx context.Context, ugcID uuid.UUID) (*models.UGC, error) {
	request, err := s.repo.FindByID(ctx, ugcID)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return request, nil
}

// SubmitInput carries the tester's content. Visual types attach an uploaded media id; text and link types a URL.
type SubmitInput struct {
	UGCID      uuid.UUID
	TesterID   uuid.UUID
	ContentURL string
	MediaID    *uuid.UUID
}

func requiresMedia(t enums.UGCType) bool {
	return t == enums.UGCTypePhoto || t == enums.UGCTypeVideo
}

func (s *Service) Submit(ctx context.Context, input SubmitInput) (*models.UGC, error) {
	var request *models.UGC
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		request, err = s.lock(ctx, tx, input.UGCID)
		if err != nil {
			return err
		}
		if request.TesterID != input.TesterID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "content request belongs to another tester")
		}
		if request.Status != enums.UGCStatusRequested && request.Status != enums.UGCStatusRejected {
			return stateConflict(request, "content can only be submitted while requested or after a rejection")
		}
		updates := map[string]any{
			"submitted_at":     s.now(),
			"rejection_reason": nil,
		}
		if requiresMedia(request.Type) {
			if input.MediaID == nil || *input.MediaID == uuid.Nil {
				return pkgerrors.New(pkgerrors.CodeValidation, "an uploaded file is required for this content type")
			}
			updates["media_id"] = *input.MediaID
		} else {
			url := strings.TrimSpace(input.ContentURL)
			if url == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "a content url is required for this content type")
			}
			updates["content_url"] = url
		}
		return s.transition(ctx, tx, request, enums.UGCStatusSubmitted, updates, transitionMeta{
			action:     "ugc.submitted",
			actor:      activity.User(input.TesterID, enums.ActorRoleTester),
			notify:     "ugc_submitted",
			recipients: []uuid.UUID{request.SellerID},
		})
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// Validate accepts the submission. Paid requests capture the hold and pay the tester the full price.
func (s *Service) Validate(ctx context.Context, ugcID, sellerID uuid.UUID) (*models.UGC, error) {
	request, err := s.Get(ctx, ugcID)
	if err != nil {
		return nil, err
	}
	if request.SellerID != sellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "content request belongs to another seller")
	}
	if request.Status != enums.UGCStatusSubmitted {
		return nil, stateConflict(request, "only submitted content can be validated")
	}
	actor := activity.User(sellerID, enums.ActorRoleSeller)
	full := fullPayment(request)
	return s.payOut(ctx, request, enums.UGCStatusSubmitted, full, map[string]any{"validated_at": s.now()}, transitionMeta{
		action:     "ugc.validated",
		actor:      actor,
		notify:     "ugc_validated",
		recipients: []uuid.UUID{request.TesterID},
	})
}

// Reject sends the content back. Reaching the configured rejection limit escalates to a dispute instead.
func (s *Service) Reject(ctx context.Context, ugcID, sellerID uuid.UUID, reason string) (*models.UGC, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a rejection reason is required")
	}
	var request *models.UGC
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		request, err = s.lock(ctx, tx, ugcID)
		if err != nil {
			return err
		}
		if request.SellerID != sellerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "content request belongs to another seller")
		}
		if request.Status != enums.UGCStatusSubmitted {
			return stateConflict(request, "only submitted content can be rejected")
		}
		count := request.RejectionCount + 1
		updates := map[string]any{
			"rejection_count":  count,
			"rejection_reason": reason,
		}
		actor := activity.User(sellerID, enums.ActorRoleSeller)
		details := map[string]any{"rejection_count": count, "reason": reason}

		if count >= s.rules.MaxUGCRejections() {
			updates["dispute_reason"] = fmt.Sprintf("rejected %d times", count)
			if err := s.transition(ctx, tx, request, enums.UGCStatusDisputed, updates, transitionMeta{
				action:     "ugc.auto_disputed",
				actor:      actor,
				details:    details,
				notify:     "ugc_disputed",
				recipients: []uuid.UUID{request.TesterID, request.SellerID},
			}); err != nil {
				return err
			}
			request.RejectionCount = count
			return s.notifyAdmins(ctx, tx, request, details)
		}
		if err := s.transition(ctx, tx, request, enums.UGCStatusRejected, updates, transitionMeta{
			action:     "ugc.rejected",
			actor:      actor,
			details:    details,
			notify:     "ugc_rejected",
			recipients: []uuid.UUID{request.TesterID},
		}); err != nil {
			return err
		}
		request.RejectionCount = count
		request.RejectionReason = &reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// Decline lets the tester turn the request down. Any hold is released at no cost to the seller.
func (s *Service) Decline(ctx context.Context, ugcID, testerID uuid.UUID) (*models.UGC, error) {
	return s.close(ctx, ugcID, enums.UGCStatusDeclined, func(r *models.UGC) error {
		if r.TesterID != testerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "content request belongs to another tester")
		}
		if r.Status != enums.UGCStatusRequested && r.Status != enums.UGCStatusRejected {
			return stateConflict(r, "content request can no longer be declined")
		}
		return nil
	}, map[string]any{}, transitionMeta{
		action: "ugc.declined",
		actor:  activity.User(testerID, enums.ActorRoleTester),
		notify: "ugc_declined",
	})
}

// Cancel withdraws a request the tester has not acted on yet.
func (s *Service) Cancel(ctx context.Context, ugcID, sellerID uuid.UUID) (*models.UGC, error) {
	return s.close(ctx, ugcID, enums.UGCStatusCancelled, func(r *models.UGC) error {
		if r.SellerID != sellerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "content request belongs to another seller")
		}
		if r.Status != enums.UGCStatusRequested {
			return stateConflict(r, "only requests still awaiting the tester can be cancelled")
		}
		return nil
	}, map[string]any{}, transitionMeta{
		action: "ugc.cancelled",
		actor:  activity.User(sellerID, enums.ActorRoleSeller),
		notify: "ugc_cancelled",
	})
}

func (s *Service) close(ctx context.Context, ugcID uuid.UUID, to enums.UGCStatus, check func(*models.UGC) error, updates map[string]any, meta transitionMeta) (*models.UGC, error) {
	var request *models.UGC
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		request, err = s.lock(ctx, tx, ugcID)
		if err != nil {
			return err
		}
		if err := check(request); err != nil {
			return err
		}
		if err := s.releaseFunds(ctx, tx, request, enums.HoldCancelRequestedByCustomer); err != nil {
			return err
		}
		meta.recipients = []uuid.UUID{request.SellerID, request.TesterID}
		return s.transition(ctx, tx, request, to, updates, meta)
	})
	if err != nil {
		s.activity.RecordFailure(ctx, activity.Entry{
			Action:     meta.action,
			Actor:      meta.actor,
			EntityType: enums.AggregateUGC,
			EntityID:   ugcID,
		}, err)
		return nil, err
	}
	return request, nil
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, ugcID uuid.UUID) (*models.UGC, error) {
	request, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, ugcID)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return request, nil
}

func fullPayment(r *models.UGC) escrow.PartialSplit {
	return escrow.PartialSplit{
		TesterAmount:   r.RequestedBonus,
		CommissionKept: r.Commission,
		SellerRefund:   decimal.Zero,
	}
}

func notFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "content request not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load content request")
}

func stateConflict(r *models.UGC, msg string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, msg).
		WithDetails(map[string]any{"status": string(r.Status)})
}
