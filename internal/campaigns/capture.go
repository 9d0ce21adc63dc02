package campaigns

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trialhub/trialhub-backend/internal/activity"
	"github.com/trialhub/trialhub-backend/internal/gateway"
	"github.com/trialhub/trialhub-backend/internal/ledger"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
)

const (
	reasonHoldExpired  = "hold_expired"
	reasonHoldCanceled = "hold_canceled_by_processor"
)

// awaitingCapture reports whether the campaign holds an authorization that has not been captured yet.
func awaitingCapture(c *models.Campaign) bool {
	if c.HoldRef == nil || c.IsCaptured() {
		return false
	}
	return c.Status == enums.CampaignStatusPendingPayment || c.Status == enums.CampaignStatusPendingActivation
}

// CapturePayment captures an authorized hold into platform escrow and activates the campaign.
// It returns false when there was nothing to capture.
func (s *service) CapturePayment(ctx context.Context, campaignID uuid.UUID) (bool, error) {
	ctx = s.withCampaign(ctx, campaignID)
	captured := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		campaign, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, campaignID)
		if err != nil {
			return notFoundOr(err)
		}
		if !awaitingCapture(campaign) {
			return nil
		}
		capture, err := s.gateway.Capture(ctx, *campaign.HoldRef, gateway.IdempotencyKey("campaign-capture", campaign.ID))
		if err != nil {
			return err
		}
		if err := s.applyCapture(ctx, tx, campaign, capture.ChargeRef, activity.System); err != nil {
			return err
		}
		captured = true
		return nil
	})
	if err != nil {
		s.activity.RecordFailure(ctx, activity.Entry{
			Action:     "campaign.payment_captured",
			Actor:      activity.System,
			EntityType: enums.AggregateCampaign,
			EntityID:   campaignID,
		}, err)
		return false, err
	}
	return captured, nil
}

func (s *service) applyCapture(ctx context.Context, tx *gorm.DB, campaign *models.Campaign, chargeRef string, actor activity.Actor) error {
	txn, err := s.pendingPayment(ctx, tx, campaign.ID)
	if err != nil {
		return err
	}
	if txn == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "pending campaign payment transaction missing").
			WithDetails(map[string]any{"campaign_id": campaign.ID.String()})
	}
	settled, err := s.ledger.Settle(ctx, tx, ledger.SettleInput{
		TransactionID: txn.ID,
		Status:        enums.TransactionStatusCompleted,
		Platform: ledger.PlatformDelta{
			Escrow:   txn.Amount,
			Received: txn.Amount,
		},
	})
	if err != nil {
		return err
	}
	if !settled {
		return pkgerrors.New(pkgerrors.CodeConflict, "campaign payment already settled").
			WithReason(pkgerrors.ReasonAlreadySettled)
	}

	now := s.now()
	graceEnds := now.Add(s.rules.GracePeriod())
	updates := map[string]any{
		"payment_captured_at":             now,
		"activation_grace_period_ends_at": graceEnds,
	}
	if chargeRef != "" {
		updates["charge_ref"] = chargeRef
		campaign.ChargeRef = &chargeRef
	}
	if err := s.transition(ctx, tx, campaign, enums.CampaignStatusActive, updates, transitionMeta{
		action: "campaign.payment_captured",
		actor:  actor,
		details: map[string]any{
			"amount":     txn.Amount.StringFixed(2),
			"charge_ref": chargeRef,
		},
		notify: "campaign_activated",
	}); err != nil {
		return err
	}
	campaign.PaymentCapturedAt = &now
	campaign.ActivationGracePeriodEndsAt = &graceEnds
	s.info(ctx, "campaign.payment_captured", map[string]any{"amount": txn.Amount.StringFixed(2)})
	return nil
}

// ExpireStaleHold releases a hold that stayed uncaptured too long and cancels the campaign,
// ahead of the processor expiring the authorization on its own.
func (s *service) ExpireStaleHold(ctx context.Context, campaignID uuid.UUID) (bool, error) {
	ctx = s.withCampaign(ctx, campaignID)
	expired := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		campaign, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, campaignID)
		if err != nil {
			return notFoundOr(err)
		}
		if !awaitingCapture(campaign) {
			return nil
		}
		key := gateway.IdempotencyKey("campaign-expire", campaign.ID)
		if err := s.gateway.CancelHold(ctx, *campaign.HoldRef, enums.HoldCancelAbandoned, key); err != nil {
			return err
		}
		if err := s.releaseHold(ctx, tx, campaign, reasonHoldExpired, transitionMeta{
			action: "campaign.hold_expired",
			actor:  activity.System,
			notify: "campaign_payment_expired",
		}); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		s.activity.RecordFailure(ctx, activity.Entry{
			Action:     "campaign.hold_expired",
			Actor:      activity.System,
			EntityType: enums.AggregateCampaign,
			EntityID:   campaignID,
		}, err)
		return false, err
	}
	return expired, nil
}

// releaseHold cancels the pending payment transaction and the campaign. The gateway hold must already be released.
func (s *service) releaseHold(ctx context.Context, tx *gorm.DB, campaign *models.Campaign, reason string, meta transitionMeta) error {
	if campaign.HoldRef != nil {
		txn, err := s.pendingPayment(ctx, tx, campaign.ID)
		if err != nil {
			return err
		}
		if txn != nil {
			if _, err := s.ledger.Settle(ctx, tx, ledger.SettleInput{
				TransactionID: txn.ID,
				Status:        enums.TransactionStatusCancelled,
			}); err != nil {
				return err
			}
		}
	}
	now := s.now()
	if meta.details == nil {
		meta.details = map[string]any{}
	}
	meta.details["reason"] = reason
	if err := s.transition(ctx, tx, campaign, enums.CampaignStatusCancelled, map[string]any{
		"cancelled_at":        now,
		"cancellation_reason": reason,
	}, meta); err != nil {
		return err
	}
	campaign.CancelledAt = &now
	campaign.CancellationReason = &reason
	return nil
}

// ApplyHoldCaptured records a capture reported by the processor. It is a no-op when the capture
// was already applied, and returns false when no campaign owns the hold.
func (s *service) ApplyHoldCaptured(ctx context.Context, tx *gorm.DB, holdRef, chargeRef string) (bool, error) {
	campaign, err := s.findByHold(ctx, tx, holdRef)
	if err != nil || campaign == nil {
		return false, err
	}
	if !awaitingCapture(campaign) {
		if !campaign.IsCaptured() && s.logg != nil {
			s.logg.Warn(s.withCampaign(ctx, campaign.ID), "campaign.capture_reported_for_inactive_hold")
		}
		return true, nil
	}
	return true, s.applyCapture(ctx, tx, campaign, chargeRef, activity.System)
}

// ApplyHoldFailed clears a declined authorization so the seller can retry with another card.
func (s *service) ApplyHoldFailed(ctx context.Context, tx *gorm.DB, holdRef, reason string) (bool, error) {
	campaign, err := s.findByHold(ctx, tx, holdRef)
	if err != nil || campaign == nil {
		return false, err
	}
	if !awaitingCapture(campaign) {
		return true, nil
	}
	txn, err := s.pendingPayment(ctx, tx, campaign.ID)
	if err != nil {
		return true, err
	}
	if txn != nil {
		if _, err := s.ledger.Settle(ctx, tx, ledger.SettleInput{
			TransactionID: txn.ID,
			Status:        enums.TransactionStatusCancelled,
		}); err != nil {
			return true, err
		}
	}
	details := map[string]any{"hold_ref": holdRef, "reason": reason}
	updates := map[string]any{"hold_ref": nil, "payment_authorized_at": nil}
	if campaign.Status != enums.CampaignStatusPendingPayment {
		return true, s.transition(ctx, tx, campaign, enums.CampaignStatusPendingPayment, updates, transitionMeta{
			action:  "campaign.payment_failed",
			actor:   activity.System,
			details: details,
			notify:  "campaign_payment_failed",
		})
	}
	moved, err := s.repo.WithTx(tx).UpdateFrom(ctx, campaign.ID, campaign.Status, updates)
	if err != nil {
		return true, err
	}
	if !moved {
		return true, stateConflict(campaign, "campaign status changed concurrently")
	}
	if err := s.activity.Record(ctx, tx, activity.Entry{
		Action:     "campaign.payment_failed",
		Actor:      activity.System,
		EntityType: enums.AggregateCampaign,
		EntityID:   campaign.ID,
		Details:    details,
	}); err != nil {
		return true, err
	}
	return true, s.activity.Notify(ctx, tx, activity.Notice{
		Type:       "campaign_payment_failed",
		Recipients: []uuid.UUID{campaign.SellerID},
		EntityType: enums.AggregateCampaign,
		EntityID:   campaign.ID,
		Data:       details,
	})
}

// ApplyHoldCanceled cancels a campaign whose hold the processor released before capture.
func (s *service) ApplyHoldCanceled(ctx context.Context, tx *gorm.DB, holdRef string) (bool, error) {
	campaign, err := s.findByHold(ctx, tx, holdRef)
	if err != nil || campaign == nil {
		return false, err
	}
	if !awaitingCapture(campaign) {
		return true, nil
	}
	return true, s.releaseHold(ctx, tx, campaign, reasonHoldCanceled, transitionMeta{
		action: "campaign.hold_canceled",
		actor:  activity.System,
		notify: "campaign_payment_expired",
	})
}

func (s *service) findByHold(ctx context.Context, tx *gorm.DB, holdRef string) (*models.Campaign, error) {
	if holdRef == "" {
		return nil, nil
	}
	campaign, err := s.repo.WithTx(tx).FindByHoldRefForUpdate(ctx, holdRef)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load campaign by hold")
	}
	return campaign, nil
}

func (s *service) pendingPayment(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) (*models.Transaction, error) {
	txn, err := s.ledger.Find(ctx, tx, ledger.Lookup{
		Type:       enums.TransactionCampaignPayment,
		Status:     enums.TransactionStatusPending,
		CampaignID: campaignID,
	})
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
		return nil, nil
	}
	return txn, err
}
