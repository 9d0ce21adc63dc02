package ugc

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/trialhub/trialhub-backend/internal/activity"
	"github.com/trialhub/trialhub-backend/internal/escrow"
	"github.com/trialhub/trialhub-backend/internal/gateway"
	"github.com/trialhub/trialhub-backend/internal/ledger"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
	"github.com/trialhub/trialhub-backend/pkg/money"
)

func isTerminal(status enums.UGCStatus) bool {
	switch status {
	case enums.UGCStatusValidated, enums.UGCStatusDeclined, enums.UGCStatusCancelled:
		return true
	}
	return false
}

// payOut moves the request from its current status to VALIDATED, paying the split when the request is paid.
// The capture commits on its own first so a failed transfer can be retried without capturing twice.
func (s *Service) payOut(ctx context.Context, request *models.UGC, from enums.UGCStatus, split escrow.PartialSplit, updates map[string]any, meta transitionMeta) (*models.UGC, error) {
	if s.logg != nil {
		ctx = s.logg.WithUGCID(ctx, request.ID.String())
	}
	fail := func(err error) (*models.UGC, error) {
		s.activity.RecordFailure(ctx, activity.Entry{
			Action:     meta.action,
			Actor:      meta.actor,
			EntityType: enums.AggregateUGC,
			EntityID:   request.ID,
		}, err)
		return nil, err
	}

	var account *models.PayoutAccount
	if request.IsPaid {
		var err error
		if account, err = s.payouts.RequireEligible(ctx, request.TesterID); err != nil {
			return fail(err)
		}
		if err := s.ensureCaptured(ctx, request.ID, from); err != nil {
			return fail(err)
		}
	}

	var result *models.UGC
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.lock(ctx, tx, request.ID)
		if err != nil {
			return err
		}
		if current.Status != from {
			return stateConflict(current, "content request changed while processing payment")
		}
		if meta.details == nil {
			meta.details = map[string]any{}
		}
		if current.IsPaid {
			if current.HoldCapturedAt == nil {
				return pkgerrors.New(pkgerrors.CodeInternal, "content payment was not captured")
			}
			transferRef, err := s.distribute(ctx, tx, current, account, split)
			if err != nil {
				return err
			}
			updates["paid_bonus"] = split.TesterAmount
			meta.details["paid"] = split.TesterAmount.StringFixed(2)
			meta.details["commission"] = split.CommissionKept.StringFixed(2)
			meta.details["seller_refund"] = split.SellerRefund.StringFixed(2)
			meta.details["transfer_ref"] = transferRef
		}
		result = current
		return s.transition(ctx, tx, current, enums.UGCStatusValidated, updates, meta)
	})
	if err != nil {
		return fail(err)
	}
	return result, nil
}

func (s *Service) ensureCaptured(ctx context.Context, ugcID uuid.UUID, from enums.UGCStatus) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		request, err := s.lock(ctx, tx, ugcID)
		if err != nil {
			return err
		}
		if request.Status != from {
			return stateConflict(request, "content request changed while processing payment")
		}
		if request.HoldCapturedAt != nil {
			return nil
		}
		if request.HoldRef == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "paid content request has no payment hold")
		}
		capture, err := s.gateway.Capture(ctx, *request.HoldRef, gateway.IdempotencyKey("ugc-capture", request.ID))
		if err != nil {
			return err
		}
		return s.applyCapture(ctx, tx, request, capture.ChargeRef)
	})
}

func (s *Service) applyCapture(ctx context.Context, tx *gorm.DB, request *models.UGC, chargeRef string) error {
	txn, err := s.pendingPayment(ctx, tx, request.ID)
	if err != nil {
		return err
	}
	if txn == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "pending content payment transaction missing")
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
		return pkgerrors.New(pkgerrors.CodeConflict, "content payment already settled").
			WithReason(pkgerrors.ReasonAlreadySettled)
	}
	now := s.now()
	updates := map[string]any{"hold_captured_at": now}
	if chargeRef != "" {
		updates["charge_ref"] = chargeRef
	}
	moved, err := s.repo.WithTx(tx).UpdateFrom(ctx, request.ID, request.Status, updates)
	if err != nil {
		return err
	}
	if !moved {
		return stateConflict(request, "content request changed while capturing payment")
	}
	request.HoldCapturedAt = &now
	if chargeRef != "" {
		request.ChargeRef = &chargeRef
	}
	return s.activity.Record(ctx, tx, activity.Entry{
		Action:     "ugc.payment_captured",
		Actor:      activity.System,
		EntityType: enums.AggregateUGC,
		EntityID:   request.ID,
		Details:    map[string]any{"amount": txn.Amount.StringFixed(2), "charge_ref": chargeRef},
	})
}

// distribute pays the tester, books the kept commission and refunds the seller's share from captured funds.
func (s *Service) distribute(ctx context.Context, tx *gorm.DB, request *models.UGC, account *models.PayoutAccount, split escrow.PartialSplit) (string, error) {
	ugcID, campaignID, testerID := request.ID, request.CampaignID, request.TesterID
	var transferRef string

	if money.IsPositive(split.TesterAmount) {
		if account == nil {
			return "", pkgerrors.New(pkgerrors.CodeInternal, "payout account not resolved")
		}
		input := gateway.TransferInput{
			Amount:             split.TesterAmount,
			DestinationAccount: account.AccountRef,
			TransferGroup:      "ugc_" + request.ID.String(),
			Metadata: map[string]string{
				"ugc_id":      request.ID.String(),
				"campaign_id": request.CampaignID.String(),
			},
			IdempotencyKey: gateway.IdempotencyKey("ugc-reward", request.ID),
		}
		if request.ChargeRef != nil {
			input.SourceChargeRef = *request.ChargeRef
		}
		transfer, err := s.gateway.Transfer(ctx, input)
		if err != nil {
			return "", err
		}
		transferRef = transfer.Ref
		if _, err := s.ledger.Post(ctx, tx, ledger.PostInput{
			Type:        enums.TransactionUGCReward,
			Status:      enums.TransactionStatusCompleted,
			Amount:      split.TesterAmount,
			UserID:      &testerID,
			CampaignID:  &campaignID,
			UGCID:       &ugcID,
			TransferRef: &transfer.Ref,
			Description: "content reward",
			Platform: ledger.PlatformDelta{
				Escrow:      split.TesterAmount.Neg(),
				Transferred: split.TesterAmount,
			},
		}); err != nil {
			return "", err
		}
	}

	if money.IsPositive(split.CommissionKept) {
		if _, err := s.ledger.Post(ctx, tx, ledger.PostInput{
			Type:        enums.TransactionUGCCommission,
			Status:      enums.TransactionStatusCompleted,
			Amount:      split.CommissionKept,
			CampaignID:  &campaignID,
			UGCID:       &ugcID,
			Description: "content commission",
			Platform: ledger.PlatformDelta{
				Escrow:      split.CommissionKept.Neg(),
				Commission:  split.CommissionKept,
				Commissions: split.CommissionKept,
			},
		}); err != nil {
			return "", err
		}
	}

	if money.IsPositive(split.SellerRefund) {
		key := gateway.IdempotencyKey("ugc-refund", request.ID)
		if err := s.refundSeller(ctx, tx, request, split.SellerRefund, enums.HoldCancelRequestedByCustomer, key); err != nil {
			return "", err
		}
	}
	return transferRef, nil
}

func (s *Service) refundSeller(ctx context.Context, tx *gorm.DB, request *models.UGC, amount decimal.Decimal, reason enums.HoldCancelReason, key string) error {
	res, err := s.gateway.Refund(ctx, gateway.RefundInput{
		HoldRef:        *request.HoldRef,
		Amount:         amount,
		Reason:         reason,
		Metadata:       map[string]string{"ugc_id": request.ID.String()},
		IdempotencyKey: key,
	})
	if err != nil {
		return err
	}
	status := enums.TransactionStatusCompleted
	if res.Pending {
		status = enums.TransactionStatusPending
	}
	ugcID, campaignID := request.ID, request.CampaignID
	_, err = s.ledger.Post(ctx, tx, ledger.PostInput{
		Type:        enums.TransactionUGCRefund,
		Status:      status,
		Amount:      amount,
		CampaignID:  &campaignID,
		UGCID:       &ugcID,
		HoldRef:     request.HoldRef,
		RefundRef:   &res.Ref,
		Description: "content refund to seller",
		Platform:    ledger.PlatformDelta{Escrow: amount.Neg()},
	})
	return err
}

// releaseFunds returns the seller's money: an uncaptured hold is cancelled, captured funds are refunded.
func (s *Service) releaseFunds(ctx context.Context, tx *gorm.DB, request *models.UGC, reason enums.HoldCancelReason) error {
	if !request.IsPaid || request.HoldRef == nil {
		return nil
	}
	if request.HoldCapturedAt != nil {
		return s.refundSeller(ctx, tx, request, request.TotalHold(), reason, gateway.IdempotencyKey("ugc-refund", request.ID))
	}
	key := gateway.IdempotencyKey("ugc-release", request.ID)
	if err := s.gateway.CancelHold(ctx, *request.HoldRef, reason, key); err != nil {
		return err
	}
	return s.cancelPendingPayment(ctx, tx, request.ID)
}

func (s *Service) cancelPendingPayment(ctx context.Context, tx *gorm.DB, ugcID uuid.UUID) error {
	txn, err := s.pendingPayment(ctx, tx, ugcID)
	if err != nil || txn == nil {
		return err
	}
	_, err = s.ledger.Settle(ctx, tx, ledger.SettleInput{
		TransactionID: txn.ID,
		Status:        enums.TransactionStatusCancelled,
	})
	return err
}

func (s *Service) pendingPayment(ctx context.Context, tx *gorm.DB, ugcID uuid.UUID) (*models.Transaction, error) {
	txn, err := s.ledger.Find(ctx, tx, ledger.Lookup{
		Type:   enums.TransactionUGCPayment,
		Status: enums.TransactionStatusPending,
		UGCID:  ugcID,
	})
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
		return nil, nil
	}
	return txn, err
}

func (s *Service) findByHold(ctx context.Context, tx *gorm.DB, holdRef string) (*models.UGC, error) {
	if holdRef == "" {
		return nil, nil
	}
	request, err := s.repo.WithTx(tx).FindByHoldRefForUpdate(ctx, holdRef)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load content request by hold")
	}
	return request, nil
}

// ApplyHoldCaptured books a capture reported by the processor. The tester is paid on the next validation.
// It returns false when no content request owns the hold.
func (s *Service) ApplyHoldCaptured(ctx context.Context, tx *gorm.DB, holdRef, chargeRef string) (bool, error) {
	request, err := s.findByHold(ctx, tx, holdRef)
	if err != nil || request == nil {
		return false, err
	}
	if request.HoldCapturedAt != nil || isTerminal(request.Status) {
		return true, nil
	}
	return true, s.applyCapture(ctx, tx, request, chargeRef)
}

// ApplyHoldCanceled cancels an open request whose hold the processor released before capture.
func (s *Service) ApplyHoldCanceled(ctx context.Context, tx *gorm.DB, holdRef string) (bool, error) {
	request, err := s.findByHold(ctx, tx, holdRef)
	if err != nil || request == nil {
		return false, err
	}
	if request.HoldCapturedAt != nil || isTerminal(request.Status) {
		return true, nil
	}
	if err := s.cancelPendingPayment(ctx, tx, request.ID); err != nil {
		return true, err
	}
	return true, s.transition(ctx, tx, request, enums.UGCStatusCancelled, map[string]any{}, transitionMeta{
		action:     "ugc.hold_canceled",
		actor:      activity.System,
		details:    map[string]any{"hold_ref": holdRef},
		notify:     "ugc_payment_expired",
		recipients: []uuid.UUID{request.SellerID, request.TesterID},
	})
}

// ApplyTransferReversed refunds the seller what the processor pulled back from a content payout.
// The request is already settled, so the reversed amount has no other way out of escrow.
func (s *Service) ApplyTransferReversed(ctx context.Context, tx *gorm.DB, reversal *models.Transaction) error {
	if reversal == nil || reversal.UGCID == nil {
		return nil
	}
	request, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, *reversal.UGCID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load content request for reversal")
	}
	if request.HoldRef == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "reversed content payout has no payment reference")
	}
	key := gateway.IdempotencyKey("ugc-reversal-refund", reversal.ID)
	if err := s.refundSeller(ctx, tx, request, reversal.Amount, enums.HoldCancelRequestedByCustomer, key); err != nil {
		return err
	}
	if s.logg != nil {
		logCtx := s.logg.WithUGCID(ctx, request.ID.String())
		logCtx = s.logg.WithAmount(logCtx, "amount", reversal.Amount)
		s.logg.Info(logCtx, "ugc.reversed_payout_refunded")
	}
	return nil
}
