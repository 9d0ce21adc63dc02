package campaigns

import (
	"context"
	"time"

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

// CancelBranch names the money movement a cancellation performed.
type CancelBranch string

const (
	CancelBranchSoft        CancelBranch = "soft_cancel"
	CancelBranchReleaseHold CancelBranch = "release_hold"
	CancelBranchFullRefund  CancelBranch = "full_refund"
	CancelBranchFeeRefund   CancelBranch = "fee_refund"
)

const defaultCancelReason = "seller_requested"

type cancelKey struct {
	status      enums.CampaignStatus
	captured    bool
	withinGrace bool
}

// cancelTable lists every cancellable combination. Anything missing is a state conflict.
var cancelTable = map[cancelKey]CancelBranch{
	{enums.CampaignStatusDraft, false, false}:             CancelBranchSoft,
	{enums.CampaignStatusPendingPayment, false, false}:    CancelBranchReleaseHold,
	{enums.CampaignStatusPendingActivation, false, false}: CancelBranchReleaseHold,
	{enums.CampaignStatusActive, true, true}:              CancelBranchFullRefund,
	{enums.CampaignStatusActive, true, false}:             CancelBranchFeeRefund,
}

func cancelBranchFor(c *models.Campaign, now time.Time) (CancelBranch, bool) {
	key := cancelKey{status: c.Status, captured: c.IsCaptured()}
	if key.captured {
		key.withinGrace = c.WithinGracePeriod(now)
	}
	branch, ok := cancelTable[key]
	return branch, ok
}

type CancelInput struct {
	CampaignID uuid.UUID
	SellerID   uuid.UUID
	Reason     string
}

// CancelResult reports what the cancellation moved.
type CancelResult struct {
	Campaign      *models.Campaign
	Branch        CancelBranch
	Refund        decimal.Decimal
	Fee           decimal.Decimal
	RefundRef     string
	RefundPending bool
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*CancelResult, error) {
	ctx = s.withCampaign(ctx, input.CampaignID)
	reason := input.Reason
	if reason == "" {
		reason = defaultCancelReason
	}
	actor := activity.User(input.SellerID, enums.ActorRoleSeller)

	var result *CancelResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		campaign, err := s.loadOwned(ctx, tx, input.CampaignID, input.SellerID)
		if err != nil {
			return err
		}
		branch, ok := cancelBranchFor(campaign, s.now())
		if !ok {
			return stateConflict(campaign, "campaign cannot be cancelled in its current state")
		}
		result = &CancelResult{Campaign: campaign, Branch: branch, Refund: decimal.Zero, Fee: decimal.Zero}
		meta := transitionMeta{
			action:  "campaign.cancelled",
			actor:   actor,
			details: map[string]any{"branch": string(branch)},
			notify:  "campaign_cancelled",
		}

		switch branch {
		case CancelBranchSoft:
			return s.releaseHold(ctx, tx, campaign, reason, meta)
		case CancelBranchReleaseHold:
			if campaign.HoldRef != nil {
				key := gateway.IdempotencyKey("campaign-cancel", campaign.ID)
				if err := s.gateway.CancelHold(ctx, *campaign.HoldRef, enums.HoldCancelRequestedByCustomer, key); err != nil {
					return err
				}
			}
			return s.releaseHold(ctx, tx, campaign, reason, meta)
		default:
			return s.refundEscrow(ctx, tx, campaign, branch == CancelBranchFeeRefund, result, reason, meta)
		}
	})
	if err != nil {
		s.activity.RecordFailure(ctx, activity.Entry{
			Action:     "campaign.cancelled",
			Actor:      actor,
			EntityType: enums.AggregateCampaign,
			EntityID:   input.CampaignID,
		}, err)
		return nil, err
	}
	s.info(ctx, "campaign.cancelled", map[string]any{
		"branch": string(result.Branch),
		"refund": result.Refund.StringFixed(2),
		"fee":    result.Fee.StringFixed(2),
	})
	return result, nil
}

// refundEscrow returns what is still held for unstarted slots to the seller, minus the cancellation
// fee when the grace period has passed.
func (s *service) refundEscrow(ctx context.Context, tx *gorm.DB, campaign *models.Campaign, withFee bool, result *CancelResult, reason string, meta transitionMeta) error {
	if campaign.HoldRef == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "captured campaign has no payment reference")
	}
	sessionRepo := s.sessions.WithTx(tx)
	blocking, err := sessionRepo.CountByStatus(ctx, campaign.ID, enums.BlockingSessionStatuses...)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count active sessions")
	}
	if blocking > 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "campaign has testers in progress; wait for their sessions to finish before cancelling").
			WithReason(pkgerrors.ReasonSessionsInProgress).
			WithDetails(map[string]any{"active_sessions": blocking})
	}
	completed, err := sessionRepo.CountByStatus(ctx, campaign.ID, enums.SessionStatusCompleted)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count completed sessions")
	}
	unpaid, err := sessionRepo.CountRewardPending(ctx, campaign.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count unpaid sessions")
	}
	released, err := s.ledger.CampaignReleased(ctx, tx, campaign.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum released escrow")
	}
	reversed, err := s.ledger.Sum(ctx, tx, ledger.Lookup{
		CampaignID:    campaign.ID,
		ExcludeStatus: enums.TransactionStatusCancelled,
	}, enums.TransactionTransferReversal)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum transfer reversals")
	}

	// Unstarted slots plus rewards the processor pulled back go to the seller. Completed sessions
	// not paid yet keep their slot in escrow until the reward sweep pays them.
	owed := campaign.PerTesterCost.Mul(decimal.NewFromInt(unpaid))
	remaining := escrow.RemainingEscrow(campaign.EscrowAmount, campaign.PerTesterCost, int(completed)).Add(reversed)
	if refundable := campaign.EscrowAmount.Sub(released).Sub(owed); refundable.LessThan(remaining) {
		remaining = refundable
	}
	if remaining.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeConflict, "insufficient escrow remaining").
			WithReason(pkgerrors.ReasonInsufficientEscrow).
			WithDetails(map[string]any{"remaining": remaining.StringFixed(2)})
	}

	refund, fee := remaining, decimal.Zero
	if withFee {
		refund, fee = escrow.SplitCancellationFee(remaining, s.rules.CancellationFeePercent())
	}
	campaignID := campaign.ID

	if money.IsPositive(refund) {
		res, err := s.gateway.Refund(ctx, gateway.RefundInput{
			HoldRef:        *campaign.HoldRef,
			Amount:         refund,
			Reason:         enums.HoldCancelRequestedByCustomer,
			Metadata:       map[string]string{"campaign_id": campaign.ID.String()},
			IdempotencyKey: gateway.IdempotencyKey("campaign-refund", campaign.ID),
		})
		if err != nil {
			return err
		}
		status := enums.TransactionStatusCompleted
		if res.Pending {
			status = enums.TransactionStatusPending
		}
		if _, err := s.ledger.Post(ctx, tx, ledger.PostInput{
			Type:        enums.TransactionCampaignRefund,
			Status:      status,
			Amount:      refund,
			CampaignID:  &campaignID,
			HoldRef:     campaign.HoldRef,
			RefundRef:   &res.Ref,
			Description: "campaign cancellation refund",
			Metadata:    map[string]any{"completed_sessions": completed, "reversed_rewards": reversed.StringFixed(2)},
			Platform:    ledger.PlatformDelta{Escrow: refund.Neg()},
		}); err != nil {
			return err
		}
		result.RefundRef = res.Ref
		result.RefundPending = res.Pending
	}

	if money.IsPositive(fee) {
		if _, err := s.ledger.Post(ctx, tx, ledger.PostInput{
			Type:        enums.TransactionCancellationCommission,
			Status:      enums.TransactionStatusCompleted,
			Amount:      fee,
			CampaignID:  &campaignID,
			Description: "campaign cancellation fee",
			Platform: ledger.PlatformDelta{
				Escrow:      fee.Neg(),
				Commission:  fee,
				Commissions: fee,
			},
		}); err != nil {
			return err
		}
	}

	result.Refund = refund
	result.Fee = fee
	meta.details["refund"] = refund.StringFixed(2)
	meta.details["fee"] = fee.StringFixed(2)
	meta.details["completed_sessions"] = completed
	meta.details["unpaid_sessions"] = unpaid
	return s.releaseHold(ctx, tx, campaign, reason, meta)
}
