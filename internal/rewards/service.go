// Package rewards pays testers for completed sessions out of campaign escrow.
package rewards

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/trialhub/trialhub-backend/pkg/money"
	"github.com/trialhub/trialhub-backend/pkg/outbox"
	"github.com/trialhub/trialhub-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type payoutChecker interface {
	RequireEligible(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error)
}

// Result describes a paid session reward.
type Result struct {
	SessionID     uuid.UUID
	TransactionID uuid.UUID
	Reward        decimal.Decimal
	Commission    decimal.Decimal
	Coverage      decimal.Decimal
	TransferRef   string
	PaidAt        time.Time
}

type Params struct {
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

// ListPending returns completed sessions on captured campaigns whose reward has not been paid, oldest first.
func (s *Service) ListPending(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return s.sessions.ListRewardPending(ctx, limit)
}

// ProcessCompletedSession transfers the tester's reward and books it against campaign escrow.
// The reward uses the price and shipping the tester actually paid. Nothing is written to the
// ledger unless the transfer succeeds.
func (s *Service) ProcessCompletedSession(ctx context.Context, sessionID uuid.UUID) (*Result, error) {
	if s.logg != nil {
		ctx = s.logg.WithSessionID(ctx, sessionID.String())
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, sessionNotFoundOr(err)
	}
	if err := checkPayable(session); err != nil {
		return nil, err
	}

	failure := activity.Entry{
		Action:     "session.reward_paid",
		Actor:      activity.System,
		EntityType: enums.AggregateTestSession,
		EntityID:   sessionID,
	}
	account, err := s.payouts.RequireEligible(ctx, session.TesterID)
	if err != nil {
		s.activity.RecordFailure(ctx, failure, err)
		return nil, err
	}

	var result *Result
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		session, err := s.sessions.WithTx(tx).FindByIDForUpdate(ctx, sessionID)
		if err != nil {
			return sessionNotFoundOr(err)
		}
		if err := checkPayable(session); err != nil {
			return err
		}
		campaign, err := s.campaigns.WithTx(tx).FindByIDForUpdate(ctx, session.CampaignID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "campaign not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load campaign")
		}
		if !campaign.IsCaptured() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "campaign payment has not been captured").
				WithDetails(map[string]any{"campaign_status": string(campaign.Status)})
		}

		shipping := decimal.Zero
		if session.ShippingCost.Valid {
			shipping = session.ShippingCost.Decimal
		}
		reward := escrow.TesterReward(session.ProductPrice.Decimal, shipping, campaign.Offer.Bonus)
		commission := s.rules.Commission(escrow.BaseCost(escrow.Offer{
			ProductCost:  campaign.Offer.ExpectedPrice,
			ShippingCost: campaign.Offer.ShippingCost,
			Bonus:        campaign.Offer.Bonus,
			Quantity:     campaign.Offer.Quantity,
		})).FixedFee

		released, err := s.ledger.CampaignReleased(ctx, tx, campaign.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum released escrow")
		}
		available := campaign.EscrowAmount.Sub(released)
		if reward.Add(commission).GreaterThan(available) {
			return pkgerrors.New(pkgerrors.CodeConflict, "insufficient escrow remaining").
				WithReason(pkgerrors.ReasonInsufficientEscrow).
				WithDetails(map[string]any{
					"available": available.StringFixed(2),
					"required":  reward.Add(commission).StringFixed(2),
				})
		}

		transferInput := gateway.TransferInput{
			Amount:             reward,
			DestinationAccount: account.AccountRef,
			TransferGroup:      "campaign_" + campaign.ID.String(),
			Metadata: map[string]string{
				"campaign_id": campaign.ID.String(),
				"session_id":  session.ID.String(),
			},
			IdempotencyKey: gateway.IdempotencyKey("session-reward", session.ID),
		}
		if campaign.ChargeRef != nil {
			transferInput.SourceChargeRef = *campaign.ChargeRef
		}
		transfer, err := s.gateway.Transfer(ctx, transferInput)
		if err != nil {
			return err
		}

		campaignID, sessionRef, testerID := campaign.ID, session.ID, session.TesterID
		rewardTxn, err := s.ledger.Post(ctx, tx, ledger.PostInput{
			Type:        enums.TransactionTestReward,
			Status:      enums.TransactionStatusCompleted,
			Amount:      reward,
			UserID:      &testerID,
			CampaignID:  &campaignID,
			SessionID:   &sessionRef,
			TransferRef: &transfer.Ref,
			Description: "test session reward",
			Metadata: map[string]any{
				"product_price": session.ProductPrice.Decimal.StringFixed(2),
				"shipping_cost": shipping.StringFixed(2),
				"bonus":         campaign.Offer.Bonus.StringFixed(2),
			},
			Platform: ledger.PlatformDelta{
				Escrow:      reward.Neg(),
				Transferred: reward,
			},
		})
		if err != nil {
			return err
		}
		if money.IsPositive(commission) {
			if _, err := s.ledger.Post(ctx, tx, ledger.PostInput{
				Type:        enums.TransactionCommission,
				Status:      enums.TransactionStatusCompleted,
				Amount:      commission,
				CampaignID:  &campaignID,
				SessionID:   &sessionRef,
				Description: "platform commission",
				Platform: ledger.PlatformDelta{
					Escrow:      commission.Neg(),
					Commission:  commission,
					Commissions: commission,
				},
			}); err != nil {
				return err
			}
		}

		coverage := slotRemainder(campaign.PerTesterCost, reward.Add(commission), available)
		if money.IsPositive(coverage) {
			if _, err := s.ledger.Post(ctx, tx, ledger.PostInput{
				Type:        enums.TransactionProcessorCoverage,
				Status:      enums.TransactionStatusCompleted,
				Amount:      coverage,
				CampaignID:  &campaignID,
				SessionID:   &sessionRef,
				Description: "slot escrow retained for processor fees",
				Metadata:    map[string]any{"per_tester_cost": campaign.PerTesterCost.StringFixed(2)},
				Platform: ledger.PlatformDelta{
					Escrow:      coverage.Neg(),
					Commission:  coverage,
					Commissions: coverage,
				},
			}); err != nil {
				return err
			}
		}

		paidAt := s.now()
		marked, err := s.sessions.WithTx(tx).MarkRewardPaid(ctx, session.ID, rewardTxn.ID, paidAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark session paid")
		}
		if !marked {
			return pkgerrors.New(pkgerrors.CodeConflict, "session reward already paid")
		}

		result = &Result{
			SessionID:     session.ID,
			TransactionID: rewardTxn.ID,
			Reward:        reward,
			Commission:    commission,
			Coverage:      coverage,
			TransferRef:   transfer.Ref,
			PaidAt:        paidAt,
		}
		return s.emit(ctx, tx, session, campaign, result)
	})
	if err != nil {
		s.activity.RecordFailure(ctx, failure, err)
		return nil, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"campaign_id":  session.CampaignID.String(),
			"transfer_ref": result.TransferRef,
		})
		logCtx = s.logg.WithAmount(logCtx, "reward", result.Reward)
		logCtx = s.logg.WithAmount(logCtx, "commission", result.Commission)
		s.logg.Info(logCtx, "session.reward_paid")
	}
	return result, nil
}

func (s *Service) emit(ctx context.Context, tx *gorm.DB, session *models.TestSession, campaign *models.Campaign, result *Result) error {
	if err := s.activity.Publish(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventTesterRewardPaid,
		AggregateType: enums.AggregateTestSession,
		AggregateID:   session.ID,
		Data: payloads.TesterRewardPaidEvent{
			SessionID:     session.ID,
			CampaignID:    campaign.ID,
			TesterID:      session.TesterID,
			TransactionID: result.TransactionID,
			Amount:        result.Reward,
			TransferRef:   result.TransferRef,
			PaidAt:        result.PaidAt,
		},
	}); err != nil {
		return err
	}
	if err := s.activity.Record(ctx, tx, activity.Entry{
		Action:     "session.reward_paid",
		Actor:      activity.System,
		EntityType: enums.AggregateTestSession,
		EntityID:   session.ID,
		Details: map[string]any{
			"campaign_id":  campaign.ID.String(),
			"reward":       result.Reward.StringFixed(2),
			"commission":   result.Commission.StringFixed(2),
			"coverage":     result.Coverage.StringFixed(2),
			"transfer_ref": result.TransferRef,
		},
	}); err != nil {
		return err
	}
	return s.activity.Notify(ctx, tx, activity.Notice{
		Type:       "reward_paid",
		Recipients: []uuid.UUID{session.TesterID},
		EntityType: enums.AggregateTestSession,
		EntityID:   session.ID,
		Data: map[string]any{
			"amount":      result.Reward.StringFixed(2),
			"campaign_id": campaign.ID.String(),
		},
	})
}

// slotRemainder is what a paid slot still holds in escrow once the reward and commission have left it.
// It never exceeds what the campaign has left after the payout.
func slotRemainder(perTesterCost, paidOut, available decimal.Decimal) decimal.Decimal {
	remainder := perTesterCost.Sub(paidOut)
	if left := available.Sub(paidOut); left.LessThan(remainder) {
		remainder = left
	}
	if remainder.IsNegative() {
		return decimal.Zero
	}
	return remainder
}

func checkPayable(session *models.TestSession) error {
	if session.Status != enums.SessionStatusCompleted {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "session is not completed").
			WithDetails(map[string]any{"status": string(session.Status)})
	}
	if session.RewardPaidAt != nil {
		return pkgerrors.New(pkgerrors.CodeConflict, "session reward already paid")
	}
	if !session.ProductPrice.Valid || !money.IsPositive(session.ProductPrice.Decimal) {
		return pkgerrors.New(pkgerrors.CodeValidation, "tester has not reported the price paid for the product")
	}
	if session.ShippingCost.Valid && session.ShippingCost.Decimal.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "reported shipping cost must not be negative")
	}
	return nil
}

func sessionNotFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "session not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load session")
}
