// Package stripewebhook applies asynchronous payment processor events to campaigns, content requests,
// the ledger and payout accounts. Each event id is committed together with its effects.
package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/trialhub/trialhub-backend/internal/activity"
	"github.com/trialhub/trialhub-backend/internal/ledger"
	"github.com/trialhub/trialhub-backend/internal/payouts"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
	"github.com/trialhub/trialhub-backend/pkg/logger"
	"github.com/trialhub/trialhub-backend/pkg/money"
)

type campaignHolds interface {
	ApplyHoldCaptured(ctx context.Context, tx *gorm.DB, holdRef, chargeRef string) (bool, error)
	ApplyHoldFailed(ctx context.Context, tx *gorm.DB, holdRef, reason string) (bool, error)
	ApplyHoldCanceled(ctx context.Context, tx *gorm.DB, holdRef string) (bool, error)
}

type ugcHolds interface {
	ApplyHoldCaptured(ctx context.Context, tx *gorm.DB, holdRef, chargeRef string) (bool, error)
	ApplyHoldCanceled(ctx context.Context, tx *gorm.DB, holdRef string) (bool, error)
	ApplyTransferReversed(ctx context.Context, tx *gorm.DB, reversal *models.Transaction) error
}

type accountUpdater interface {
	ApplyStatus(ctx context.Context, tx *gorm.DB, accountRef string, flags payouts.Flags) (*models.PayoutAccount, error)
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry activity.Entry) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Repo              Repository
	Campaigns         campaignHolds
	UGC               ugcHolds
	Ledger            ledger.Service
	Payouts           accountUpdater
	Activity          auditRecorder
	TransactionRunner txRunner
	Logger            *logger.Logger
	Clock             func() time.Time
}

type Service struct {
	repo      Repository
	campaigns campaignHolds
	ugc       ugcHolds
	ledger    ledger.Service
	payouts   accountUpdater
	activity  auditRecorder
	txRunner  txRunner
	logg      *logger.Logger
	now       func() time.Time
}

// Refund object events, declared here so the mapping does not depend on the SDK's generated names.
const (
	eventRefundUpdated stripe.EventType = "refund.updated"
	eventRefundFailed  stripe.EventType = "refund.failed"
)

type handlerFunc func(ctx context.Context, tx *gorm.DB, event *stripe.Event) error

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook event repo required")
	}
	if params.Campaigns == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "campaign service required")
	}
	if params.UGC == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ugc service required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Payouts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout service required")
	}
	if params.Activity == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "activity emitter required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:      params.Repo,
		campaigns: params.Campaigns,
		ugc:       params.UGC,
		ledger:    params.Ledger,
		payouts:   params.Payouts,
		activity:  params.Activity,
		txRunner:  params.TransactionRunner,
		logg:      params.Logger,
		now:       func() time.Time { return clock().UTC() },
	}, nil
}

// HandleEvent applies one processor event. Unhandled types are acknowledged without side effects and
// an event id that was already committed is a no-op.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	if event.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event id required")
	}
	handle := s.handlerFor(event.Type)
	if handle == nil {
		return nil
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": string(event.Type)})
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		fresh, err := s.repo.WithTx(tx).MarkProcessed(ctx, event.ID, string(event.Type), s.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook event")
		}
		if !fresh {
			s.debug(ctx, "stripe event already applied")
			return nil
		}
		return handle(ctx, tx, event)
	})
}

func (s *Service) handlerFor(eventType stripe.EventType) handlerFunc {
	switch eventType {
	case stripe.EventTypePaymentIntentSucceeded:
		return s.onHoldCaptured
	case stripe.EventTypePaymentIntentPaymentFailed:
		return s.onHoldFailed
	case stripe.EventTypePaymentIntentCanceled:
		return s.onHoldCanceled
	case stripe.EventTypeTransferCreated:
		return s.onTransferCreated
	case stripe.EventTypeTransferReversed:
		return s.onTransferReversed
	case stripe.EventTypeChargeRefunded:
		return s.onChargeRefunded
	case eventRefundUpdated, eventRefundFailed:
		return s.onRefund
	case stripe.EventTypeAccountUpdated:
		return s.onAccountUpdated
	default:
		return nil
	}
}

func (s *Service) onHoldCaptured(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := decode(event, &intent); err != nil {
		return err
	}
	chargeRef := ""
	if intent.LatestCharge != nil {
		chargeRef = intent.LatestCharge.ID
	}
	matched, err := s.campaigns.ApplyHoldCaptured(ctx, tx, intent.ID, chargeRef)
	if err != nil || matched {
		return err
	}
	matched, err = s.ugc.ApplyHoldCaptured(ctx, tx, intent.ID, chargeRef)
	if err != nil || matched {
		return err
	}
	s.unmatched(ctx, "hold", intent.ID)
	return nil
}

func (s *Service) onHoldFailed(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := decode(event, &intent); err != nil {
		return err
	}
	reason := "payment_failed"
	if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
		reason = intent.LastPaymentError.Msg
	}
	matched, err := s.campaigns.ApplyHoldFailed(ctx, tx, intent.ID, reason)
	if err != nil || matched {
		return err
	}
	// content holds are authorized once; a failed one cannot be retried by the seller
	matched, err = s.ugc.ApplyHoldCanceled(ctx, tx, intent.ID)
	if err != nil || matched {
		return err
	}
	s.unmatched(ctx, "hold", intent.ID)
	return nil
}

func (s *Service) onHoldCanceled(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := decode(event, &intent); err != nil {
		return err
	}
	matched, err := s.campaigns.ApplyHoldCanceled(ctx, tx, intent.ID)
	if err != nil || matched {
		return err
	}
	matched, err = s.ugc.ApplyHoldCanceled(ctx, tx, intent.ID)
	if err != nil || matched {
		return err
	}
	s.unmatched(ctx, "hold", intent.ID)
	return nil
}

// Rewards are booked when the transfer is created synchronously, so the confirmation carries no ledger change.
func (s *Service) onTransferCreated(ctx context.Context, _ *gorm.DB, event *stripe.Event) error {
	var transfer stripe.Transfer
	if err := decode(event, &transfer); err != nil {
		return err
	}
	s.debug(ctx, fmt.Sprintf("transfer %s confirmed", transfer.ID))
	return nil
}

func (s *Service) onTransferReversed(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	var transfer stripe.Transfer
	if err := decode(event, &transfer); err != nil {
		return err
	}
	reversal, err := s.ledger.ReverseTransfer(ctx, tx, transfer.ID, money.FromMinorUnits(transfer.AmountReversed))
	if err != nil {
		return err
	}
	if reversal == nil {
		s.unmatched(ctx, "transfer", transfer.ID)
		return nil
	}
	// A campaign keeps the reversed reward in escrow until cancellation refunds it; a content
	// request is already settled, so the seller is refunded now.
	if reversal.UGCID != nil {
		if err := s.ugc.ApplyTransferReversed(ctx, tx, reversal); err != nil {
			return err
		}
	}
	return s.audit(ctx, tx, "ledger.transfer_reversed", reversal, map[string]any{
		"transfer_ref": transfer.ID,
		"amount":       reversal.Amount.StringFixed(2),
	})
}

func (s *Service) onChargeRefunded(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	var charge stripe.Charge
	if err := decode(event, &charge); err != nil {
		return err
	}
	if charge.Refunds == nil {
		return nil
	}
	for _, refund := range charge.Refunds.Data {
		if refund == nil {
			continue
		}
		if err := s.settleRefund(ctx, tx, refund); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) onRefund(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	var refund stripe.Refund
	if err := decode(event, &refund); err != nil {
		return err
	}
	return s.settleRefund(ctx, tx, &refund)
}

// settleRefund finalizes a refund that was still pending when it was issued. Escrow was released at issue
// time, so a failed refund puts the amount back.
func (s *Service) settleRefund(ctx context.Context, tx *gorm.DB, refund *stripe.Refund) error {
	var status enums.TransactionStatus
	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		status = enums.TransactionStatusCompleted
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		status = enums.TransactionStatusCancelled
	default:
		return nil
	}

	txn, err := s.ledger.Find(ctx, tx, ledger.Lookup{
		RefundRef: refund.ID,
		Status:    enums.TransactionStatusPending,
	})
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	input := ledger.SettleInput{TransactionID: txn.ID, Status: status}
	if status == enums.TransactionStatusCancelled {
		input.Platform = ledger.PlatformDelta{Escrow: txn.Amount}
	}
	settled, err := s.ledger.Settle(ctx, tx, input)
	if err != nil || !settled || status == enums.TransactionStatusCompleted {
		return err
	}
	if s.logg != nil {
		s.logg.Warn(s.logg.WithAmount(ctx, "amount", txn.Amount), fmt.Sprintf("refund %s failed, amount returned to escrow", refund.ID))
	}
	return s.audit(ctx, tx, "ledger.refund_failed", txn, map[string]any{
		"refund_ref":     refund.ID,
		"amount":         txn.Amount.StringFixed(2),
		"failure_reason": string(refund.FailureReason),
	})
}

func (s *Service) onAccountUpdated(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	var account stripe.Account
	if err := decode(event, &account); err != nil {
		return err
	}
	updated, err := s.payouts.ApplyStatus(ctx, tx, account.ID, payouts.Flags{
		PayoutsEnabled:  account.PayoutsEnabled,
		ChargesEnabled:  account.ChargesEnabled,
		DetailsComplete: account.DetailsSubmitted,
	})
	if err != nil {
		return err
	}
	if updated == nil {
		s.unmatched(ctx, "account", account.ID)
	}
	return nil
}

// audit attributes a ledger-level event to the campaign or content request that owns the transaction.
func (s *Service) audit(ctx context.Context, tx *gorm.DB, action string, txn *models.Transaction, details map[string]any) error {
	entry := activity.Entry{
		Action:     action,
		Actor:      activity.System,
		EntityType: enums.AggregateTransaction,
		EntityID:   txn.ID,
		Details:    details,
	}
	switch {
	case txn.UGCID != nil:
		entry.EntityType, entry.EntityID = enums.AggregateUGC, *txn.UGCID
	case txn.CampaignID != nil:
		entry.EntityType, entry.EntityID = enums.AggregateCampaign, *txn.CampaignID
	}
	details["transaction_id"] = txn.ID.String()
	return s.activity.Record(ctx, tx, entry)
}

func (s *Service) unmatched(ctx context.Context, kind, ref string) {
	if s.logg != nil {
		s.logg.Info(ctx, fmt.Sprintf("no local record for %s %s", kind, ref))
	}
}

func (s *Service) debug(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Debug(ctx, msg)
	}
}

func decode(event *stripe.Event, into any) error {
	if err := json.Unmarshal(event.Data.Raw, into); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("decode %s payload", event.Type))
	}
	return nil
}
