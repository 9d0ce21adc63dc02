package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/account"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/transfer"

	"github.com/trialhub/trialhub-backend/pkg/enums"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
	"github.com/trialhub/trialhub-backend/pkg/logger"
	"github.com/trialhub/trialhub-backend/pkg/metrics"
	"github.com/trialhub/trialhub-backend/pkg/money"
)

// stripeAPI is the slice of the Stripe resource packages the adapter calls.
type stripeAPI struct {
	newIntent     func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	captureIntent func(string, *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	cancelIntent  func(string, *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
	newTransfer   func(*stripe.TransferParams) (*stripe.Transfer, error)
	newRefund     func(*stripe.RefundParams) (*stripe.Refund, error)
	getAccount    func(string, *stripe.AccountParams) (*stripe.Account, error)
}

func defaultStripeAPI() stripeAPI {
	return stripeAPI{
		newIntent:     paymentintent.New,
		captureIntent: paymentintent.Capture,
		cancelIntent:  paymentintent.Cancel,
		newTransfer:   transfer.New,
		newRefund:     refund.New,
		getAccount:    account.GetByID,
	}
}

type currencySource interface {
	Currency() string
}

// StripeParams wires the Stripe adapter.
type StripeParams struct {
	Client  currencySource
	Metrics *metrics.GatewayMetrics
	Logger  *logger.Logger
}

// Stripe implements Gateway with PaymentIntents (manual capture), Connect transfers and refunds.
type Stripe struct {
	api      stripeAPI
	currency string
	metrics  *metrics.GatewayMetrics
	logg     *logger.Logger
}

func NewStripe(params StripeParams) (*Stripe, error) {
	if params.Client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	currency := strings.ToLower(strings.TrimSpace(params.Client.Currency()))
	if currency == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe currency required")
	}
	return &Stripe{
		api:      defaultStripeAPI(),
		currency: currency,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

func (s *Stripe) Authorize(ctx context.Context, input AuthorizeInput) (*Hold, error) {
	cents, err := money.ToMinorUnits(input.Amount)
	if err != nil || cents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "authorization amount must be a positive amount in cents")
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(cents),
		Currency:      stripe.String(s.currencyOr(input.Currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	if input.CustomerRef != "" {
		params.Customer = stripe.String(input.CustomerRef)
	}
	if input.PaymentMethodRef != "" {
		params.PaymentMethod = stripe.String(input.PaymentMethodRef)
		params.Confirm = stripe.Bool(true)
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	setIdempotency(&params.Params, input.IdempotencyKey)

	var intent *stripe.PaymentIntent
	err = s.observe(ctx, "authorize", func() error {
		var callErr error
		intent, callErr = s.api.newIntent(params)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if input.PaymentMethodRef != "" && intent.Status != stripe.PaymentIntentStatusRequiresCapture {
		s.releaseUnconfirmed(ctx, intent, input.IdempotencyKey)
		return nil, pkgerrors.New(pkgerrors.CodePaymentDeclined, "payment method could not be authorized").
			WithDetails(map[string]any{"hold_ref": intent.ID, "status": string(intent.Status)})
	}
	return &Hold{Ref: intent.ID, Amount: money.FromMinorUnits(intent.Amount)}, nil
}

// releaseUnconfirmed cancels an intent the confirm left open (3DS or a rejected method).
// A failed cancel is only logged; the intent then expires on its own.
func (s *Stripe) releaseUnconfirmed(ctx context.Context, intent *stripe.PaymentIntent, idempotencyKey string) {
	if intent.Status == stripe.PaymentIntentStatusCanceled {
		return
	}
	key := ""
	if idempotencyKey != "" {
		key = idempotencyKey + ":release"
	}
	if err := s.CancelHold(ctx, intent.ID, enums.HoldCancelAbandoned, key); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "hold_ref", intent.ID), "unconfirmed intent not cancelled: "+err.Error())
	}
}

func (s *Stripe) Capture(ctx context.Context, holdRef, idempotencyKey string) (*Capture, error) {
	if strings.TrimSpace(holdRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hold reference required")
	}
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	setIdempotency(&params.Params, idempotencyKey)

	var intent *stripe.PaymentIntent
	err := s.observe(ctx, "capture", func() error {
		var callErr error
		intent, callErr = s.api.captureIntent(holdRef, params)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	result := &Capture{HoldRef: intent.ID, Amount: money.FromMinorUnits(intent.AmountReceived)}
	if intent.LatestCharge != nil {
		result.ChargeRef = intent.LatestCharge.ID
	}
	return result, nil
}

func (s *Stripe) CancelHold(ctx context.Context, holdRef string, reason enums.HoldCancelReason, idempotencyKey string) error {
	if strings.TrimSpace(holdRef) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "hold reference required")
	}
	params := &stripe.PaymentIntentCancelParams{}
	if reason.IsValid() {
		params.CancellationReason = stripe.String(string(reason))
	}
	params.Context = ctx
	setIdempotency(&params.Params, idempotencyKey)

	return s.observe(ctx, "cancel_hold", func() error {
		_, callErr := s.api.cancelIntent(holdRef, params)
		return callErr
	})
}

func (s *Stripe) Transfer(ctx context.Context, input TransferInput) (*Transfer, error) {
	cents, err := money.ToMinorUnits(input.Amount)
	if err != nil || cents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer amount must be a positive amount in cents")
	}
	if strings.TrimSpace(input.DestinationAccount) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer destination required")
	}
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(cents),
		Currency:    stripe.String(s.currencyOr(input.Currency)),
		Destination: stripe.String(input.DestinationAccount),
	}
	if input.SourceChargeRef != "" {
		params.SourceTransaction = stripe.String(input.SourceChargeRef)
	}
	if input.TransferGroup != "" {
		params.TransferGroup = stripe.String(input.TransferGroup)
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	setIdempotency(&params.Params, input.IdempotencyKey)

	var tr *stripe.Transfer
	err = s.observe(ctx, "transfer", func() error {
		var callErr error
		tr, callErr = s.api.newTransfer(params)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return &Transfer{Ref: tr.ID}, nil
}

func (s *Stripe) Refund(ctx context.Context, input RefundInput) (*Refund, error) {
	cents, err := money.ToMinorUnits(input.Amount)
	if err != nil || cents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be a positive amount in cents")
	}
	if strings.TrimSpace(input.HoldRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hold reference required")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(input.HoldRef),
		Amount:        stripe.Int64(cents),
	}
	if input.Reason.IsValid() && input.Reason != enums.HoldCancelAbandoned {
		params.Reason = stripe.String(string(input.Reason))
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	setIdempotency(&params.Params, input.IdempotencyKey)

	var rf *stripe.Refund
	err = s.observe(ctx, "refund", func() error {
		var callErr error
		rf, callErr = s.api.newRefund(params)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if rf.Status == stripe.RefundStatusFailed || rf.Status == stripe.RefundStatusCanceled {
		return nil, pkgerrors.New(pkgerrors.CodePaymentDeclined, "refund was not accepted by the processor").
			WithDetails(map[string]any{"refund_ref": rf.ID, "status": string(rf.Status)})
	}
	return &Refund{Ref: rf.ID, Pending: rf.Status != stripe.RefundStatusSucceeded}, nil
}

func (s *Stripe) GetAccountStatus(ctx context.Context, accountRef string) (*AccountStatus, error) {
	if strings.TrimSpace(accountRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account reference required")
	}
	params := &stripe.AccountParams{}
	params.Context = ctx

	var acct *stripe.Account
	err := s.observe(ctx, "account_status", func() error {
		var callErr error
		acct, callErr = s.api.getAccount(accountRef, params)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return &AccountStatus{
		PayoutEligible:   acct.PayoutsEnabled,
		ChargesEnabled:   acct.ChargesEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}, nil
}

func (s *Stripe) currencyOr(currency string) string {
	if c := strings.ToLower(strings.TrimSpace(currency)); c != "" {
		return c
	}
	return s.currency
}

func (s *Stripe) observe(ctx context.Context, operation string, call func() error) error {
	start := time.Now()
	err := mapStripeError(operation, call())
	outcome := "ok"
	if typed := pkgerrors.As(err); typed != nil {
		outcome = string(typed.Code())
	}
	s.metrics.Observe(operation, outcome, time.Since(start))
	if err != nil && s.logg != nil {
		s.logg.Error(s.logg.WithField(ctx, "gateway_operation", operation), "gateway.call_failed", err)
	}
	return err
}

func setIdempotency(params *stripe.Params, key string) {
	if key = strings.TrimSpace(key); key != "" {
		params.SetIdempotencyKey(key)
	}
}

// mapStripeError classifies processor failures: card and request errors are final, everything else is retryable.
func mapStripeError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment processor unavailable during "+operation)
	}
	details := map[string]any{
		"operation": operation,
		"type":      string(stripeErr.Type),
		"code":      string(stripeErr.Code),
	}
	switch stripeErr.Type {
	case stripe.ErrorTypeCard:
		msg := stripeErr.Msg
		if msg == "" {
			msg = "card was declined"
		}
		return pkgerrors.Wrap(pkgerrors.CodePaymentDeclined, err, msg).WithDetails(details)
	case stripe.ErrorTypeInvalidRequest, stripe.ErrorTypeIdempotency:
		if stripeErr.HTTPStatusCode == 429 {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment processor rate limited").WithDetails(details)
		}
		return pkgerrors.Wrap(pkgerrors.CodePaymentDeclined, err, "payment processor rejected "+operation).WithDetails(details)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment processor error during "+operation).WithDetails(details)
	}
}
