// Package gateway is the payment processor boundary: manual-capture holds, captures, transfers to
// connected payout accounts, refunds and account status lookups.
package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trialhub/trialhub-backend/pkg/enums"
)

// Gateway is implemented by the Stripe adapter and by test fakes.
type Gateway interface {
	Authorize(ctx context.Context, input AuthorizeInput) (*Hold, error)
	Capture(ctx context.Context, holdRef, idempotencyKey string) (*Capture, error)
	CancelHold(ctx context.Context, holdRef string, reason enums.HoldCancelReason, idempotencyKey string) error
	Transfer(ctx context.Context, input TransferInput) (*Transfer, error)
	Refund(ctx context.Context, input RefundInput) (*Refund, error)
	GetAccountStatus(ctx context.Context, accountRef string) (*AccountStatus, error)
}

// AuthorizeInput places a manual-capture hold on the payer's payment method.
type AuthorizeInput struct {
	Amount           decimal.Decimal
	Currency         string
	CustomerRef      string
	PaymentMethodRef string
	Metadata         map[string]string
	IdempotencyKey   string
}

type Hold struct {
	Ref    string
	Amount decimal.Decimal
}

type Capture struct {
	HoldRef   string
	ChargeRef string
	Amount    decimal.Decimal
}

// TransferInput moves funds from the platform balance to a connected account.
// SourceChargeRef ties the transfer to the captured charge that funded it.
type TransferInput struct {
	Amount             decimal.Decimal
	Currency           string
	DestinationAccount string
	SourceChargeRef    string
	TransferGroup      string
	Metadata           map[string]string
	IdempotencyKey     string
}

type Transfer struct {
	Ref string
}

type RefundInput struct {
	HoldRef        string
	Amount         decimal.Decimal
	Reason         enums.HoldCancelReason
	Metadata       map[string]string
	IdempotencyKey string
}

// Refund reports whether the processor settled the refund synchronously.
type Refund struct {
	Ref     string
	Pending bool
}

type AccountStatus struct {
	PayoutEligible   bool
	ChargesEnabled   bool
	DetailsSubmitted bool
}

// IdempotencyKey derives the processor idempotency key for an action on an aggregate.
func IdempotencyKey(action string, aggregateID uuid.UUID) string {
	return fmt.Sprintf("th:%s:%s", action, aggregateID)
}
