// Package gatewaytest provides an in-memory payment gateway for service tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/trialhub/trialhub-backend/internal/gateway"
	"github.com/trialhub/trialhub-backend/pkg/enums"
)

// Call records one gateway invocation.
type Call struct {
	Operation      string
	Ref            string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// Fake records calls and returns deterministic references. Errors set on the
// *Err fields are returned by the matching operation.
type Fake struct {
	mu sync.Mutex

	AuthorizeErr error
	CaptureErr   error
	CancelErr    error
	TransferErr  error
	RefundErr    error
	AccountErr   error

	RefundPending bool
	Accounts      map[string]gateway.AccountStatus

	holds  map[string]decimal.Decimal
	calls  []Call
	serial int
}

func NewFake() *Fake {
	return &Fake{
		Accounts: map[string]gateway.AccountStatus{},
		holds:    map[string]decimal.Decimal{},
	}
}

func (f *Fake) Authorize(_ context.Context, input gateway.AuthorizeInput) (*gateway.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AuthorizeErr != nil {
		return nil, f.AuthorizeErr
	}
	ref := f.nextRef("pi")
	f.holds[ref] = input.Amount
	f.record("authorize", ref, input.Amount, input.IdempotencyKey)
	return &gateway.Hold{Ref: ref, Amount: input.Amount}, nil
}

func (f *Fake) Capture(_ context.Context, holdRef, idempotencyKey string) (*gateway.Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	amount := f.holds[holdRef]
	f.record("capture", holdRef, amount, idempotencyKey)
	return &gateway.Capture{HoldRef: holdRef, ChargeRef: "ch_" + holdRef, Amount: amount}, nil
}

func (f *Fake) CancelHold(_ context.Context, holdRef string, _ enums.HoldCancelReason, idempotencyKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CancelErr != nil {
		return f.CancelErr
	}
	f.record("cancel_hold", holdRef, f.holds[holdRef], idempotencyKey)
	delete(f.holds, holdRef)
	return nil
}

func (f *Fake) Transfer(_ context.Context, input gateway.TransferInput) (*gateway.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TransferErr != nil {
		return nil, f.TransferErr
	}
	ref := f.nextRef("tr")
	f.record("transfer", input.DestinationAccount, input.Amount, input.IdempotencyKey)
	return &gateway.Transfer{Ref: ref}, nil
}

func (f *Fake) Refund(_ context.Context, input gateway.RefundInput) (*gateway.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	ref := f.nextRef("re")
	f.record("refund", input.HoldRef, input.Amount, input.IdempotencyKey)
	return &gateway.Refund{Ref: ref, Pending: f.RefundPending}, nil
}

func (f *Fake) GetAccountStatus(_ context.Context, accountRef string) (*gateway.AccountStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AccountErr != nil {
		return nil, f.AccountErr
	}
	f.record("account_status", accountRef, decimal.Zero, "")
	status, ok := f.Accounts[accountRef]
	if !ok {
		return &gateway.AccountStatus{}, nil
	}
	return &status, nil
}

// Calls returns the recorded calls for an operation, or all calls when operation is empty.
func (f *Fake) Calls(operation string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, 0, len(f.calls))
	for _, c := range f.calls {
		if operation == "" || c.Operation == operation {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) record(operation, ref string, amount decimal.Decimal, key string) {
	f.calls = append(f.calls, Call{Operation: operation, Ref: ref, Amount: amount, IdempotencyKey: key})
}

func (f *Fake) nextRef(prefix string) string {
	f.serial++
	return fmt.Sprintf("%s_test_%d", prefix, f.serial)
}

var _ gateway.Gateway = (*Fake)(nil)
