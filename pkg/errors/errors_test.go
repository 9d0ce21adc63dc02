package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stripe/stripe-go/v84"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeTooLarge, status: http.StatusRequestEntityTooLarge, publicMsg: "request body too large"},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodePaymentDeclined, status: http.StatusPaymentRequired, publicMsg: "payment declined", detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(CodeDependency, "gateway timeout")) {
		t.Fatalf("expected dependency errors to be retryable")
	}
	if IsRetryable(New(CodePaymentDeclined, "card declined")) {
		t.Fatalf("expected declines to be terminal")
	}
	if IsRetryable(stdErrors.New("plain")) {
		t.Fatalf("expected untyped errors to be non-retryable")
	}
}

func TestDiagnoseCarriesProcessorDetail(t *testing.T) {
	cause := &stripe.Error{
		Type:           stripe.ErrorTypeCard,
		Code:           stripe.ErrorCodeCardDeclined,
		DeclineCode:    stripe.DeclineCodeInsufficientFunds,
		RequestID:      "req_123",
		HTTPStatusCode: http.StatusPaymentRequired,
	}
	err := fmt.Errorf("capture hold: %w", Wrap(CodePaymentDeclined, cause, "payment declined"))

	d := Diagnose(err)
	if d.Code != CodePaymentDeclined {
		t.Fatalf("expected code %s got %s", CodePaymentDeclined, d.Code)
	}
	if len(d.Chain) != 3 {
		t.Fatalf("expected 3 chain entries got %d", len(d.Chain))
	}
	if d.Processor == nil || d.Processor.DeclineCode != "insufficient_funds" || d.Processor.RequestID != "req_123" {
		t.Fatalf("unexpected processor detail %+v", d.Processor)
	}
	if d.Database != nil {
		t.Fatalf("expected no database detail, got %+v", d.Database)
	}

	fields := d.LogFields()
	if fields["processor_code"] != "card_declined" || fields["processor_status"] != http.StatusPaymentRequired {
		t.Fatalf("unexpected log fields %v", fields)
	}
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("empty database fields must be omitted: %v", fields)
	}
}

func TestDiagnoseDatabaseDetail(t *testing.T) {
	err := Wrap(CodeConflict, &pgconn.PgError{Code: "23505", ConstraintName: "uq_wallet_user", TableName: "wallets"}, "duplicate wallet")
	fields := Diagnose(err).LogFields()
	if fields["pg_code"] != "23505" || fields["pg_constraint"] != "uq_wallet_user" || fields["pg_table"] != "wallets" {
		t.Fatalf("unexpected log fields %v", fields)
	}
}

func TestDiagnoseNil(t *testing.T) {
	if d := Diagnose(nil); d.Message != "" || d.Chain != nil || len(d.LogFields()) != 0 {
		t.Fatalf("expected empty diagnostics, got %+v", d)
	}
}

func TestReasonAndRetryOverride(t *testing.T) {
	err := New(CodeConflict, "platform wallet changed, retry the operation").
		WithReason(ReasonConcurrentUpdate).
		WithRetryable(true)
	if !IsRetryable(err) {
		t.Fatalf("expected override to make conflict retryable")
	}
	if !HasReason(fmt.Errorf("post: %w", err), ReasonConcurrentUpdate) {
		t.Fatalf("expected reason to survive wrapping")
	}
	if HasReason(err, "") {
		t.Fatalf("empty reason must never match")
	}
	if got := err.Error(); got != "CONFLICT/CONCURRENT_UPDATE: platform wallet changed, retry the operation" {
		t.Fatalf("unexpected error string %q", got)
	}
	if IsRetryable(New(CodeInternal, "boom").WithRetryable(false)) {
		t.Fatalf("expected override to disable retry")
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("cancel: %w", New(CodeStateConflict, "campaign already cancelled"))
	if !IsCode(err, CodeConflict, CodeStateConflict) {
		t.Fatalf("expected state conflict to match")
	}
	if IsCode(err, CodeNotFound) {
		t.Fatalf("unexpected match")
	}
	if IsCode(stdErrors.New("plain"), CodeInternal) {
		t.Fatalf("untyped errors carry no code")
	}
}

func TestPublicMessage(t *testing.T) {
	if got := New(CodeConflict, "insufficient escrow remaining").PublicMessage(); got != "insufficient escrow remaining" {
		t.Fatalf("expected conflict message echoed, got %q", got)
	}
	if got := New(CodeInternal, "nil pointer in repo").PublicMessage(); got != "internal server error" {
		t.Fatalf("internal detail leaked: %q", got)
	}
	if got := New(CodeNotFound, "").PublicMessage(); got != "resource not found" {
		t.Fatalf("expected fallback message, got %q", got)
	}
}
