package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v84"

	stripewebhook "github.com/trialhub/trialhub-backend/internal/webhooks/stripe"
)

func TestStripeWebhook_SuccessAndIdempotent(t *testing.T) {
	service := &fakeStripeWebhookService{}
	guard := newGuard(t)
	verifier := &fakeVerifier{event: stripe.Event{ID: "evt_" + uuid.NewString(), Type: "payment_intent.succeeded"}}
	handler := StripeWebhook(service, verifier, guard, nil)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Stripe-Signature", "t=1,v1=ok")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d (%s)", i, rec.Code, rec.Body.String())
		}
	}
	if service.calls != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", service.calls)
	}
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, &fakeVerifier{err: errors.New("no signatures found matching the expected signature")}, newGuard(t), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=invalid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid signature, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestStripeWebhook_MissingSignature(t *testing.T) {
	handler := StripeWebhook(&fakeStripeWebhookService{}, &fakeVerifier{}, newGuard(t), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader([]byte(`{}`))))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStripeWebhook_FailureReleasesClaim(t *testing.T) {
	service := &fakeStripeWebhookService{err: errors.New("db down")}
	verifier := &fakeVerifier{event: stripe.Event{ID: "evt_retry", Type: "transfer.reversed"}}
	handler := StripeWebhook(service, verifier, newGuard(t), nil)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Stripe-Signature", "t=1,v1=ok")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(); code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on failure, got %d", code)
	}
	service.err = nil
	if code := send(); code != http.StatusOK {
		t.Fatalf("expected retry to succeed, got %d", code)
	}
	if service.calls != 2 {
		t.Fatalf("expected retry to reach the service, calls %d", service.calls)
	}
}

func TestStripeWebhook_InFlightDeliveryIsRetried(t *testing.T) {
	store := newInMemoryStore()
	store.data["th:idempotency:stripe-webhook:evt_busy"] = "processing"
	service := &fakeStripeWebhookService{}
	verifier := &fakeVerifier{event: stripe.Event{ID: "evt_busy", Type: "payment_intent.amount_capturable_updated"}}
	handler := StripeWebhook(service, verifier, newGuardWithStore(t, store), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=ok")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for in-flight delivery, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("in-flight delivery must not reach the service")
	}
}

func TestStripeWebhook_BodyLimit(t *testing.T) {
	service := &fakeStripeWebhookService{}
	verifier := &fakeVerifier{event: stripe.Event{ID: "evt_large", Type: "charge.refunded"}}
	handler := StripeWebhook(service, verifier, newGuard(t), nil)

	send := func(size int) *httptest.ResponseRecorder {
		body := append([]byte(`{"pad":"`), bytes.Repeat([]byte("x"), size)...)
		body = append(body, '"', '}')
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(body))
		req.Header.Set("Stripe-Signature", "t=1,v1=ok")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send(200 << 10)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected a 200 KiB event accepted, got %d (%s)", rec.Code, rec.Body.String())
	}
	if want := (200 << 10) + 10; verifier.payload != want {
		t.Fatalf("expected the whole body verified, got %d of %d bytes", verifier.payload, want)
	}

	rec = send(maxWebhookBody)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 over the limit, got %d", rec.Code)
	}
	if service.calls != 1 {
		t.Fatalf("oversized body must not reach the service, calls %d", service.calls)
	}
}

func newGuard(t *testing.T) *stripewebhook.IdempotencyGuard {
	t.Helper()
	return newGuardWithStore(t, newInMemoryStore())
}

func newGuardWithStore(t *testing.T, store *inMemoryStore) *stripewebhook.IdempotencyGuard {
	t.Helper()
	guard, err := stripewebhook.NewIdempotencyGuard(store, time.Minute, "stripe-webhook")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

type fakeVerifier struct {
	event   stripe.Event
	err     error
	payload int
}

func (f *fakeVerifier) VerifyEvent(payload []byte, _ string) (stripe.Event, error) {
	f.payload = len(payload)
	return f.event, f.err
}

type fakeStripeWebhookService struct {
	calls int
	err   error
}

func (f *fakeStripeWebhookService) HandleEvent(context.Context, *stripe.Event) error {
	f.calls++
	return f.err
}

type inMemoryStore struct {
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: make(map[string]string)}
}

func (s *inMemoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := s.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (s *inMemoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	s.data[key] = fmt.Sprint(value)
	return nil
}

func (s *inMemoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprint(value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return "th:idempotency:" + scope + ":" + id
}

func (s *inMemoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
