package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// GuardScope namespaces processor event ids in the idempotency store.
const GuardScope = "stripe-webhook"

// A claim is leased briefly while the handler runs and extended to the full TTL once
// the event is applied, so a crashed handler does not block redelivery for long.
const (
	defaultClaimLease = 2 * time.Minute

	claimProcessing = "processing"
	claimDone       = "done"
)

// ClaimState is the outcome of trying to claim an event id.
type ClaimState int

const (
	ClaimAcquired ClaimState = iota
	ClaimInFlight
	ClaimDuplicate
)

type claimStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// IdempotencyGuard short-circuits redelivered events before they reach the database.
// The processed_webhook_events row stays the durable record once the key expires.
type IdempotencyGuard struct {
	store claimStore
	ttl   time.Duration
	lease time.Duration
	scope string
}

func NewIdempotencyGuard(store claimStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		scope = GuardScope
	}
	lease := defaultClaimLease
	if ttl > 0 && ttl < lease {
		lease = ttl
	}
	return &IdempotencyGuard{store: store, ttl: ttl, lease: lease, scope: scope}, nil
}

// Claim leases the event id for this delivery.
func (g *IdempotencyGuard) Claim(ctx context.Context, eventID string) (ClaimState, error) {
	if eventID == "" {
		return ClaimInFlight, errors.New("event id is required")
	}
	key := g.store.IdempotencyKey(g.scope, eventID)
	claimed, err := g.store.SetNX(ctx, key, claimProcessing, g.lease)
	if err != nil {
		return ClaimInFlight, fmt.Errorf("claim webhook event %s: %w", eventID, err)
	}
	if claimed {
		return ClaimAcquired, nil
	}
	value, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		// Lease lapsed between the two calls; the next delivery will claim it.
		return ClaimInFlight, nil
	case err != nil:
		return ClaimInFlight, fmt.Errorf("read webhook claim %s: %w", eventID, err)
	case value == claimDone:
		return ClaimDuplicate, nil
	default:
		return ClaimInFlight, nil
	}
}

// Complete marks the event applied for the full dedup TTL.
func (g *IdempotencyGuard) Complete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	if err := g.store.Set(ctx, g.store.IdempotencyKey(g.scope, eventID), claimDone, g.ttl); err != nil {
		return fmt.Errorf("complete webhook event %s: %w", eventID, err)
	}
	return nil
}

// Release drops a claim so the processor's retry can run the handler again.
func (g *IdempotencyGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, eventID))
}
