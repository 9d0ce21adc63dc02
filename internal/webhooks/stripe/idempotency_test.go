package stripewebhook

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/trialhub/trialhub-backend/pkg/config"
	"github.com/trialhub/trialhub-backend/pkg/redis"
)

func newRedisGuard(t *testing.T, ttl time.Duration) (*IdempotencyGuard, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.New(context.Background(), config.RedisConfig{Address: mr.Addr()}, nil)
	if err != nil {
		t.Fatalf("redis.New: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	guard, err := NewIdempotencyGuard(client, ttl, "")
	if err != nil {
		t.Fatalf("NewIdempotencyGuard: %v", err)
	}
	return guard, mr, client
}

func TestGuardClaimLifecycle(t *testing.T) {
	guard, mr, client := newRedisGuard(t, time.Hour)
	ctx := context.Background()
	key := client.IdempotencyKey(GuardScope, "evt_1")

	state, err := guard.Claim(ctx, "evt_1")
	if err != nil || state != ClaimAcquired {
		t.Fatalf("first claim: state=%v err=%v", state, err)
	}
	if ttl := mr.TTL(key); ttl > defaultClaimLease {
		t.Fatalf("processing claim should use the short lease, got %s", ttl)
	}

	state, err = guard.Claim(ctx, "evt_1")
	if err != nil || state != ClaimInFlight {
		t.Fatalf("concurrent claim: state=%v err=%v", state, err)
	}

	if err := guard.Complete(ctx, "evt_1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if ttl := mr.TTL(key); ttl <= defaultClaimLease {
		t.Fatalf("completed claim should carry the full ttl, got %s", ttl)
	}
	state, err = guard.Claim(ctx, "evt_1")
	if err != nil || state != ClaimDuplicate {
		t.Fatalf("redelivery: state=%v err=%v", state, err)
	}
}

func TestGuardLeaseExpiresForCrashedHandler(t *testing.T) {
	guard, mr, _ := newRedisGuard(t, time.Hour)
	ctx := context.Background()

	if state, _ := guard.Claim(ctx, "evt_crash"); state != ClaimAcquired {
		t.Fatalf("expected first claim, got %v", state)
	}
	mr.FastForward(defaultClaimLease + time.Second)
	if state, err := guard.Claim(ctx, "evt_crash"); err != nil || state != ClaimAcquired {
		t.Fatalf("expected reclaim after lease expiry, state=%v err=%v", state, err)
	}
}

func TestGuardReleaseAllowsRetry(t *testing.T) {
	guard, _, _ := newRedisGuard(t, time.Hour)
	ctx := context.Background()

	_, _ = guard.Claim(ctx, "evt_fail")
	if err := guard.Release(ctx, "evt_fail"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if state, err := guard.Claim(ctx, "evt_fail"); err != nil || state != ClaimAcquired {
		t.Fatalf("expected claim after release, state=%v err=%v", state, err)
	}
}

func TestGuardRejectsEmptyEventID(t *testing.T) {
	guard, _, _ := newRedisGuard(t, time.Hour)
	if _, err := guard.Claim(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty event id")
	}
}
