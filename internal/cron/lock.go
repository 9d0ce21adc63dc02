package cron

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Locks outlive the daily interval so a slow run still holds its slot.
const defaultLockTTL = 25 * time.Hour

// Lock coordinates exclusive cron runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LockFactory returns the lock guarding one job across worker replicas.
type LockFactory func(job string, ttl time.Duration) (Lock, error)

type lockBackend interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	LockKey(name string) string
}

// RedisLocks builds per-job locks namespaced by environment, so staging and
// production workers sharing a Redis never contend.
func RedisLocks(backend lockBackend, env string) LockFactory {
	if env == "" {
		env = "local"
	}
	return func(job string, ttl time.Duration) (Lock, error) {
		return NewRedisLock(backend, backend.LockKey(env+":"+job), ttl)
	}
}

// RedisLock is a lease held through SET NX PX. The stored value names the
// holder (host, pid, nonce) so a stuck lock can be traced to a replica.
type RedisLock struct {
	backend lockBackend
	key     string
	ttl     time.Duration
	token   string
}

func NewRedisLock(backend lockBackend, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case backend == nil:
		return nil, errors.New("redis client required for lock")
	case key == "":
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{backend: backend, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := holderToken()
	acquired, err := l.backend.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if acquired {
		l.token = token
	}
	return acquired, nil
}

// Release drops the lease if this instance still holds it. It runs even when
// ctx is already cancelled by shutdown.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	if _, err := l.backend.CompareAndDelete(context.WithoutCancel(ctx), l.key, token); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

func holderToken() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return host + "/" + strconv.Itoa(os.Getpid()) + "/" + uuid.NewString()
}
