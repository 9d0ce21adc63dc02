package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/trialhub/trialhub-backend/pkg/logger"
)

type fakeLock struct {
	held    bool
	blocked bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.blocked || f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error { f.held = false; return nil }

type testJob struct {
	name     string
	err      error
	runs     int
	deadline time.Time
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(ctx context.Context) error {
	t.runs++
	t.deadline, _ = ctx.Deadline()
	return t.err
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestService(t *testing.T, registry *Registry, locks map[string]*fakeLock, clock *fakeClock) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: registry,
		Locks: func(job string, _ time.Duration) (Lock, error) {
			lock, ok := locks[job]
			if !ok {
				lock = &fakeLock{}
				locks[job] = lock
			}
			return lock, nil
		},
		Clock: clock.Now,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestServiceRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	registry := NewRegistry()
	registry.Register(success, time.Minute)
	registry.Register(failure, time.Minute)
	locks := map[string]*fakeLock{}
	service := newTestService(t, registry, locks, &fakeClock{now: time.Now()})

	service.runDue(context.Background())

	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected both jobs to run once, got %d/%d", success.runs, failure.runs)
	}
	if locks["success"].held || locks["fail"].held {
		t.Fatal("expected locks released after run")
	}
}

func TestServiceHonoursPerJobInterval(t *testing.T) {
	fast := &testJob{name: "fast"}
	slow := &testJob{name: "slow"}
	registry := NewRegistry()
	registry.Register(fast, 2*time.Minute)
	registry.Register(slow, time.Hour)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	service := newTestService(t, registry, map[string]*fakeLock{}, clock)
	ctx := context.Background()

	service.runDue(ctx)
	clock.now = clock.now.Add(time.Minute)
	service.runDue(ctx)
	clock.now = clock.now.Add(90 * time.Second)
	service.runDue(ctx)

	if fast.runs != 2 {
		t.Fatalf("expected fast job to run twice, ran %d", fast.runs)
	}
	if slow.runs != 1 {
		t.Fatalf("expected slow job to run once, ran %d", slow.runs)
	}
}

func TestServiceSkipsJobWhenLockHeldElsewhere(t *testing.T) {
	job := &testJob{name: "capture"}
	registry := NewRegistry()
	registry.Register(job, time.Minute)
	locks := map[string]*fakeLock{"capture": {blocked: true}}
	service := newTestService(t, registry, locks, &fakeClock{now: time.Now()})

	service.runDue(context.Background())

	if job.runs != 0 {
		t.Fatalf("expected job skipped, ran %d", job.runs)
	}
}

func TestNewServiceRequiresLocks(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: logger.New(logger.Options{ServiceName: "cron-test"})}); err == nil {
		t.Fatal("expected error without lock factory")
	}
}

func TestServiceBoundsRunByInterval(t *testing.T) {
	job := &testJob{name: "capture"}
	registry := NewRegistry()
	if err := registry.Register(job, time.Minute); err != nil {
		t.Fatalf("register: %v", err)
	}
	service := newTestService(t, registry, map[string]*fakeLock{}, &fakeClock{now: time.Now()})

	before := time.Now()
	service.runDue(context.Background())

	if job.deadline.IsZero() {
		t.Fatal("expected run context to carry a deadline")
	}
	if job.deadline.After(before.Add(time.Minute + time.Second)) {
		t.Fatalf("deadline %s exceeds the job interval", job.deadline)
	}
}

type panicJob struct{}

func (panicJob) Name() string { return "explode" }

func (panicJob) Run(context.Context) error { panic("nil campaign") }

func TestServiceRecoversPanickingJob(t *testing.T) {
	after := &testJob{name: "after"}
	registry := NewRegistry()
	if err := registry.Register(panicJob{}, time.Minute); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(after, time.Minute); err != nil {
		t.Fatalf("register: %v", err)
	}
	locks := map[string]*fakeLock{}
	service := newTestService(t, registry, locks, &fakeClock{now: time.Now()})

	service.runDue(context.Background())

	if after.runs != 1 {
		t.Fatalf("expected later job to run after a panic, ran %d", after.runs)
	}
	if locks["explode"].held {
		t.Fatal("expected lock released after panic")
	}
}
