package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trialhub/trialhub-backend/pkg/config"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	"github.com/trialhub/trialhub-backend/pkg/logger"
	"github.com/trialhub/trialhub-backend/pkg/outbox"
	"github.com/trialhub/trialhub-backend/pkg/outbox/registry"
)

const (
	auditTopic        = "audit-topic"
	notificationTopic = "notification-topic"
	domainTopic       = "domain-topic"
)

func TestDrainContinuesAfterTransientFailure(t *testing.T) {
	first := auditRow(t, 0)
	second := auditRow(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	topics := &fakeTopics{errs: []error{errors.New("transient"), nil}}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, dlq, topics)

	handled, err := service.drain(context.Background())
	if err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if handled != 2 {
		t.Fatalf("expected 2 rows handled, got %d", handled)
	}
	if len(repo.failed) != 1 || repo.failed[0] != first.ID {
		t.Fatalf("expected first row marked failed, got %v", repo.failed)
	}
	if !repo.retryAt[0].After(time.Now().UTC()) {
		t.Fatalf("expected retry scheduled in the future, got %s", repo.retryAt[0])
	}
	if len(repo.published) != 1 || repo.published[0] != second.ID {
		t.Fatalf("expected second row published, got %v", repo.published)
	}
	if len(dlq.entries) != 0 {
		t.Fatalf("transient failure must not dead-letter")
	}
	if topics.seen[0] != auditTopic {
		t.Fatalf("expected audit topic, got %s", topics.seen[0])
	}
}

func TestDrainDeadLettersAtMaxAttempts(t *testing.T) {
	row := auditRow(t, 2)
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, dlq, &fakeTopics{errs: []error{errors.New("still down")}})

	if _, err := service.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected one dlq entry, got %d", len(dlq.entries))
	}
	if dlq.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected reason %s", dlq.entries[0].ErrorReason)
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != row.ID {
		t.Fatalf("expected row parked, got %v", repo.terminal)
	}
}

func TestDrainDeadLettersUndecodableRows(t *testing.T) {
	row := auditRow(t, 0)
	row.AggregateID = uuid.Nil
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	dlq := &fakeDLQRepo{}
	topics := &fakeTopics{}
	service := newTestService(t, repo, dlq, topics)

	if _, err := service.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(dlq.entries) != 1 || dlq.entries[0].ErrorReason != enums.OutboxDLQReasonInvalidPayload {
		t.Fatalf("expected invalid payload dlq entry, got %+v", dlq.entries)
	}
	if len(topics.seen) != 0 {
		t.Fatalf("undecodable row must not be published")
	}
}

func TestDrainDeadLettersMissingPublisher(t *testing.T) {
	row := auditRow(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, dlq, &fakeTopics{})
	service.topics = func(string) topicPublisher { return nil }

	if _, err := service.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(dlq.entries) != 1 || dlq.entries[0].ErrorReason != enums.OutboxDLQReasonTopicUnconfigured {
		t.Fatalf("expected topic_unconfigured dlq entry, got %+v", dlq.entries)
	}
}

func TestNewServiceDefaults(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakeDLQRepo{}, &fakeTopics{})
	if service.batchSize != defaultBatchSize || service.poll != defaultPollInterval {
		t.Fatalf("unexpected defaults batch=%d poll=%s", service.batchSize, service.poll)
	}
	if service.maxAttempts != 3 {
		t.Fatalf("expected configured max attempts, got %d", service.maxAttempts)
	}
}

func newTestService(t *testing.T, repo *fakeRepo, dlq *fakeDLQRepo, topics *fakeTopics) *Service {
	t.Helper()
	eventRegistry, err := registry.NewEventRegistry(config.PubSubConfig{
		AuditTopic:        auditTopic,
		NotificationTopic: notificationTopic,
		DomainTopic:       domainTopic,
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	service, err := NewService(ServiceParams{
		Outbox:     config.OutboxConfig{MaxAttempts: 3},
		Logger:     logger.New(logger.Options{ServiceName: "outbox-publisher-test"}),
		DB:         &fakeDB{},
		Repository: repo,
		DLQ:        dlq,
		Registry:   eventRegistry,
		Topics:     topics.publisher,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func auditRow(tb testing.TB, attempts int) models.OutboxEvent {
	tb.Helper()
	id := uuid.New()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    id.String(),
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{"action":"campaign.payment_captured","outcome":"success","actor_role":"system"}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     enums.EventAuditRecorded,
		AggregateType: enums.AggregateCampaign,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	retryAt   []time.Time
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int, time.Time) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error, retryAt time.Time) error {
	f.failed = append(f.failed, id)
	f.retryAt = append(f.retryAt, retryAt)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error { return nil }

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakeTopics struct {
	errs []error
	seen []string
}

func (f *fakeTopics) publisher(topic string) topicPublisher {
	return topicFunc(func(context.Context, *gcppubsub.Message) (string, error) {
		f.seen = append(f.seen, topic)
		if len(f.errs) == 0 {
			return "msg-id", nil
		}
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "msg-id", err
	})
}

type topicFunc func(context.Context, *gcppubsub.Message) (string, error)

func (fn topicFunc) Publish(ctx context.Context, msg *gcppubsub.Message) (string, error) {
	return fn(ctx, msg)
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
