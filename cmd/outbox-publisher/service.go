package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trialhub/trialhub-backend/pkg/config"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	"github.com/trialhub/trialhub-backend/pkg/logger"
	"github.com/trialhub/trialhub-backend/pkg/metrics"
	"github.com/trialhub/trialhub-backend/pkg/outbox"
	"github.com/trialhub/trialhub-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int, now time.Time) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error, retryAt time.Time) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// topicPublisher sends one message and blocks until the broker acknowledges it.
type topicPublisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) (string, error)
}

type ServiceParams struct {
	Outbox     config.OutboxConfig
	Logger     *logger.Logger
	DB         dbClient
	PubSub     pubSubClient
	Repository outboxRepository
	DLQ        dlqRepository
	Registry   registryResolver
	Metrics    *metrics.OutboxMetrics
	// Topics overrides publisher lookup; nil uses the Pub/Sub client.
	Topics func(topic string) topicPublisher
}

// Service relays committed outbox rows (audit entries, notification requests, lifecycle events) to Pub/Sub.
type Service struct {
	logg        *logger.Logger
	db          dbClient
	pubsub      pubSubClient
	repo        outboxRepository
	dlq         dlqRepository
	registry    registryResolver
	metrics     *metrics.OutboxMetrics
	topics      func(topic string) topicPublisher
	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil && params.Topics == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	s := &Service{
		logg:        params.Logger,
		db:          params.DB,
		pubsub:      params.PubSub,
		repo:        params.Repository,
		dlq:         params.DLQ,
		registry:    params.Registry,
		metrics:     params.Metrics,
		topics:      params.Topics,
		batchSize:   params.Outbox.BatchSize,
		maxAttempts: params.Outbox.MaxAttempts,
		poll:        time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond,
	}
	if s.topics == nil {
		s.topics = s.pubsubTopic
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.poll <= 0 {
		s.poll = defaultPollInterval
	}
	return s, nil
}

// Run polls until the context is canceled. Errors back off exponentially; an empty batch waits one poll interval.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if s.pubsub != nil {
		if err := s.pubsub.Ping(ctx); err != nil {
			return fmt.Errorf("pubsub ping failed: %w", err)
		}
	}

	wait := s.poll
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		handled, err := s.drain(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait = min(wait*2, maxIdleBackoff)
		case handled > 0:
			wait = s.poll
			continue
		default:
			wait = s.poll
		}
		if err := sleep(ctx, wait+jitter()); err != nil {
			return err
		}
	}
}

type outcomeKind string

const (
	outcomePublished  outcomeKind = "published"
	outcomeRetry      outcomeKind = "retry"
	outcomeDeadLetter outcomeKind = "dead_letter"
)

type outcome struct {
	kind   outcomeKind
	reason enums.OutboxDLQErrorReason
	topic  string
	err    error
}

// drain locks one batch, delivers each row and records the outcomes in the same transaction.
func (s *Service) drain(ctx context.Context) (int, error) {
	handled := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts, time.Now().UTC())
		if err != nil {
			return err
		}
		for _, row := range rows {
			result := s.deliver(ctx, row)
			if err := s.settle(ctx, tx, row, result); err != nil {
				return err
			}
			s.metrics.Observe(string(row.EventType), string(result.kind))
			handled++
		}
		return nil
	})
	return handled, err
}

func (s *Service) deliver(ctx context.Context, row models.OutboxEvent) outcome {
	resolved, err := s.registry.Resolve(row)
	if err != nil {
		return outcome{kind: outcomeDeadLetter, reason: enums.OutboxDLQReasonInvalidPayload, err: err}
	}
	topic := resolved.Descriptor.Topic
	pub := s.topics(topic)
	if pub == nil {
		return outcome{
			kind:   outcomeDeadLetter,
			reason: enums.OutboxDLQReasonTopicUnconfigured,
			topic:  topic,
			err:    fmt.Errorf("publisher not configured for topic %s", topic),
		}
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	_, err = pub.Publish(publishCtx, &gcppubsub.Message{
		Data:        row.Payload,
		OrderingKey: row.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   row.AggregateID.String(),
			"created_at":     row.CreatedAt.Format(time.RFC3339Nano),
		},
	})
	if err == nil {
		return outcome{kind: outcomePublished, topic: topic}
	}
	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return outcome{kind: outcomeDeadLetter, reason: enums.OutboxDLQReasonNonRetryable, topic: topic, err: err}
	}
	if row.FinalAttempt(s.maxAttempts) {
		return outcome{
			kind:   outcomeDeadLetter,
			reason: enums.OutboxDLQReasonMaxAttempts,
			topic:  topic,
			err:    fmt.Errorf("max publish attempts reached: %w", err),
		}
	}
	return outcome{kind: outcomeRetry, topic: topic, err: err}
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, result outcome) error {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
		"topic":          result.topic,
	})

	switch result.kind {
	case outcomePublished:
		if err := s.repo.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		s.logg.Debug(logCtx, "outbox event published")
	case outcomeRetry:
		retryAt := time.Now().UTC().Add(outbox.RetryBackoff(row.AttemptCount + 1))
		s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{
			"error":    result.err.Error(),
			"retry_at": retryAt.Format(time.RFC3339),
		}), "outbox publish failed; will retry")
		if err := s.repo.MarkFailedTx(tx, row.ID, result.err, retryAt); err != nil {
			return fmt.Errorf("mark failure %s: %w", row.ID, err)
		}
	case outcomeDeadLetter:
		s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{
			"error":        result.err.Error(),
			"error_reason": result.reason,
		}), "outbox event dead-lettered")
		msg := result.err.Error()
		entry := models.OutboxDLQ{
			EventID:       row.ID,
			EventType:     row.EventType,
			AggregateType: row.AggregateType,
			AggregateID:   row.AggregateID,
			Payload:       row.Payload,
			ErrorReason:   result.reason,
			ErrorMessage:  &msg,
			AttemptCount:  row.AttemptCount,
			FailedAt:      time.Now().UTC(),
		}
		if err := s.dlq.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("insert dlq %s: %w", row.ID, err)
		}
		if err := s.repo.MarkTerminalTx(tx, row.ID, result.err, s.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", row.ID, err)
		}
	}
	return nil
}

func (s *Service) pubsubTopic(topic string) topicPublisher {
	p := s.pubsub.Publisher(topic)
	if p == nil {
		return nil
	}
	return gcpTopic{p}
}

type gcpTopic struct {
	p *gcppubsub.Publisher
}

// Publish blocks until the server acks. A failed ordered publish pauses its
// key, so the key is resumed for the retry on the next poll.
func (g gcpTopic) Publish(ctx context.Context, msg *gcppubsub.Message) (string, error) {
	id, err := g.p.Publish(ctx, msg).Get(ctx)
	if err != nil && msg.OrderingKey != "" {
		g.p.ResumePublish(msg.OrderingKey)
	}
	return id, err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func jitter() time.Duration {
	return time.Duration(rand.Int64N(int64(jitterWindow)))
}
