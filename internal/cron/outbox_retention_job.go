package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/trialhub/trialhub-backend/pkg/enums"
	"github.com/trialhub/trialhub-backend/pkg/logger"
)

const defaultOutboxRetention = 30 * 24 * time.Hour

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository outboxRetentionRepo
	// DeadLetters is optional; when set each run warns about rows dead-lettered since the previous run.
	DeadLetters deadLetterCounter
	Retention   time.Duration
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type deadLetterCounter interface {
	CountByReasonSince(ctx context.Context, since time.Time) (map[enums.OutboxDLQErrorReason]int64, error)
}

// NewOutboxRetentionJob prunes published outbox rows older than the retention window.
// Unpublished and dead-lettered rows are never touched.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	return &outboxRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		dlq:       params.DeadLetters,
		retention: retention,
		now:       time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	repo      outboxRetentionRepo
	dlq       deadLetterCounter
	retention time.Duration
	now       func() time.Time
	lastRun   time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox_retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.repo.DeletePublishedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"retention_h":  int(j.retention.Hours()),
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "outbox retention cleanup complete")
	return j.reportDeadLetters(ctx)
}

func (j *outboxRetentionJob) reportDeadLetters(ctx context.Context) error {
	if j.dlq == nil {
		return nil
	}
	now := j.now().UTC()
	since := j.lastRun
	if since.IsZero() {
		since = now.Add(-24 * time.Hour)
	}
	counts, err := j.dlq.CountByReasonSince(ctx, since)
	if err != nil {
		return fmt.Errorf("count dead letters: %w", err)
	}
	j.lastRun = now

	fields := map[string]any{"since": since}
	var total int64
	for reason, n := range counts {
		fields["dlq_"+string(reason)] = n
		total += n
	}
	if total > 0 {
		j.logg.Warn(j.logg.WithFields(ctx, fields), "outbox events dead-lettered; remediation required")
	}
	return nil
}
