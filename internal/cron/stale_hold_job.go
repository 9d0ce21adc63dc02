package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/trialhub/trialhub-backend/pkg/logger"
)

// Card authorizations lapse after roughly seven days; expire them before the processor does.
const defaultStaleHoldAge = 5 * 24 * time.Hour

type StaleHoldJobParams struct {
	Logger    *logger.Logger
	Campaigns campaignSweeper
	Age       time.Duration
	BatchSize int
}

func NewStaleHoldJob(params StaleHoldJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Campaigns == nil {
		return nil, fmt.Errorf("campaign service required")
	}
	age := params.Age
	if age <= 0 {
		age = defaultStaleHoldAge
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &staleHoldJob{logg: params.Logger, campaigns: params.Campaigns, age: age, batch: batch}, nil
}

type staleHoldJob struct {
	logg      *logger.Logger
	campaigns campaignSweeper
	age       time.Duration
	batch     int
}

func (j *staleHoldJob) Name() string { return "stale_hold_expiry" }

func (j *staleHoldJob) Run(ctx context.Context) error {
	ids, err := j.campaigns.ListStaleHolds(ctx, j.age, j.batch)
	if err != nil {
		return fmt.Errorf("list stale holds: %w", err)
	}
	var errs error
	expired := 0
	for _, id := range ids {
		ok, err := j.campaigns.ExpireStaleHold(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", id, err))
			continue
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		j.logg.Warn(j.logg.WithField(ctx, "expired", expired), "stale campaign holds released")
	}
	return errs
}
