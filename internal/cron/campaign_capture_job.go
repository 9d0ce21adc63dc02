package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
	"github.com/trialhub/trialhub-backend/pkg/logger"
)

const defaultSweepBatch = 100

type campaignSweeper interface {
	ListCapturable(ctx context.Context, limit int) ([]uuid.UUID, error)
	CapturePayment(ctx context.Context, campaignID uuid.UUID) (bool, error)
	ListStaleHolds(ctx context.Context, age time.Duration, limit int) ([]uuid.UUID, error)
	ExpireStaleHold(ctx context.Context, campaignID uuid.UUID) (bool, error)
}

type CampaignCaptureJobParams struct {
	Logger    *logger.Logger
	Campaigns campaignSweeper
	BatchSize int
}

// NewCampaignCaptureJob captures seller holds once the free-cancellation delay has passed.
func NewCampaignCaptureJob(params CampaignCaptureJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Campaigns == nil {
		return nil, fmt.Errorf("campaign service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &campaignCaptureJob{logg: params.Logger, campaigns: params.Campaigns, batch: batch}, nil
}

type campaignCaptureJob struct {
	logg      *logger.Logger
	campaigns campaignSweeper
	batch     int
}

func (j *campaignCaptureJob) Name() string { return "campaign_capture" }

func (j *campaignCaptureJob) Run(ctx context.Context) error {
	ids, err := j.campaigns.ListCapturable(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list capturable campaigns: %w", err)
	}
	var errs error
	captured := 0
	for _, id := range ids {
		ok, err := j.campaigns.CapturePayment(ctx, id)
		if err != nil {
			errCtx := j.logg.WithCampaignID(ctx, id.String())
			errCtx = j.logg.WithField(errCtx, "retryable", pkgerrors.IsRetryable(err))
			j.logg.Error(errCtx, "capture failed", err)
			errs = multierr.Append(errs, fmt.Errorf("capture %s: %w", id, err))
			continue
		}
		if ok {
			captured++
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(ids),
		"captured":   captured,
	}), "campaign capture sweep complete")
	return errs
}
