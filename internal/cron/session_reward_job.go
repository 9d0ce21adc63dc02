package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/trialhub/trialhub-backend/internal/rewards"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
	"github.com/trialhub/trialhub-backend/pkg/logger"
)

type rewardSweeper interface {
	ListPending(ctx context.Context, limit int) ([]uuid.UUID, error)
	ProcessCompletedSession(ctx context.Context, sessionID uuid.UUID) (*rewards.Result, error)
}

type SessionRewardJobParams struct {
	Logger    *logger.Logger
	Rewards   rewardSweeper
	BatchSize int
}

// NewSessionRewardJob pays testers for completed sessions on captured campaigns.
func NewSessionRewardJob(params SessionRewardJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Rewards == nil {
		return nil, fmt.Errorf("reward service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &sessionRewardJob{logg: params.Logger, rewards: params.Rewards, batch: batch}, nil
}

type sessionRewardJob struct {
	logg    *logger.Logger
	rewards rewardSweeper
	batch   int
}

func (j *sessionRewardJob) Name() string { return "session_reward" }

func (j *sessionRewardJob) Run(ctx context.Context) error {
	ids, err := j.rewards.ListPending(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list unpaid sessions: %w", err)
	}
	var errs error
	paid, waiting := 0, 0
	for _, id := range ids {
		_, err := j.rewards.ProcessCompletedSession(ctx, id)
		if err == nil {
			paid++
			continue
		}
		errCtx := j.logg.WithSessionID(ctx, id.String())
		// The tester has not finished payout onboarding; the session stays pending for a later sweep.
		if awaitingPayoutAccount(err) {
			waiting++
			j.logg.Warn(j.logg.WithField(errCtx, "reason", string(pkgerrors.As(err).Reason())), "reward deferred until payout account is ready")
			continue
		}
		errCtx = j.logg.WithField(errCtx, "retryable", pkgerrors.IsRetryable(err))
		j.logg.Error(errCtx, "reward payment failed", err)
		errs = multierr.Append(errs, fmt.Errorf("reward %s: %w", id, err))
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(ids),
		"paid":       paid,
		"waiting":    waiting,
	}), "session reward sweep complete")
	return errs
}

func awaitingPayoutAccount(err error) bool {
	return pkgerrors.HasReason(err, pkgerrors.ReasonPayoutAccountMissing) ||
		pkgerrors.HasReason(err, pkgerrors.ReasonPayoutAccountUnverified)
}
