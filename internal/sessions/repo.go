// Package sessions reads test sessions owned by the campaign-matching service and records reward payouts on them.
package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.TestSession, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.TestSession, error)
	CountByStatus(ctx context.Context, campaignID uuid.UUID, statuses ...enums.SessionStatus) (int64, error)
	CountRewardPending(ctx context.Context, campaignID uuid.UUID) (int64, error)
	ListRewardPending(ctx context.Context, limit int) ([]uuid.UUID, error)
	MarkRewardPaid(ctx context.Context, id, transactionID uuid.UUID, paidAt time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.TestSession, error) {
	var session models.TestSession
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.TestSession, error) {
	var session models.TestSession
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repository) CountByStatus(ctx context.Context, campaignID uuid.UUID, statuses ...enums.SessionStatus) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.TestSession{}).Where("campaign_id = ?", campaignID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	err := query.Count(&count).Error
	return count, err
}

func (r *repository) rewardPending(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.TestSession{}).
		Where("status = ? AND reward_paid_at IS NULL", enums.SessionStatusCompleted)
}

// CountRewardPending counts completed sessions whose tester has not been paid yet.
func (r *repository) CountRewardPending(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	var count int64
	err := r.rewardPending(ctx).Where("campaign_id = ?", campaignID).Count(&count).Error
	return count, err
}

// ListRewardPending returns unpaid completed sessions with a reported price on captured campaigns,
// oldest completion first.
func (r *repository) ListRewardPending(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 50
	}
	captured := r.db.Model(&models.Campaign{}).Select("id").Where("payment_captured_at IS NOT NULL")
	var ids []uuid.UUID
	err := r.rewardPending(ctx).
		Where("product_price IS NOT NULL").
		Where("campaign_id IN (?)", captured).
		Order("completed_at ASC").
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// MarkRewardPaid stamps the payout once; it reports false when the session was already paid.
func (r *repository) MarkRewardPaid(ctx context.Context, id, transactionID uuid.UUID, paidAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.TestSession{}).
		Where("id = ? AND reward_paid_at IS NULL", id).
		Updates(map[string]any{
			"reward_paid_at":        paidAt,
			"reward_transaction_id": transactionID,
			"updated_at":            paidAt,
		})
	return res.RowsAffected == 1, res.Error
}
