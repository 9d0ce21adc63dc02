package campaigns

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
)

// holdStatuses are the states in which an authorized, uncaptured hold may exist.
var holdStatuses = []enums.CampaignStatus{
	enums.CampaignStatusPendingPayment,
	enums.CampaignStatusPendingActivation,
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, campaign *models.Campaign) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	FindByHoldRefForUpdate(ctx context.Context, holdRef string) (*models.Campaign, error)
	UpdateFrom(ctx context.Context, id uuid.UUID, from enums.CampaignStatus, updates map[string]any) (bool, error)
	ListAuthorizedBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
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

func (r *repository) Create(ctx context.Context, campaign *models.Campaign) error {
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(campaign).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&campaign).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	var campaign models.Campaign
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&campaign).Error
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *repository) FindByHoldRefForUpdate(ctx context.Context, holdRef string) (*models.Campaign, error) {
	var campaign models.Campaign
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("hold_ref = ?", holdRef).
		First(&campaign).Error
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

// UpdateFrom applies updates only while the campaign is still in the expected status.
func (r *repository) UpdateFrom(ctx context.Context, id uuid.UUID, from enums.CampaignStatus, updates map[string]any) (bool, error) {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.Campaign{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// ListAuthorizedBefore returns campaigns holding an uncaptured authorization placed before the cutoff, oldest first.
func (r *repository) ListAuthorizedBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Campaign{}).
		Where("status IN ?", holdStatuses).
		Where("hold_ref IS NOT NULL AND payment_captured_at IS NULL").
		Where("payment_authorized_at <= ?", cutoff).
		Order("payment_authorized_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
