package ugc

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
	Create(ctx context.Context, request *models.UGC) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.UGC, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.UGC, error)
	FindByHoldRefForUpdate(ctx context.Context, holdRef string) (*models.UGC, error)
	UpdateFrom(ctx context.Context, id uuid.UUID, from enums.UGCStatus, updates map[string]any) (bool, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.UGC, error)
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

func (r *repository) Create(ctx context.Context, request *models.UGC) error {
	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.UGC, error) {
	var request models.UGC
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.UGC, error) {
	var request models.UGC
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&request).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) FindByHoldRefForUpdate(ctx context.Context, holdRef string) (*models.UGC, error) {
	var request models.UGC
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("hold_ref = ?", holdRef).
		First(&request).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// UpdateFrom applies updates only while the request is still in the expected status.
func (r *repository) UpdateFrom(ctx context.Context, id uuid.UUID, from enums.UGCStatus, updates map[string]any) (bool, error) {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.UGC{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.UGC, error) {
	var requests []models.UGC
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&requests).Error
	return requests, err
}
