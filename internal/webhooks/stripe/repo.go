package stripewebhook

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trialhub/trialhub-backend/pkg/db/models"
)

// Repository records processor event ids whose effects have been committed.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	MarkProcessed(ctx context.Context, eventID, eventType string, at time.Time) (bool, error)
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

// MarkProcessed inserts the event id and reports whether this call was the first to do so.
func (r *repository) MarkProcessed(ctx context.Context, eventID, eventType string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&models.ProcessedWebhookEvent{
			EventID:     eventID,
			EventType:   eventType,
			ProcessedAt: at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
