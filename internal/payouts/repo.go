package payouts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trialhub/trialhub-backend/pkg/db/models"
)

// Flags mirrors the processor's view of a connected account.
type Flags struct {
	PayoutsEnabled  bool
	ChargesEnabled  bool
	DetailsComplete bool
}

// Repository persists tester payout accounts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error)
	FindByAccountRef(ctx context.Context, accountRef string) (*models.PayoutAccount, error)
	Link(ctx context.Context, userID uuid.UUID, accountRef string) (*models.PayoutAccount, error)
	UpdateFlags(ctx context.Context, accountRef string, flags Flags) error
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

func (r *repository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error) {
	var acct models.PayoutAccount
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&acct).Error; err != nil {
		return nil, err
	}
	return &acct, nil
}

func (r *repository) FindByAccountRef(ctx context.Context, accountRef string) (*models.PayoutAccount, error) {
	var acct models.PayoutAccount
	if err := r.db.WithContext(ctx).Where("account_ref = ?", accountRef).First(&acct).Error; err != nil {
		return nil, err
	}
	return &acct, nil
}

// Link stores the connected account for the user, replacing a previous reference and resetting its flags.
func (r *repository) Link(ctx context.Context, userID uuid.UUID, accountRef string) (*models.PayoutAccount, error) {
	now := time.Now().UTC()
	acct := models.PayoutAccount{
		ID:         uuid.New(),
		UserID:     userID,
		AccountRef: accountRef,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"account_ref":      accountRef,
			"payouts_enabled":  false,
			"charges_enabled":  false,
			"details_complete": false,
			"updated_at":       now,
		}),
	}).Create(&acct).Error
	if err != nil {
		return nil, err
	}
	return r.FindByUserID(ctx, userID)
}

func (r *repository) UpdateFlags(ctx context.Context, accountRef string, flags Flags) error {
	res := r.db.WithContext(ctx).
		Model(&models.PayoutAccount{}).
		Where("account_ref = ?", accountRef).
		Updates(map[string]any{
			"payouts_enabled":  flags.PayoutsEnabled,
			"charges_enabled":  flags.ChargesEnabled,
			"details_complete": flags.DetailsComplete,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
