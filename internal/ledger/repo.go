package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	"github.com/trialhub/trialhub-backend/pkg/pagination"
)

// ErrConcurrentUpdate is returned when the platform wallet version moved underneath a write.
var ErrConcurrentUpdate = errors.New("platform wallet modified concurrently")

// Lookup narrows a transaction search. Zero fields are ignored.
type Lookup struct {
	Type          enums.TransactionType
	Status        enums.TransactionStatus
	ExcludeStatus enums.TransactionStatus
	HoldRef       string
	TransferRef   string
	RefundRef     string
	CampaignID    uuid.UUID
	SessionID     uuid.UUID
	UGCID         uuid.UUID
}

// Repository manages persistence for wallets and the transaction log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockPlatformWallet(ctx context.Context) (*models.PlatformWallet, error)
	GetPlatformWallet(ctx context.Context) (*models.PlatformWallet, error)
	SavePlatformWallet(ctx context.Context, wallet *models.PlatformWallet) error
	LockWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	FindWalletByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	FindWalletByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	SaveWallet(ctx context.Context, wallet *models.Wallet) error
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	FindTransaction(ctx context.Context, lookup Lookup) (*models.Transaction, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, at time.Time) (bool, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Transaction, error)
	SumAmounts(ctx context.Context, lookup Lookup, types []enums.TransactionType) (decimal.Decimal, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LockPlatformWallet(ctx context.Context) (*models.PlatformWallet, error) {
	wallet, err := r.takePlatformWallet(ctx, true)
	if err == nil || !errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet, err
	}
	seed := models.PlatformWallet{ID: models.PlatformWalletID}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error; err != nil {
		return nil, err
	}
	return r.takePlatformWallet(ctx, true)
}

func (r *repository) GetPlatformWallet(ctx context.Context) (*models.PlatformWallet, error) {
	wallet, err := r.takePlatformWallet(ctx, false)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.PlatformWallet{ID: models.PlatformWalletID}, nil
	}
	return wallet, err
}

func (r *repository) takePlatformWallet(ctx context.Context, lock bool) (*models.PlatformWallet, error) {
	query := r.db.WithContext(ctx)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var wallet models.PlatformWallet
	if err := query.Where("id = ?", models.PlatformWalletID).Take(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

// SavePlatformWallet writes balances guarded by the row version and bumps it.
func (r *repository) SavePlatformWallet(ctx context.Context, wallet *models.PlatformWallet) error {
	res := r.db.WithContext(ctx).
		Model(&models.PlatformWallet{}).
		Where("id = ? AND version = ?", wallet.ID, wallet.Version).
		Updates(map[string]any{
			"escrow_balance":     wallet.EscrowBalance,
			"commission_balance": wallet.CommissionBalance,
			"total_received":     wallet.TotalReceived,
			"total_transferred":  wallet.TotalTransferred,
			"total_commissions":  wallet.TotalCommissions,
			"version":            wallet.Version + 1,
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	wallet.Version++
	return nil
}

// LockWallet returns the user's wallet row locked for update, creating it on first use.
func (r *repository) LockWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	wallet, err := r.takeWallet(ctx, userID, true)
	if err == nil || !errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet, err
	}
	seed := models.Wallet{ID: uuid.New(), UserID: userID}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&seed).Error; err != nil {
		return nil, err
	}
	return r.takeWallet(ctx, userID, true)
}

func (r *repository) FindWalletByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return r.takeWallet(ctx, userID, false)
}

func (r *repository) FindWalletByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) takeWallet(ctx context.Context, userID uuid.UUID, lock bool) (*models.Wallet, error) {
	query := r.db.WithContext(ctx)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var wallet models.Wallet
	if err := query.Where("user_id = ?", userID).Take(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) SaveWallet(ctx context.Context, wallet *models.Wallet) error {
	return r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ?", wallet.ID).
		Updates(map[string]any{
			"balance":         wallet.Balance,
			"pending_balance": wallet.PendingBalance,
			"total_earned":    wallet.TotalEarned,
			"total_withdrawn": wallet.TotalWithdrawn,
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindTransaction(ctx context.Context, lookup Lookup) (*models.Transaction, error) {
	var txn models.Transaction
	if err := applyLookup(r.db.WithContext(ctx), lookup).
		Order("created_at DESC").
		Take(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// TransitionStatus moves a transaction between statuses only while it is still in the expected pre-state.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": at,
	}
	if to == enums.TransactionStatusCompleted {
		updates["completed_at"] = at
	}
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListByWallet returns wallet transactions newest first, strictly after the cursor when one is given.
func (r *repository) ListByWallet(ctx context.Context, walletID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Transaction, error) {
	var txns []models.Transaction
	query := r.db.WithContext(ctx).Where("wallet_id = ?", walletID)
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	query = query.Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// SumAmounts adds up matching transaction amounts in Go to keep decimal precision.
func (r *repository) SumAmounts(ctx context.Context, lookup Lookup, types []enums.TransactionType) (decimal.Decimal, error) {
	query := applyLookup(r.db.WithContext(ctx).Model(&models.Transaction{}), lookup)
	if len(types) > 0 {
		query = query.Where("type IN ?", types)
	}
	var amounts []decimal.Decimal
	if err := query.Pluck("amount", &amounts).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(amount)
	}
	return total, nil
}

func applyLookup(query *gorm.DB, lookup Lookup) *gorm.DB {
	if lookup.Type != "" {
		query = query.Where("type = ?", lookup.Type)
	}
	if lookup.Status != "" {
		query = query.Where("status = ?", lookup.Status)
	}
	if lookup.ExcludeStatus != "" {
		query = query.Where("status <> ?", lookup.ExcludeStatus)
	}
	if lookup.HoldRef != "" {
		query = query.Where("hold_ref = ?", lookup.HoldRef)
	}
	if lookup.TransferRef != "" {
		query = query.Where("transfer_ref = ?", lookup.TransferRef)
	}
	if lookup.RefundRef != "" {
		query = query.Where("refund_ref = ?", lookup.RefundRef)
	}
	if lookup.CampaignID != uuid.Nil {
		query = query.Where("campaign_id = ?", lookup.CampaignID)
	}
	if lookup.SessionID != uuid.Nil {
		query = query.Where("session_id = ?", lookup.SessionID)
	}
	if lookup.UGCID != uuid.Nil {
		query = query.Where("ugc_id = ?", lookup.UGCID)
	}
	return query
}
