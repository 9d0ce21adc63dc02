package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/trialhub/trialhub-backend/pkg/db"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
	"github.com/trialhub/trialhub-backend/pkg/pagination"
)

// PlatformDelta is a signed change to the platform wallet counters.
type PlatformDelta struct {
	Escrow      decimal.Decimal
	Commission  decimal.Decimal
	Received    decimal.Decimal
	Transferred decimal.Decimal
	Commissions decimal.Decimal
}

func (d PlatformDelta) isZero() bool {
	return d.Escrow.IsZero() &&
		d.Commission.IsZero() &&
		d.Received.IsZero() &&
		d.Transferred.IsZero() &&
		d.Commissions.IsZero()
}

// CampaignReleaseTypes are the transactions that move money out of a campaign's escrow.
var CampaignReleaseTypes = []enums.TransactionType{
	enums.TransactionTestReward,
	enums.TransactionCommission,
	enums.TransactionCampaignRefund,
	enums.TransactionCancellationCommission,
	enums.TransactionProcessorCoverage,
}

// Service posts ledger transactions and applies their balance effects atomically with the caller's transaction.
type Service interface {
	Post(ctx context.Context, tx *gorm.DB, input PostInput) (*models.Transaction, error)
	Settle(ctx context.Context, tx *gorm.DB, input SettleInput) (bool, error)
	ReverseTransfer(ctx context.Context, tx *gorm.DB, transferRef string, totalReversed decimal.Decimal) (*models.Transaction, error)
	Find(ctx context.Context, tx *gorm.DB, lookup Lookup) (*models.Transaction, error)
	Sum(ctx context.Context, tx *gorm.DB, lookup Lookup, types ...enums.TransactionType) (decimal.Decimal, error)
	CampaignReleased(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) (decimal.Decimal, error)
	PlatformWallet(ctx context.Context) (*models.PlatformWallet, error)
	Wallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	History(ctx context.Context, userID uuid.UUID, params pagination.Params) (*HistoryPage, error)
}

// HistoryPage is one page of a user's wallet transactions. Cursor is empty on the last page.
type HistoryPage struct {
	Items  []models.Transaction
	Cursor string
}

// PostInput describes one transaction row and the platform movement it justifies.
// When UserID is set the wallet delta is derived from the transaction type.
type PostInput struct {
	Type        enums.TransactionType
	Status      enums.TransactionStatus
	Amount      decimal.Decimal
	UserID      *uuid.UUID
	CampaignID  *uuid.UUID
	SessionID   *uuid.UUID
	UGCID       *uuid.UUID
	HoldRef     *string
	TransferRef *string
	RefundRef   *string
	Description string
	Metadata    map[string]any
	Platform    PlatformDelta
}

// SettleInput finalizes a PENDING transaction.
type SettleInput struct {
	TransactionID uuid.UUID
	Status        enums.TransactionStatus
	Platform      PlatformDelta
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) Post(ctx context.Context, tx *gorm.DB, input PostInput) (*models.Transaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("ledger post requires a transaction")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid transaction type %q", input.Type)
	}
	if !input.Status.IsValid() {
		return nil, fmt.Errorf("invalid transaction status %q", input.Status)
	}
	if input.Amount.Sign() <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction amount must be positive")
	}
	walletDelta := input.Amount.Mul(decimal.NewFromInt(int64(input.Type.WalletSign())))
	if input.UserID == nil && !walletDelta.IsZero() {
		return nil, fmt.Errorf("transaction type %s requires a wallet owner", input.Type)
	}

	repo := s.repo.WithTx(tx)
	now := s.now().UTC()

	if err := s.applyPlatform(ctx, repo, input.Platform); err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		ID:          uuid.New(),
		Type:        input.Type,
		Status:      input.Status,
		Amount:      input.Amount,
		HoldRef:     input.HoldRef,
		TransferRef: input.TransferRef,
		RefundRef:   input.RefundRef,
		CampaignID:  input.CampaignID,
		SessionID:   input.SessionID,
		UGCID:       input.UGCID,
		Description: input.Description,
	}
	if input.Status == enums.TransactionStatusCompleted {
		txn.CompletedAt = &now
	}
	if len(input.Metadata) > 0 {
		raw, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal transaction metadata: %w", err)
		}
		txn.Metadata = raw
	}

	if input.UserID != nil {
		wallet, err := repo.LockWallet(ctx, *input.UserID)
		if err != nil {
			return nil, fmt.Errorf("lock wallet: %w", err)
		}
		if !walletDelta.IsZero() {
			wallet.Balance = wallet.Balance.Add(walletDelta)
			wallet.TotalEarned = wallet.TotalEarned.Add(walletDelta)
			if wallet.Balance.IsNegative() || wallet.TotalEarned.IsNegative() {
				return nil, pkgerrors.New(pkgerrors.CodeConflict, "wallet balance cannot go negative").
					WithDetails(map[string]any{"user_id": input.UserID.String()})
			}
			if err := repo.SaveWallet(ctx, wallet); err != nil {
				return nil, fmt.Errorf("save wallet: %w", err)
			}
		}
		walletID := wallet.ID
		txn.WalletID = &walletID
	}

	if err := repo.CreateTransaction(ctx, txn); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "transaction already recorded")
		}
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	return txn, nil
}

// Settle transitions a PENDING transaction to a terminal status and applies the platform delta.
// It returns false when the transaction was already settled, leaving balances untouched.
func (s *service) Settle(ctx context.Context, tx *gorm.DB, input SettleInput) (bool, error) {
	if tx == nil {
		return false, fmt.Errorf("ledger settle requires a transaction")
	}
	if input.Status != enums.TransactionStatusCompleted && input.Status != enums.TransactionStatusCancelled {
		return false, fmt.Errorf("cannot settle transaction to %q", input.Status)
	}
	repo := s.repo.WithTx(tx)
	moved, err := repo.TransitionStatus(ctx, input.TransactionID, enums.TransactionStatusPending, input.Status, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("transition transaction: %w", err)
	}
	if !moved {
		return false, nil
	}
	if err := s.applyPlatform(ctx, repo, input.Platform); err != nil {
		return false, err
	}
	return true, nil
}

var rewardTypes = []enums.TransactionType{enums.TransactionTestReward, enums.TransactionUGCReward}

// ReverseTransfer debits the wallet a reward transfer credited and returns the money to escrow.
// totalReversed is the processor's cumulative reversed amount; only the part not booked yet is posted.
// It returns nil when the transfer is unknown or nothing new was reversed.
func (s *service) ReverseTransfer(ctx context.Context, tx *gorm.DB, transferRef string, totalReversed decimal.Decimal) (*models.Transaction, error) {
	if transferRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer reference is required")
	}
	repo := s.repo.WithTx(tx)
	var original *models.Transaction
	for _, typ := range rewardTypes {
		txn, err := repo.FindTransaction(ctx, Lookup{Type: typ, TransferRef: transferRef})
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find transfer: %w", err)
		}
		original = txn
		break
	}
	if original == nil || original.WalletID == nil {
		return nil, nil
	}

	reversed, err := repo.SumAmounts(ctx, Lookup{TransferRef: transferRef}, []enums.TransactionType{enums.TransactionTransferReversal})
	if err != nil {
		return nil, fmt.Errorf("sum reversals: %w", err)
	}
	if totalReversed.GreaterThan(original.Amount) {
		totalReversed = original.Amount
	}
	amount := totalReversed.Sub(reversed)
	if amount.Sign() <= 0 {
		return nil, nil
	}

	wallet, err := repo.FindWalletByID(ctx, *original.WalletID)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	userID := wallet.UserID
	return s.Post(ctx, tx, PostInput{
		Type:        enums.TransactionTransferReversal,
		Status:      enums.TransactionStatusCompleted,
		Amount:      amount,
		UserID:      &userID,
		CampaignID:  original.CampaignID,
		SessionID:   original.SessionID,
		UGCID:       original.UGCID,
		TransferRef: &transferRef,
		Description: "transfer reversed by processor",
		Metadata:    map[string]any{"reversed_transaction_id": original.ID.String()},
		Platform: PlatformDelta{
			Escrow:      amount,
			Transferred: amount.Neg(),
		},
	})
}

func (s *service) applyPlatform(ctx context.Context, repo Repository, delta PlatformDelta) error {
	if delta.isZero() {
		return nil
	}
	wallet, err := repo.LockPlatformWallet(ctx)
	if err != nil {
		return fmt.Errorf("lock platform wallet: %w", err)
	}
	wallet.EscrowBalance = wallet.EscrowBalance.Add(delta.Escrow)
	wallet.CommissionBalance = wallet.CommissionBalance.Add(delta.Commission)
	wallet.TotalReceived = wallet.TotalReceived.Add(delta.Received)
	wallet.TotalTransferred = wallet.TotalTransferred.Add(delta.Transferred)
	wallet.TotalCommissions = wallet.TotalCommissions.Add(delta.Commissions)

	if wallet.EscrowBalance.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeConflict, "insufficient platform escrow balance").
			WithReason(pkgerrors.ReasonInsufficientEscrow)
	}
	if wallet.CommissionBalance.IsNegative() ||
		wallet.TotalReceived.IsNegative() ||
		wallet.TotalTransferred.IsNegative() ||
		wallet.TotalCommissions.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeConflict, "platform wallet counters cannot go negative")
	}
	if err := repo.SavePlatformWallet(ctx, wallet); err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "platform wallet changed, retry the operation").
				WithReason(pkgerrors.ReasonConcurrentUpdate).
				WithRetryable(true)
		}
		return fmt.Errorf("save platform wallet: %w", err)
	}
	return nil
}

func (s *service) Find(ctx context.Context, tx *gorm.DB, lookup Lookup) (*models.Transaction, error) {
	txn, err := s.repo.WithTx(tx).FindTransaction(ctx, lookup)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return txn, err
}

func (s *service) Sum(ctx context.Context, tx *gorm.DB, lookup Lookup, types ...enums.TransactionType) (decimal.Decimal, error) {
	return s.repo.WithTx(tx).SumAmounts(ctx, lookup, types)
}

// CampaignReleased is what has left a campaign's escrow so far, net of processor transfer reversals
// that put money back. Cancelled transactions never moved money and are ignored.
func (s *service) CampaignReleased(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) (decimal.Decimal, error) {
	repo := s.repo.WithTx(tx)
	lookup := Lookup{CampaignID: campaignID, ExcludeStatus: enums.TransactionStatusCancelled}
	released, err := repo.SumAmounts(ctx, lookup, CampaignReleaseTypes)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum released escrow: %w", err)
	}
	reversed, err := repo.SumAmounts(ctx, lookup, []enums.TransactionType{enums.TransactionTransferReversal})
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum transfer reversals: %w", err)
	}
	return released.Sub(reversed), nil
}

func (s *service) PlatformWallet(ctx context.Context) (*models.PlatformWallet, error) {
	return s.repo.GetPlatformWallet(ctx)
}

// Wallet returns the user's wallet, or an empty one when nothing has been credited yet.
func (s *service) Wallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	wallet, err := s.repo.FindWalletByUserID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Wallet{UserID: userID}, nil
	}
	return wallet, err
}

func (s *service) History(ctx context.Context, userID uuid.UUID, params pagination.Params) (*HistoryPage, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	wallet, err := s.repo.FindWalletByUserID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &HistoryPage{Items: []models.Transaction{}}, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.repo.ListByWallet(ctx, wallet.ID, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet transactions")
	}

	items, next := pagination.Trim(rows, params.Limit, func(tx models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: tx.CreatedAt, ID: tx.ID}
	})
	return &HistoryPage{Items: items, Cursor: next}, nil
}
