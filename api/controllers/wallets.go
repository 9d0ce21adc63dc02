package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trialhub/trialhub-backend/api/middleware"
	"github.com/trialhub/trialhub-backend/api/responses"
	"github.com/trialhub/trialhub-backend/api/validators"
	"github.com/trialhub/trialhub-backend/internal/ledger"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/logger"
	"github.com/trialhub/trialhub-backend/pkg/pagination"
)

type walletReader interface {
	PlatformWallet(ctx context.Context) (*models.PlatformWallet, error)
	Wallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	History(ctx context.Context, userID uuid.UUID, params pagination.Params) (*ledger.HistoryPage, error)
}

type platformWalletResponse struct {
	EscrowBalance     decimal.Decimal `json:"escrow_balance"`
	CommissionBalance decimal.Decimal `json:"commission_balance"`
	TotalReceived     decimal.Decimal `json:"total_received"`
	TotalTransferred  decimal.Decimal `json:"total_transferred"`
	TotalCommissions  decimal.Decimal `json:"total_commissions"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type walletResponse struct {
	UserID         uuid.UUID       `json:"user_id"`
	Balance        decimal.Decimal `json:"balance"`
	PendingBalance decimal.Decimal `json:"pending_balance"`
	TotalEarned    decimal.Decimal `json:"total_earned"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
}

type transactionResponse struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	CampaignID  *uuid.UUID      `json:"campaign_id,omitempty"`
	SessionID   *uuid.UUID      `json:"session_id,omitempty"`
	UGCID       *uuid.UUID      `json:"ugc_id,omitempty"`
	Description string          `json:"description"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type transactionPage struct {
	Transactions []transactionResponse `json:"transactions"`
	Cursor       string                `json:"cursor,omitempty"`
}

// PlatformWallet exposes the platform escrow and commission balances to admins.
func PlatformWallet(svc walletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wallet, err := svc.PlatformWallet(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, platformWalletResponse{
			EscrowBalance:     wallet.EscrowBalance,
			CommissionBalance: wallet.CommissionBalance,
			TotalReceived:     wallet.TotalReceived,
			TotalTransferred:  wallet.TotalTransferred,
			TotalCommissions:  wallet.TotalCommissions,
			UpdatedAt:         wallet.UpdatedAt,
		})
	}
}

func MyWallet(svc walletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wallet, err := svc.Wallet(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, walletResponse{
			UserID:         wallet.UserID,
			Balance:        wallet.Balance,
			PendingBalance: wallet.PendingBalance,
			TotalEarned:    wallet.TotalEarned,
			TotalWithdrawn: wallet.TotalWithdrawn,
		})
	}
}

// MyTransactions lists the caller's wallet history, newest first, one cursor page at a time.
func MyTransactions(svc walletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := validators.ParsePageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.History(r.Context(), middleware.UserIDFromContext(r.Context()), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]transactionResponse, 0, len(page.Items))
		for _, row := range page.Items {
			out = append(out, transactionResponse{
				ID:          row.ID,
				Type:        string(row.Type),
				Status:      string(row.Status),
				Amount:      row.Amount,
				CampaignID:  row.CampaignID,
				SessionID:   row.SessionID,
				UGCID:       row.UGCID,
				Description: row.Description,
				CompletedAt: row.CompletedAt,
				CreatedAt:   row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, transactionPage{Transactions: out, Cursor: page.Cursor})
	}
}
