package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trialhub/trialhub-backend/api/responses"
	"github.com/trialhub/trialhub-backend/api/validators"
	"github.com/trialhub/trialhub-backend/internal/rewards"
	"github.com/trialhub/trialhub-backend/pkg/logger"
)

type rewardProcessor interface {
	ProcessCompletedSession(ctx context.Context, sessionID uuid.UUID) (*rewards.Result, error)
}

type rewardResponse struct {
	SessionID     uuid.UUID       `json:"session_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Reward        decimal.Decimal `json:"reward"`
	Commission    decimal.Decimal `json:"commission"`
	Coverage      decimal.Decimal `json:"processor_coverage"`
	TransferRef   string          `json:"transfer_ref"`
	PaidAt        time.Time       `json:"paid_at"`
}

// ProcessSessionReward pays a completed session's tester out of campaign escrow ahead of the sweep. Admin only.
func ProcessSessionReward(svc rewardProcessor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := validators.PathUUID(r, "sessionId", "session id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ProcessCompletedSession(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rewardResponse{
			SessionID:     result.SessionID,
			TransactionID: result.TransactionID,
			Reward:        result.Reward,
			Commission:    result.Commission,
			Coverage:      result.Coverage,
			TransferRef:   result.TransferRef,
			PaidAt:        result.PaidAt,
		})
	}
}
