package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/trialhub/trialhub-backend/api/middleware"
	"github.com/trialhub/trialhub-backend/api/responses"
	"github.com/trialhub/trialhub-backend/api/validators"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/logger"
)

type payoutAccounts interface {
	Link(ctx context.Context, userID uuid.UUID, accountRef string) (*models.PayoutAccount, error)
	Refresh(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error)
}

type linkPayoutRequest struct {
	AccountRef string `json:"account_ref" validate:"required,max=255"`
}

type payoutAccountResponse struct {
	AccountRef      string `json:"account_ref"`
	PayoutsEnabled  bool   `json:"payouts_enabled"`
	ChargesEnabled  bool   `json:"charges_enabled"`
	DetailsComplete bool   `json:"details_complete"`
}

func toPayoutAccountResponse(a *models.PayoutAccount) payoutAccountResponse {
	return payoutAccountResponse{
		AccountRef:      a.AccountRef,
		PayoutsEnabled:  a.PayoutsEnabled,
		ChargesEnabled:  a.ChargesEnabled,
		DetailsComplete: a.DetailsComplete,
	}
}

// LinkPayoutAccount attaches the caller's connected account after onboarding.
func LinkPayoutAccount(svc payoutAccounts, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req linkPayoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		account, err := svc.Link(r.Context(), middleware.UserIDFromContext(r.Context()), strings.TrimSpace(req.AccountRef))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPayoutAccountResponse(account))
	}
}

// PayoutAccountStatus re-reads the connected account flags from the processor.
func PayoutAccountStatus(svc payoutAccounts, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := svc.Refresh(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPayoutAccountResponse(account))
	}
}
