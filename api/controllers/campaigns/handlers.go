package campaigns

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/trialhub/trialhub-backend/api/middleware"
	"github.com/trialhub/trialhub-backend/api/responses"
	"github.com/trialhub/trialhub-backend/api/validators"
	internalcampaigns "github.com/trialhub/trialhub-backend/internal/campaigns"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
	"github.com/trialhub/trialhub-backend/pkg/logger"
)

// Create stores a draft campaign for the authenticated seller.
func Create(svc internalcampaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "campaign service unavailable"))
			return
		}

		var req createRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		campaign, err := svc.CreateDraft(r.Context(), internalcampaigns.CreateInput{
			SellerID:      middleware.UserIDFromContext(r.Context()),
			Title:         validators.SanitizeString(req.Title, 200),
			TotalSlots:    req.TotalSlots,
			ExpectedPrice: req.ExpectedPrice,
			ShippingCost:  req.ShippingCost,
			Bonus:         req.Bonus,
			Quantity:      req.Quantity,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toCampaignResponse(campaign))
	}
}

func Get(svc internalcampaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID, err := parseCampaignID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		campaign, err := svc.Get(r.Context(), campaignID, middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toCampaignResponse(campaign))
	}
}

func Activate(svc internalcampaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID, err := parseCampaignID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		campaign, err := svc.Activate(r.Context(), campaignID, middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toCampaignResponse(campaign))
	}
}

// InitiatePayment places the authorization hold for the campaign's escrow.
func InitiatePayment(svc internalcampaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID, err := parseCampaignID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req paymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		campaign, err := svc.InitiatePayment(r.Context(), internalcampaigns.PaymentInput{
			CampaignID:       campaignID,
			SellerID:         middleware.UserIDFromContext(r.Context()),
			CustomerRef:      strings.TrimSpace(req.CustomerRef),
			PaymentMethodRef: strings.TrimSpace(req.PaymentMethodRef),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toCampaignResponse(campaign))
	}
}

func Cancel(svc internalcampaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID, err := parseCampaignID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req cancelRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		result, err := svc.Cancel(r.Context(), internalcampaigns.CancelInput{
			CampaignID: campaignID,
			SellerID:   middleware.UserIDFromContext(r.Context()),
			Reason:     validators.SanitizeString(req.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toCancelResponse(result))
	}
}

// CancellationPreview quotes the refund and fee a cancellation would produce right now.
func CancellationPreview(svc internalcampaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID, err := parseCampaignID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		impact, err := svc.PreviewCancellation(r.Context(), campaignID, middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toImpactResponse(impact))
	}
}

func parseCampaignID(r *http.Request) (uuid.UUID, error) {
	return validators.PathUUID(r, "campaignId", "campaign id")
}
