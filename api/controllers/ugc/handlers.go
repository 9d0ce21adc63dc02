package ugc

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/trialhub/trialhub-backend/api/middleware"
	"github.com/trialhub/trialhub-backend/api/responses"
	"github.com/trialhub/trialhub-backend/api/validators"
	"github.com/trialhub/trialhub-backend/internal/activity"
	internalugc "github.com/trialhub/trialhub-backend/internal/ugc"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
	"github.com/trialhub/trialhub-backend/pkg/logger"
)

// Service is the content request surface the handlers drive.
type Service interface {
	Request(ctx context.Context, input internalugc.RequestInput) (*models.UGC, error)
	Get(ctx context.Context, ugcID uuid.UUID) (*models.UGC, error)
	Submit(ctx context.Context, input internalugc.SubmitInput) (*models.UGC, error)
	Validate(ctx context.Context, ugcID, sellerID uuid.UUID) (*models.UGC, error)
	Reject(ctx context.Context, ugcID, sellerID uuid.UUID, reason string) (*models.UGC, error)
	Decline(ctx context.Context, ugcID, testerID uuid.UUID) (*models.UGC, error)
	Cancel(ctx context.Context, ugcID, sellerID uuid.UUID) (*models.UGC, error)
	Dispute(ctx context.Context, ugcID uuid.UUID, actor activity.Actor, reason string) (*models.UGC, error)
	Resolve(ctx context.Context, input internalugc.ResolveInput) (*models.UGC, error)
}

// Request creates a content request on one of the seller's sessions. Paid types place a hold first.
func Request(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body requestBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ugcType, err := enums.ParseUGCType(strings.TrimSpace(body.Type))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid content type"))
			return
		}

		request, err := svc.Request(r.Context(), internalugc.RequestInput{
			SessionID:        body.SessionID,
			SellerID:         middleware.UserIDFromContext(r.Context()),
			Type:             ugcType,
			Description:      validators.SanitizeString(body.Description, 2000),
			CustomerRef:      strings.TrimSpace(body.CustomerRef),
			PaymentMethodRef: strings.TrimSpace(body.PaymentMethodRef),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toResponse(request))
	}
}

// Get returns a request to its seller, its tester or an admin.
func Get(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ugcID, err := parseUGCID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		request, err := svc.Get(r.Context(), ugcID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		role := middleware.RoleFromContext(r.Context())
		if role != enums.ActorRoleAdmin && request.SellerID != userID && request.TesterID != userID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "content request not found"))
			return
		}
		responses.WriteSuccess(w, toResponse(request))
	}
}

func Submit(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ugcID, err := parseUGCID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body submitBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		request, err := svc.Submit(r.Context(), internalugc.SubmitInput{
			UGCID:      ugcID,
			TesterID:   middleware.UserIDFromContext(r.Context()),
			ContentURL: strings.TrimSpace(body.ContentURL),
			MediaID:    body.MediaID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toResponse(request))
	}
}

// Validate approves the submission and pays the tester.
func Validate(svc Service, logg *logger.Logger) http.HandlerFunc {
	return byOwner(logg, func(ctx context.Context, ugcID, userID uuid.UUID) (*models.UGC, error) {
		return svc.Validate(ctx, ugcID, userID)
	})
}

func Decline(svc Service, logg *logger.Logger) http.HandlerFunc {
	return byOwner(logg, func(ctx context.Context, ugcID, userID uuid.UUID) (*models.UGC, error) {
		return svc.Decline(ctx, ugcID, userID)
	})
}

func Cancel(svc Service, logg *logger.Logger) http.HandlerFunc {
	return byOwner(logg, func(ctx context.Context, ugcID, userID uuid.UUID) (*models.UGC, error) {
		return svc.Cancel(ctx, ugcID, userID)
	})
}

func Reject(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ugcID, err := parseUGCID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body reasonBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		request, err := svc.Reject(r.Context(), ugcID, middleware.UserIDFromContext(r.Context()), validators.SanitizeString(body.Reason, 1000))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toResponse(request))
	}
}

// Dispute escalates a request to an admin. Either party may open it.
func Dispute(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ugcID, err := parseUGCID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body reasonBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor := activity.User(middleware.UserIDFromContext(r.Context()), middleware.RoleFromContext(r.Context()))
		request, err := svc.Dispute(r.Context(), ugcID, actor, validators.SanitizeString(body.Reason, 1000))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toResponse(request))
	}
}

func Resolve(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ugcID, err := parseUGCID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body resolveBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resolution, err := enums.ParseDisputeResolution(strings.TrimSpace(body.Resolution))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid resolution"))
			return
		}

		request, err := svc.Resolve(r.Context(), internalugc.ResolveInput{
			UGCID:         ugcID,
			AdminID:       middleware.UserIDFromContext(r.Context()),
			Resolution:    resolution,
			PartialAmount: body.PartialAmount,
			Notes:         validators.SanitizeString(body.Notes, 2000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toResponse(request))
	}
}

func byOwner(logg *logger.Logger, action func(ctx context.Context, ugcID, userID uuid.UUID) (*models.UGC, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ugcID, err := parseUGCID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		request, err := action(r.Context(), ugcID, middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toResponse(request))
	}
}

func parseUGCID(r *http.Request) (uuid.UUID, error) {
	return validators.PathUUID(r, "ugcId", "content request id")
}
