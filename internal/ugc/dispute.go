package ugc

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/trialhub/trialhub-backend/internal/activity"
	"github.com/trialhub/trialhub-backend/internal/escrow"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
)

// Dispute escalates a submission to the admins. Either party may open it.
func (s *Service) Dispute(ctx context.Context, ugcID uuid.UUID, actor activity.Actor, reason string) (*models.UGC, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a dispute reason is required")
	}
	if actor.ID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "dispute requires an authenticated user")
	}
	var request *models.UGC
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		request, err = s.lock(ctx, tx, ugcID)
		if err != nil {
			return err
		}
		var counterparty uuid.UUID
		switch {
		case actor.Role == enums.ActorRoleSeller && request.SellerID == *actor.ID:
			counterparty = request.TesterID
		case actor.Role == enums.ActorRoleTester && request.TesterID == *actor.ID:
			counterparty = request.SellerID
		default:
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the seller or tester on this request can open a dispute")
		}
		if request.Status != enums.UGCStatusSubmitted && request.Status != enums.UGCStatusRejected {
			return stateConflict(request, "only submitted or rejected content can be disputed")
		}
		details := map[string]any{"reason": reason}
		if err := s.transition(ctx, tx, request, enums.UGCStatusDisputed, map[string]any{
			"dispute_reason": reason,
			"disputed_by":    *actor.ID,
		}, transitionMeta{
			action:     "ugc.disputed",
			actor:      actor,
			details:    details,
			notify:     "ugc_disputed",
			recipients: []uuid.UUID{counterparty},
		}); err != nil {
			return err
		}
		request.DisputeReason = &reason
		return s.notifyAdmins(ctx, tx, request, details)
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// ResolveInput is an admin's ruling on a disputed request.
type ResolveInput struct {
	UGCID         uuid.UUID
	AdminID       uuid.UUID
	Resolution    enums.DisputeResolution
	PartialAmount decimal.Decimal
	Notes         string
}

func (s *Service) Resolve(ctx context.Context, input ResolveInput) (*models.UGC, error) {
	if !input.Resolution.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown dispute resolution")
	}
	request, err := s.Get(ctx, input.UGCID)
	if err != nil {
		return nil, err
	}
	if request.Status != enums.UGCStatusDisputed {
		return nil, stateConflict(request, "only disputed content can be resolved")
	}

	updates := map[string]any{
		"resolution":  input.Resolution,
		"resolved_by": input.AdminID,
		"resolved_at": s.now(),
	}
	if notes := strings.TrimSpace(input.Notes); notes != "" {
		updates["resolution_notes"] = notes
	}
	meta := transitionMeta{
		action:     "ugc.dispute_resolved",
		actor:      activity.User(input.AdminID, enums.ActorRoleAdmin),
		details:    map[string]any{"resolution": string(input.Resolution)},
		notify:     "ugc_dispute_resolved",
		recipients: []uuid.UUID{request.SellerID, request.TesterID},
	}

	switch input.Resolution {
	case enums.DisputeResolutionPayTester:
		updates["validated_at"] = s.now()
		return s.payOut(ctx, request, enums.UGCStatusDisputed, fullPayment(request), updates, meta)
	case enums.DisputeResolutionRejectUGC:
		return s.close(ctx, request.ID, enums.UGCStatusDeclined, func(r *models.UGC) error {
			if r.Status != enums.UGCStatusDisputed {
				return stateConflict(r, "only disputed content can be resolved")
			}
			return nil
		}, updates, meta)
	default:
		if !request.IsPaid {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "partial payment only applies to paid content requests")
		}
		split, err := escrow.SplitPartialPayment(request.RequestedBonus, request.Commission, input.PartialAmount)
		if err != nil {
			return nil, err
		}
		updates["validated_at"] = s.now()
		meta.details["partial_amount"] = input.PartialAmount.StringFixed(2)
		return s.payOut(ctx, request, enums.UGCStatusDisputed, split, updates, meta)
	}
}
