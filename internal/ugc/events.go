package ugc

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trialhub/trialhub-backend/internal/activity"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	"github.com/trialhub/trialhub-backend/pkg/outbox"
	"github.com/trialhub/trialhub-backend/pkg/outbox/payloads"
)

type transitionMeta struct {
	action     string
	actor      activity.Actor
	details    map[string]any
	notify     string
	recipients []uuid.UUID
}

func (s *Service) transition(ctx context.Context, tx *gorm.DB, request *models.UGC, to enums.UGCStatus, updates map[string]any, meta transitionMeta) error {
	from := request.Status
	updates["status"] = to
	moved, err := s.repo.WithTx(tx).UpdateFrom(ctx, request.ID, from, updates)
	if err != nil {
		return err
	}
	if !moved {
		return stateConflict(request, "content request status changed concurrently")
	}
	request.Status = to

	if err := s.activity.Publish(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventUGCStatusChanged,
		AggregateType: enums.AggregateUGC,
		AggregateID:   request.ID,
		Actor:         meta.actor.Ref(),
		Data: payloads.UGCStatusChangedEvent{
			UGCID:      request.ID,
			CampaignID: request.CampaignID,
			SellerID:   request.SellerID,
			TesterID:   request.TesterID,
			From:       from,
			To:         to,
			ChangedAt:  s.now(),
		},
	}); err != nil {
		return err
	}

	details := map[string]any{"from": string(from), "to": string(to)}
	for k, v := range meta.details {
		details[k] = v
	}
	if err := s.activity.Record(ctx, tx, activity.Entry{
		Action:     meta.action,
		Actor:      meta.actor,
		EntityType: enums.AggregateUGC,
		EntityID:   request.ID,
		Details:    details,
	}); err != nil {
		return err
	}
	if meta.notify == "" || len(meta.recipients) == 0 {
		return nil
	}
	return s.activity.Notify(ctx, tx, activity.Notice{
		Type:       meta.notify,
		Recipients: meta.recipients,
		EntityType: enums.AggregateUGC,
		EntityID:   request.ID,
		Data:       map[string]any{"status": string(to), "type": string(request.Type)},
	})
}

func (s *Service) notifyAdmins(ctx context.Context, tx *gorm.DB, request *models.UGC, data map[string]any) error {
	return s.activity.Notify(ctx, tx, activity.Notice{
		Type:       "ugc_dispute_opened",
		Role:       enums.ActorRoleAdmin,
		EntityType: enums.AggregateUGC,
		EntityID:   request.ID,
		Data:       data,
	})
}
