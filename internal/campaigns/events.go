package campaigns

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
	action  string
	actor   activity.Actor
	details map[string]any
	// notify is the notification type sent to the seller; empty skips the notification.
	notify string
}

// transition moves the campaign out of its current status and queues the status event, audit entry
// and seller notification in the same transaction.
func (s *service) transition(ctx context.Context, tx *gorm.DB, campaign *models.Campaign, to enums.CampaignStatus, updates map[string]any, meta transitionMeta) error {
	from := campaign.Status
	updates["status"] = to
	moved, err := s.repo.WithTx(tx).UpdateFrom(ctx, campaign.ID, from, updates)
	if err != nil {
		return err
	}
	if !moved {
		return stateConflict(campaign, "campaign status changed concurrently")
	}
	campaign.Status = to
	now := s.now()

	if err := s.activity.Publish(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCampaignStatusChanged,
		AggregateType: enums.AggregateCampaign,
		AggregateID:   campaign.ID,
		Actor:         meta.actor.Ref(),
		Data: payloads.CampaignStatusChangedEvent{
			CampaignID: campaign.ID,
			SellerID:   campaign.SellerID,
			From:       from,
			To:         to,
			ChangedAt:  now,
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
		EntityType: enums.AggregateCampaign,
		EntityID:   campaign.ID,
		Details:    details,
	}); err != nil {
		return err
	}
	if meta.notify == "" {
		return nil
	}
	return s.activity.Notify(ctx, tx, activity.Notice{
		Type:       meta.notify,
		Recipients: []uuid.UUID{campaign.SellerID},
		EntityType: enums.AggregateCampaign,
		EntityID:   campaign.ID,
		Data:       meta.details,
	})
}
