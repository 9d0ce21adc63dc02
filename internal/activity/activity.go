// Package activity queues audit records and notification jobs through the transactional outbox.
// Delivery happens asynchronously in the outbox publisher, so a slow consumer never blocks a payment transition.
package activity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trialhub/trialhub-backend/pkg/enums"
	"github.com/trialhub/trialhub-backend/pkg/logger"
	"github.com/trialhub/trialhub-backend/pkg/outbox"
	"github.com/trialhub/trialhub-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Actor is the user (or the system) that triggered a transition.
type Actor struct {
	ID   *uuid.UUID
	Role enums.ActorRole
}

// System is the actor used by scheduler sweeps and webhooks.
var System = Actor{Role: enums.ActorRoleSystem}

func User(id uuid.UUID, role enums.ActorRole) Actor {
	return Actor{ID: &id, Role: role}
}

func (a Actor) Ref() *outbox.ActorRef {
	return &outbox.ActorRef{UserID: a.ID, Role: a.Role}
}

// Entry describes one audited action on an aggregate.
type Entry struct {
	Action     string
	Actor      Actor
	EntityType enums.OutboxAggregateType
	EntityID   uuid.UUID
	Details    map[string]any
}

// Notice is a notification job for specific users or a whole role.
type Notice struct {
	Type       string
	Recipients []uuid.UUID
	Role       enums.ActorRole
	EntityType enums.OutboxAggregateType
	EntityID   uuid.UUID
	Data       map[string]any
}

type Params struct {
	Outbox            eventEmitter
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type Emitter struct {
	outbox   eventEmitter
	txRunner txRunner
	logg     *logger.Logger
}

func NewEmitter(params Params) (*Emitter, error) {
	if params.Outbox == nil {
		return nil, errors.New("outbox service required")
	}
	if params.TransactionRunner == nil {
		return nil, errors.New("transaction runner required")
	}
	return &Emitter{outbox: params.Outbox, txRunner: params.TransactionRunner, logg: params.Logger}, nil
}

// Record queues a success audit entry inside the caller's transaction.
func (e *Emitter) Record(ctx context.Context, tx *gorm.DB, entry Entry) error {
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventAuditRecorded,
		AggregateType: entry.EntityType,
		AggregateID:   entry.EntityID,
		Actor:         entry.Actor.Ref(),
		Data:          auditPayload(entry, payloads.AuditSuccess, nil),
	})
}

// RecordFailure audits a failed attempt in its own transaction, since the caller's work was rolled back.
// Failures to queue the entry are logged and swallowed.
func (e *Emitter) RecordFailure(ctx context.Context, entry Entry, cause error) {
	err := e.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAuditRecorded,
			AggregateType: entry.EntityType,
			AggregateID:   entry.EntityID,
			Actor:         entry.Actor.Ref(),
			Data:          auditPayload(entry, payloads.AuditFailure, cause),
		})
	})
	if err != nil && e.logg != nil {
		logCtx := e.logg.WithFields(ctx, map[string]any{
			"action":    entry.Action,
			"entity_id": entry.EntityID.String(),
		})
		e.logg.Error(logCtx, "activity.failure_audit_not_queued", err)
	}
}

// Notify queues a notification job inside the caller's transaction.
func (e *Emitter) Notify(ctx context.Context, tx *gorm.DB, notice Notice) error {
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: notice.EntityType,
		AggregateID:   notice.EntityID,
		Data: payloads.NotificationRequestedEvent{
			Type:          notice.Type,
			RecipientIDs:  notice.Recipients,
			RecipientRole: notice.Role,
			EntityType:    notice.EntityType,
			EntityID:      notice.EntityID,
			Data:          notice.Data,
		},
	})
}

// Publish queues a domain lifecycle event.
func (e *Emitter) Publish(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	return e.outbox.Emit(ctx, tx, event)
}

func auditPayload(entry Entry, outcome payloads.AuditOutcome, cause error) payloads.AuditRecordedEvent {
	event := payloads.AuditRecordedEvent{
		Action:     entry.Action,
		Outcome:    outcome,
		ActorID:    entry.Actor.ID,
		ActorRole:  entry.Actor.Role,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Details:    entry.Details,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	return event
}
