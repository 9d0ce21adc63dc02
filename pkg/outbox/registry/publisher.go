package registry

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/trialhub/trialhub-backend/pkg/config"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	"github.com/trialhub/trialhub-backend/pkg/outbox"
	"github.com/trialhub/trialhub-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to the aggregates allowed to emit it, its topic and payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateTypes []enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

func (d EventDescriptor) allows(aggregate enums.OutboxAggregateType) bool {
	return slices.Contains(d.AggregateTypes, aggregate)
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

// Error implements error.
func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e NonRetryableError) Unwrap() error {
	return e.Err
}

var anyAggregate = []enums.OutboxAggregateType{
	enums.AggregateCampaign,
	enums.AggregateUGC,
	enums.AggregateTestSession,
	enums.AggregatePayoutAccount,
	enums.AggregateTransaction,
}

// NewEventRegistry builds the registry with the configured topic names.
// Audit entries and notifications have dedicated topics; lifecycle events share the domain topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	auditTopic := strings.TrimSpace(cfg.AuditTopic)
	notificationTopic := strings.TrimSpace(cfg.NotificationTopic)
	domainTopic := strings.TrimSpace(cfg.DomainTopic)
	if auditTopic == "" {
		return nil, fmt.Errorf("audit topic is required")
	}
	if notificationTopic == "" {
		return nil, fmt.Errorf("notification topic is required")
	}
	if domainTopic == "" {
		return nil, fmt.Errorf("domain topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventAuditRecorded,
			AggregateTypes: anyAggregate,
			Topic:          auditTopic,
			PayloadFactory: func() any { return &payloads.AuditRecordedEvent{} },
		},
		{
			EventType:      enums.EventNotificationRequested,
			AggregateTypes: anyAggregate,
			Topic:          notificationTopic,
			PayloadFactory: func() any { return &payloads.NotificationRequestedEvent{} },
		},
		{
			EventType:      enums.EventCampaignStatusChanged,
			AggregateTypes: []enums.OutboxAggregateType{enums.AggregateCampaign},
			Topic:          domainTopic,
			PayloadFactory: func() any { return &payloads.CampaignStatusChangedEvent{} },
		},
		{
			EventType:      enums.EventUGCStatusChanged,
			AggregateTypes: []enums.OutboxAggregateType{enums.AggregateUGC},
			Topic:          domainTopic,
			PayloadFactory: func() any { return &payloads.UGCStatusChangedEvent{} },
		},
		{
			EventType:      enums.EventTesterRewardPaid,
			AggregateTypes: []enums.OutboxAggregateType{enums.AggregateTestSession},
			Topic:          domainTopic,
			PayloadFactory: func() any { return &payloads.TesterRewardPaidEvent{} },
		},
		{
			EventType:      enums.EventPayoutAccountUpdated,
			AggregateTypes: []enums.OutboxAggregateType{enums.AggregatePayoutAccount},
			Topic:          domainTopic,
			PayloadFactory: func() any { return &payloads.PayoutAccountUpdatedEvent{} },
		},
		{
			EventType:      enums.EventTransferReversed,
			AggregateTypes: []enums.OutboxAggregateType{enums.AggregateTransaction},
			Topic:          domainTopic,
			PayloadFactory: func() any { return &payloads.TransferReversedEvent{} },
		},
		{
			EventType:      enums.EventRefundSettlementFailed,
			AggregateTypes: []enums.OutboxAggregateType{enums.AggregateTransaction},
			Topic:          domainTopic,
			PayloadFactory: func() any { return &payloads.RefundSettlementFailedEvent{} },
		},
	} {
		reg.register(desc)
	}
	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if !desc.allows(event.AggregateType) {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate %s cannot emit %s", event.AggregateType, event.EventType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}
