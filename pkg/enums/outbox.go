package enums

import "slices"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateCampaign      OutboxAggregateType = "campaign"
	AggregateUGC           OutboxAggregateType = "ugc"
	AggregateTestSession   OutboxAggregateType = "test_session"
	AggregatePayoutAccount OutboxAggregateType = "payout_account"
	AggregateTransaction   OutboxAggregateType = "transaction"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateCampaign,
	AggregateUGC,
	AggregateTestSession,
	AggregatePayoutAccount,
	AggregateTransaction,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(validAggregateTypes, a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse(value, validAggregateTypes, "aggregate type")
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventAuditRecorded          OutboxEventType = "audit_recorded"
	EventNotificationRequested  OutboxEventType = "notification_requested"
	EventCampaignStatusChanged  OutboxEventType = "campaign_status_changed"
	EventUGCStatusChanged       OutboxEventType = "ugc_status_changed"
	EventTesterRewardPaid       OutboxEventType = "tester_reward_paid"
	EventPayoutAccountUpdated   OutboxEventType = "payout_account_updated"
	EventTransferReversed       OutboxEventType = "transfer_reversed"
	EventRefundSettlementFailed OutboxEventType = "refund_settlement_failed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventAuditRecorded,
	EventNotificationRequested,
	EventCampaignStatusChanged,
	EventUGCStatusChanged,
	EventTesterRewardPaid,
	EventPayoutAccountUpdated,
	EventTransferReversed,
	EventRefundSettlementFailed,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	return slices.Contains(validOutboxEventTypes, e)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse(value, validOutboxEventTypes, "event type")
}
