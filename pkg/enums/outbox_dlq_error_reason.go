package enums

import "slices"

// OutboxDLQErrorReason records why the publisher gave up on an outbox row.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts       OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable      OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonInvalidPayload    OutboxDLQErrorReason = "invalid_payload"
	OutboxDLQReasonTopicUnconfigured OutboxDLQErrorReason = "topic_unconfigured"
)

var validOutboxDLQErrorReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonMaxAttempts,
	OutboxDLQReasonNonRetryable,
	OutboxDLQReasonInvalidPayload,
	OutboxDLQReasonTopicUnconfigured,
}

func (r OutboxDLQErrorReason) IsValid() bool {
	return slices.Contains(validOutboxDLQErrorReasons, r)
}
