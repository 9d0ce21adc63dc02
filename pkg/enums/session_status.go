package enums

import "slices"

// SessionStatus is the lifecycle state of a tester session.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "PENDING"
	SessionStatusAccepted   SessionStatus = "ACCEPTED"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusCancelled  SessionStatus = "CANCELLED"
	SessionStatusRejected   SessionStatus = "REJECTED"
)

var validSessionStatuses = []SessionStatus{
	SessionStatusPending,
	SessionStatusAccepted,
	SessionStatusInProgress,
	SessionStatusSubmitted,
	SessionStatusCompleted,
	SessionStatusCancelled,
	SessionStatusRejected,
}

// IsValid reports whether the value is a known session status.
func (s SessionStatus) IsValid() bool {
	return slices.Contains(validSessionStatuses, s)
}

// ParseSessionStatus converts raw input into SessionStatus.
func ParseSessionStatus(value string) (SessionStatus, error) {
	return parse(value, validSessionStatuses, "session status")
}

// BlockingSessionStatuses are sessions that still need escrow and prevent a funded campaign from being cancelled.
var BlockingSessionStatuses = []SessionStatus{
	SessionStatusPending,
	SessionStatusAccepted,
	SessionStatusInProgress,
}
