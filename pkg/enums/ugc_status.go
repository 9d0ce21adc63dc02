package enums

import "slices"

// UGCStatus is the lifecycle state of a content request.
type UGCStatus string

const (
	UGCStatusRequested UGCStatus = "REQUESTED"
	UGCStatusSubmitted UGCStatus = "SUBMITTED"
	UGCStatusValidated UGCStatus = "VALIDATED"
	UGCStatusRejected  UGCStatus = "REJECTED"
	UGCStatusDeclined  UGCStatus = "DECLINED"
	UGCStatusCancelled UGCStatus = "CANCELLED"
	UGCStatusDisputed  UGCStatus = "DISPUTED"
)

var validUGCStatuses = []UGCStatus{
	UGCStatusRequested,
	UGCStatusSubmitted,
	UGCStatusValidated,
	UGCStatusRejected,
	UGCStatusDeclined,
	UGCStatusCancelled,
	UGCStatusDisputed,
}

// IsValid reports whether the value is a known ugc status.
func (u UGCStatus) IsValid() bool {
	return slices.Contains(validUGCStatuses, u)
}

// ParseUGCStatus converts raw input into UGCStatus.
func ParseUGCStatus(value string) (UGCStatus, error) {
	return parse(value, validUGCStatuses, "ugc status")
}

// IsTerminal reports whether no further transition is possible.
func (u UGCStatus) IsTerminal() bool {
	switch u {
	case UGCStatusValidated, UGCStatusDeclined, UGCStatusCancelled:
		return true
	default:
		return false
	}
}
