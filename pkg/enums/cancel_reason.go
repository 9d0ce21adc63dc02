package enums

import "slices"

// HoldCancelReason is the reason reported to the gateway when a hold is released.
type HoldCancelReason string

const (
	HoldCancelRequestedByCustomer HoldCancelReason = "requested_by_customer"
	HoldCancelAbandoned           HoldCancelReason = "abandoned"
	HoldCancelDuplicate           HoldCancelReason = "duplicate"
	HoldCancelFraudulent          HoldCancelReason = "fraudulent"
)

var validHoldCancelReasons = []HoldCancelReason{
	HoldCancelRequestedByCustomer,
	HoldCancelAbandoned,
	HoldCancelDuplicate,
	HoldCancelFraudulent,
}

// IsValid reports whether the value is a known hold cancel reason.
func (h HoldCancelReason) IsValid() bool {
	return slices.Contains(validHoldCancelReasons, h)
}

// ParseHoldCancelReason converts raw input into HoldCancelReason.
func ParseHoldCancelReason(value string) (HoldCancelReason, error) {
	return parse(value, validHoldCancelReasons, "hold cancel reason")
}
