package enums

import "slices"

// DisputeResolution is the admin outcome for a disputed content request.
type DisputeResolution string

const (
	DisputeResolutionPayTester      DisputeResolution = "PAY_TESTER"
	DisputeResolutionRejectUGC      DisputeResolution = "REJECT_UGC"
	DisputeResolutionPartialPayment DisputeResolution = "PARTIAL_PAYMENT"
)

var validDisputeResolutions = []DisputeResolution{
	DisputeResolutionPayTester,
	DisputeResolutionRejectUGC,
	DisputeResolutionPartialPayment,
}

// IsValid reports whether the value is a known dispute resolution.
func (d DisputeResolution) IsValid() bool {
	return slices.Contains(validDisputeResolutions, d)
}

// ParseDisputeResolution converts raw input into DisputeResolution.
func ParseDisputeResolution(value string) (DisputeResolution, error) {
	return parse(value, validDisputeResolutions, "dispute resolution")
}
