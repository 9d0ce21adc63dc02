package enums

import "slices"

// CampaignStatus tracks the campaign funding lifecycle.
type CampaignStatus string

const (
	CampaignStatusDraft             CampaignStatus = "DRAFT"
	CampaignStatusPendingPayment    CampaignStatus = "PENDING_PAYMENT"
	CampaignStatusPendingActivation CampaignStatus = "PENDING_ACTIVATION"
	CampaignStatusActive            CampaignStatus = "ACTIVE"
	CampaignStatusCompleted         CampaignStatus = "COMPLETED"
	CampaignStatusCancelled         CampaignStatus = "CANCELLED"
)

var validCampaignStatuses = []CampaignStatus{
	CampaignStatusDraft,
	CampaignStatusPendingPayment,
	CampaignStatusPendingActivation,
	CampaignStatusActive,
	CampaignStatusCompleted,
	CampaignStatusCancelled,
}

// IsValid reports whether the value is a known campaign status.
func (c CampaignStatus) IsValid() bool {
	return slices.Contains(validCampaignStatuses, c)
}

// ParseCampaignStatus converts raw input into CampaignStatus.
func ParseCampaignStatus(value string) (CampaignStatus, error) {
	return parse(value, validCampaignStatuses, "campaign status")
}
