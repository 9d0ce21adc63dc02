package enums

import "slices"

// TransactionType classifies a ledger transaction.
type TransactionType string

const (
	TransactionCampaignPayment          TransactionType = "CAMPAIGN_PAYMENT"
	TransactionCampaignRefund           TransactionType = "CAMPAIGN_REFUND"
	TransactionTestReward               TransactionType = "TEST_REWARD"
	TransactionCommission               TransactionType = "COMMISSION"
	TransactionCancellationCommission   TransactionType = "CANCELLATION_COMMISSION"
	TransactionTesterCancellationRefund TransactionType = "TESTER_CANCELLATION_REFUND"
	TransactionTesterCompensation       TransactionType = "TESTER_COMPENSATION"
	TransactionUGCPayment               TransactionType = "UGC_PAYMENT"
	TransactionUGCReward                TransactionType = "UGC_REWARD"
	TransactionUGCCommission            TransactionType = "UGC_COMMISSION"
	TransactionUGCRefund                TransactionType = "UGC_REFUND"
	TransactionTransferReversal         TransactionType = "TRANSFER_REVERSAL"
	// TransactionProcessorCoverage is the part of a paid slot's escrow that was neither transferred
	// nor booked as commission: the processor-fee gross-up and any gap to the price actually paid.
	TransactionProcessorCoverage TransactionType = "PROCESSOR_COVERAGE"
)

var validTransactionTypes = []TransactionType{
	TransactionCampaignPayment,
	TransactionCampaignRefund,
	TransactionTestReward,
	TransactionCommission,
	TransactionCancellationCommission,
	TransactionTesterCancellationRefund,
	TransactionTesterCompensation,
	TransactionUGCPayment,
	TransactionUGCReward,
	TransactionUGCCommission,
	TransactionUGCRefund,
	TransactionTransferReversal,
	TransactionProcessorCoverage,
}

// IsValid reports whether the value is a known transaction type.
func (t TransactionType) IsValid() bool {
	return slices.Contains(validTransactionTypes, t)
}

// ParseTransactionType converts raw input into TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	return parse(value, validTransactionTypes, "transaction type")
}

// WalletSign is the direction a completed transaction of this type moves a user wallet balance.
// Platform-only types return 0.
func (t TransactionType) WalletSign() int {
	switch t {
	case TransactionTestReward,
		TransactionTesterCompensation,
		TransactionTesterCancellationRefund,
		TransactionUGCReward:
		return 1
	case TransactionTransferReversal:
		return -1
	default:
		return 0
	}
}
