package enums

import "slices"

// TransactionStatus tracks settlement of a ledger transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusPending,
	TransactionStatusCompleted,
	TransactionStatusCancelled,
}

// IsValid reports whether the value is a known transaction status.
func (t TransactionStatus) IsValid() bool {
	return slices.Contains(validTransactionStatuses, t)
}

// ParseTransactionStatus converts raw input into TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	return parse(value, validTransactionStatuses, "transaction status")
}
