package model

import "time"

// TransactionType is the kind of monitored money movement.
type TransactionType string

// Transaction type constants.
const (
	TxDeposit      TransactionType = "deposit"
	TxWithdrawal   TransactionType = "withdrawal"
	TxTransfer     TransactionType = "transfer"
	TxContribution TransactionType = "contribution"
	TxPayout       TransactionType = "payout"
)

// IsValid reports whether the type is known.
func (t TransactionType) IsValid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxTransfer, TxContribution, TxPayout:
		return true
	}
	return false
}

// LedgerTransaction is a settled money movement observed by the risk monitor.
type LedgerTransaction struct {
	OccurredAt time.Time
	ID         string
	Type       TransactionType
	Currency   Currency
	UserID     string
	CircleID   string
	Amount     int64 // minor currency units
}
