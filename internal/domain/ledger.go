package domain

import "time"

// LedgerDirection distinguishes money in from money out.
type LedgerDirection string

const (
	LedgerDirectionIncome  LedgerDirection = "INCOME"
	LedgerDirectionExpense LedgerDirection = "EXPENSE"
)

// LedgerReferenceType identifies what a ledger transaction was posted for.
type LedgerReferenceType string

const (
	LedgerReferenceOrder LedgerReferenceType = "ORDER"
)

// LedgerTransactionStatus tracks reversals.
type LedgerTransactionStatus string

const (
	LedgerTransactionPosted   LedgerTransactionStatus = "POSTED"
	LedgerTransactionCanceled LedgerTransactionStatus = "CANCELED"
)

// LedgerCategory groups ledger transactions. IDs are stable codes.
type LedgerCategory struct {
	ID        string
	Name      string
	Direction LedgerDirection
	System    bool
	CreatedAt time.Time
}

// LedgerTransaction is a single posting in the finance ledger.
type LedgerTransaction struct {
	ID            string
	CategoryID    string
	Amount        int64
	Direction     LedgerDirection
	ReferenceType LedgerReferenceType
	ReferenceID   string
	Description   string
	PaymentMethod *PaymentMethod
	StaffID       string
	Status        LedgerTransactionStatus
	CreatedAt     time.Time
	CanceledAt    *time.Time
}
