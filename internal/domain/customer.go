package domain

import "time"

// Customer is the subset of customer data used for scoping and tiering.
type Customer struct {
	ID          string
	Name        string
	Phone       string
	GroupID     *string
	TotalSpent  int64
	OrderCount  int
	LastOrderAt *time.Time
	UpdatedAt   time.Time
}

// CustomerGroup is a membership tier with entry thresholds.
type CustomerGroup struct {
	ID        string
	Name      string
	MinSpent  int64
	MinOrders int
	Priority  int
}
