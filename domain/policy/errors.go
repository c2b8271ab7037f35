package policy

import "errors"

// Domain errors for policy enforcement.
var (
	// ErrBudgetExceeded indicates the budget limit has been exceeded.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrInvalidAmount indicates a negative or non-finite amount.
	ErrInvalidAmount = errors.New("invalid budget amount")
)
