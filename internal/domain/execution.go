package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExecutionStatus represents the approval state of a budget execution
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusApproved  ExecutionStatus = "APPROVED"
	ExecutionStatusRejected  ExecutionStatus = "REJECTED"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
)

// Execution represents a budget draw-down against a project's raised funds
// Invariant: the sum of ActualAmount over APPROVED/COMPLETED executions never
// exceeds the project's CurrentAmount
type Execution struct {
	ID           uuid.UUID
	ProjectID    uuid.UUID
	Title        string
	BudgetAmount decimal.Decimal
	ActualAmount decimal.Decimal
	Status       ExecutionStatus
	Receipts     []Receipt
	Version      int
}

// Receipt represents a filed receipt attached to an execution
// Informational: it does not replace the explicitly approved actual amount
type Receipt struct {
	ID          uuid.UUID
	ExecutionID uuid.UUID
	Description string
	Amount      decimal.Decimal
	FiledAt     time.Time
}

// Validate ensures the execution adheres to domain rules
// Returns an error if validation fails
func (e *Execution) Validate() error {
	if e.Title == "" {
		return NewValidationError("execution title cannot be empty")
	}

	if e.BudgetAmount.LessThanOrEqual(decimal.Zero) {
		return NewValidationError("execution budget amount must be positive")
	}

	if e.ActualAmount.LessThan(decimal.Zero) {
		return NewValidationError("execution actual amount cannot be negative")
	}

	return nil
}

// IsTerminal reports whether the execution no longer blocks distribution.
// Rejected executions never block it.
func (e *Execution) IsTerminal() bool {
	switch e.Status {
	case ExecutionStatusApproved, ExecutionStatusCompleted, ExecutionStatusRejected:
		return true
	}
	return false
}
