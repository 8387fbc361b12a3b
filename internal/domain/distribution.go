package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DistributionStatus represents the state of a revenue distribution
type DistributionStatus string

const (
	DistributionStatusPending    DistributionStatus = "PENDING"
	DistributionStatusCalculated DistributionStatus = "CALCULATED"
	DistributionStatusExecuted   DistributionStatus = "EXECUTED"
	DistributionStatusFailed     DistributionStatus = "FAILED"
)

// DistributionItemStatus represents the payout state of a single item
type DistributionItemStatus string

const (
	DistributionItemStatusPending    DistributionItemStatus = "PENDING"
	DistributionItemStatusProcessing DistributionItemStatus = "PROCESSING"
	DistributionItemStatusCompleted  DistributionItemStatus = "COMPLETED"
	DistributionItemStatusFailed     DistributionItemStatus = "FAILED"
)

// DistributionRuleType represents how a rule's share is expressed
type DistributionRuleType string

const (
	DistributionRuleTypePercentage DistributionRuleType = "PERCENTAGE"
	DistributionRuleTypeFixed      DistributionRuleType = "FIXED"
)

// Distribution represents the split of collected project revenue among
// stakeholders. Invariant: the sum of item amounts equals TotalAmount exactly.
type Distribution struct {
	ID          uuid.UUID
	ProjectID   uuid.UUID
	TotalAmount decimal.Decimal // snapshot of project.CurrentAmount at creation
	Rules       []DistributionRule
	Items       []DistributionItem
	Status      DistributionStatus
	Version     int
}

// DistributionRule represents a single configured split rule
type DistributionRule struct {
	ID          uuid.UUID
	Type        DistributionRuleType
	Percentage  decimal.Decimal // 0-100, used when Type is PERCENTAGE
	FixedAmount decimal.Decimal // used when Type is FIXED
	RecipientID uuid.UUID
	Priority    int // lower number = processed first
}

// DistributionItem represents the computed payout for one rule
type DistributionItem struct {
	ID             uuid.UUID
	DistributionID uuid.UUID
	RuleID         uuid.UUID
	RecipientID    uuid.UUID
	Amount         decimal.Decimal
	Status         DistributionItemStatus
	ReceiptRef     string // gateway receipt on completed payout
	LastError      string
}

// Validate ensures the distribution adheres to domain rules
// Returns an error if validation fails
func (d *Distribution) Validate() error {
	if len(d.Rules) == 0 {
		return NewValidationError("distribution must have at least one rule")
	}

	if d.TotalAmount.LessThanOrEqual(decimal.Zero) {
		return NewValidationError("distribution total amount must be positive")
	}

	for _, rule := range d.Rules {
		if err := rule.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Validate ensures the rule adheres to domain rules
func (r *DistributionRule) Validate() error {
	switch r.Type {
	case DistributionRuleTypePercentage:
		if r.Percentage.LessThan(decimal.Zero) || r.Percentage.GreaterThan(decimal.NewFromInt(100)) {
			return NewValidationError("PERCENTAGE rule value must be between 0 and 100")
		}
	case DistributionRuleTypeFixed:
		if r.FixedAmount.LessThanOrEqual(decimal.Zero) {
			return NewValidationError("FIXED rule amount must be positive")
		}
	default:
		return NewValidationError("distribution rule type must be PERCENTAGE or FIXED")
	}

	if r.RecipientID == uuid.Nil {
		return NewValidationError("distribution rule recipient cannot be empty")
	}

	return nil
}
