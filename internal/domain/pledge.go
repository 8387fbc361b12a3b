package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PledgeStatus represents the payment state of a pledge
type PledgeStatus string

const (
	PledgeStatusPending    PledgeStatus = "PENDING"
	PledgeStatusAuthorized PledgeStatus = "AUTHORIZED"
	PledgeStatusCaptured   PledgeStatus = "CAPTURED"
	PledgeStatusRefunded   PledgeStatus = "REFUNDED"
	PledgeStatusFailed     PledgeStatus = "FAILED"
	PledgeStatusCancelled  PledgeStatus = "CANCELLED"
)

// Pledge represents a fan's monetary commitment toward a funding project
// Exactly one pledge exists per (ProjectID, PayerID, IdempotencyKey)
type Pledge struct {
	ID             uuid.UUID
	ProjectID      uuid.UUID
	PayerID        uuid.UUID
	Amount         decimal.Decimal
	RefundAmount   decimal.Decimal
	Status         PledgeStatus
	IdempotencyKey string
	PaymentID      string // gateway token, set on authorize
	Method         string
	CreatedAt      time.Time
	Version        int
}

// Validate ensures the pledge adheres to domain rules
// Returns an error if validation fails
func (p *Pledge) Validate() error {
	if p.Amount.LessThanOrEqual(decimal.Zero) {
		return NewValidationError("pledge amount must be positive")
	}

	if p.IdempotencyKey == "" {
		return NewValidationError("pledge idempotency key cannot be empty")
	}

	if p.RefundAmount.LessThan(decimal.Zero) {
		return NewValidationError("pledge refund amount cannot be negative")
	}

	if p.RefundAmount.GreaterThan(p.Amount) {
		return NewValidationError("pledge refund amount cannot exceed pledge amount")
	}

	return nil
}

// Refundable returns the portion of the pledge that can still be refunded
func (p *Pledge) Refundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundAmount)
}
