package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProjectStatus represents the lifecycle state of a funding project
type ProjectStatus string

const (
	ProjectStatusDraft        ProjectStatus = "DRAFT"
	ProjectStatusCollecting   ProjectStatus = "COLLECTING"
	ProjectStatusSucceeded    ProjectStatus = "SUCCEEDED"
	ProjectStatusFailed       ProjectStatus = "FAILED"
	ProjectStatusExecuting    ProjectStatus = "EXECUTING"
	ProjectStatusDistributing ProjectStatus = "DISTRIBUTING"
	ProjectStatusClosed       ProjectStatus = "CLOSED"
)

// FundingProject represents a funding project entity in the domain layer
// CurrentAmount changes only via captured pledges (+) or refunds (-);
// Status changes only via the lifecycle service
type FundingProject struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	Title         string
	TargetAmount  decimal.Decimal
	CurrentAmount decimal.Decimal
	Status        ProjectStatus
	StartDate     time.Time
	EndDate       time.Time
	Rewards       []Reward
	Version       int
}

// Reward represents a reward tier offered by a funding project
// Informational only: it does not participate in any money invariant
type Reward struct {
	ID            uuid.UUID
	ProjectID     uuid.UUID
	Title         string
	MinimumPledge decimal.Decimal
}

// Validate ensures the project adheres to domain rules
// Returns an error if validation fails
func (p *FundingProject) Validate() error {
	if p.Title == "" {
		return NewValidationError("project title cannot be empty")
	}

	if p.TargetAmount.LessThanOrEqual(decimal.Zero) {
		return NewValidationError("project target amount must be positive")
	}

	if p.CurrentAmount.LessThan(decimal.Zero) {
		return NewValidationError("project current amount cannot be negative")
	}

	if !p.EndDate.After(p.StartDate) {
		return NewValidationError("project end date must be after start date")
	}

	for _, reward := range p.Rewards {
		if reward.MinimumPledge.LessThanOrEqual(decimal.Zero) {
			return NewValidationError("reward minimum pledge must be positive")
		}
	}

	return nil
}

// IsOpenForPledges reports whether pledges may be created against the project
// at the given instant
func (p *FundingProject) IsOpenForPledges(now time.Time) bool {
	return p.Status == ProjectStatusCollecting && now.Before(p.EndDate)
}
