// Package projection serves read models derived from the write-side
// aggregates. Results are safe to cache because every money mutation goes
// through the write services.
package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fundlane/fundlane-backend/internal/cache"
	"github.com/fundlane/fundlane-backend/internal/domain"
)

// ProgressResult is the funding snapshot for a project
type ProgressResult struct {
	ProjectID     uuid.UUID
	Status        domain.ProjectStatus
	TargetAmount  decimal.Decimal
	CurrentAmount decimal.Decimal
	// Percent is CurrentAmount over TargetAmount scaled to 100, rounded to
	// two decimal places. Zero targets report zero.
	Percent decimal.Decimal
	EndDate time.Time
}

// DistributionReport aggregates payout outcomes per item status
type DistributionReport struct {
	DistributionID uuid.UUID
	ProjectID      uuid.UUID
	Status         domain.DistributionStatus
	TotalAmount    decimal.Decimal
	CompletedCount int
	FailedCount    int
	PendingCount   int
	PaidAmount     decimal.Decimal
}

// Service handles read-side queries over projects, pledges and
// distributions
type Service struct {
	ProjectRepo      domain.ProjectRepository
	PledgeRepo       domain.PledgeRepository
	DistributionRepo domain.DistributionRepository

	progressCache *cache.Cache[*ProgressResult]
}

// NewService creates a new projection Service. Progress snapshots are
// cached for ttl; callers that just mutated a project should Invalidate.
func NewService(
	projectRepo domain.ProjectRepository,
	pledgeRepo domain.PledgeRepository,
	distributionRepo domain.DistributionRepository,
	ttl time.Duration,
	clock domain.Clock,
) *Service {
	return &Service{
		ProjectRepo:      projectRepo,
		PledgeRepo:       pledgeRepo,
		DistributionRepo: distributionRepo,
		progressCache:    cache.New[*ProgressResult](ttl, clock),
	}
}

// Progress returns the funding snapshot for a project
func (s *Service) Progress(ctx context.Context, projectID uuid.UUID) (*ProgressResult, error) {
	if cached, ok := s.progressCache.Get(projectID.String()); ok {
		return cached, nil
	}

	project, err := s.ProjectRepo.GetByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("Service - Progress - s.ProjectRepo.GetByID: %w", err)
	}

	percent := decimal.Zero
	if project.TargetAmount.IsPositive() {
		percent = project.CurrentAmount.
			Mul(decimal.NewFromInt(100)).
			Div(project.TargetAmount).
			Round(2)
	}

	result := &ProgressResult{
		ProjectID:     project.ID,
		Status:        project.Status,
		TargetAmount:  project.TargetAmount,
		CurrentAmount: project.CurrentAmount,
		Percent:       percent,
		EndDate:       project.EndDate,
	}
	s.progressCache.Set(projectID.String(), result)
	return result, nil
}

// Invalidate drops the cached snapshot for a project
func (s *Service) Invalidate(projectID uuid.UUID) {
	s.progressCache.Invalidate(projectID.String())
}

// PledgeHistory returns a project's pledges, newest first
func (s *Service) PledgeHistory(ctx context.Context, projectID uuid.UUID) ([]*domain.Pledge, error) {
	pledges, err := s.PledgeRepo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("Service - PledgeHistory - s.PledgeRepo.ListByProject: %w", err)
	}
	return pledges, nil
}

// Report summarizes a project's distribution payout outcomes
func (s *Service) Report(ctx context.Context, projectID uuid.UUID) (*DistributionReport, error) {
	dist, err := s.DistributionRepo.GetByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("Service - Report - s.DistributionRepo.GetByProject: %w", err)
	}

	report := &DistributionReport{
		DistributionID: dist.ID,
		ProjectID:      dist.ProjectID,
		Status:         dist.Status,
		TotalAmount:    dist.TotalAmount,
		PaidAmount:     decimal.Zero,
	}

	for _, item := range dist.Items {
		switch item.Status {
		case domain.DistributionItemStatusCompleted:
			report.CompletedCount++
			report.PaidAmount = report.PaidAmount.Add(item.Amount)
		case domain.DistributionItemStatusFailed:
			report.FailedCount++
		default:
			report.PendingCount++
		}
	}

	return report, nil
}
