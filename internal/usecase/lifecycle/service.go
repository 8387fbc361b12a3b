package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fundlane/fundlane-backend/internal/domain"
)

// CreateInput represents the input for creating a funding project
type CreateInput struct {
	OwnerID      uuid.UUID
	Title        string
	TargetAmount decimal.Decimal
	StartDate    time.Time
	EndDate      time.Time
	Rewards      []domain.Reward
}

// Service is the single authority over project status. Every transition is
// checked against the table below and committed with a compare-and-swap;
// all other components only read the status as a guard.
//
//	publish            DRAFT        -> COLLECTING
//	evaluateDeadline   COLLECTING   -> SUCCEEDED | FAILED
//	beginExecution     SUCCEEDED    -> EXECUTING
//	beginDistribution  EXECUTING    -> DISTRIBUTING  (all executions terminal)
//	close              DISTRIBUTING -> CLOSED        (distribution executed)
type Service struct {
	ProjectRepo      domain.ProjectRepository
	ExecutionRepo    domain.ExecutionRepository
	DistributionRepo domain.DistributionRepository
	Outbox           domain.EventAppender
	Tx               domain.Atomic
	Clock            domain.Clock
}

// NewService creates a new lifecycle Service instance
func NewService(
	projectRepo domain.ProjectRepository,
	executionRepo domain.ExecutionRepository,
	distributionRepo domain.DistributionRepository,
	outbox domain.EventAppender,
	tx domain.Atomic,
	clock domain.Clock,
) *Service {
	return &Service{
		ProjectRepo:      projectRepo,
		ExecutionRepo:    executionRepo,
		DistributionRepo: distributionRepo,
		Outbox:           outbox,
		Tx:               tx,
		Clock:            clock,
	}
}

// statusChangedPayload is the PROJECT_STATUS_CHANGED event body
type statusChangedPayload struct {
	ProjectID uuid.UUID `json:"project_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
}

// Create registers a new funding project in DRAFT
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.FundingProject, error) {
	project := &domain.FundingProject{
		ID:            uuid.New(),
		OwnerID:       input.OwnerID,
		Title:         input.Title,
		TargetAmount:  input.TargetAmount,
		CurrentAmount: decimal.Zero,
		Status:        domain.ProjectStatusDraft,
		StartDate:     input.StartDate,
		EndDate:       input.EndDate,
		Rewards:       input.Rewards,
	}

	if err := project.Validate(); err != nil {
		return nil, err
	}

	if err := s.ProjectRepo.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("Service - Create - s.ProjectRepo.Create: %w", err)
	}

	return project, nil
}

// Publish opens a DRAFT project for pledges
func (s *Service) Publish(ctx context.Context, projectID uuid.UUID) error {
	project, err := s.ProjectRepo.GetByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("Service - Publish - s.ProjectRepo.GetByID: %w", err)
	}

	return s.transition(ctx, project, domain.ProjectStatusDraft, domain.ProjectStatusCollecting)
}

// EvaluateDeadline settles a COLLECTING project at its deadline: SUCCEEDED
// when the target was reached, FAILED otherwise. Calling it before the
// deadline is a state conflict, so the outcome is decided exactly once.
func (s *Service) EvaluateDeadline(ctx context.Context, projectID uuid.UUID) (domain.ProjectStatus, error) {
	project, err := s.ProjectRepo.GetByID(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("Service - EvaluateDeadline - s.ProjectRepo.GetByID: %w", err)
	}

	if project.Status != domain.ProjectStatusCollecting {
		return "", domain.NewStateConflictError("project", string(project.Status), "evaluate deadline")
	}

	if s.Clock.Now().Before(project.EndDate) {
		return "", domain.NewStateConflictError("project", string(project.Status), "evaluate deadline before end date")
	}

	to := domain.ProjectStatusFailed
	if project.CurrentAmount.GreaterThanOrEqual(project.TargetAmount) {
		to = domain.ProjectStatusSucceeded
	}

	if err := s.transition(ctx, project, domain.ProjectStatusCollecting, to); err != nil {
		return "", err
	}

	return to, nil
}

// SweepDeadlines settles every COLLECTING project whose deadline has
// passed and returns how many were settled. A conflict on one project
// (another sweeper won the race) does not stop the sweep.
func (s *Service) SweepDeadlines(ctx context.Context, limit int) (int, error) {
	projects, err := s.ProjectRepo.ListEnded(ctx, s.Clock.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("Service - SweepDeadlines - s.ProjectRepo.ListEnded: %w", err)
	}

	settled := 0
	for _, project := range projects {
		if _, err := s.EvaluateDeadline(ctx, project.ID); err != nil {
			if domain.IsStateConflict(err) {
				continue
			}
			return settled, err
		}
		settled++
	}

	return settled, nil
}

// BeginExecution lets the owner start drawing budget from a SUCCEEDED project
func (s *Service) BeginExecution(ctx context.Context, projectID uuid.UUID) error {
	project, err := s.ProjectRepo.GetByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("Service - BeginExecution - s.ProjectRepo.GetByID: %w", err)
	}

	return s.transition(ctx, project, domain.ProjectStatusSucceeded, domain.ProjectStatusExecuting)
}

// BeginDistribution moves an EXECUTING project to DISTRIBUTING once every
// non-rejected execution has been approved or completed
func (s *Service) BeginDistribution(ctx context.Context, projectID uuid.UUID) error {
	project, err := s.ProjectRepo.GetByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("Service - BeginDistribution - s.ProjectRepo.GetByID: %w", err)
	}

	if project.Status != domain.ProjectStatusExecuting {
		return domain.NewStateConflictError("project", string(project.Status), string(domain.ProjectStatusDistributing))
	}

	executions, err := s.ExecutionRepo.ListByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("Service - BeginDistribution - s.ExecutionRepo.ListByProject: %w", err)
	}

	for _, e := range executions {
		if !e.IsTerminal() {
			return domain.NewStateConflictError("project", string(project.Status), "distribute with open executions")
		}
	}

	return s.transition(ctx, project, domain.ProjectStatusExecuting, domain.ProjectStatusDistributing)
}

// Close finalizes a DISTRIBUTING project after its distribution executed
func (s *Service) Close(ctx context.Context, projectID uuid.UUID) error {
	project, err := s.ProjectRepo.GetByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("Service - Close - s.ProjectRepo.GetByID: %w", err)
	}

	if project.Status != domain.ProjectStatusDistributing {
		return domain.NewStateConflictError("project", string(project.Status), string(domain.ProjectStatusClosed))
	}

	distribution, err := s.DistributionRepo.GetByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("Service - Close - s.DistributionRepo.GetByProject: %w", err)
	}

	if distribution.Status != domain.DistributionStatusExecuted {
		return domain.NewStateConflictError("project", string(project.Status), "close before distribution executed")
	}

	return s.transition(ctx, project, domain.ProjectStatusDistributing, domain.ProjectStatusClosed)
}

// transition commits the status flip and its PROJECT_STATUS_CHANGED event in
// one transaction. The repository CAS turns a lost race into a
// StateConflictError with the status untouched.
func (s *Service) transition(ctx context.Context, project *domain.FundingProject, from, to domain.ProjectStatus) error {
	if project.Status != from {
		return domain.NewStateConflictError("project", string(project.Status), string(to))
	}

	return s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ProjectRepo.UpdateStatus(ctx, project.ID, from, to, project.Version); err != nil {
			return err
		}
		return s.Outbox.AppendEvent(ctx, domain.EventTypeProjectStatusChanged, domain.AggregateTypeProject, project.ID, statusChangedPayload{
			ProjectID: project.ID,
			From:      string(from),
			To:        string(to),
		})
	})
}
