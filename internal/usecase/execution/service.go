package execution

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fundlane/fundlane-backend/internal/domain"
	"github.com/fundlane/fundlane-backend/internal/money"
)

// CreateInput represents the input for creating an execution
type CreateInput struct {
	ProjectID    uuid.UUID
	Title        string
	BudgetAmount decimal.Decimal
}

// Service tracks budget draw-down against a project's raised funds
type Service struct {
	ProjectRepo   domain.ProjectRepository
	ExecutionRepo domain.ExecutionRepository
	Clock         domain.Clock
}

// NewService creates a new execution Service instance
func NewService(projectRepo domain.ProjectRepository, executionRepo domain.ExecutionRepository, clock domain.Clock) *Service {
	return &Service{
		ProjectRepo:   projectRepo,
		ExecutionRepo: executionRepo,
		Clock:         clock,
	}
}

// Create reserves budget for an execution. Only allowed while the project is
// EXECUTING; the cumulative budget over non-rejected executions must stay
// within the raised funds.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Execution, error) {
	if input.Title == "" {
		return nil, domain.NewValidationError("execution title cannot be empty")
	}

	if !money.IsPositive(input.BudgetAmount) {
		return nil, domain.NewValidationError("execution budget amount must be positive")
	}

	project, err := s.ProjectRepo.GetByID(ctx, input.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("Service - Create - s.ProjectRepo.GetByID: %w", err)
	}

	if project.Status != domain.ProjectStatusExecuting {
		return nil, domain.NewStateConflictError("project", string(project.Status), "create execution")
	}

	committed, err := s.committedBudget(ctx, input.ProjectID)
	if err != nil {
		return nil, err
	}

	if committed.Add(input.BudgetAmount).GreaterThan(project.CurrentAmount) {
		return nil, domain.ErrBudgetExceeded
	}

	e := &domain.Execution{
		ID:           uuid.New(),
		ProjectID:    input.ProjectID,
		Title:        input.Title,
		BudgetAmount: input.BudgetAmount,
		ActualAmount: decimal.Zero,
		Status:       domain.ExecutionStatusPending,
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}

	if err := s.ExecutionRepo.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("Service - Create - s.ExecutionRepo.Create: %w", err)
	}

	return e, nil
}

// Approve moves a PENDING execution to APPROVED with the actually spent
// amount, which must not exceed the reserved budget.
func (s *Service) Approve(ctx context.Context, executionID uuid.UUID, actualAmount decimal.Decimal) error {
	if actualAmount.LessThan(decimal.Zero) {
		return domain.NewValidationError("actual amount cannot be negative")
	}

	e, err := s.ExecutionRepo.GetByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("Service - Approve - s.ExecutionRepo.GetByID: %w", err)
	}

	if e.Status != domain.ExecutionStatusPending {
		return domain.NewStateConflictError("execution", string(e.Status), string(domain.ExecutionStatusApproved))
	}

	if actualAmount.GreaterThan(e.BudgetAmount) {
		return domain.ErrBudgetExceeded
	}

	return s.ExecutionRepo.UpdateStatus(ctx, e.ID, domain.ExecutionStatusPending, domain.ExecutionStatusApproved, actualAmount, e.Version)
}

// Reject discards a PENDING execution, releasing its reserved budget
func (s *Service) Reject(ctx context.Context, executionID uuid.UUID) error {
	e, err := s.ExecutionRepo.GetByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("Service - Reject - s.ExecutionRepo.GetByID: %w", err)
	}

	if e.Status != domain.ExecutionStatusPending {
		return domain.NewStateConflictError("execution", string(e.Status), string(domain.ExecutionStatusRejected))
	}

	return s.ExecutionRepo.UpdateStatus(ctx, e.ID, domain.ExecutionStatusPending, domain.ExecutionStatusRejected, decimal.Zero, e.Version)
}

// Complete finalizes an APPROVED execution
func (s *Service) Complete(ctx context.Context, executionID uuid.UUID) error {
	e, err := s.ExecutionRepo.GetByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("Service - Complete - s.ExecutionRepo.GetByID: %w", err)
	}

	if e.Status != domain.ExecutionStatusApproved {
		return domain.NewStateConflictError("execution", string(e.Status), string(domain.ExecutionStatusCompleted))
	}

	return s.ExecutionRepo.UpdateStatus(ctx, e.ID, domain.ExecutionStatusApproved, domain.ExecutionStatusCompleted, e.ActualAmount, e.Version)
}

// AttachReceipt appends a receipt record to an execution. Receipts are
// informational and never replace the explicitly approved actual amount.
func (s *Service) AttachReceipt(ctx context.Context, executionID uuid.UUID, description string, amount decimal.Decimal) (*domain.Receipt, error) {
	if description == "" {
		return nil, domain.NewValidationError("receipt description cannot be empty")
	}

	if !money.IsPositive(amount) {
		return nil, domain.NewValidationError("receipt amount must be positive")
	}

	e, err := s.ExecutionRepo.GetByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("Service - AttachReceipt - s.ExecutionRepo.GetByID: %w", err)
	}

	receipt := &domain.Receipt{
		ID:          uuid.New(),
		ExecutionID: e.ID,
		Description: description,
		Amount:      amount,
		FiledAt:     s.Clock.Now(),
	}

	if err := s.ExecutionRepo.AttachReceipt(ctx, receipt); err != nil {
		return nil, fmt.Errorf("Service - AttachReceipt - s.ExecutionRepo.AttachReceipt: %w", err)
	}

	return receipt, nil
}

// committedBudget sums BudgetAmount over all non-rejected executions
func (s *Service) committedBudget(ctx context.Context, projectID uuid.UUID) (decimal.Decimal, error) {
	executions, err := s.ExecutionRepo.ListByProject(ctx, projectID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("Service - committedBudget - s.ExecutionRepo.ListByProject: %w", err)
	}

	committed := decimal.Zero
	for _, e := range executions {
		if e.Status != domain.ExecutionStatusRejected {
			committed = committed.Add(e.BudgetAmount)
		}
	}

	return committed, nil
}
