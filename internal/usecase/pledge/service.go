package pledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fundlane/fundlane-backend/internal/domain"
	"github.com/fundlane/fundlane-backend/internal/money"
)

// CreateInput represents the input for creating a pledge
type CreateInput struct {
	ProjectID      uuid.UUID
	PayerID        uuid.UUID
	Amount         decimal.Decimal
	IdempotencyKey string
	Method         string
}

// Service handles the pledge money lifecycle: idempotent intake,
// authorization, capture and refund. It is the only writer of
// project.CurrentAmount.
type Service struct {
	ProjectRepo    domain.ProjectRepository
	PledgeRepo     domain.PledgeRepository
	ExecutionRepo  domain.ExecutionRepository
	Outbox         domain.EventAppender
	Gateway        domain.PaymentGateway
	Tx             domain.Atomic
	Clock          domain.Clock
	GatewayTimeout time.Duration
}

// NewService creates a new pledge Service instance
func NewService(
	projectRepo domain.ProjectRepository,
	pledgeRepo domain.PledgeRepository,
	executionRepo domain.ExecutionRepository,
	outbox domain.EventAppender,
	gateway domain.PaymentGateway,
	tx domain.Atomic,
	clock domain.Clock,
	gatewayTimeout time.Duration,
) *Service {
	return &Service{
		ProjectRepo:    projectRepo,
		PledgeRepo:     pledgeRepo,
		ExecutionRepo:  executionRepo,
		Outbox:         outbox,
		Gateway:        gateway,
		Tx:             tx,
		Clock:          clock,
		GatewayTimeout: gatewayTimeout,
	}
}

// capturedPayload is the PLEDGE_CAPTURED event body
type capturedPayload struct {
	PledgeID  uuid.UUID `json:"pledge_id"`
	ProjectID uuid.UUID `json:"project_id"`
	PayerID   uuid.UUID `json:"payer_id"`
	Amount    string    `json:"amount"`
}

// refundedPayload is the PLEDGE_REFUNDED event body
type refundedPayload struct {
	PledgeID  uuid.UUID `json:"pledge_id"`
	ProjectID uuid.UUID `json:"project_id"`
	PayerID   uuid.UUID `json:"payer_id"`
	Amount    string    `json:"amount"`
	Reason    string    `json:"reason"`
}

// Create records a new PENDING pledge, or returns the existing pledge
// unchanged when the same (project, payer, idempotency key) was already
// used. Returning the existing row is what prevents a double charge when a
// client retries the request.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Pledge, error) {
	if !money.IsPositive(input.Amount) {
		return nil, domain.NewValidationError("pledge amount must be positive")
	}

	if input.IdempotencyKey == "" {
		return nil, domain.NewValidationError("idempotency key cannot be empty")
	}

	existing, err := s.PledgeRepo.GetByIdempotencyKey(ctx, input.ProjectID, input.PayerID, input.IdempotencyKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("Service - Create - s.PledgeRepo.GetByIdempotencyKey: %w", err)
	}

	project, err := s.ProjectRepo.GetByID(ctx, input.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("Service - Create - s.ProjectRepo.GetByID: %w", err)
	}

	if !project.IsOpenForPledges(s.Clock.Now()) {
		return nil, domain.NewValidationError("project is not collecting pledges")
	}

	p := &domain.Pledge{
		ID:             uuid.New(),
		ProjectID:      input.ProjectID,
		PayerID:        input.PayerID,
		Amount:         input.Amount,
		RefundAmount:   decimal.Zero,
		Status:         domain.PledgeStatusPending,
		IdempotencyKey: input.IdempotencyKey,
		Method:         input.Method,
		CreatedAt:      s.Clock.Now(),
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := s.PledgeRepo.Create(ctx, p); err != nil {
		// A concurrent request with the same key won the insert race;
		// return its pledge instead of failing the retry.
		if errors.Is(err, domain.ErrDuplicatePledge) {
			return s.PledgeRepo.GetByIdempotencyKey(ctx, input.ProjectID, input.PayerID, input.IdempotencyKey)
		}
		return nil, fmt.Errorf("Service - Create - s.PledgeRepo.Create: %w", err)
	}

	return p, nil
}

// Authorize places a gateway hold on a PENDING pledge and records the
// gateway token. Any other starting status is a StateConflictError.
func (s *Service) Authorize(ctx context.Context, pledgeID uuid.UUID) error {
	p, err := s.PledgeRepo.GetByID(ctx, pledgeID)
	if err != nil {
		return fmt.Errorf("Service - Authorize - s.PledgeRepo.GetByID: %w", err)
	}

	if p.Status != domain.PledgeStatusPending {
		return domain.NewStateConflictError("pledge", string(p.Status), string(domain.PledgeStatusAuthorized))
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.GatewayTimeout)
	defer cancel()

	token, err := s.Gateway.Authorize(gwCtx, p.Amount, p.Method)
	if err != nil {
		return domain.NewTransientError("gateway authorize", err)
	}

	return s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.PledgeRepo.SetPaymentID(ctx, p.ID, token, p.Version); err != nil {
			return err
		}
		return s.PledgeRepo.UpdateStatus(ctx, p.ID, domain.PledgeStatusPending, domain.PledgeStatusAuthorized, p.Version+1)
	})
}

// Capture settles an AUTHORIZED pledge. The status flip, the project
// CurrentAmount increment and the PLEDGE_CAPTURED outbox entry commit in one
// transaction; the compare-and-swap on pledge status makes concurrent
// capture calls apply exactly once.
func (s *Service) Capture(ctx context.Context, pledgeID uuid.UUID) error {
	p, err := s.PledgeRepo.GetByID(ctx, pledgeID)
	if err != nil {
		return fmt.Errorf("Service - Capture - s.PledgeRepo.GetByID: %w", err)
	}

	if p.Status != domain.PledgeStatusAuthorized {
		return domain.NewStateConflictError("pledge", string(p.Status), string(domain.PledgeStatusCaptured))
	}

	project, err := s.ProjectRepo.GetByID(ctx, p.ProjectID)
	if err != nil {
		return fmt.Errorf("Service - Capture - s.ProjectRepo.GetByID: %w", err)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.GatewayTimeout)
	defer cancel()

	if _, err := s.Gateway.Capture(gwCtx, p.PaymentID); err != nil {
		return domain.NewTransientError("gateway capture", err)
	}

	return s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.PledgeRepo.UpdateStatus(ctx, p.ID, domain.PledgeStatusAuthorized, domain.PledgeStatusCaptured, p.Version); err != nil {
			return err
		}
		if err := s.ProjectRepo.AdjustCurrentAmount(ctx, project.ID, p.Amount, project.Version); err != nil {
			return err
		}
		return s.Outbox.AppendEvent(ctx, domain.EventTypePledgeCaptured, domain.AggregateTypePledge, p.ID, capturedPayload{
			PledgeID:  p.ID,
			ProjectID: p.ProjectID,
			PayerID:   p.PayerID,
			Amount:    p.Amount.String(),
		})
	})
}

// Refund returns part or all of a CAPTURED pledge. A full refund moves the
// pledge to REFUNDED; a partial refund only accumulates RefundAmount. The
// project's CurrentAmount decreases by the refunded amount in the same
// transaction.
func (s *Service) Refund(ctx context.Context, pledgeID uuid.UUID, amount decimal.Decimal, reason string) error {
	if !money.IsPositive(amount) {
		return domain.NewValidationError("refund amount must be positive")
	}

	p, err := s.PledgeRepo.GetByID(ctx, pledgeID)
	if err != nil {
		return fmt.Errorf("Service - Refund - s.PledgeRepo.GetByID: %w", err)
	}

	if p.Status != domain.PledgeStatusCaptured {
		return domain.NewStateConflictError("pledge", string(p.Status), string(domain.PledgeStatusRefunded))
	}

	if amount.GreaterThan(p.Refundable()) {
		return domain.NewValidationError("refund amount exceeds refundable balance")
	}

	project, err := s.ProjectRepo.GetByID(ctx, p.ProjectID)
	if err != nil {
		return fmt.Errorf("Service - Refund - s.ProjectRepo.GetByID: %w", err)
	}

	if err := s.refundAllowed(ctx, project, amount); err != nil {
		return err
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.GatewayTimeout)
	defer cancel()

	if _, err := s.Gateway.Refund(gwCtx, p.PaymentID, amount); err != nil {
		return domain.NewTransientError("gateway refund", err)
	}

	toStatus := p.Status
	if amount.Equal(p.Refundable()) {
		toStatus = domain.PledgeStatusRefunded
	}

	return s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.PledgeRepo.AddRefund(ctx, p.ID, amount, toStatus, p.Version); err != nil {
			return err
		}
		if err := s.ProjectRepo.AdjustCurrentAmount(ctx, project.ID, amount.Neg(), project.Version); err != nil {
			return err
		}
		return s.Outbox.AppendEvent(ctx, domain.EventTypePledgeRefunded, domain.AggregateTypePledge, p.ID, refundedPayload{
			PledgeID:  p.ID,
			ProjectID: p.ProjectID,
			PayerID:   p.PayerID,
			Amount:    amount.String(),
			Reason:    reason,
		})
	})
}

// Cancel voids a pledge that never reached capture
func (s *Service) Cancel(ctx context.Context, pledgeID uuid.UUID) error {
	p, err := s.PledgeRepo.GetByID(ctx, pledgeID)
	if err != nil {
		return fmt.Errorf("Service - Cancel - s.PledgeRepo.GetByID: %w", err)
	}

	if p.Status != domain.PledgeStatusPending && p.Status != domain.PledgeStatusAuthorized {
		return domain.NewStateConflictError("pledge", string(p.Status), string(domain.PledgeStatusCancelled))
	}

	return s.PledgeRepo.UpdateStatus(ctx, p.ID, p.Status, domain.PledgeStatusCancelled, p.Version)
}

// refundAllowed enforces the project-status gate on refunds. Once the
// project is splitting or has closed, the collected total is frozen. During
// EXECUTING the refund must also leave enough to cover the budget already
// committed to executions.
func (s *Service) refundAllowed(ctx context.Context, project *domain.FundingProject, amount decimal.Decimal) error {
	switch project.Status {
	case domain.ProjectStatusDistributing, domain.ProjectStatusClosed:
		return domain.NewStateConflictError("project", string(project.Status), "refund")
	case domain.ProjectStatusExecuting:
		executions, err := s.ExecutionRepo.ListByProject(ctx, project.ID)
		if err != nil {
			return fmt.Errorf("Service - refundAllowed - s.ExecutionRepo.ListByProject: %w", err)
		}

		committed := decimal.Zero
		for _, e := range executions {
			if e.Status != domain.ExecutionStatusRejected {
				committed = committed.Add(e.BudgetAmount)
			}
		}

		if project.CurrentAmount.Sub(amount).LessThan(committed) {
			return domain.NewValidationError("refund would drop raised funds below committed budget")
		}
	}

	return nil
}
