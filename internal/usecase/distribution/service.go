package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fundlane/fundlane-backend/internal/domain"
	"github.com/fundlane/fundlane-backend/internal/usecase/splitter"
)

// Service manages the revenue distribution lifecycle: rule snapshot,
// calculation and per-item payout execution
type Service struct {
	ProjectRepo      domain.ProjectRepository
	DistributionRepo domain.DistributionRepository
	Gateway          domain.PaymentGateway
	Outbox           domain.EventAppender
	Tx               domain.Atomic
	Clock            domain.Clock
	PayoutTimeout    time.Duration
}

// NewService creates a new distribution Service instance
func NewService(
	projectRepo domain.ProjectRepository,
	distributionRepo domain.DistributionRepository,
	gateway domain.PaymentGateway,
	outbox domain.EventAppender,
	tx domain.Atomic,
	clock domain.Clock,
	payoutTimeout time.Duration,
) *Service {
	return &Service{
		ProjectRepo:      projectRepo,
		DistributionRepo: distributionRepo,
		Gateway:          gateway,
		Outbox:           outbox,
		Tx:               tx,
		Clock:            clock,
		PayoutTimeout:    payoutTimeout,
	}
}

// executedPayload is the DISTRIBUTION_EXECUTED event body
type executedPayload struct {
	DistributionID uuid.UUID `json:"distribution_id"`
	ProjectID      uuid.UUID `json:"project_id"`
	TotalAmount    string    `json:"total_amount"`
	ItemCount      int       `json:"item_count"`
}

// Create snapshots the project's raised funds as the distribution total and
// stores the configured rules. One distribution per project.
func (s *Service) Create(ctx context.Context, projectID uuid.UUID, rules []domain.DistributionRule) (*domain.Distribution, error) {
	project, err := s.ProjectRepo.GetByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("Service - Create - s.ProjectRepo.GetByID: %w", err)
	}

	if project.Status != domain.ProjectStatusExecuting && project.Status != domain.ProjectStatusDistributing {
		return nil, domain.NewStateConflictError("project", string(project.Status), "create distribution")
	}

	if _, err := s.DistributionRepo.GetByProject(ctx, projectID); err == nil {
		return nil, domain.NewStateConflictError("distribution", "exists", "create")
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("Service - Create - s.DistributionRepo.GetByProject: %w", err)
	}

	d := &domain.Distribution{
		ID:          uuid.New(),
		ProjectID:   projectID,
		TotalAmount: project.CurrentAmount,
		Rules:       rules,
		Status:      domain.DistributionStatusPending,
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	if err := s.DistributionRepo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("Service - Create - s.DistributionRepo.Create: %w", err)
	}

	return d, nil
}

// Calculate computes the payout items from the snapshot and rules. A
// calculation failure is the only thing that moves a distribution to FAILED.
func (s *Service) Calculate(ctx context.Context, distributionID uuid.UUID) (*domain.Distribution, error) {
	d, err := s.DistributionRepo.GetByID(ctx, distributionID)
	if err != nil {
		return nil, fmt.Errorf("Service - Calculate - s.DistributionRepo.GetByID: %w", err)
	}

	if d.Status != domain.DistributionStatusPending {
		return nil, domain.NewStateConflictError("distribution", string(d.Status), string(domain.DistributionStatusCalculated))
	}

	items, err := splitter.Compute(d.ID, d.TotalAmount, d.Rules)
	if err != nil {
		if markErr := s.DistributionRepo.UpdateStatus(ctx, d.ID, d.Status, domain.DistributionStatusFailed, d.Version); markErr != nil {
			return nil, fmt.Errorf("Service - Calculate - mark failed: %w", markErr)
		}
		return nil, err
	}

	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.DistributionRepo.SaveItems(ctx, d.ID, items); err != nil {
			return err
		}
		return s.DistributionRepo.UpdateStatus(ctx, d.ID, domain.DistributionStatusPending, domain.DistributionStatusCalculated, d.Version)
	})
	if err != nil {
		return nil, fmt.Errorf("Service - Calculate - s.Tx.WithinTx: %w", err)
	}

	d.Items = items
	d.Status = domain.DistributionStatusCalculated
	return d, nil
}

// Execute moves a CALCULATED distribution to EXECUTED and pays out each item
// independently. An item failure never rolls back completed siblings and
// never fails the distribution itself; it surfaces on the item.
func (s *Service) Execute(ctx context.Context, distributionID uuid.UUID) error {
	d, err := s.DistributionRepo.GetByID(ctx, distributionID)
	if err != nil {
		return fmt.Errorf("Service - Execute - s.DistributionRepo.GetByID: %w", err)
	}

	if d.Status != domain.DistributionStatusCalculated {
		return domain.NewStateConflictError("distribution", string(d.Status), string(domain.DistributionStatusExecuted))
	}

	// CAS on the distribution row keeps a concurrent Execute from paying
	// anything twice; the loser gets a StateConflictError here.
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.DistributionRepo.UpdateStatus(ctx, d.ID, domain.DistributionStatusCalculated, domain.DistributionStatusExecuted, d.Version); err != nil {
			return err
		}
		return s.Outbox.AppendEvent(ctx, domain.EventTypeDistributionExecuted, domain.AggregateTypeDistribution, d.ID, executedPayload{
			DistributionID: d.ID,
			ProjectID:      d.ProjectID,
			TotalAmount:    d.TotalAmount.String(),
			ItemCount:      len(d.Items),
		})
	})
	if err != nil {
		return fmt.Errorf("Service - Execute - s.Tx.WithinTx: %w", err)
	}

	for i := range d.Items {
		s.payoutItem(ctx, &d.Items[i])
	}

	return nil
}

// payoutItem walks one item through PENDING -> PROCESSING -> COMPLETED or
// FAILED. A gateway timeout counts as failure, never as implicit success.
func (s *Service) payoutItem(ctx context.Context, item *domain.DistributionItem) {
	if err := s.DistributionRepo.UpdateItem(ctx, item.ID, domain.DistributionItemStatusPending, domain.DistributionItemStatusProcessing, "", ""); err != nil {
		// Item already claimed or finished; leave it alone
		return
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.PayoutTimeout)
	defer cancel()

	receiptRef, err := s.Gateway.Payout(gwCtx, item.RecipientID, item.Amount)
	if err != nil {
		item.Status = domain.DistributionItemStatusFailed
		item.LastError = err.Error()
		_ = s.DistributionRepo.UpdateItem(ctx, item.ID, domain.DistributionItemStatusProcessing, domain.DistributionItemStatusFailed, "", err.Error())
		return
	}

	item.Status = domain.DistributionItemStatusCompleted
	item.ReceiptRef = receiptRef
	_ = s.DistributionRepo.UpdateItem(ctx, item.ID, domain.DistributionItemStatusProcessing, domain.DistributionItemStatusCompleted, receiptRef, "")
}

// RetryItem re-runs the payout for a single FAILED item after the underlying
// cause is fixed. The distribution itself stays EXECUTED throughout.
func (s *Service) RetryItem(ctx context.Context, distributionID, itemID uuid.UUID) error {
	d, err := s.DistributionRepo.GetByID(ctx, distributionID)
	if err != nil {
		return fmt.Errorf("Service - RetryItem - s.DistributionRepo.GetByID: %w", err)
	}

	if d.Status != domain.DistributionStatusExecuted {
		return domain.NewStateConflictError("distribution", string(d.Status), "retry item")
	}

	for i := range d.Items {
		if d.Items[i].ID != itemID {
			continue
		}
		if d.Items[i].Status != domain.DistributionItemStatusFailed {
			return domain.NewStateConflictError("distribution item", string(d.Items[i].Status), "retry")
		}
		if err := s.DistributionRepo.UpdateItem(ctx, itemID, domain.DistributionItemStatusFailed, domain.DistributionItemStatusPending, "", ""); err != nil {
			return err
		}
		d.Items[i].Status = domain.DistributionItemStatusPending
		s.payoutItem(ctx, &d.Items[i])
		return nil
	}

	return fmt.Errorf("Service - RetryItem: %w", domain.ErrNotFound)
}
