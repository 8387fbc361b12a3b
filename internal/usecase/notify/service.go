// Package notify turns outbox events into user notifications.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fundlane/fundlane-backend/internal/domain"
)

const (
	TemplatePledgeCaptured       = "pledge_captured"
	TemplatePledgeRefunded       = "pledge_refunded"
	TemplateProjectStatusChanged = "project_status_changed"
)

// Service decodes event payloads and forwards them to the dispatcher.
// Every handler returns an error on malformed payloads so the outbox
// retry path is exercised instead of silently dropping the event.
type Service struct {
	Dispatcher  domain.NotificationDispatcher
	ProjectRepo domain.ProjectRepository
	Logger      *slog.Logger
}

func NewService(dispatcher domain.NotificationDispatcher, projectRepo domain.ProjectRepository, logger *slog.Logger) *Service {
	return &Service{
		Dispatcher:  dispatcher,
		ProjectRepo: projectRepo,
		Logger:      logger,
	}
}

type pledgeCapturedPayload struct {
	PledgeID  uuid.UUID `json:"pledge_id"`
	ProjectID uuid.UUID `json:"project_id"`
	PayerID   uuid.UUID `json:"payer_id"`
	Amount    string    `json:"amount"`
}

type pledgeRefundedPayload struct {
	PledgeID  uuid.UUID `json:"pledge_id"`
	ProjectID uuid.UUID `json:"project_id"`
	PayerID   uuid.UUID `json:"payer_id"`
	Amount    string    `json:"amount"`
	Reason    string    `json:"reason"`
}

type projectStatusChangedPayload struct {
	ProjectID uuid.UUID `json:"project_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
}

// HandlePledgeCaptured notifies the payer that their pledge settled.
func (s *Service) HandlePledgeCaptured(ctx context.Context, event *domain.EventLog) error {
	var p pledgeCapturedPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("Service - HandlePledgeCaptured - json.Unmarshal: %w", err)
	}

	err := s.Dispatcher.Send(ctx, p.PayerID, TemplatePledgeCaptured, map[string]string{
		"pledge_id":  p.PledgeID.String(),
		"project_id": p.ProjectID.String(),
		"amount":     p.Amount,
	})
	if err != nil {
		return fmt.Errorf("Service - HandlePledgeCaptured - s.Dispatcher.Send: %w", err)
	}

	s.Logger.Info("pledge captured notification sent",
		slog.String("pledge_id", p.PledgeID.String()),
		slog.String("payer_id", p.PayerID.String()))
	return nil
}

// HandlePledgeRefunded notifies the payer about a partial or full refund.
func (s *Service) HandlePledgeRefunded(ctx context.Context, event *domain.EventLog) error {
	var p pledgeRefundedPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("Service - HandlePledgeRefunded - json.Unmarshal: %w", err)
	}

	err := s.Dispatcher.Send(ctx, p.PayerID, TemplatePledgeRefunded, map[string]string{
		"pledge_id":  p.PledgeID.String(),
		"project_id": p.ProjectID.String(),
		"amount":     p.Amount,
		"reason":     p.Reason,
	})
	if err != nil {
		return fmt.Errorf("Service - HandlePledgeRefunded - s.Dispatcher.Send: %w", err)
	}

	s.Logger.Info("pledge refunded notification sent",
		slog.String("pledge_id", p.PledgeID.String()),
		slog.String("payer_id", p.PayerID.String()))
	return nil
}

// HandleProjectStatusChanged notifies the project owner of a lifecycle
// transition. The owner is resolved from the current project record.
func (s *Service) HandleProjectStatusChanged(ctx context.Context, event *domain.EventLog) error {
	var p projectStatusChangedPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("Service - HandleProjectStatusChanged - json.Unmarshal: %w", err)
	}

	project, err := s.ProjectRepo.GetByID(ctx, p.ProjectID)
	if err != nil {
		return fmt.Errorf("Service - HandleProjectStatusChanged - s.ProjectRepo.GetByID: %w", err)
	}

	err = s.Dispatcher.Send(ctx, project.OwnerID, TemplateProjectStatusChanged, map[string]string{
		"project_id": p.ProjectID.String(),
		"title":      project.Title,
		"from":       p.From,
		"to":         p.To,
	})
	if err != nil {
		return fmt.Errorf("Service - HandleProjectStatusChanged - s.Dispatcher.Send: %w", err)
	}

	s.Logger.Info("project status notification sent",
		slog.String("project_id", p.ProjectID.String()),
		slog.String("to", p.To))
	return nil
}
