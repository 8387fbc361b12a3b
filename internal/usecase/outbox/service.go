package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fundlane/fundlane-backend/internal/domain"
)

// Handler processes one outbox event. Delivery is at-least-once, so handlers
// must be idempotent.
type Handler func(ctx context.Context, event *domain.EventLog) error

// Service owns the durable event log: transactional appends, due-event
// dispatch with exponential backoff, and the operator escape hatches for
// terminal events.
type Service struct {
	EventRepo       domain.EventRepository
	Clock           domain.Clock
	BackoffBase     time.Duration
	MaxRetries      int
	HandlerTimeout  time.Duration
	StaleClaimAfter time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewService creates a new outbox Service instance
func NewService(eventRepo domain.EventRepository, clock domain.Clock, backoffBase time.Duration, maxRetries int, handlerTimeout, staleClaimAfter time.Duration) *Service {
	return &Service{
		EventRepo:       eventRepo,
		Clock:           clock,
		BackoffBase:     backoffBase,
		MaxRetries:      maxRetries,
		HandlerTimeout:  handlerTimeout,
		StaleClaimAfter: staleClaimAfter,
		handlers:        make(map[string]Handler),
	}
}

// Register installs the handler for an event type. Later registrations for
// the same type replace earlier ones.
func (s *Service) Register(eventType string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[eventType] = h
}

// AppendEvent inserts a PENDING event due immediately. It joins the
// caller's ambient transaction, so the event commits together with the
// state change that produced it.
func (s *Service) AppendEvent(ctx context.Context, eventType, aggregateType string, aggregateID uuid.UUID, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("Service - AppendEvent - json.Marshal: %w", err)
	}

	now := s.Clock.Now()
	event := &domain.EventLog{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       body,
		Status:        domain.EventStatusPending,
		RetryCount:    0,
		MaxRetries:    s.MaxRetries,
		NextAttemptAt: now,
		CreatedAt:     now,
	}

	if err := s.EventRepo.Append(ctx, event); err != nil {
		return fmt.Errorf("Service - AppendEvent - s.EventRepo.Append: %w", err)
	}

	return nil
}

// DueEvents returns PENDING events whose next attempt is due, in creation
// order, capped at limit
func (s *Service) DueEvents(ctx context.Context, limit int) ([]*domain.EventLog, error) {
	events, err := s.EventRepo.ListDue(ctx, s.Clock.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("Service - DueEvents - s.EventRepo.ListDue: %w", err)
	}
	return events, nil
}

// DispatchDue processes every due event sequentially in creation order.
// The relay uses DueEvents plus Dispatch instead to parallelize across
// aggregates.
func (s *Service) DispatchDue(ctx context.Context, limit int) error {
	events, err := s.DueEvents(ctx, limit)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := s.Dispatch(ctx, event); err != nil {
			return err
		}
	}

	return nil
}

// Dispatch attempts delivery of a single event. Anything not PENDING is
// skipped (covers cancellation between selection and claim). A failed
// attempt either reschedules the event with backoff or, once the retry
// budget is spent, freezes it as FAILED.
func (s *Service) Dispatch(ctx context.Context, event *domain.EventLog) error {
	if event.Status != domain.EventStatusPending {
		return nil
	}

	// Claim on status and retryCount together: a stale copy of an event
	// that already failed and was rescheduled carries the old counter and
	// loses here, so retryCount stays monotonic and the backoff window
	// holds.
	if err := s.EventRepo.MarkProcessing(ctx, event.ID, event.RetryCount, s.Clock.Now()); err != nil {
		// Lost the claim race or the event was cancelled meanwhile
		if domain.IsStateConflict(err) {
			return nil
		}
		return fmt.Errorf("Service - Dispatch - s.EventRepo.MarkProcessing: %w", err)
	}

	handlerErr := s.invoke(ctx, event)
	now := s.Clock.Now()

	if handlerErr == nil {
		if err := s.EventRepo.MarkCompleted(ctx, event.ID, now); err != nil {
			return fmt.Errorf("Service - Dispatch - s.EventRepo.MarkCompleted: %w", err)
		}
		event.Status = domain.EventStatusCompleted
		event.ProcessedAt = &now
		return nil
	}

	retryCount := event.RetryCount + 1
	maxRetries := event.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.MaxRetries
	}

	if retryCount >= maxRetries {
		if err := s.EventRepo.MarkFailed(ctx, event.ID, retryCount, handlerErr.Error()); err != nil {
			return fmt.Errorf("Service - Dispatch - s.EventRepo.MarkFailed: %w", err)
		}
		event.Status = domain.EventStatusFailed
		event.RetryCount = retryCount
		event.LastError = handlerErr.Error()
		return nil
	}

	nextAttemptAt := now.Add(s.backoff(retryCount))
	if err := s.EventRepo.Reschedule(ctx, event.ID, retryCount, nextAttemptAt, handlerErr.Error()); err != nil {
		return fmt.Errorf("Service - Dispatch - s.EventRepo.Reschedule: %w", err)
	}
	event.Status = domain.EventStatusPending
	event.RetryCount = retryCount
	event.NextAttemptAt = nextAttemptAt
	event.LastError = handlerErr.Error()
	return nil
}

// Cancel voids a PENDING event invalidated by a later compensating action
func (s *Service) Cancel(ctx context.Context, eventID uuid.UUID) error {
	if err := s.EventRepo.MarkCancelled(ctx, eventID); err != nil {
		return fmt.Errorf("Service - Cancel - s.EventRepo.MarkCancelled: %w", err)
	}
	return nil
}

// Replay returns a FAILED event to PENDING with a fresh retry budget, due
// immediately. This is the manual recovery path after operator
// intervention.
func (s *Service) Replay(ctx context.Context, eventID uuid.UUID) error {
	if err := s.EventRepo.Replay(ctx, eventID, s.Clock.Now()); err != nil {
		return fmt.Errorf("Service - Replay - s.EventRepo.Replay: %w", err)
	}
	return nil
}

// ReclaimStale returns PROCESSING events whose claim outlived the stale
// window to PENDING, preserving their retry counters. This recovers events
// stranded by a worker that died between claiming and finishing, keeping
// delivery at-least-once.
func (s *Service) ReclaimStale(ctx context.Context, limit int) (int, error) {
	cutoff := s.Clock.Now().Add(-s.StaleClaimAfter)
	reclaimed, err := s.EventRepo.ReclaimStale(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("Service - ReclaimStale - s.EventRepo.ReclaimStale: %w", err)
	}
	return reclaimed, nil
}

// invoke runs the registered handler under the configured timeout. A
// timeout counts as failure, never as implicit success.
func (s *Service) invoke(ctx context.Context, event *domain.EventLog) error {
	s.mu.RLock()
	h, ok := s.handlers[event.EventType]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no handler registered for event type %s", event.EventType)
	}

	hCtx, cancel := context.WithTimeout(ctx, s.HandlerTimeout)
	defer cancel()

	return h(hCtx, event)
}

// backoff returns base * 2^retryCount
func (s *Service) backoff(retryCount int) time.Duration {
	d := s.BackoffBase
	for i := 0; i < retryCount; i++ {
		d *= 2
	}
	return d
}
