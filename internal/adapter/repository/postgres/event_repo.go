package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/fundlane/fundlane-backend/internal/domain"
)

// eventRepository implements domain.EventRepository
type eventRepository struct {
	db *DB
}

// NewEventRepository creates a new outbox event repository
func NewEventRepository(db *DB) domain.EventRepository {
	return &eventRepository{db: db}
}

var eventColumns = []string{
	"id", "event_type", "aggregate_type", "aggregate_id", "payload",
	"status", "retry_count", "max_retries", "next_attempt_at",
	"claimed_at", "processed_at", "last_error", "created_at",
}

func (r *eventRepository) scanEvent(row interface{ Scan(dest ...any) error }) (*domain.EventLog, error) {
	var event domain.EventLog
	var claimedAt, processedAt sql.NullTime

	err := row.Scan(
		&event.ID,
		&event.EventType,
		&event.AggregateType,
		&event.AggregateID,
		&event.Payload,
		&event.Status,
		&event.RetryCount,
		&event.MaxRetries,
		&event.NextAttemptAt,
		&claimedAt,
		&processedAt,
		&event.LastError,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if claimedAt.Valid {
		event.ClaimedAt = &claimedAt.Time
	}
	if processedAt.Valid {
		event.ProcessedAt = &processedAt.Time
	}

	return &event, nil
}

// Append inserts a PENDING event, joining the caller's ambient transaction
func (r *eventRepository) Append(ctx context.Context, event *domain.EventLog) error {
	var claimedAt, processedAt any
	if event.ClaimedAt != nil {
		claimedAt = *event.ClaimedAt
	}
	if event.ProcessedAt != nil {
		processedAt = *event.ProcessedAt
	}

	query, args, err := r.db.Builder.
		Insert("outbox_events").
		Columns(eventColumns...).
		Values(
			event.ID,
			event.EventType,
			event.AggregateType,
			event.AggregateID,
			event.Payload,
			string(event.Status),
			event.RetryCount,
			event.MaxRetries,
			event.NextAttemptAt,
			claimedAt,
			processedAt,
			event.LastError,
			event.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build event insert: %w", err)
	}

	if _, err := r.db.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// GetByID retrieves an event by its ID
func (r *eventRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.EventLog, error) {
	query, args, err := r.db.Builder.
		Select(eventColumns...).
		From("outbox_events").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build event select: %w", err)
	}

	event, err := r.scanEvent(r.db.exec(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event by ID: %w", err)
	}

	return event, nil
}

// ListDue retrieves PENDING events whose next attempt time has arrived,
// ordered by creation time
func (r *eventRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.EventLog, error) {
	query, args, err := r.db.Builder.
		Select(eventColumns...).
		From("outbox_events").
		Where(sq.Eq{"status": string(domain.EventStatusPending)}).
		Where(sq.LtOrEq{"next_attempt_at": now}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build due events select: %w", err)
	}

	rows, err := r.db.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list due events: %w", err)
	}
	defer rows.Close()

	var events []*domain.EventLog
	for rows.Next() {
		event, err := r.scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

func (r *eventRepository) update(ctx context.Context, builder sq.UpdateBuilder, entity, from, to string) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build event update: %w", err)
	}

	result, err := r.db.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NewStateConflictError(entity, from, to)
	}

	return nil
}

// MarkProcessing claims a PENDING event. The compare-and-swap covers
// retry_count too, so a stale copy carrying an outdated counter cannot
// re-claim an event that was already retried. A lost claim surfaces as a
// StateConflictError.
func (r *eventRepository) MarkProcessing(ctx context.Context, id uuid.UUID, retryCount int, claimedAt time.Time) error {
	builder := r.db.Builder.
		Update("outbox_events").
		Set("status", string(domain.EventStatusProcessing)).
		Set("claimed_at", claimedAt).
		Where(sq.Eq{
			"id":          id,
			"status":      string(domain.EventStatusPending),
			"retry_count": retryCount,
		})

	return r.update(ctx, builder, "event", string(domain.EventStatusPending), string(domain.EventStatusProcessing))
}

// MarkCompleted finalizes a PROCESSING event
func (r *eventRepository) MarkCompleted(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	builder := r.db.Builder.
		Update("outbox_events").
		Set("status", string(domain.EventStatusCompleted)).
		Set("processed_at", processedAt).
		Where(sq.Eq{"id": id, "status": string(domain.EventStatusProcessing)})

	return r.update(ctx, builder, "event", string(domain.EventStatusProcessing), string(domain.EventStatusCompleted))
}

// Reschedule returns a PROCESSING event to PENDING for a later attempt
func (r *eventRepository) Reschedule(ctx context.Context, id uuid.UUID, retryCount int, nextAttemptAt time.Time, lastError string) error {
	builder := r.db.Builder.
		Update("outbox_events").
		Set("status", string(domain.EventStatusPending)).
		Set("claimed_at", nil).
		Set("retry_count", retryCount).
		Set("next_attempt_at", nextAttemptAt).
		Set("last_error", lastError).
		Where(sq.Eq{"id": id, "status": string(domain.EventStatusProcessing)})

	return r.update(ctx, builder, "event", string(domain.EventStatusProcessing), string(domain.EventStatusPending))
}

// MarkFailed moves a PROCESSING event to terminal FAILED
func (r *eventRepository) MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, lastError string) error {
	builder := r.db.Builder.
		Update("outbox_events").
		Set("status", string(domain.EventStatusFailed)).
		Set("retry_count", retryCount).
		Set("last_error", lastError).
		Where(sq.Eq{"id": id, "status": string(domain.EventStatusProcessing)})

	return r.update(ctx, builder, "event", string(domain.EventStatusProcessing), string(domain.EventStatusFailed))
}

// MarkCancelled moves a PENDING event to terminal CANCELLED
func (r *eventRepository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	builder := r.db.Builder.
		Update("outbox_events").
		Set("status", string(domain.EventStatusCancelled)).
		Where(sq.Eq{"id": id, "status": string(domain.EventStatusPending)})

	return r.update(ctx, builder, "event", string(domain.EventStatusPending), string(domain.EventStatusCancelled))
}

// Replay returns a FAILED event to PENDING with counters reset
func (r *eventRepository) Replay(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	builder := r.db.Builder.
		Update("outbox_events").
		Set("status", string(domain.EventStatusPending)).
		Set("claimed_at", nil).
		Set("retry_count", 0).
		Set("next_attempt_at", nextAttemptAt).
		Set("last_error", "").
		Where(sq.Eq{"id": id, "status": string(domain.EventStatusFailed)})

	return r.update(ctx, builder, "event", string(domain.EventStatusFailed), string(domain.EventStatusPending))
}

// ReclaimStale returns PROCESSING events whose claim is older than the
// cutoff to PENDING. The subselect caps the batch so a large backlog is
// drained over successive polls.
func (r *eventRepository) ReclaimStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	query := `
		UPDATE outbox_events
		SET status = $1, claimed_at = NULL
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = $2 AND claimed_at <= $3
			ORDER BY claimed_at ASC
			LIMIT $4
		)`

	result, err := r.db.exec(ctx).ExecContext(ctx, query,
		string(domain.EventStatusPending), string(domain.EventStatusProcessing), cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale events: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return int(affected), nil
}
