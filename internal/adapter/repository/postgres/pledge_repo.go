package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/fundlane/fundlane-backend/internal/domain"
)

// uniqueViolation is the postgres error code raised by the
// (project_id, payer_id, idempotency_key) unique index
const uniqueViolation = "23505"

// pledgeRepository implements domain.PledgeRepository
type pledgeRepository struct {
	db *DB
}

// NewPledgeRepository creates a new pledge repository
func NewPledgeRepository(db *DB) domain.PledgeRepository {
	return &pledgeRepository{db: db}
}

const pledgeColumns = `id, project_id, payer_id, amount, refund_amount, status, idempotency_key, payment_id, method, created_at, version`

func (r *pledgeRepository) scanPledge(row interface{ Scan(dest ...any) error }) (*domain.Pledge, error) {
	var pledge domain.Pledge
	var amountStr, refundStr string

	err := row.Scan(
		&pledge.ID,
		&pledge.ProjectID,
		&pledge.PayerID,
		&amountStr,
		&refundStr,
		&pledge.Status,
		&pledge.IdempotencyKey,
		&pledge.PaymentID,
		&pledge.Method,
		&pledge.CreatedAt,
		&pledge.Version,
	)
	if err != nil {
		return nil, err
	}

	if pledge.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	if pledge.RefundAmount, err = decimal.NewFromString(refundStr); err != nil {
		return nil, fmt.Errorf("failed to parse refund_amount: %w", err)
	}

	return &pledge, nil
}

// GetByID retrieves a pledge by its ID
func (r *pledgeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Pledge, error) {
	query := `SELECT ` + pledgeColumns + ` FROM pledges WHERE id = $1`

	pledge, err := r.scanPledge(r.db.exec(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pledge by ID: %w", err)
	}

	return pledge, nil
}

// GetByIdempotencyKey retrieves the pledge for one intake attempt
func (r *pledgeRepository) GetByIdempotencyKey(ctx context.Context, projectID, payerID uuid.UUID, key string) (*domain.Pledge, error) {
	query := `SELECT ` + pledgeColumns + ` FROM pledges WHERE project_id = $1 AND payer_id = $2 AND idempotency_key = $3`

	pledge, err := r.scanPledge(r.db.exec(ctx).QueryRowContext(ctx, query, projectID, payerID, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pledge by idempotency key: %w", err)
	}

	return pledge, nil
}

// Create inserts a pledge. The unique index on (project_id, payer_id,
// idempotency_key) surfaces concurrent duplicate intakes.
func (r *pledgeRepository) Create(ctx context.Context, pledge *domain.Pledge) error {
	query := `
		INSERT INTO pledges (` + pledgeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.exec(ctx).ExecContext(ctx, query,
		pledge.ID,
		pledge.ProjectID,
		pledge.PayerID,
		pledge.Amount.String(),
		pledge.RefundAmount.String(),
		string(pledge.Status),
		pledge.IdempotencyKey,
		pledge.PaymentID,
		pledge.Method,
		pledge.CreatedAt,
		pledge.Version,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return domain.ErrDuplicatePledge
		}
		return fmt.Errorf("failed to create pledge: %w", err)
	}

	return nil
}

// UpdateStatus applies a guarded status transition
func (r *pledgeRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.PledgeStatus, version int) error {
	query := `
		UPDATE pledges
		SET status = $1, version = version + 1
		WHERE id = $2 AND status = $3 AND version = $4
	`

	result, err := r.db.exec(ctx).ExecContext(ctx, query, string(to), id, string(from), version)
	if err != nil {
		return fmt.Errorf("failed to update pledge status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NewStateConflictError("pledge", string(from), string(to))
	}

	return nil
}

// SetPaymentID records the gateway token obtained on authorize
func (r *pledgeRepository) SetPaymentID(ctx context.Context, id uuid.UUID, paymentID string, version int) error {
	query := `
		UPDATE pledges
		SET payment_id = $1, version = version + 1
		WHERE id = $2 AND version = $3
	`

	result, err := r.db.exec(ctx).ExecContext(ctx, query, paymentID, id, version)
	if err != nil {
		return fmt.Errorf("failed to set pledge payment ID: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NewStateConflictError("pledge", "payment_id", paymentID)
	}

	return nil
}

// AddRefund accumulates a refund, optionally moving the pledge to REFUNDED.
// The guard refuses refunds that would exceed the pledged amount.
func (r *pledgeRepository) AddRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, toStatus domain.PledgeStatus, version int) error {
	query := `
		UPDATE pledges
		SET refund_amount = refund_amount + $1, status = $2, version = version + 1
		WHERE id = $3 AND version = $4 AND refund_amount + $1 <= amount
	`

	result, err := r.db.exec(ctx).ExecContext(ctx, query, amount.String(), string(toStatus), id, version)
	if err != nil {
		return fmt.Errorf("failed to add pledge refund: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NewStateConflictError("pledge", "refund", amount.String())
	}

	return nil
}

// ListByProject retrieves all pledges for a project, newest first
func (r *pledgeRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*domain.Pledge, error) {
	query := `SELECT ` + pledgeColumns + ` FROM pledges WHERE project_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.exec(ctx).QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pledges: %w", err)
	}
	defer rows.Close()

	var pledges []*domain.Pledge
	for rows.Next() {
		pledge, err := r.scanPledge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pledge: %w", err)
		}
		pledges = append(pledges, pledge)
	}

	return pledges, rows.Err()
}
