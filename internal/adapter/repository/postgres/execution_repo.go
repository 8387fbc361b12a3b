package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fundlane/fundlane-backend/internal/domain"
)

// executionRepository implements domain.ExecutionRepository
type executionRepository struct {
	db *DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(db *DB) domain.ExecutionRepository {
	return &executionRepository{db: db}
}

func (r *executionRepository) scanExecution(row interface{ Scan(dest ...any) error }) (*domain.Execution, error) {
	var execution domain.Execution
	var budgetStr, actualStr string

	err := row.Scan(
		&execution.ID,
		&execution.ProjectID,
		&execution.Title,
		&budgetStr,
		&actualStr,
		&execution.Status,
		&execution.Version,
	)
	if err != nil {
		return nil, err
	}

	if execution.BudgetAmount, err = decimal.NewFromString(budgetStr); err != nil {
		return nil, fmt.Errorf("failed to parse budget_amount: %w", err)
	}
	if execution.ActualAmount, err = decimal.NewFromString(actualStr); err != nil {
		return nil, fmt.Errorf("failed to parse actual_amount: %w", err)
	}

	return &execution, nil
}

// GetByID retrieves an execution with its receipts
func (r *executionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	query := `
		SELECT id, project_id, title, budget_amount, actual_amount, status, version
		FROM executions
		WHERE id = $1
	`

	execution, err := r.scanExecution(r.db.exec(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get execution by ID: %w", err)
	}

	receipts, err := r.loadReceipts(ctx, id)
	if err != nil {
		return nil, err
	}
	execution.Receipts = receipts

	return execution, nil
}

func (r *executionRepository) loadReceipts(ctx context.Context, executionID uuid.UUID) ([]domain.Receipt, error) {
	query := `
		SELECT id, execution_id, description, amount, filed_at
		FROM execution_receipts
		WHERE execution_id = $1
		ORDER BY filed_at ASC
	`

	rows, err := r.db.exec(ctx).QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []domain.Receipt
	for rows.Next() {
		var receipt domain.Receipt
		var amountStr string

		err := rows.Scan(&receipt.ID, &receipt.ExecutionID, &receipt.Description, &amountStr, &receipt.FiledAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}

		if receipt.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("failed to parse receipt amount: %w", err)
		}

		receipts = append(receipts, receipt)
	}

	return receipts, rows.Err()
}

// Create inserts a new execution
func (r *executionRepository) Create(ctx context.Context, execution *domain.Execution) error {
	query := `
		INSERT INTO executions (id, project_id, title, budget_amount, actual_amount, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.exec(ctx).ExecContext(ctx, query,
		execution.ID,
		execution.ProjectID,
		execution.Title,
		execution.BudgetAmount.String(),
		execution.ActualAmount.String(),
		string(execution.Status),
		execution.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

// UpdateStatus applies a guarded status transition with an actual amount
func (r *executionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.ExecutionStatus, actualAmount decimal.Decimal, version int) error {
	query := `
		UPDATE executions
		SET status = $1, actual_amount = $2, version = version + 1
		WHERE id = $3 AND status = $4 AND version = $5
	`

	result, err := r.db.exec(ctx).ExecContext(ctx, query, string(to), actualAmount.String(), id, string(from), version)
	if err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NewStateConflictError("execution", string(from), string(to))
	}

	return nil
}

// AttachReceipt appends a receipt record
func (r *executionRepository) AttachReceipt(ctx context.Context, receipt *domain.Receipt) error {
	query := `
		INSERT INTO execution_receipts (id, execution_id, description, amount, filed_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.exec(ctx).ExecContext(ctx, query,
		receipt.ID,
		receipt.ExecutionID,
		receipt.Description,
		receipt.Amount.String(),
		receipt.FiledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to attach receipt: %w", err)
	}

	return nil
}

// ListByProject retrieves all executions for a project
func (r *executionRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*domain.Execution, error) {
	query := `
		SELECT id, project_id, title, budget_amount, actual_amount, status, version
		FROM executions
		WHERE project_id = $1
	`

	rows, err := r.db.exec(ctx).QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*domain.Execution
	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, execution)
	}

	return executions, rows.Err()
}
