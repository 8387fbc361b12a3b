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

// distributionRepository implements domain.DistributionRepository
type distributionRepository struct {
	db *DB
}

// NewDistributionRepository creates a new distribution repository
func NewDistributionRepository(db *DB) domain.DistributionRepository {
	return &distributionRepository{db: db}
}

// GetByID retrieves a distribution with its rules and items
func (r *distributionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Distribution, error) {
	query := `
		SELECT id, project_id, total_amount, status, version
		FROM distributions
		WHERE id = $1
	`

	return r.getOne(ctx, query, id)
}

// GetByProject retrieves the distribution for a project, if any
func (r *distributionRepository) GetByProject(ctx context.Context, projectID uuid.UUID) (*domain.Distribution, error) {
	query := `
		SELECT id, project_id, total_amount, status, version
		FROM distributions
		WHERE project_id = $1
	`

	return r.getOne(ctx, query, projectID)
}

func (r *distributionRepository) getOne(ctx context.Context, query string, arg any) (*domain.Distribution, error) {
	var dist domain.Distribution
	var totalStr string

	err := r.db.exec(ctx).QueryRowContext(ctx, query, arg).Scan(
		&dist.ID,
		&dist.ProjectID,
		&totalStr,
		&dist.Status,
		&dist.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get distribution: %w", err)
	}

	if dist.TotalAmount, err = decimal.NewFromString(totalStr); err != nil {
		return nil, fmt.Errorf("failed to parse total_amount: %w", err)
	}

	if dist.Rules, err = r.loadRules(ctx, dist.ID); err != nil {
		return nil, err
	}
	if dist.Items, err = r.loadItems(ctx, dist.ID); err != nil {
		return nil, err
	}

	return &dist, nil
}

func (r *distributionRepository) loadRules(ctx context.Context, distributionID uuid.UUID) ([]domain.DistributionRule, error) {
	query := `
		SELECT id, rule_type, percentage, fixed_amount, recipient_id, priority
		FROM distribution_rules
		WHERE distribution_id = $1
		ORDER BY priority ASC
	`

	rows, err := r.db.exec(ctx).QueryContext(ctx, query, distributionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list distribution rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.DistributionRule
	for rows.Next() {
		var rule domain.DistributionRule
		var percentStr, fixedStr string

		err := rows.Scan(&rule.ID, &rule.Type, &percentStr, &fixedStr, &rule.RecipientID, &rule.Priority)
		if err != nil {
			return nil, fmt.Errorf("failed to scan distribution rule: %w", err)
		}

		if rule.Percentage, err = decimal.NewFromString(percentStr); err != nil {
			return nil, fmt.Errorf("failed to parse percentage: %w", err)
		}
		if rule.FixedAmount, err = decimal.NewFromString(fixedStr); err != nil {
			return nil, fmt.Errorf("failed to parse fixed_amount: %w", err)
		}

		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func (r *distributionRepository) loadItems(ctx context.Context, distributionID uuid.UUID) ([]domain.DistributionItem, error) {
	query := `
		SELECT id, distribution_id, rule_id, recipient_id, amount, status, receipt_ref, last_error
		FROM distribution_items
		WHERE distribution_id = $1
	`

	rows, err := r.db.exec(ctx).QueryContext(ctx, query, distributionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list distribution items: %w", err)
	}
	defer rows.Close()

	var items []domain.DistributionItem
	for rows.Next() {
		var item domain.DistributionItem
		var amountStr string

		err := rows.Scan(&item.ID, &item.DistributionID, &item.RuleID, &item.RecipientID, &amountStr, &item.Status, &item.ReceiptRef, &item.LastError)
		if err != nil {
			return nil, fmt.Errorf("failed to scan distribution item: %w", err)
		}

		if item.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("failed to parse item amount: %w", err)
		}

		items = append(items, item)
	}

	return items, rows.Err()
}

// Create inserts a distribution with its rules
func (r *distributionRepository) Create(ctx context.Context, dist *domain.Distribution) error {
	query := `
		INSERT INTO distributions (id, project_id, total_amount, status, version)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.exec(ctx).ExecContext(ctx, query,
		dist.ID,
		dist.ProjectID,
		dist.TotalAmount.String(),
		string(dist.Status),
		dist.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to create distribution: %w", err)
	}

	ruleQuery := `
		INSERT INTO distribution_rules (id, distribution_id, rule_type, percentage, fixed_amount, recipient_id, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, rule := range dist.Rules {
		_, err := r.db.exec(ctx).ExecContext(ctx, ruleQuery,
			rule.ID,
			dist.ID,
			string(rule.Type),
			rule.Percentage.String(),
			rule.FixedAmount.String(),
			rule.RecipientID,
			rule.Priority,
		)
		if err != nil {
			return fmt.Errorf("failed to create distribution rule: %w", err)
		}
	}

	return nil
}

// UpdateStatus applies a guarded status transition
func (r *distributionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.DistributionStatus, version int) error {
	query := `
		UPDATE distributions
		SET status = $1, version = version + 1
		WHERE id = $2 AND status = $3 AND version = $4
	`

	result, err := r.db.exec(ctx).ExecContext(ctx, query, string(to), id, string(from), version)
	if err != nil {
		return fmt.Errorf("failed to update distribution status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NewStateConflictError("distribution", string(from), string(to))
	}

	return nil
}

// SaveItems inserts the computed items
func (r *distributionRepository) SaveItems(ctx context.Context, distributionID uuid.UUID, items []domain.DistributionItem) error {
	query := `
		INSERT INTO distribution_items (id, distribution_id, rule_id, recipient_id, amount, status, receipt_ref, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, item := range items {
		_, err := r.db.exec(ctx).ExecContext(ctx, query,
			item.ID,
			distributionID,
			item.RuleID,
			item.RecipientID,
			item.Amount.String(),
			string(item.Status),
			item.ReceiptRef,
			item.LastError,
		)
		if err != nil {
			return fmt.Errorf("failed to save distribution item: %w", err)
		}
	}

	return nil
}

// UpdateItem records an item's payout outcome guarded by its expected
// current status
func (r *distributionRepository) UpdateItem(ctx context.Context, itemID uuid.UUID, from, to domain.DistributionItemStatus, receiptRef, lastError string) error {
	query := `
		UPDATE distribution_items
		SET status = $1, receipt_ref = $2, last_error = $3
		WHERE id = $4 AND status = $5
	`

	result, err := r.db.exec(ctx).ExecContext(ctx, query, string(to), receiptRef, lastError, itemID, string(from))
	if err != nil {
		return fmt.Errorf("failed to update distribution item: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NewStateConflictError("distribution_item", string(from), string(to))
	}

	return nil
}
