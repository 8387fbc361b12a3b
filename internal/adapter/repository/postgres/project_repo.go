package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fundlane/fundlane-backend/internal/domain"
)

// projectRepository implements domain.ProjectRepository
type projectRepository struct {
	db *DB
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *DB) domain.ProjectRepository {
	return &projectRepository{db: db}
}

// GetByID retrieves a project with its rewards
func (r *projectRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.FundingProject, error) {
	query := `
		SELECT id, owner_id, title, target_amount, current_amount, status, start_date, end_date, version
		FROM funding_projects
		WHERE id = $1
	`

	var project domain.FundingProject
	var targetStr, currentStr string

	err := r.db.exec(ctx).QueryRowContext(ctx, query, id).Scan(
		&project.ID,
		&project.OwnerID,
		&project.Title,
		&targetStr,
		&currentStr,
		&project.Status,
		&project.StartDate,
		&project.EndDate,
		&project.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project by ID: %w", err)
	}

	if project.TargetAmount, err = decimal.NewFromString(targetStr); err != nil {
		return nil, fmt.Errorf("failed to parse target_amount: %w", err)
	}
	if project.CurrentAmount, err = decimal.NewFromString(currentStr); err != nil {
		return nil, fmt.Errorf("failed to parse current_amount: %w", err)
	}

	rewards, err := r.loadRewards(ctx, id)
	if err != nil {
		return nil, err
	}
	project.Rewards = rewards

	return &project, nil
}

func (r *projectRepository) loadRewards(ctx context.Context, projectID uuid.UUID) ([]domain.Reward, error) {
	query := `
		SELECT id, project_id, title, minimum_pledge
		FROM project_rewards
		WHERE project_id = $1
		ORDER BY minimum_pledge ASC
	`

	rows, err := r.db.exec(ctx).QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	defer rows.Close()

	var rewards []domain.Reward
	for rows.Next() {
		var reward domain.Reward
		var minStr string

		err := rows.Scan(&reward.ID, &reward.ProjectID, &reward.Title, &minStr)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}

		if reward.MinimumPledge, err = decimal.NewFromString(minStr); err != nil {
			return nil, fmt.Errorf("failed to parse minimum_pledge: %w", err)
		}

		rewards = append(rewards, reward)
	}

	return rewards, rows.Err()
}

// Create inserts a project and its rewards
func (r *projectRepository) Create(ctx context.Context, project *domain.FundingProject) error {
	query := `
		INSERT INTO funding_projects (id, owner_id, title, target_amount, current_amount, status, start_date, end_date, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.exec(ctx).ExecContext(ctx, query,
		project.ID,
		project.OwnerID,
		project.Title,
		project.TargetAmount.String(),
		project.CurrentAmount.String(),
		string(project.Status),
		project.StartDate,
		project.EndDate,
		project.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	rewardQuery := `
		INSERT INTO project_rewards (id, project_id, title, minimum_pledge)
		VALUES ($1, $2, $3, $4)
	`
	for _, reward := range project.Rewards {
		_, err := r.db.exec(ctx).ExecContext(ctx, rewardQuery,
			reward.ID,
			project.ID,
			reward.Title,
			reward.MinimumPledge.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to create reward: %w", err)
		}
	}

	return nil
}

// ListEnded retrieves COLLECTING projects whose end date has passed.
// Rewards are not loaded; the sweeper only needs amounts and status.
func (r *projectRepository) ListEnded(ctx context.Context, now time.Time, limit int) ([]*domain.FundingProject, error) {
	query, args, err := r.db.Builder.
		Select("id", "owner_id", "title", "target_amount", "current_amount", "status", "start_date", "end_date", "version").
		From("funding_projects").
		Where(sq.Eq{"status": string(domain.ProjectStatusCollecting)}).
		Where(sq.LtOrEq{"end_date": now}).
		OrderBy("end_date ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build ended projects select: %w", err)
	}

	rows, err := r.db.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ended projects: %w", err)
	}
	defer rows.Close()

	var projects []*domain.FundingProject
	for rows.Next() {
		var project domain.FundingProject
		var targetStr, currentStr string

		err := rows.Scan(
			&project.ID,
			&project.OwnerID,
			&project.Title,
			&targetStr,
			&currentStr,
			&project.Status,
			&project.StartDate,
			&project.EndDate,
			&project.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}

		if project.TargetAmount, err = decimal.NewFromString(targetStr); err != nil {
			return nil, fmt.Errorf("failed to parse target_amount: %w", err)
		}
		if project.CurrentAmount, err = decimal.NewFromString(currentStr); err != nil {
			return nil, fmt.Errorf("failed to parse current_amount: %w", err)
		}

		projects = append(projects, &project)
	}

	return projects, rows.Err()
}

// UpdateStatus applies a guarded status transition. Zero rows affected
// means the row moved underneath the caller.
func (r *projectRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.ProjectStatus, version int) error {
	query := `
		UPDATE funding_projects
		SET status = $1, version = version + 1
		WHERE id = $2 AND status = $3 AND version = $4
	`

	result, err := r.db.exec(ctx).ExecContext(ctx, query, string(to), id, string(from), version)
	if err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NewStateConflictError("project", string(from), string(to))
	}

	return nil
}

// AdjustCurrentAmount applies a signed delta guarded by version
func (r *projectRepository) AdjustCurrentAmount(ctx context.Context, id uuid.UUID, delta decimal.Decimal, version int) error {
	query := `
		UPDATE funding_projects
		SET current_amount = current_amount + $1, version = version + 1
		WHERE id = $2 AND version = $3 AND current_amount + $1 >= 0
	`

	result, err := r.db.exec(ctx).ExecContext(ctx, query, delta.String(), id, version)
	if err != nil {
		return fmt.Errorf("failed to adjust project current amount: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NewStateConflictError("project", "current_amount", delta.String())
	}

	return nil
}
