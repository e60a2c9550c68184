package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/ports"
)

// ActionRepository implements ports.ActionRepository
type ActionRepository struct {
	q Querier
}

// NewActionRepository creates a new action repository
func NewActionRepository(q Querier) ports.ActionRepository {
	return &ActionRepository{q: q}
}

const actionColumns = `id, entity_key, action_type, initial_run_id, sync_run_id, description,
	prior_status, new_status, risk_level, user_edited_fields, created_at, updated_at`

// Create saves a new action. The dedup index rejects a second row for the same
// (entity_key, action_type, sync_run_id).
func (r *ActionRepository) Create(ctx context.Context, a *domain.Action) error {
	edited, err := encodeFields(a.UserEditedFields)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO actions (
			id, entity_key, action_type, initial_run_id, sync_run_id, description,
			prior_status, new_status, risk_level, user_edited_fields, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.q.ExecContext(ctx, query,
		a.ID,
		string(a.EntityKey),
		string(a.ActionType),
		a.InitialRunID,
		a.SyncRunID,
		a.Description,
		a.PriorStatus,
		a.NewStatus,
		string(a.RiskLevel),
		edited,
		utc(a.CreatedAt),
		utc(a.UpdatedAt),
	)
	if err != nil {
		return mapStoreError("insert action", a.EntityKey, err)
	}

	return nil
}

// Update rewrites the mutable fields of an action
func (r *ActionRepository) Update(ctx context.Context, a *domain.Action) error {
	edited, err := encodeFields(a.UserEditedFields)
	if err != nil {
		return err
	}

	query := `
		UPDATE actions
		SET description = $1, prior_status = $2, new_status = $3, risk_level = $4,
			user_edited_fields = $5, updated_at = $6
		WHERE id = $7
	`

	result, err := r.q.ExecContext(ctx, query,
		a.Description,
		a.PriorStatus,
		a.NewStatus,
		string(a.RiskLevel),
		edited,
		utc(a.UpdatedAt),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update action: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrActionNotFound
	}

	return nil
}

// FindByID retrieves an action by its ID
func (r *ActionRepository) FindByID(ctx context.Context, id string) (*domain.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions WHERE id = $1`

	a, err := scanAction(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find action: %w", err)
	}
	return a, nil
}

// FindByKey retrieves the action with the given dedup key
func (r *ActionRepository) FindByKey(ctx context.Context, key domain.DedupKey) (*domain.Action, error) {
	query := `
		SELECT ` + actionColumns + `
		FROM actions
		WHERE entity_key = $1 AND action_type = $2 AND sync_run_id = $3
	`

	a, err := scanAction(r.q.QueryRowContext(ctx, query, string(key.EntityKey), string(key.ActionType), key.SyncRunID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find action: %w", err)
	}
	return a, nil
}

// List retrieves actions based on filter, newest run first
func (r *ActionRepository) List(ctx context.Context, filter domain.ActionFilter) ([]*domain.Action, error) {
	where, args := buildActionFilter(filter)
	query := `SELECT ` + actionColumns + ` FROM actions` + where +
		` ORDER BY sync_run_id DESC, created_at DESC, entity_key ASC`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return r.list(ctx, query, args...)
}

// ListLatestPerEntity returns, for each entity, the actions of its most recent run
func (r *ActionRepository) ListLatestPerEntity(ctx context.Context) ([]*domain.Action, error) {
	query := `
		SELECT ` + actionColumns + `
		FROM actions a
		WHERE a.sync_run_id = (
			SELECT MAX(b.sync_run_id) FROM actions b WHERE b.entity_key = a.entity_key
		)
		ORDER BY entity_key ASC
	`
	return r.list(ctx, query)
}

// Count returns the number of actions matching the filter
func (r *ActionRepository) Count(ctx context.Context, filter domain.ActionFilter) (int, error) {
	where, args := buildActionFilter(filter)

	var count int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM actions`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count actions: %w", err)
	}
	return count, nil
}

// CountByType returns action counts grouped by type
func (r *ActionRepository) CountByType(ctx context.Context) (map[domain.ActionType]int, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT action_type, COUNT(*) FROM actions GROUP BY action_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count actions by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ActionType]int)
	for rows.Next() {
		var (
			actionType domain.ActionType
			count      int
		)
		if err := rows.Scan(&actionType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		counts[actionType] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action counts: %w", err)
	}

	return counts, nil
}

func (r *ActionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Action, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var actions []*domain.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}

	return actions, nil
}

// buildActionFilter renders the WHERE clause. Placeholders are numbered in
// order of appearance.
func buildActionFilter(filter domain.ActionFilter) (string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)

	if filter.SyncRunID != nil {
		args = append(args, *filter.SyncRunID)
		conditions = append(conditions, fmt.Sprintf("sync_run_id = $%d", len(args)))
	}
	if filter.EntityKey != nil {
		args = append(args, string(*filter.EntityKey))
		conditions = append(conditions, fmt.Sprintf("entity_key = $%d", len(args)))
	}
	if filter.ActionType != nil {
		args = append(args, string(*filter.ActionType))
		conditions = append(conditions, fmt.Sprintf("action_type = $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanAction(row rowScanner) (*domain.Action, error) {
	var (
		a      domain.Action
		edited string
	)

	err := row.Scan(
		&a.ID,
		&a.EntityKey,
		&a.ActionType,
		&a.InitialRunID,
		&a.SyncRunID,
		&a.Description,
		&a.PriorStatus,
		&a.NewStatus,
		&a.RiskLevel,
		&edited,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if edited != "" {
		if err := json.Unmarshal([]byte(edited), &a.UserEditedFields); err != nil {
			return nil, fmt.Errorf("failed to decode user_edited_fields: %w", err)
		}
		if len(a.UserEditedFields) == 0 {
			a.UserEditedFields = nil
		}
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func encodeFields(fields []string) (string, error) {
	if len(fields) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode user_edited_fields: %w", err)
	}
	return string(data), nil
}
