package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/ports"
)

// RunRepository implements ports.RunRepository
type RunRepository struct {
	q Querier
}

// NewRunRepository creates a new audit run repository
func NewRunRepository(q Querier) ports.RunRepository {
	return &RunRepository{q: q}
}

const runColumns = `id, run_type, status, started_at, finished_at, error`

// Create saves a new run. The run number is the next after the highest one
// stored; callers hold the writer lock, so numbers are monotonic.
func (r *RunRepository) Create(ctx context.Context, run *domain.AuditRun) error {
	var next int64
	if err := r.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM audit_runs`).Scan(&next); err != nil {
		return fmt.Errorf("failed to allocate run number: %w", err)
	}

	query := `
		INSERT INTO audit_runs (id, run_type, status, started_at, finished_at, error)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.q.ExecContext(ctx, query,
		next,
		string(run.RunType),
		string(run.Status),
		utc(run.StartedAt),
		nullTime(run.FinishedAt),
		run.Error,
	)
	if err != nil {
		return mapStoreError("create audit run", "", err)
	}

	run.ID = next
	return nil
}

// Update persists status, finish time and error of a run
func (r *RunRepository) Update(ctx context.Context, run *domain.AuditRun) error {
	query := `
		UPDATE audit_runs
		SET status = $1, finished_at = $2, error = $3
		WHERE id = $4
	`

	result, err := r.q.ExecContext(ctx, query,
		string(run.Status),
		nullTime(run.FinishedAt),
		run.Error,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update audit run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrRunNotFound
	}

	return nil
}

// FindByID retrieves a run by its number
func (r *RunRepository) FindByID(ctx context.Context, id int64) (*domain.AuditRun, error) {
	query := `SELECT ` + runColumns + ` FROM audit_runs WHERE id = $1`

	run, err := scanRun(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find audit run: %w", err)
	}
	return run, nil
}

// LatestCompleted returns the newest completed run
func (r *RunRepository) LatestCompleted(ctx context.Context) (*domain.AuditRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM audit_runs
		WHERE status = $1
		ORDER BY id DESC
		LIMIT 1
	`

	run, err := scanRun(r.q.QueryRowContext(ctx, query, string(domain.RunStatusCompleted)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoCompletedRun
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest completed run: %w", err)
	}
	return run, nil
}

// PreviousCompleted returns the newest completed run older than id
func (r *RunRepository) PreviousCompleted(ctx context.Context, id int64) (*domain.AuditRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM audit_runs
		WHERE status = $1 AND id < $2
		ORDER BY id DESC
		LIMIT 1
	`

	run, err := scanRun(r.q.QueryRowContext(ctx, query, string(domain.RunStatusCompleted), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoCompletedRun
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find previous completed run: %w", err)
	}
	return run, nil
}

// List returns the newest runs first
func (r *RunRepository) List(ctx context.Context, limit int) ([]*domain.AuditRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + runColumns + `
		FROM audit_runs
		ORDER BY id DESC
		LIMIT $1
	`

	rows, err := r.q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.AuditRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit runs: %w", err)
	}

	return runs, nil
}

// Count returns the number of runs, optionally restricted to one status
func (r *RunRepository) Count(ctx context.Context, status domain.RunStatus) (int, error) {
	var (
		count int
		err   error
	)
	if status == "" {
		err = r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_runs`).Scan(&count)
	} else {
		err = r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_runs WHERE status = $1`, string(status)).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count audit runs: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.AuditRun, error) {
	var (
		run      domain.AuditRun
		finished sql.NullTime
	)

	err := row.Scan(
		&run.ID,
		&run.RunType,
		&run.Status,
		&run.StartedAt,
		&finished,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}

	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = timePtr(finished)
	return &run, nil
}

func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: utc(*t), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
