package persistence

import (
	"context"
	"fmt"

	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/ports"
)

// FindingRepository implements ports.FindingRepository
type FindingRepository struct {
	q Querier
}

// NewFindingRepository creates a new finding repository
func NewFindingRepository(q Querier) ports.FindingRepository {
	return &FindingRepository{q: q}
}

const findingColumns = `entity_key, finding_type, status, risk_level, run_id, observed_at`

// CreateBatch saves one run's snapshot, keeping collection order
func (r *FindingRepository) CreateBatch(ctx context.Context, findings []domain.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	stmt, err := r.q.PrepareContext(ctx, `
		INSERT INTO findings (run_id, seq, entity_key, finding_type, status, risk_level, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare finding insert: %w", err)
	}
	defer stmt.Close()

	for i, f := range findings {
		_, err := stmt.ExecContext(ctx,
			f.RunID,
			i,
			string(f.EntityKey),
			f.FindingType,
			string(f.Status),
			string(f.RiskLevel),
			utc(f.ObservedAt),
		)
		if err != nil {
			return mapStoreError("create finding", f.EntityKey, err)
		}
	}

	return nil
}

// ListByRun retrieves the snapshot of one run
func (r *FindingRepository) ListByRun(ctx context.Context, runID int64) ([]domain.Finding, error) {
	query := `
		SELECT ` + findingColumns + `
		FROM findings
		WHERE run_id = $1
		ORDER BY seq ASC
	`
	return r.list(ctx, query, runID)
}

// ListByEntity retrieves the history of one entity, oldest run first
func (r *FindingRepository) ListByEntity(ctx context.Context, key domain.EntityKey) ([]domain.Finding, error) {
	query := `
		SELECT ` + findingColumns + `
		FROM findings
		WHERE entity_key = $1
		ORDER BY run_id ASC, seq ASC
	`
	return r.list(ctx, query, string(key))
}

func (r *FindingRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.Finding, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []domain.Finding
	for rows.Next() {
		var f domain.Finding

		err := rows.Scan(
			&f.EntityKey,
			&f.FindingType,
			&f.Status,
			&f.RiskLevel,
			&f.RunID,
			&f.ObservedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}

		f.ObservedAt = f.ObservedAt.UTC()
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating findings: %w", err)
	}

	return findings, nil
}
