package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/ports"
)

// AnnotationRepository implements ports.AnnotationRepository
type AnnotationRepository struct {
	q Querier
}

// NewAnnotationRepository creates a new annotation repository
func NewAnnotationRepository(q Querier) ports.AnnotationRepository {
	return &AnnotationRepository{q: q}
}

const annotationColumns = `entity_key, justification, review_status, exception_expiry,
	base_justification, base_review_status, base_exception_expiry,
	review_required, review_note, last_edited_at, synced_run_id`

// List retrieves every stored annotation ordered by entity
func (r *AnnotationRepository) List(ctx context.Context) ([]*domain.Annotation, error) {
	query := `SELECT ` + annotationColumns + ` FROM annotations ORDER BY entity_key ASC`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query annotations: %w", err)
	}
	defer rows.Close()

	var annotations []*domain.Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		annotations = append(annotations, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating annotations: %w", err)
	}

	return annotations, nil
}

// FindByEntity retrieves the annotation of one entity, or nil when it has none
func (r *AnnotationRepository) FindByEntity(ctx context.Context, key domain.EntityKey) (*domain.Annotation, error) {
	query := `SELECT ` + annotationColumns + ` FROM annotations WHERE entity_key = $1`

	a, err := scanAnnotation(r.q.QueryRowContext(ctx, query, string(key)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find annotation: %w", err)
	}
	return a, nil
}

// Upsert writes field values, sync baseline and review flags
func (r *AnnotationRepository) Upsert(ctx context.Context, a *domain.Annotation) error {
	query := `
		INSERT INTO annotations (
			entity_key, justification, review_status, exception_expiry,
			base_justification, base_review_status, base_exception_expiry,
			review_required, review_note, last_edited_at, synced_run_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (entity_key) DO UPDATE SET
			justification = excluded.justification,
			review_status = excluded.review_status,
			exception_expiry = excluded.exception_expiry,
			base_justification = excluded.base_justification,
			base_review_status = excluded.base_review_status,
			base_exception_expiry = excluded.base_exception_expiry,
			review_required = excluded.review_required,
			review_note = excluded.review_note,
			last_edited_at = excluded.last_edited_at,
			synced_run_id = excluded.synced_run_id
	`

	_, err := r.q.ExecContext(ctx, query,
		string(a.EntityKey),
		a.Values.Justification,
		string(a.Values.ReviewStatus),
		nullTime(a.Values.ExceptionExpiry),
		a.Base.Justification,
		string(a.Base.ReviewStatus),
		nullTime(a.Base.ExceptionExpiry),
		a.ReviewRequired,
		a.ReviewNote,
		utc(a.LastEditedAt),
		a.SyncedRunID,
	)
	if err != nil {
		return mapStoreError("upsert annotation", a.EntityKey, err)
	}

	return nil
}

// CountReviewRequired returns the number of annotations flagged for review
func (r *AnnotationRepository) CountReviewRequired(ctx context.Context) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM annotations WHERE review_required = $1`, true).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count annotations: %w", err)
	}
	return count, nil
}

func scanAnnotation(row rowScanner) (*domain.Annotation, error) {
	var (
		a                  domain.Annotation
		expiry, baseExpiry sql.NullTime
	)

	err := row.Scan(
		&a.EntityKey,
		&a.Values.Justification,
		&a.Values.ReviewStatus,
		&expiry,
		&a.Base.Justification,
		&a.Base.ReviewStatus,
		&baseExpiry,
		&a.ReviewRequired,
		&a.ReviewNote,
		&a.LastEditedAt,
		&a.SyncedRunID,
	)
	if err != nil {
		return nil, err
	}

	a.Values.ExceptionExpiry = timePtr(expiry)
	a.Base.ExceptionExpiry = timePtr(baseExpiry)
	a.LastEditedAt = a.LastEditedAt.UTC()
	return &a, nil
}
