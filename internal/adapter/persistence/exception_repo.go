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

// ExceptionRepository implements ports.ExceptionRepository
type ExceptionRepository struct {
	q Querier
}

// NewExceptionRepository creates a new exception repository
func NewExceptionRepository(q Querier) ports.ExceptionRepository {
	return &ExceptionRepository{q: q}
}

const exceptionColumns = `id, entity_key, reason, granted_at, expires_at`

// List retrieves every exception ordered by entity
func (r *ExceptionRepository) List(ctx context.Context) ([]*domain.Exception, error) {
	query := `SELECT ` + exceptionColumns + ` FROM exceptions ORDER BY entity_key ASC`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query exceptions: %w", err)
	}
	defer rows.Close()

	var exceptions []*domain.Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exception: %w", err)
		}
		exceptions = append(exceptions, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exceptions: %w", err)
	}

	return exceptions, nil
}

// FindByEntity retrieves the exception attached to an entity
func (r *ExceptionRepository) FindByEntity(ctx context.Context, key domain.EntityKey) (*domain.Exception, error) {
	query := `SELECT ` + exceptionColumns + ` FROM exceptions WHERE entity_key = $1`

	e, err := scanException(r.q.QueryRowContext(ctx, query, string(key)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrExceptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find exception: %w", err)
	}
	return e, nil
}

// Create saves a new exception
func (r *ExceptionRepository) Create(ctx context.Context, e *domain.Exception) error {
	query := `
		INSERT INTO exceptions (id, entity_key, reason, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.q.ExecContext(ctx, query,
		e.ID,
		string(e.EntityKey),
		e.Reason,
		utc(e.GrantedAt),
		nullTime(e.ExpiresAt),
	)
	if err != nil {
		return mapStoreError("create exception", e.EntityKey, err)
	}

	return nil
}

// Renew changes reason and expiry of an existing exception
func (r *ExceptionRepository) Renew(ctx context.Context, id string, reason string, expiresAt *time.Time) error {
	query := `
		UPDATE exceptions
		SET reason = $1, expires_at = $2
		WHERE id = $3
	`

	result, err := r.q.ExecContext(ctx, query, reason, nullTime(expiresAt), id)
	if err != nil {
		return fmt.Errorf("failed to renew exception: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrExceptionNotFound
	}

	return nil
}

// Delete removes an exception
func (r *ExceptionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM exceptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete exception: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrExceptionNotFound
	}

	return nil
}

func scanException(row rowScanner) (*domain.Exception, error) {
	var (
		e       domain.Exception
		expires sql.NullTime
	)

	err := row.Scan(
		&e.ID,
		&e.EntityKey,
		&e.Reason,
		&e.GrantedAt,
		&expires,
	)
	if err != nil {
		return nil, err
	}

	e.GrantedAt = e.GrantedAt.UTC()
	e.ExpiresAt = timePtr(expires)
	return &e, nil
}
