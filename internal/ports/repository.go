package ports

import (
	"context"
	"time"

	"github.com/fixora/sqlaudit/internal/domain"
)

// RunRepository defines the interface for audit run persistence
type RunRepository interface {
	// Create saves a new run and assigns the next run number
	Create(ctx context.Context, run *domain.AuditRun) error

	// Update persists status changes of a run
	Update(ctx context.Context, run *domain.AuditRun) error

	// FindByID retrieves a run by its number
	FindByID(ctx context.Context, id int64) (*domain.AuditRun, error)

	// LatestCompleted returns the newest completed run, or domain.ErrNoCompletedRun
	LatestCompleted(ctx context.Context) (*domain.AuditRun, error)

	// PreviousCompleted returns the newest completed run older than id
	PreviousCompleted(ctx context.Context, id int64) (*domain.AuditRun, error)

	// List returns the newest runs first
	List(ctx context.Context, limit int) ([]*domain.AuditRun, error)

	// Count returns the number of runs with the given status, or all runs when status is empty
	Count(ctx context.Context, status domain.RunStatus) (int, error)
}

// FindingRepository defines the interface for finding persistence.
// Findings are append-only.
type FindingRepository interface {
	// CreateBatch saves all findings of one run
	CreateBatch(ctx context.Context, findings []domain.Finding) error

	// ListByRun retrieves the snapshot of one run in collection order
	ListByRun(ctx context.Context, runID int64) ([]domain.Finding, error)

	// ListByEntity retrieves the history of one entity, oldest first
	ListByEntity(ctx context.Context, key domain.EntityKey) ([]domain.Finding, error)
}

// AnnotationRepository defines the interface for annotation persistence
type AnnotationRepository interface {
	// List retrieves every stored annotation
	List(ctx context.Context) ([]*domain.Annotation, error)

	// FindByEntity retrieves the annotation of one entity, or nil when it has none
	FindByEntity(ctx context.Context, key domain.EntityKey) (*domain.Annotation, error)

	// Upsert writes the annotation field values and sync baseline
	Upsert(ctx context.Context, annotation *domain.Annotation) error

	// CountReviewRequired returns the number of annotations flagged for review
	CountReviewRequired(ctx context.Context) (int, error)
}

// ExceptionRepository defines the interface for exception persistence
type ExceptionRepository interface {
	// List retrieves every exception
	List(ctx context.Context) ([]*domain.Exception, error)

	// FindByEntity retrieves the exception attached to an entity, or domain.ErrExceptionNotFound
	FindByEntity(ctx context.Context, key domain.EntityKey) (*domain.Exception, error)

	// Create saves a new exception
	Create(ctx context.Context, exception *domain.Exception) error

	// Renew changes reason and expiry of an existing exception
	Renew(ctx context.Context, id string, reason string, expiresAt *time.Time) error

	// Delete removes an exception; only explicit user actions call this
	Delete(ctx context.Context, id string) error
}

// ActionRepository defines the interface for action persistence
type ActionRepository interface {
	// Create saves a new action; a duplicate dedup key is a PersistenceConflictError
	Create(ctx context.Context, action *domain.Action) error

	// Update rewrites description, statuses and user-edited fields of an action
	Update(ctx context.Context, action *domain.Action) error

	// FindByID retrieves an action by its ID
	FindByID(ctx context.Context, id string) (*domain.Action, error)

	// FindByKey retrieves the action with the given dedup key
	FindByKey(ctx context.Context, key domain.DedupKey) (*domain.Action, error)

	// List retrieves actions based on filter, newest first
	List(ctx context.Context, filter domain.ActionFilter) ([]*domain.Action, error)

	// ListLatestPerEntity returns, for each entity, the actions of its most recent run
	ListLatestPerEntity(ctx context.Context) ([]*domain.Action, error)

	// Count returns the number of actions matching the filter
	Count(ctx context.Context, filter domain.ActionFilter) (int, error)

	// CountByType returns action counts grouped by type
	CountByType(ctx context.Context) (map[domain.ActionType]int, error)
}

// Repositories bundles the repositories bound to one transaction.
type Repositories struct {
	Runs        RunRepository
	Findings    FindingRepository
	Annotations AnnotationRepository
	Exceptions  ExceptionRepository
	Actions     ActionRepository
}

// UnitOfWork runs work inside the durable store's transactions. Writes are
// serialized by the store itself; fn either commits fully or not at all.
type UnitOfWork interface {
	// WithinTx runs fn in one write transaction holding the writer lock
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error

	// WithinReadTx runs fn in one read-only transaction with a consistent view
	WithinReadTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
