package ports

import (
	"context"

	"github.com/fixora/sqlaudit/internal/domain"
)

// SkippedRow is an input row dropped at a collaborator boundary.
type SkippedRow struct {
	Source string `json:"source"`
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Snapshot is the validated output of one collection.
type Snapshot struct {
	Findings []domain.Finding `json:"findings"`
	Skipped  []SkippedRow     `json:"skipped,omitempty"`
}

// Collector supplies the current findings snapshot
type Collector interface {
	Collect(ctx context.Context) (*Snapshot, error)
}

// ReportContent is what the editable report currently holds.
type ReportContent struct {
	Annotations []domain.ReportAnnotation `json:"annotations"`
	ActionEdits []domain.ActionEdit       `json:"action_edits,omitempty"`
	Skipped     []SkippedRow              `json:"skipped,omitempty"`
}

// ReportReader reads human edits from the editable report
type ReportReader interface {
	Read(ctx context.Context) (*ReportContent, error)
}

// ReportData is everything the report writer renders.
type ReportData struct {
	Run         *domain.AuditRun     `json:"run"`
	Findings    []domain.Finding     `json:"findings"`
	Annotations []*domain.Annotation `json:"annotations"`
	Exceptions  []*domain.Exception  `json:"exceptions"`
	Actions     []*domain.Action     `json:"actions"`
}

// ReportWriter renders the merged annotations and the run's actions
type ReportWriter interface {
	Write(ctx context.Context, data *ReportData) error
}

// ActionPublisher announces committed actions to read-only consumers
type ActionPublisher interface {
	Publish(ctx context.Context, run *domain.AuditRun, actions []*domain.Action) error
	Close() error
}
