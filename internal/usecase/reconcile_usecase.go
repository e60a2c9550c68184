package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/infra/logger"
	"github.com/fixora/sqlaudit/internal/ports"
	"github.com/fixora/sqlaudit/internal/reconcile"
)

// PassInput is what one reconciliation pass consumes
type PassInput struct {
	Snapshot *ports.Snapshot      `json:"snapshot"`
	Report   *ports.ReportContent `json:"report,omitempty"`
}

// PassResult summarizes a committed pass
type PassResult struct {
	Run              *domain.AuditRun                  `json:"run"`
	Findings         int                               `json:"findings"`
	Changes          []reconcile.DetectedChange        `json:"changes"`
	Actions          []*domain.Action                  `json:"actions"`
	Outcomes         map[reconcile.RecordOutcome]int   `json:"outcomes"`
	AnnotationWrites int                               `json:"annotation_writes"`
	Conflicts        []*domain.AnnotationConflictError `json:"conflicts,omitempty"`
	ExceptionChanges []reconcile.ExceptionChange       `json:"-"`
	Ineligible       []domain.EntityKey                `json:"ineligible,omitempty"`
	ActionEdits      int                               `json:"action_edits"`
	Warnings         []reconcile.DuplicateKeyWarning   `json:"warnings,omitempty"`
	Skipped          []ports.SkippedRow                `json:"skipped,omitempty"`
}

// ReconcileUseCase runs reconciliation passes against the durable store
type ReconcileUseCase struct {
	uow       ports.UnitOfWork
	publisher ports.ActionPublisher
	policy    *reconcile.EligibilityPolicy
	logger    logger.Logger
	now       func() time.Time
}

// NewReconcileUseCase creates a new reconcile use case
func NewReconcileUseCase(
	uow ports.UnitOfWork,
	publisher ports.ActionPublisher,
	policy *reconcile.EligibilityPolicy,
	log logger.Logger,
) *ReconcileUseCase {
	if policy == nil {
		policy = reconcile.DefaultEligibilityPolicy()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ReconcileUseCase{
		uow:       uow,
		publisher: publisher,
		policy:    policy,
		logger:    log,
		now:       time.Now,
	}
}

// WithClock replaces the clock used to stamp runs and actions
func (uc *ReconcileUseCase) WithClock(now func() time.Time) *ReconcileUseCase {
	uc.now = now
	return uc
}

// Load reads the snapshot and the editable report concurrently. A nil reader
// means there is no report yet.
func Load(ctx context.Context, collector ports.Collector, reader ports.ReportReader) (PassInput, error) {
	var input PassInput
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		snapshot, err := collector.Collect(gctx)
		if err != nil {
			return fmt.Errorf("failed to collect findings: %w", err)
		}
		input.Snapshot = snapshot
		return nil
	})

	if reader != nil {
		g.Go(func() error {
			report, err := reader.Read(gctx)
			if err != nil {
				return fmt.Errorf("failed to read report: %w", err)
			}
			input.Report = report
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return PassInput{}, err
	}
	return input, nil
}

// Run executes one pass in a single write transaction. A failed pass leaves
// no partial state; it is recorded as a FAILED run on a best-effort basis.
func (uc *ReconcileUseCase) Run(ctx context.Context, input PassInput) (*PassResult, error) {
	if input.Snapshot == nil {
		return nil, domain.ErrInvalidInput("findings snapshot is required")
	}

	start := uc.now()
	var result *PassResult
	err := uc.uow.WithinTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		var err error
		result, err = uc.pass(ctx, repos, input)
		return err
	})
	if err != nil {
		uc.recordFailure(ctx, err)
		return nil, err
	}

	logger.LogPassEvent(ctx, uc.logger, result.Run.ID, true, map[string]interface{}{
		"run_type":          result.Run.RunType,
		"findings":          result.Findings,
		"changes":           len(result.Changes),
		"actions_inserted":  result.Outcomes[reconcile.OutcomeInserted],
		"actions_absorbed":  result.Outcomes[reconcile.OutcomeAbsorbed],
		"annotation_writes": result.AnnotationWrites,
		"conflicts":         len(result.Conflicts),
		"skipped":           len(result.Skipped),
	})
	logger.LogPerformance(ctx, uc.logger, "reconcile_pass", uc.now().Sub(start), map[string]interface{}{
		"run_id": result.Run.ID,
	})

	for _, w := range result.Warnings {
		uc.logger.Warn(ctx, "Duplicate entity key in snapshot", map[string]interface{}{
			"entity_key":  w.EntityKey,
			"snapshot":    w.Snapshot,
			"occurrences": w.Occurrences,
		})
	}

	if uc.publisher != nil && len(result.Actions) > 0 {
		if err := uc.publisher.Publish(ctx, result.Run, result.Actions); err != nil {
			uc.logger.Error(ctx, "Failed to publish actions", err, map[string]interface{}{
				"run_id": result.Run.ID,
			})
		}
	}

	return result, nil
}

func (uc *ReconcileUseCase) pass(ctx context.Context, repos ports.Repositories, input PassInput) (*PassResult, error) {
	now := uc.now().UTC().Truncate(time.Second)

	runType := domain.RunTypeSync
	previous, err := repos.Runs.LatestCompleted(ctx)
	if errors.Is(err, domain.ErrNoCompletedRun) {
		runType = domain.RunTypeInitial
		previous = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to load latest run: %w", err)
	}

	run := &domain.AuditRun{RunType: runType, StartedAt: now, Status: domain.RunStatusRunning}
	if err := repos.Runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	var priorFindings []domain.Finding
	if previous != nil {
		priorFindings, err = repos.Findings.ListByRun(ctx, previous.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load findings of run %d: %w", previous.ID, err)
		}
	}

	exceptions, err := repos.Exceptions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load exceptions: %w", err)
	}
	exceptionIndex := reconcile.NewExceptionIndex(exceptions)

	current := make([]domain.Finding, len(input.Snapshot.Findings))
	for i, f := range input.Snapshot.Findings {
		f.RunID = run.ID
		if f.ObservedAt.IsZero() {
			f.ObservedAt = now
		}
		f.ObservedAt = f.ObservedAt.UTC().Truncate(time.Second)
		current[i] = f
	}
	if err := repos.Findings.CreateBatch(ctx, current); err != nil {
		return nil, fmt.Errorf("failed to save findings: %w", err)
	}

	result := &PassResult{
		Run:      run,
		Findings: len(current),
		Outcomes: make(map[reconcile.RecordOutcome]int),
		Skipped:  append([]ports.SkippedRow(nil), input.Snapshot.Skipped...),
	}

	// report edits first: the diff sees exceptions granted or revoked here
	if input.Report != nil {
		result.Skipped = append(result.Skipped, input.Report.Skipped...)
		if err := uc.syncAnnotations(ctx, repos, input.Report, current, exceptionIndex, run, now, result); err != nil {
			return nil, err
		}
		if err := uc.applyEdits(ctx, repos, input.Report.ActionEdits, now, result); err != nil {
			return nil, err
		}
		if len(result.ExceptionChanges) > 0 {
			if exceptions, err = repos.Exceptions.List(ctx); err != nil {
				return nil, fmt.Errorf("failed to reload exceptions: %w", err)
			}
			exceptionIndex = reconcile.NewExceptionIndex(exceptions)
		}
	}

	differ := &reconcile.Differ{Exceptions: exceptionIndex, Policy: uc.policy, RunID: run.ID, At: now}
	diff, err := differ.Diff(priorFindings, current)
	if err != nil {
		return nil, err
	}
	result.Changes = diff.Changes
	result.Warnings = diff.Warnings

	history, err := repos.Actions.ListLatestPerEntity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load action history: %w", err)
	}
	recorder := reconcile.NewRecorder(repos.Actions, reconcile.NewActionIndex(history), uc.now)

	for _, c := range reconcile.ConsolidateActions(reconcile.DetectAllActions(diff.Changes)) {
		action, outcome, err := recorder.Record(ctx, c)
		if err != nil {
			return nil, err
		}
		result.Outcomes[outcome]++
		if outcome == reconcile.OutcomeInserted || outcome == reconcile.OutcomeUpdated {
			result.Actions = append(result.Actions, action)
		}
	}

	run.Complete(uc.now().UTC().Truncate(time.Second))
	if err := repos.Runs.Update(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to complete run %d: %w", run.ID, err)
	}

	return result, nil
}

func (uc *ReconcileUseCase) syncAnnotations(
	ctx context.Context,
	repos ports.Repositories,
	report *ports.ReportContent,
	current []domain.Finding,
	exceptions reconcile.ExceptionIndex,
	run *domain.AuditRun,
	now time.Time,
	result *PassResult,
) error {
	stored, err := repos.Annotations.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load annotations: %w", err)
	}

	sync := &reconcile.AnnotationSync{
		Policy:     uc.policy,
		Findings:   reconcile.IndexFindings(current),
		Exceptions: exceptions,
		RunID:      run.ID,
		Now:        now,
	}
	merged := sync.Merge(stored, report.Annotations)

	for _, a := range merged.Annotations {
		if err := repos.Annotations.Upsert(ctx, a); err != nil {
			return fmt.Errorf("failed to save annotation for %s: %w", a.EntityKey, err)
		}
	}

	for _, change := range merged.ExceptionChanges {
		exc := change.Exception
		switch change.Op {
		case reconcile.ExceptionCreate:
			err = repos.Exceptions.Create(ctx, exc)
		case reconcile.ExceptionRenew:
			err = repos.Exceptions.Renew(ctx, exc.ID, exc.Reason, exc.ExpiresAt)
		case reconcile.ExceptionRevoke:
			err = repos.Exceptions.Delete(ctx, exc.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to %s exception for %s: %w", change.Op, exc.EntityKey, err)
		}
	}

	for _, c := range merged.Conflicts {
		uc.logger.Warn(ctx, "Annotation edit conflict", map[string]interface{}{
			"entity_key": c.EntityKey,
			"field":      c.Field,
			"code":       c.Code(),
		})
	}

	result.AnnotationWrites = len(merged.Annotations)
	result.Conflicts = merged.Conflicts
	result.ExceptionChanges = merged.ExceptionChanges
	result.Ineligible = merged.Ineligible
	return nil
}

// applyEdits records description edits made in the report. Rows naming an
// unknown action or a field that is not editable are skipped.
func (uc *ReconcileUseCase) applyEdits(ctx context.Context, repos ports.Repositories, edits []domain.ActionEdit, now time.Time, result *PassResult) error {
	for _, edit := range edits {
		_, err := reconcile.ApplyEdit(ctx, repos.Actions, edit, now)
		switch {
		case err == nil:
			result.ActionEdits++
		case errors.Is(err, domain.ErrActionNotFound), errors.Is(err, domain.ErrUnknownField):
			result.Skipped = append(result.Skipped, ports.SkippedRow{
				Source: "actions",
				Reason: fmt.Sprintf("edit of action %s: %v", edit.ActionID, err),
			})
		default:
			return err
		}
	}
	return nil
}

func (uc *ReconcileUseCase) recordFailure(ctx context.Context, cause error) {
	at := uc.now().UTC().Truncate(time.Second)
	failed := &domain.AuditRun{RunType: domain.RunTypeSync, StartedAt: at}
	failed.Fail(at, cause)

	err := uc.uow.WithinTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		if _, err := repos.Runs.LatestCompleted(ctx); errors.Is(err, domain.ErrNoCompletedRun) {
			failed.RunType = domain.RunTypeInitial
		}
		return repos.Runs.Create(ctx, failed)
	})

	fields := map[string]interface{}{"error": cause.Error(), "code": domain.CodeOf(cause)}
	logger.LogPassEvent(ctx, uc.logger, failed.ID, false, fields)
	if err != nil {
		uc.logger.Error(ctx, "Failed to record failed run", err, nil)
	}
}
