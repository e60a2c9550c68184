package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/ports"
	"github.com/fixora/sqlaudit/internal/reconcile"
)

// Stats keys
const (
	StatRunsTotal                 = "runs_total"
	StatOpenFindingsTotal         = "open_findings_total"
	StatSuppressedFindings        = "suppressed_findings"
	StatExceptionsActive          = "exceptions_active"
	StatExceptionsExpired         = "exceptions_expired"
	StatExceptionsExpiringSoon    = "exceptions_expiring_soon"
	StatActionsTotal              = "actions_total"
	StatActionsSinceLastRun       = "actions_since_last_run"
	StatAnnotationsReviewRequired = "annotations_review_required"

	statOpenFindingsPrefix = "open_findings_"
	statActionsPrefix      = "actions_"
	statTransitionsPrefix  = "transitions_"
)

// StatsUseCase aggregates counts straight from the durable store
type StatsUseCase struct {
	uow          ports.UnitOfWork
	policy       *reconcile.EligibilityPolicy
	expiryWindow time.Duration
	now          func() time.Time
}

// NewStatsUseCase creates a new stats use case. Exceptions lapsing within
// expiryWindow count as expiring soon.
func NewStatsUseCase(uow ports.UnitOfWork, policy *reconcile.EligibilityPolicy, expiryWindow time.Duration) *StatsUseCase {
	if policy == nil {
		policy = reconcile.DefaultEligibilityPolicy()
	}
	return &StatsUseCase{uow: uow, policy: policy, expiryWindow: expiryWindow, now: time.Now}
}

// WithClock replaces the clock used for exception expiry
func (uc *StatsUseCase) WithClock(now func() time.Time) *StatsUseCase {
	uc.now = now
	return uc
}

// Compute recomputes every counter in one read-only transaction. Nothing is
// cached between calls.
func (uc *StatsUseCase) Compute(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int)
	for _, r := range domain.RiskLevels {
		stats[statOpenFindingsPrefix+strings.ToLower(string(r))] = 0
	}
	for _, t := range domain.ActionTypes {
		stats[statActionsPrefix+string(t)] = 0
		stats[statTransitionsPrefix+string(t)] = 0
	}

	err := uc.uow.WithinReadTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		now := uc.now().UTC()

		total, err := repos.Runs.Count(ctx, "")
		if err != nil {
			return fmt.Errorf("failed to count runs: %w", err)
		}
		stats[StatRunsTotal] = total

		exceptions, err := repos.Exceptions.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list exceptions: %w", err)
		}
		exceptionIndex := reconcile.NewExceptionIndex(exceptions)
		for _, e := range exceptions {
			if e.Expired(now) {
				stats[StatExceptionsExpired]++
				continue
			}
			stats[StatExceptionsActive]++
			if e.ExpiresWithin(now, uc.expiryWindow) {
				stats[StatExceptionsExpiringSoon]++
			}
		}

		if err := uc.countFindings(ctx, repos, exceptionIndex, now, stats); err != nil {
			return err
		}

		byType, err := repos.Actions.CountByType(ctx)
		if err != nil {
			return fmt.Errorf("failed to count actions: %w", err)
		}
		for t, n := range byType {
			stats[statActionsPrefix+string(t)] = n
			stats[StatActionsTotal] += n
		}

		review, err := repos.Annotations.CountReviewRequired(ctx)
		if err != nil {
			return fmt.Errorf("failed to count annotations: %w", err)
		}
		stats[StatAnnotationsReviewRequired] = review
		return nil
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// countFindings fills the finding, last-run and transition counters from the
// latest completed run and the one before it.
func (uc *StatsUseCase) countFindings(ctx context.Context, repos ports.Repositories, exceptions reconcile.ExceptionIndex, now time.Time, stats map[string]int) error {
	latest, err := repos.Runs.LatestCompleted(ctx)
	if errors.Is(err, domain.ErrNoCompletedRun) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load latest run: %w", err)
	}

	current, err := repos.Findings.ListByRun(ctx, latest.ID)
	if err != nil {
		return fmt.Errorf("failed to load findings: %w", err)
	}
	for _, f := range reconcile.IndexFindings(current) {
		if !f.Status.IsFailing() {
			continue
		}
		stats[StatOpenFindingsTotal]++
		stats[statOpenFindingsPrefix+strings.ToLower(string(f.RiskLevel))]++

		exc, ok := exceptions[f.EntityKey]
		if ok && exc.Active(now) && uc.policy.IsExceptionEligible(f.FindingType, f.RiskLevel) {
			stats[StatSuppressedFindings]++
		}
	}

	runID := latest.ID
	since, err := repos.Actions.Count(ctx, domain.ActionFilter{SyncRunID: &runID})
	if err != nil {
		return fmt.Errorf("failed to count actions of run %d: %w", runID, err)
	}
	stats[StatActionsSinceLastRun] = since

	var previous []domain.Finding
	prior, err := repos.Runs.PreviousCompleted(ctx, latest.ID)
	switch {
	case err == nil:
		previous, err = repos.Findings.ListByRun(ctx, prior.ID)
		if err != nil {
			return fmt.Errorf("failed to load findings of run %d: %w", prior.ID, err)
		}
	case !errors.Is(err, domain.ErrNoCompletedRun):
		return fmt.Errorf("failed to load previous run: %w", err)
	}

	differ := &reconcile.Differ{Exceptions: exceptions, Policy: uc.policy, RunID: latest.ID, At: latest.StartedAt}
	diff, err := differ.Diff(previous, current)
	if err != nil {
		return err
	}
	for kind, n := range diff.Counts {
		stats[statTransitionsPrefix+string(kind)] = n
	}
	return nil
}
