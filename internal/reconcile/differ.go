package reconcile

import (
	"errors"
	"sort"
	"time"

	"github.com/fixora/sqlaudit/internal/domain"
)

// Sub-fields a DetectedChange may refer to.
const (
	FieldStatus    = "status"
	FieldRiskLevel = "risk_level"
	FieldException = "exception"
)

// DetectedChange is one classified difference for one entity. It is never
// persisted; the detector turns changes into action candidates.
type DetectedChange struct {
	EntityKey   domain.EntityKey  `json:"entity_key"`
	ChangeType  domain.ActionType `json:"change_type"`
	PriorStatus string            `json:"prior_status"`
	NewStatus   string            `json:"new_status"`
	RunID       int64             `json:"run_id"`
	Field       string            `json:"field"`
	FindingType string            `json:"finding_type"`
	PriorRisk   domain.RiskLevel  `json:"prior_risk,omitempty"`
	RiskLevel   domain.RiskLevel  `json:"risk_level,omitempty"`
	Suppressed  bool              `json:"suppressed,omitempty"`
}

// Snapshot names used in duplicate-key warnings.
const (
	SnapshotPrevious = "previous"
	SnapshotCurrent  = "current"
)

// DuplicateKeyWarning records an upstream collection defect: the same entity
// appeared more than once in one snapshot. The last occurrence won.
type DuplicateKeyWarning struct {
	EntityKey   domain.EntityKey `json:"entity_key"`
	Snapshot    string           `json:"snapshot"`
	Occurrences int              `json:"occurrences"`
}

// FindingsDiffResult is the output of one diff.
type FindingsDiffResult struct {
	Changes     []DetectedChange                `json:"changes"`
	Warnings    []DuplicateKeyWarning           `json:"warnings,omitempty"`
	Transitions map[domain.EntityKey]Transition `json:"-"`
	Counts      map[domain.ActionType]int       `json:"counts"`
}

// ExceptionIndex maps entities to their exception.
type ExceptionIndex map[domain.EntityKey]*domain.Exception

// NewExceptionIndex indexes a list of exceptions by entity.
func NewExceptionIndex(exceptions []*domain.Exception) ExceptionIndex {
	idx := make(ExceptionIndex, len(exceptions))
	for _, e := range exceptions {
		idx[e.EntityKey] = e
	}
	return idx
}

// Differ joins two snapshots by entity key and classifies every entity.
type Differ struct {
	Exceptions ExceptionIndex
	Policy     *EligibilityPolicy
	// RunID stamps the changes; defaults to the run of the current snapshot.
	RunID int64
	// At is the current run time used for exception expiry; defaults to the
	// latest observation in the current snapshot.
	At time.Time
}

// DiffFindings diffs two snapshots with no exceptions in play.
func DiffFindings(previous, current []domain.Finding) (*FindingsDiffResult, error) {
	return (&Differ{}).Diff(previous, current)
}

// Diff walks the union of keys of both snapshots and classifies each entity.
func (d *Differ) Diff(previous, current []domain.Finding) (*FindingsDiffResult, error) {
	prevByKey, prevWarnings := indexSnapshot(previous, SnapshotPrevious)
	curByKey, curWarnings := indexSnapshot(current, SnapshotCurrent)

	runID, at := d.RunID, d.At
	for i := range current {
		if runID == 0 {
			runID = current[i].RunID
		}
		if d.At.IsZero() && current[i].ObservedAt.After(at) {
			at = current[i].ObservedAt
		}
	}

	keys := make([]domain.EntityKey, 0, len(prevByKey)+len(curByKey))
	for k := range prevByKey {
		keys = append(keys, k)
	}
	for k := range curByKey {
		if _, ok := prevByKey[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	result := &FindingsDiffResult{
		Warnings:    append(prevWarnings, curWarnings...),
		Transitions: make(map[domain.EntityKey]Transition, len(keys)),
		Counts:      make(map[domain.ActionType]int),
	}

	for _, key := range keys {
		prior, cur := prevByKey[key], curByKey[key]
		ref := cur
		if ref == nil {
			ref = prior
		}
		exc := d.exceptionContext(key, ref, at)

		t, err := ClassifyFindingTransition(StateOf(prior), StateOf(cur), exc)
		if err != nil {
			var ce *domain.ClassificationError
			if errors.As(err, &ce) {
				ce.EntityKey = key
			}
			return nil, err
		}
		result.Transitions[key] = t
		result.Counts[t.Kind]++

		if IsNoOp(t, exc) {
			continue
		}

		change := DetectedChange{
			EntityKey:   key,
			ChangeType:  t.Kind,
			PriorStatus: string(StateOf(prior)),
			NewStatus:   string(StateOf(cur)),
			RunID:       runID,
			Field:       FieldStatus,
			FindingType: ref.FindingType,
			RiskLevel:   ref.RiskLevel,
			Suppressed:  t.Suppressed,
		}
		if prior != nil {
			change.PriorRisk = prior.RiskLevel
		}
		result.Changes = append(result.Changes, change)

		if prior != nil && cur != nil && prior.RiskLevel != cur.RiskLevel {
			riskChange := change
			riskChange.Field = FieldRiskLevel
			result.Changes = append(result.Changes, riskChange)
		}

		if exc.Expired && StateOf(cur).failing() && t.Kind != domain.ActionExceptionExpired {
			expired := change
			expired.ChangeType = domain.ActionExceptionExpired
			expired.Field = FieldException
			expired.Suppressed = false
			result.Changes = append(result.Changes, expired)
		}
	}

	return result, nil
}

// exceptionContext resolves the exception state of one entity. An exception
// on a finding type the policy no longer allows is reported as expired.
func (d *Differ) exceptionContext(key domain.EntityKey, ref *domain.Finding, at time.Time) ExceptionContext {
	exc, ok := d.Exceptions[key]
	if !ok || exc == nil {
		return ExceptionContext{}
	}
	if exc.Expired(at) {
		return ExceptionContext{Present: true, Expired: true}
	}
	if d.Policy != nil && ref != nil && !d.Policy.IsExceptionEligible(ref.FindingType, ref.RiskLevel) {
		return ExceptionContext{Present: true, Expired: true}
	}
	return ExceptionContext{Present: true, Active: true}
}

// indexSnapshot maps keys to findings, last occurrence winning.
func indexSnapshot(findings []domain.Finding, name string) (map[domain.EntityKey]*domain.Finding, []DuplicateKeyWarning) {
	byKey := make(map[domain.EntityKey]*domain.Finding, len(findings))
	seen := make(map[domain.EntityKey]int)
	var order []domain.EntityKey

	for i := range findings {
		key := findings[i].EntityKey
		seen[key]++
		if seen[key] == 2 {
			order = append(order, key)
		}
		byKey[key] = &findings[i]
	}

	var warnings []DuplicateKeyWarning
	for _, key := range order {
		warnings = append(warnings, DuplicateKeyWarning{EntityKey: key, Snapshot: name, Occurrences: seen[key]})
	}
	return byKey, warnings
}
