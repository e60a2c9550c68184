package reconcile

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fixora/sqlaudit/internal/domain"
)

// ExceptionOp is a change the annotation merge asks the store to make.
type ExceptionOp string

const (
	ExceptionCreate ExceptionOp = "create"
	ExceptionRenew  ExceptionOp = "renew"
	ExceptionRevoke ExceptionOp = "revoke"
)

// ExceptionChange is one planned exception write. Exception carries the new
// values for create and renew, and the existing row for revoke.
type ExceptionChange struct {
	Op        ExceptionOp
	Exception *domain.Exception
}

// AnnotationSyncResult is the outcome of one merge. Only annotations whose
// stored form changed are listed, so applying the result twice is a no-op.
type AnnotationSyncResult struct {
	Annotations      []*domain.Annotation
	Conflicts        []*domain.AnnotationConflictError
	ExceptionChanges []ExceptionChange
	Ineligible       []domain.EntityKey
}

// AnnotationSync merges report annotations into the stored ones.
type AnnotationSync struct {
	Policy     *EligibilityPolicy
	Findings   map[domain.EntityKey]*domain.Finding
	Exceptions ExceptionIndex
	RunID      int64
	Now        time.Time
}

// IndexFindings maps the findings of one snapshot by entity, last one winning.
func IndexFindings(findings []domain.Finding) map[domain.EntityKey]*domain.Finding {
	byKey, _ := indexSnapshot(findings, SnapshotCurrent)
	return byKey
}

// Merge runs the field-level three-way merge for every entity in the report.
// Base is the report value seen at the last sync, so a field counts as edited
// in the report when it differs from base and as edited in the store when the
// stored value differs from base. A report value equal to the stored one is
// never an edit, whether or not the sheet was rewritten since the last sync.
// Only an edit clears review_required. Entities absent from the report are
// left untouched.
func (s *AnnotationSync) Merge(stored []*domain.Annotation, report []domain.ReportAnnotation) *AnnotationSyncResult {
	storedByKey := make(map[domain.EntityKey]*domain.Annotation, len(stored))
	for _, a := range stored {
		storedByKey[a.EntityKey] = a
	}
	reportByKey := make(map[domain.EntityKey]domain.ReportAnnotation, len(report))
	keys := make([]domain.EntityKey, 0, len(report))
	for _, r := range report {
		if _, ok := reportByKey[r.EntityKey]; !ok {
			keys = append(keys, r.EntityKey)
		}
		reportByKey[r.EntityKey] = r
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	result := &AnnotationSyncResult{}
	for _, key := range keys {
		s.mergeOne(result, storedByKey[key], reportByKey[key])
	}
	return result
}

func (s *AnnotationSync) mergeOne(result *AnnotationSyncResult, store *domain.Annotation, row domain.ReportAnnotation) {
	current := domain.Annotation{EntityKey: row.EntityKey}
	if store != nil {
		current = *store
	}

	merged := current.Values
	var notes []string
	reportEdited := map[string]bool{}
	conflicted := false

	for _, f := range domain.AnnotationFields {
		base, sv, rv := current.Base.Get(f), current.Values.Get(f), row.Values.Get(f)
		reportChanged := rv != base
		storeChanged := sv != base
		// a re-rendered sheet shows the store value; echoing it back is not an edit
		if reportChanged && rv != sv {
			reportEdited[f] = true
		}

		switch {
		case !reportChanged:
		case !storeChanged:
			merged.Set(f, row.Values)
		case rv == sv:
		case rv == "" && sv != "":
			conflict := &domain.AnnotationConflictError{EntityKey: row.EntityKey, Field: f, StoreValue: sv, Report: rv}
			result.Conflicts = append(result.Conflicts, conflict)
			notes = append(notes, conflict.Error())
			conflicted = true
		default:
			merged.Set(f, row.Values)
		}
	}

	reviewRequired := current.ReviewRequired
	if conflicted {
		reviewRequired = true
	} else if len(reportEdited) > 0 {
		reviewRequired = false
	}

	if change, note := s.planException(row.EntityKey, current, merged, reportEdited); note != "" {
		reviewRequired = true
		notes = append(notes, note)
		result.Ineligible = append(result.Ineligible, row.EntityKey)
	} else if change != nil {
		result.ExceptionChanges = append(result.ExceptionChanges, *change)
	}

	next := current
	next.Values = merged
	next.Base = row.Values
	next.ReviewRequired = reviewRequired
	if len(notes) > 0 {
		next.ReviewNote = strings.Join(notes, "; ")
	} else if !reviewRequired {
		next.ReviewNote = ""
	}

	if store != nil && sameStoredForm(current, next) {
		return
	}
	if store == nil && merged.Equal(domain.AnnotationValues{}) && row.Values.Equal(domain.AnnotationValues{}) && !reviewRequired {
		return
	}

	next.SyncedRunID = s.RunID
	if len(reportEdited) > 0 && !row.LastEditedAt.IsZero() {
		next.LastEditedAt = row.LastEditedAt.UTC().Truncate(time.Second)
	} else if next.LastEditedAt.IsZero() {
		next.LastEditedAt = s.Now.UTC().Truncate(time.Second)
	}
	result.Annotations = append(result.Annotations, &next)
}

// planException decides what the merged annotation means for the entity's
// exception. A non-empty note means the request cannot be honored and the
// entity needs review.
func (s *AnnotationSync) planException(key domain.EntityKey, current domain.Annotation, merged domain.AnnotationValues, reportEdited map[string]bool) (*ExceptionChange, string) {
	exc := s.Exceptions[key]

	if merged.ReviewStatus != domain.ReviewStatusAcceptedRisk {
		explicit := reportEdited[domain.FieldReviewStatus] && current.Values.ReviewStatus == domain.ReviewStatusAcceptedRisk
		if exc != nil && explicit {
			return &ExceptionChange{Op: ExceptionRevoke, Exception: exc}, ""
		}
		return nil, ""
	}

	finding := s.Findings[key]
	if finding == nil {
		// not collected this run, nothing to suppress
		return nil, ""
	}
	if s.Policy != nil && !s.Policy.IsExceptionEligible(finding.FindingType, finding.RiskLevel) {
		return nil, fmt.Sprintf("finding type %s at risk %s is not eligible for an exception", finding.FindingType, finding.RiskLevel)
	}

	if exc == nil {
		return &ExceptionChange{
			Op:        ExceptionCreate,
			Exception: domain.NewException(key, merged.Justification, merged.ExceptionExpiry, s.Now.UTC().Truncate(time.Second)),
		}, ""
	}

	if exc.Reason == merged.Justification && sameExpiry(exc.ExpiresAt, merged.ExceptionExpiry) {
		return nil, ""
	}
	renewed := *exc
	renewed.Reason = merged.Justification
	renewed.ExpiresAt = merged.ExceptionExpiry
	return &ExceptionChange{Op: ExceptionRenew, Exception: &renewed}, ""
}

func sameStoredForm(a, b domain.Annotation) bool {
	return a.Values.Equal(b.Values) &&
		a.Base.Equal(b.Base) &&
		a.ReviewRequired == b.ReviewRequired &&
		a.ReviewNote == b.ReviewNote
}

func sameExpiry(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
