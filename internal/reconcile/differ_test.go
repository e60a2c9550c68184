package reconcile

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixora/sqlaudit/internal/domain"
)

var runTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func finding(key string, status domain.FindingStatus, risk domain.RiskLevel, runID int64) domain.Finding {
	return domain.Finding{
		EntityKey:   domain.EntityKey(key),
		FindingType: "weak_password_policy",
		Status:      status,
		RiskLevel:   risk,
		RunID:       runID,
		ObservedAt:  runTime,
	}
}

func TestDiffFindings_NewAndResolved(t *testing.T) {
	previous := []domain.Finding{finding("a", domain.FindingStatusFail, domain.RiskHigh, 1)}
	current := []domain.Finding{
		finding("a", domain.FindingStatusPass, domain.RiskHigh, 2),
		finding("b", domain.FindingStatusWarn, domain.RiskLow, 2),
	}

	result, err := DiffFindings(previous, current)
	require.NoError(t, err)

	want := []DetectedChange{
		{EntityKey: "a", ChangeType: domain.ActionResolved, PriorStatus: "FAIL", NewStatus: "PASS", RunID: 2, Field: FieldStatus, FindingType: "weak_password_policy", PriorRisk: domain.RiskHigh, RiskLevel: domain.RiskHigh},
		{EntityKey: "b", ChangeType: domain.ActionNewFinding, PriorStatus: "", NewStatus: "WARN", RunID: 2, Field: FieldStatus, FindingType: "weak_password_policy", RiskLevel: domain.RiskLow},
	}
	if diff := cmp.Diff(want, result.Changes); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, result.Warnings)
	assert.Equal(t, 1, result.Counts[domain.ActionResolved])
	assert.Equal(t, 1, result.Counts[domain.ActionNewFinding])
}

func TestDiffFindings_UnchangedIsNoOp(t *testing.T) {
	previous := []domain.Finding{finding("a", domain.FindingStatusFail, domain.RiskHigh, 1)}
	current := []domain.Finding{finding("a", domain.FindingStatusFail, domain.RiskHigh, 2)}

	result, err := DiffFindings(previous, current)
	require.NoError(t, err)

	assert.Empty(t, result.Changes)
	assert.Equal(t, domain.ActionNoChange, result.Transitions["a"].Kind)
}

func TestDiffFindings_RiskChangeAddsSubField(t *testing.T) {
	previous := []domain.Finding{finding("a", domain.FindingStatusPass, domain.RiskMedium, 1)}
	current := []domain.Finding{finding("a", domain.FindingStatusFail, domain.RiskHigh, 2)}

	result, err := DiffFindings(previous, current)
	require.NoError(t, err)

	require.Len(t, result.Changes, 2)
	assert.Equal(t, FieldStatus, result.Changes[0].Field)
	assert.Equal(t, FieldRiskLevel, result.Changes[1].Field)
	assert.Equal(t, domain.ActionRegressed, result.Changes[1].ChangeType)
}

func TestDiffFindings_DuplicateKeysLastWins(t *testing.T) {
	current := []domain.Finding{
		finding("a", domain.FindingStatusPass, domain.RiskLow, 2),
		finding("a", domain.FindingStatusFail, domain.RiskLow, 2),
	}

	result, err := DiffFindings(nil, current)
	require.NoError(t, err)

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, DuplicateKeyWarning{EntityKey: "a", Snapshot: SnapshotCurrent, Occurrences: 2}, result.Warnings[0])
	require.Len(t, result.Changes, 1)
	assert.Equal(t, domain.ActionNewFinding, result.Changes[0].ChangeType)
}

func TestDiffer_ActiveExceptionMaintained(t *testing.T) {
	expires := runTime.Add(24 * time.Hour)
	d := &Differ{Exceptions: NewExceptionIndex([]*domain.Exception{{ID: "e1", EntityKey: "a", ExpiresAt: &expires}})}

	result, err := d.Diff(
		[]domain.Finding{finding("a", domain.FindingStatusFail, domain.RiskHigh, 1)},
		[]domain.Finding{finding("a", domain.FindingStatusFail, domain.RiskHigh, 2)},
	)
	require.NoError(t, err)

	require.Len(t, result.Changes, 1)
	assert.Equal(t, domain.ActionExceptionMaintained, result.Changes[0].ChangeType)
	assert.True(t, result.Changes[0].Suppressed)
}

func TestDiffer_ExpiredExceptionOnRegression(t *testing.T) {
	expired := runTime.Add(-time.Hour)
	d := &Differ{Exceptions: NewExceptionIndex([]*domain.Exception{{ID: "e1", EntityKey: "a", ExpiresAt: &expired}})}

	result, err := d.Diff(
		[]domain.Finding{finding("a", domain.FindingStatusPass, domain.RiskHigh, 1)},
		[]domain.Finding{finding("a", domain.FindingStatusFail, domain.RiskHigh, 2)},
	)
	require.NoError(t, err)

	types := []domain.ActionType{}
	for _, ch := range result.Changes {
		types = append(types, ch.ChangeType)
	}
	assert.Equal(t, []domain.ActionType{domain.ActionRegressed, domain.ActionExceptionExpired}, types)

	candidates := ConsolidateActions(DetectAllActions(result.Changes))
	require.Len(t, candidates, 1)
	assert.Equal(t, domain.ActionExceptionExpired, candidates[0].ActionType)
	assert.ElementsMatch(t, []string{FieldException, FieldStatus}, candidates[0].Fields)
}

func TestDiffer_IneligibleExceptionTreatedAsExpired(t *testing.T) {
	d := &Differ{
		Exceptions: NewExceptionIndex([]*domain.Exception{{ID: "e1", EntityKey: "a"}}),
		Policy:     DefaultEligibilityPolicy(),
	}
	prev := finding("a", domain.FindingStatusFail, domain.RiskHigh, 1)
	prev.FindingType = "sa_account_enabled"
	cur := prev
	cur.RunID = 2

	result, err := d.Diff([]domain.Finding{prev}, []domain.Finding{cur})
	require.NoError(t, err)

	require.Len(t, result.Changes, 1)
	assert.Equal(t, domain.ActionExceptionExpired, result.Changes[0].ChangeType)
}

func TestDiffer_ClassificationErrorCarriesKey(t *testing.T) {
	current := []domain.Finding{finding("a", "BROKEN", domain.RiskHigh, 2)}

	_, err := DiffFindings(nil, current)

	var ce *domain.ClassificationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, domain.EntityKey("a"), ce.EntityKey)
}

func TestDiffer_ExpiredExceptionOnUnchangedFailure(t *testing.T) {
	expired := runTime.Add(-time.Hour)
	d := &Differ{Exceptions: NewExceptionIndex([]*domain.Exception{{ID: "e1", EntityKey: "c", ExpiresAt: &expired}}), At: runTime}

	result, err := d.Diff(
		[]domain.Finding{finding("c", domain.FindingStatusFail, domain.RiskMedium, 1)},
		[]domain.Finding{finding("c", domain.FindingStatusFail, domain.RiskMedium, 2)},
	)
	require.NoError(t, err)

	want := []DetectedChange{
		{EntityKey: "c", ChangeType: domain.ActionExceptionExpired, PriorStatus: "FAIL", NewStatus: "FAIL", RunID: 2, Field: FieldStatus, FindingType: "weak_password_policy", PriorRisk: domain.RiskMedium, RiskLevel: domain.RiskMedium},
	}
	if diff := cmp.Diff(want, result.Changes); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffer_ExpiredExceptionOnPassingEntity(t *testing.T) {
	expired := runTime.Add(-time.Hour)
	d := &Differ{Exceptions: NewExceptionIndex([]*domain.Exception{{ID: "e1", EntityKey: "a", ExpiresAt: &expired}}), At: runTime}

	result, err := d.Diff(
		[]domain.Finding{finding("a", domain.FindingStatusPass, domain.RiskLow, 1)},
		[]domain.Finding{finding("a", domain.FindingStatusPass, domain.RiskLow, 2)},
	)
	require.NoError(t, err)

	require.Len(t, result.Changes, 1)
	assert.Equal(t, domain.ActionExceptionExpired, result.Changes[0].ChangeType)
	assert.Equal(t, FieldStatus, result.Changes[0].Field)
	assert.Equal(t, domain.ActionExceptionExpired, result.Transitions["a"].Kind)
	assert.Zero(t, result.Counts[domain.ActionNoChange])
}
