package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fixora/sqlaudit/internal/adapter/persistence"
	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/ports"
	"github.com/fixora/sqlaudit/internal/reconcile"
)

// MockActionPublisher is a mock implementation of ports.ActionPublisher
type MockActionPublisher struct {
	mock.Mock
}

func (m *MockActionPublisher) Publish(ctx context.Context, run *domain.AuditRun, actions []*domain.Action) error {
	args := m.Called(ctx, run, actions)
	return args.Error(0)
}

func (m *MockActionPublisher) Close() error {
	return nil
}

// stepClock advances one hour on every pass so runs are ordered in time.
type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time { return c.t }

func (c *stepClock) advance() { c.t = c.t.Add(time.Hour) }

func newClock() *stepClock {
	return &stepClock{t: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func mustKey(t *testing.T, parts ...string) domain.EntityKey {
	t.Helper()
	key, err := domain.BuildKey(parts...)
	require.NoError(t, err)
	return key
}

func snapshotOf(findings ...domain.Finding) *ports.Snapshot {
	return &ports.Snapshot{Findings: findings}
}

func auditFinding(key domain.EntityKey, status domain.FindingStatus, risk domain.RiskLevel) domain.Finding {
	return domain.Finding{EntityKey: key, FindingType: "weak_password_policy", Status: status, RiskLevel: risk}
}

func newReconcile(store *persistence.Store, clock *stepClock, publisher ports.ActionPublisher) *ReconcileUseCase {
	return NewReconcileUseCase(store, publisher, nil, nil).WithClock(clock.now)
}

func countActions(t *testing.T, store *persistence.Store) int {
	t.Helper()
	n, err := store.Repositories().Actions.Count(context.Background(), domain.ActionFilter{})
	require.NoError(t, err)
	return n
}

func TestReconcile_InitialThenIdempotentSync(t *testing.T) {
	ctx := context.Background()
	store := persistence.OpenTestStore(t)
	clock := newClock()
	uc := newReconcile(store, clock, nil)

	a := mustKey(t, "SQL01", "master", "login", "sa")
	b := mustKey(t, "SQL01", "hr", "user", "guest")
	input := PassInput{Snapshot: snapshotOf(
		auditFinding(a, domain.FindingStatusFail, domain.RiskHigh),
		auditFinding(b, domain.FindingStatusPass, domain.RiskLow),
	)}

	first, err := uc.Run(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Run.ID)
	assert.Equal(t, domain.RunTypeInitial, first.Run.RunType)
	assert.Equal(t, domain.RunStatusCompleted, first.Run.Status)
	assert.Equal(t, 1, first.Outcomes[reconcile.OutcomeInserted])
	require.Len(t, first.Actions, 1)
	assert.Equal(t, domain.ActionNewFinding, first.Actions[0].ActionType)

	clock.advance()
	second, err := uc.Run(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Run.ID)
	assert.Equal(t, domain.RunTypeSync, second.Run.RunType)
	assert.Empty(t, second.Actions)
	assert.Equal(t, 1, countActions(t, store))
}

func TestReconcile_ExceptionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := persistence.OpenTestStore(t)
	clock := newClock()
	uc := newReconcile(store, clock, nil)

	key := mustKey(t, "SQL01", "sales", "login", "app_rw")
	failing := PassInput{Snapshot: snapshotOf(auditFinding(key, domain.FindingStatusFail, domain.RiskMedium))}

	_, err := uc.Run(ctx, failing)
	require.NoError(t, err)

	// the user accepts the risk in the report
	clock.advance()
	withReport := failing
	withReport.Report = &ports.ReportContent{Annotations: []domain.ReportAnnotation{{
		EntityKey: key,
		Values:    domain.AnnotationValues{Justification: "legacy app", ReviewStatus: domain.ReviewStatusAcceptedRisk},
	}}}
	second, err := uc.Run(ctx, withReport)
	require.NoError(t, err)
	assert.Equal(t, 1, second.AnnotationWrites)
	require.Len(t, second.ExceptionChanges, 1)
	assert.Equal(t, reconcile.ExceptionCreate, second.ExceptionChanges[0].Op)
	// the granting pass already classifies against the new exception
	require.Len(t, second.Actions, 1)
	assert.Equal(t, domain.ActionExceptionMaintained, second.Actions[0].ActionType)
	// the finding has been failing since the first run
	assert.Equal(t, int64(1), second.Actions[0].InitialRunID)

	exc, err := store.Repositories().Exceptions.FindByEntity(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "legacy app", exc.Reason)

	// same snapshot, same report: nothing new to record
	clock.advance()
	third, err := uc.Run(ctx, withReport)
	require.NoError(t, err)
	assert.Zero(t, third.AnnotationWrites)
	assert.Empty(t, third.ExceptionChanges)
	assert.Empty(t, third.Actions)
	assert.Equal(t, 1, third.Outcomes[reconcile.OutcomeAbsorbed])

	clock.advance()
	fourth, err := uc.Run(ctx, withReport)
	require.NoError(t, err)
	assert.Empty(t, fourth.Actions)
	assert.Equal(t, 2, countActions(t, store))
}

func TestReconcile_ResolvedAndRemovedAcrossPasses(t *testing.T) {
	ctx := context.Background()
	store := persistence.OpenTestStore(t)
	clock := newClock()
	uc := newReconcile(store, clock, nil)

	a := mustKey(t, "SQL01", "master", "login", "sa")
	d := mustKey(t, "SQL01", "hr", "user", "contractor")
	_, err := uc.Run(ctx, PassInput{Snapshot: snapshotOf(
		auditFinding(a, domain.FindingStatusFail, domain.RiskHigh),
		auditFinding(d, domain.FindingStatusFail, domain.RiskMedium),
	)})
	require.NoError(t, err)

	// a is fixed, d is no longer collected
	clock.advance()
	second, err := uc.Run(ctx, PassInput{Snapshot: snapshotOf(
		auditFinding(a, domain.FindingStatusPass, domain.RiskHigh),
	)})
	require.NoError(t, err)
	require.Len(t, second.Actions, 2)

	byEntity := map[domain.EntityKey]*domain.Action{}
	for _, action := range second.Actions {
		byEntity[action.EntityKey] = action
	}

	resolved := byEntity[a]
	require.NotNil(t, resolved)
	assert.Equal(t, domain.ActionResolved, resolved.ActionType)
	assert.Equal(t, second.Run.ID, resolved.SyncRunID)
	assert.Equal(t, "FAIL", resolved.PriorStatus)
	assert.Equal(t, "PASS", resolved.NewStatus)

	removed := byEntity[d]
	require.NotNil(t, removed)
	assert.Equal(t, domain.ActionRemoved, removed.ActionType)
	assert.Equal(t, second.Run.ID, removed.SyncRunID)
	assert.Equal(t, "FAIL", removed.PriorStatus)
	assert.Empty(t, removed.NewStatus)

	// the same state again records nothing
	clock.advance()
	third, err := uc.Run(ctx, PassInput{Snapshot: snapshotOf(
		auditFinding(a, domain.FindingStatusPass, domain.RiskHigh),
	)})
	require.NoError(t, err)
	assert.Empty(t, third.Actions)
	assert.Equal(t, 4, countActions(t, store))
}

func TestReconcile_FailedPassLeavesNoPartialState(t *testing.T) {
	ctx := context.Background()
	store := persistence.OpenTestStore(t)
	uc := newReconcile(store, newClock(), nil)

	key := mustKey(t, "SQL01", "master", "config", "clr")
	bad := domain.Finding{EntityKey: key, FindingType: "clr_enabled", Status: "BROKEN", RiskLevel: domain.RiskLow}

	_, err := uc.Run(ctx, PassInput{Snapshot: snapshotOf(bad)})
	require.Error(t, err)
	var ce *domain.ClassificationError
	assert.True(t, errors.As(err, &ce))

	repos := store.Repositories()
	runs, err := repos.Runs.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunStatusFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)

	findings, err := repos.Findings.ListByRun(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Zero(t, countActions(t, store))
}

func TestReconcile_PublishesCommittedActions(t *testing.T) {
	ctx := context.Background()
	store := persistence.OpenTestStore(t)
	publisher := new(MockActionPublisher)
	publisher.On("Publish", mock.Anything, mock.AnythingOfType("*domain.AuditRun"), mock.MatchedBy(func(actions []*domain.Action) bool {
		return len(actions) == 1
	})).Return(errors.New("redis down"))

	uc := newReconcile(store, newClock(), publisher)
	key := mustKey(t, "SQL02", "master", "login", "sa")

	result, err := uc.Run(ctx, PassInput{Snapshot: snapshotOf(auditFinding(key, domain.FindingStatusWarn, domain.RiskLow))})

	require.NoError(t, err)
	assert.Len(t, result.Actions, 1)
	publisher.AssertExpectations(t)
}

func TestReconcile_ReportActionEdits(t *testing.T) {
	ctx := context.Background()
	store := persistence.OpenTestStore(t)
	clock := newClock()
	uc := newReconcile(store, clock, nil)

	key := mustKey(t, "SQL01", "master", "login", "sa")
	input := PassInput{Snapshot: snapshotOf(auditFinding(key, domain.FindingStatusFail, domain.RiskHigh))}
	first, err := uc.Run(ctx, input)
	require.NoError(t, err)
	actionID := first.Actions[0].ID

	clock.advance()
	input.Report = &ports.ReportContent{ActionEdits: []domain.ActionEdit{
		{ActionID: actionID, Field: domain.ActionFieldDescription, Value: "Ticket CHG-42 open"},
		{ActionID: "missing", Field: domain.ActionFieldDescription, Value: "x"},
		{ActionID: actionID, Field: "action_type", Value: "RESOLVED"},
	}}
	second, err := uc.Run(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 1, second.ActionEdits)
	assert.Len(t, second.Skipped, 2)

	action, err := store.Repositories().Actions.FindByID(ctx, actionID)
	require.NoError(t, err)
	assert.Equal(t, "Ticket CHG-42 open", action.Description)
	assert.True(t, action.IsUserEdited(domain.ActionFieldDescription))
}

func TestReconcile_RequiresSnapshot(t *testing.T) {
	uc := newReconcile(persistence.OpenTestStore(t), newClock(), nil)

	_, err := uc.Run(context.Background(), PassInput{})

	assert.Equal(t, domain.ErrCodeInvalidInput, domain.CodeOf(err))
}

type staticCollector struct{ snapshot *ports.Snapshot }

func (c staticCollector) Collect(context.Context) (*ports.Snapshot, error) { return c.snapshot, nil }

type failingReader struct{}

func (failingReader) Read(context.Context) (*ports.ReportContent, error) {
	return nil, errors.New("sheet locked")
}

func TestLoad(t *testing.T) {
	snap := snapshotOf()

	input, err := Load(context.Background(), staticCollector{snap}, nil)
	require.NoError(t, err)
	assert.Same(t, snap, input.Snapshot)
	assert.Nil(t, input.Report)

	_, err = Load(context.Background(), staticCollector{snap}, failingReader{})
	assert.ErrorContains(t, err, "sheet locked")
}
