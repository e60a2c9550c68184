package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/ports"
)

// RecordOutcome tells what Record did with a candidate.
type RecordOutcome string

const (
	OutcomeInserted  RecordOutcome = "inserted"
	OutcomeUpdated   RecordOutcome = "updated"
	OutcomeUnchanged RecordOutcome = "unchanged"
	// OutcomeAbsorbed means the candidate continues a condition the entity's
	// latest action already records.
	OutcomeAbsorbed RecordOutcome = "absorbed"
)

// ActionIndex is an in-memory lookup over recorded actions.
type ActionIndex struct {
	byKey  map[domain.DedupKey]*domain.Action
	latest map[domain.EntityKey]*domain.Action
}

// NewActionIndex indexes actions by dedup key and by entity.
func NewActionIndex(actions []*domain.Action) *ActionIndex {
	idx := &ActionIndex{
		byKey:  make(map[domain.DedupKey]*domain.Action, len(actions)),
		latest: make(map[domain.EntityKey]*domain.Action, len(actions)),
	}
	for _, a := range actions {
		idx.Add(a)
	}
	return idx
}

// Add indexes a, replacing the entity's latest action if a is newer.
func (i *ActionIndex) Add(a *domain.Action) {
	i.byKey[a.Key()] = a
	cur, ok := i.latest[a.EntityKey]
	if !ok || newerThan(a, cur) {
		i.latest[a.EntityKey] = a
	}
}

// Lookup returns the action recorded under key.
func (i *ActionIndex) Lookup(key domain.DedupKey) (*domain.Action, bool) {
	a, ok := i.byKey[key]
	return a, ok
}

// Latest returns the most recent action of an entity.
func (i *ActionIndex) Latest(key domain.EntityKey) (*domain.Action, bool) {
	a, ok := i.latest[key]
	return a, ok
}

// Len returns the number of indexed actions.
func (i *ActionIndex) Len() int {
	return len(i.byKey)
}

func newerThan(a, b *domain.Action) bool {
	if a.SyncRunID != b.SyncRunID {
		return a.SyncRunID > b.SyncRunID
	}
	if a.ActionType.Priority() != b.ActionType.Priority() {
		return a.ActionType.Priority() > b.ActionType.Priority()
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func candidateKeyOf(c ActionCandidate) domain.DedupKey {
	return domain.DedupKey{EntityKey: c.EntityKey, ActionType: c.ActionType, SyncRunID: c.RunID}
}

// ShouldRecordAction reports whether c needs a new action row. It does not
// when the same (entity, type, run) already exists, or when c is a persistent
// condition already recorded as the entity's latest action by an earlier run.
func ShouldRecordAction(c ActionCandidate, idx *ActionIndex) bool {
	if _, ok := idx.Lookup(candidateKeyOf(c)); ok {
		return false
	}
	return !continues(c, idx)
}

func continues(c ActionCandidate, idx *ActionIndex) bool {
	if !c.ActionType.Persistent() {
		return false
	}
	latest, ok := idx.Latest(c.EntityKey)
	if !ok {
		return false
	}
	return latest.ActionType == c.ActionType && latest.SyncRunID < c.RunID
}

// Recorder persists action candidates at most once per dedup key.
type Recorder struct {
	repo  ports.ActionRepository
	index *ActionIndex
	now   func() time.Time
}

// NewRecorder creates a recorder over repo. index holds the actions already
// recorded that matter for dedup; it is updated as actions are recorded.
func NewRecorder(repo ports.ActionRepository, index *ActionIndex, now func() time.Time) *Recorder {
	if index == nil {
		index = NewActionIndex(nil)
	}
	if now == nil {
		now = time.Now
	}
	return &Recorder{repo: repo, index: index, now: now}
}

// Index exposes the recorder's action index.
func (r *Recorder) Index() *ActionIndex {
	return r.index
}

// Record writes c. A new dedup key inserts a row. An existing one is updated
// in the fields no human has edited, or left alone when nothing differs.
func (r *Recorder) Record(ctx context.Context, c ActionCandidate) (*domain.Action, RecordOutcome, error) {
	if existing, ok := r.index.Lookup(candidateKeyOf(c)); ok {
		return r.refresh(ctx, existing, c)
	}
	if continues(c, r.index) {
		latest, _ := r.index.Latest(c.EntityKey)
		return latest, OutcomeAbsorbed, nil
	}

	now := r.now().UTC().Truncate(time.Second)
	action := domain.NewAction(c.EntityKey, c.ActionType, r.initialRunID(c), c.RunID, Describe(c), now)
	action.PriorStatus = c.PriorStatus
	action.NewStatus = c.NewStatus
	action.RiskLevel = c.RiskLevel

	if err := r.repo.Create(ctx, action); err != nil {
		return nil, "", fmt.Errorf("failed to record action for %s: %w", c.EntityKey, err)
	}
	r.index.Add(action)
	return action, OutcomeInserted, nil
}

// initialRunID is the run where the condition behind c first appeared. A
// failing state carried over from the entity's latest action keeps that
// action's initial run.
func (r *Recorder) initialRunID(c ActionCandidate) int64 {
	if !c.ActionType.Persistent() {
		return c.RunID
	}
	latest, ok := r.index.Latest(c.EntityKey)
	if !ok || latest.InitialRunID == 0 {
		return c.RunID
	}
	if !domain.FindingStatus(latest.NewStatus).IsFailing() {
		return c.RunID
	}
	return latest.InitialRunID
}

func (r *Recorder) refresh(ctx context.Context, existing *domain.Action, c ActionCandidate) (*domain.Action, RecordOutcome, error) {
	updated := *existing
	updated.PriorStatus = c.PriorStatus
	updated.NewStatus = c.NewStatus
	updated.RiskLevel = c.RiskLevel
	if !existing.IsUserEdited(domain.ActionFieldDescription) {
		updated.Description = Describe(c)
	}

	if updated.PriorStatus == existing.PriorStatus &&
		updated.NewStatus == existing.NewStatus &&
		updated.RiskLevel == existing.RiskLevel &&
		updated.Description == existing.Description {
		return existing, OutcomeUnchanged, nil
	}

	updated.UpdatedAt = r.now().UTC().Truncate(time.Second)
	if err := r.repo.Update(ctx, &updated); err != nil {
		return nil, "", fmt.Errorf("failed to update action %s: %w", existing.ID, err)
	}
	*existing = updated
	return existing, OutcomeUpdated, nil
}

// ApplyEdit applies a human edit to a recorded action and marks the field as
// user-owned so later passes leave it alone.
func ApplyEdit(ctx context.Context, repo ports.ActionRepository, edit domain.ActionEdit, now time.Time) (*domain.Action, error) {
	if edit.Field != domain.ActionFieldDescription {
		return nil, fmt.Errorf("%w: action field %q", domain.ErrUnknownField, edit.Field)
	}

	action, err := repo.FindByID(ctx, edit.ActionID)
	if err != nil {
		return nil, err
	}
	if action.Description == edit.Value {
		return action, nil
	}

	action.Description = edit.Value
	action.MarkUserEdited(edit.Field)
	action.UpdatedAt = now.UTC().Truncate(time.Second)
	if err := repo.Update(ctx, action); err != nil {
		return nil, fmt.Errorf("failed to apply edit to action %s: %w", action.ID, err)
	}
	return action, nil
}
