// Package reconcile holds the reconciliation core: the transition classifier,
// the findings differ, action detection and consolidation, the action recorder
// and the annotation merge. Everything except Recorder is free of I/O.
package reconcile

import (
	"github.com/fixora/sqlaudit/internal/domain"
)

// State is a finding status or the implicit absent state.
type State string

// StateAbsent means the entity is not in the snapshot.
const StateAbsent State = ""

// StateOf converts a finding pointer into a classifier state.
func StateOf(f *domain.Finding) State {
	if f == nil {
		return StateAbsent
	}
	return State(f.Status)
}

func (s State) known() bool {
	return s == StateAbsent || domain.FindingStatus(s).Valid()
}

func (s State) failing() bool {
	return domain.FindingStatus(s).IsFailing()
}

// ExceptionContext describes the exception attached to an entity at the time
// of the current run. Active and Expired are mutually exclusive; both are
// false when Present is false.
type ExceptionContext struct {
	Present bool
	Active  bool
	Expired bool
}

// Transition is the classified change of one entity between two snapshots.
type Transition struct {
	Kind       domain.ActionType
	Suppressed bool
}

// ClassifyFindingTransition maps (prior, exception, next) to a transition kind.
// It is pure and is the only place transition rules live.
func ClassifyFindingTransition(prior, next State, exc ExceptionContext) (Transition, error) {
	if !prior.known() || !next.known() || (prior == StateAbsent && next == StateAbsent) {
		return Transition{}, &domain.ClassificationError{Prior: string(prior), Next: string(next)}
	}

	switch {
	case prior == StateAbsent && next.failing():
		return Transition{Kind: domain.ActionNewFinding, Suppressed: exc.Active}, nil

	case prior.failing() && next == StateAbsent:
		return Transition{Kind: domain.ActionRemoved}, nil

	case prior.failing() && !next.failing():
		// PASS or N/A
		return Transition{Kind: domain.ActionResolved}, nil

	case prior.failing() && next.failing():
		switch {
		case exc.Expired:
			return Transition{Kind: domain.ActionExceptionExpired}, nil
		case exc.Active:
			return Transition{Kind: domain.ActionExceptionMaintained, Suppressed: true}, nil
		}
		return Transition{Kind: domain.ActionNoChange}, nil

	case next.failing():
		// prior is PASS or N/A
		if domain.FindingStatus(prior) == domain.FindingStatusPass {
			return Transition{Kind: domain.ActionRegressed}, nil
		}
		return Transition{Kind: domain.ActionNewFinding, Suppressed: exc.Active}, nil
	}

	// non-failing on both sides, or non-failing entity disappeared
	if exc.Expired {
		return Transition{Kind: domain.ActionExceptionExpired}, nil
	}
	return Transition{Kind: domain.ActionNoChange}, nil
}

// IsNoOp reports whether a transition should be dropped by the differ.
// NO_CHANGE is only surfaced when an exception is in play.
func IsNoOp(t Transition, exc ExceptionContext) bool {
	return t.Kind == domain.ActionNoChange && !exc.Present
}
