package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActionType is the kind of transition an action records
type ActionType string

const (
	ActionNewFinding          ActionType = "NEW_FINDING"
	ActionResolved            ActionType = "RESOLVED"
	ActionRegressed           ActionType = "REGRESSED"
	ActionNoChange            ActionType = "NO_CHANGE"
	ActionExceptionMaintained ActionType = "EXCEPTION_MAINTAINED"
	ActionExceptionExpired    ActionType = "EXCEPTION_EXPIRED"
	ActionRemoved             ActionType = "REMOVED"
)

// ActionTypes lists every action type, highest consolidation priority first.
var ActionTypes = []ActionType{
	ActionExceptionExpired,
	ActionRegressed,
	ActionNewFinding,
	ActionResolved,
	ActionRemoved,
	ActionExceptionMaintained,
	ActionNoChange,
}

// Priority ranks action types for consolidation; higher wins.
func (t ActionType) Priority() int {
	for i, at := range ActionTypes {
		if at == t {
			return len(ActionTypes) - i
		}
	}
	return 0
}

// Persistent reports whether the type describes a continuing condition rather
// than a one-off event.
func (t ActionType) Persistent() bool {
	return t == ActionExceptionMaintained || t == ActionExceptionExpired || t == ActionNoChange
}

// User-editable action fields.
const (
	ActionFieldDescription = "description"
)

// Action is the persisted, deduplicated record of one transition in one run.
// (EntityKey, ActionType, SyncRunID) is unique.
type Action struct {
	ID               string     `json:"id"`
	EntityKey        EntityKey  `json:"entity_key"`
	ActionType       ActionType `json:"action_type"`
	InitialRunID     int64      `json:"initial_run_id"`
	SyncRunID        int64      `json:"sync_run_id"`
	Description      string     `json:"description"`
	PriorStatus      string     `json:"prior_status,omitempty"`
	NewStatus        string     `json:"new_status,omitempty"`
	RiskLevel        RiskLevel  `json:"risk_level,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	UserEditedFields []string   `json:"user_edited_fields,omitempty"`
}

// DedupKey identifies an action for at-most-once recording.
type DedupKey struct {
	EntityKey  EntityKey
	ActionType ActionType
	SyncRunID  int64
}

// Key returns the dedup triple of the action.
func (a *Action) Key() DedupKey {
	return DedupKey{EntityKey: a.EntityKey, ActionType: a.ActionType, SyncRunID: a.SyncRunID}
}

// IsUserEdited reports whether field was changed by a human.
func (a *Action) IsUserEdited(field string) bool {
	for _, f := range a.UserEditedFields {
		if f == field {
			return true
		}
	}
	return false
}

// MarkUserEdited adds field to the set of human-owned fields.
func (a *Action) MarkUserEdited(field string) {
	if !a.IsUserEdited(field) {
		a.UserEditedFields = append(a.UserEditedFields, field)
	}
}

// NewAction creates a new action row
func NewAction(key EntityKey, actionType ActionType, initialRunID, syncRunID int64, description string, now time.Time) *Action {
	return &Action{
		ID:           uuid.NewString(),
		EntityKey:    key,
		ActionType:   actionType,
		InitialRunID: initialRunID,
		SyncRunID:    syncRunID,
		Description:  description,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ActionEdit is a human change to a recorded action, read from the report or
// entered through the CLI.
type ActionEdit struct {
	ActionID string `json:"action_id"`
	Field    string `json:"field"`
	Value    string `json:"value"`
}

// ActionFilter represents filters for listing actions
type ActionFilter struct {
	SyncRunID  *int64      `json:"sync_run_id,omitempty"`
	EntityKey  *EntityKey  `json:"entity_key,omitempty"`
	ActionType *ActionType `json:"action_type,omitempty"`
	Limit      int         `json:"limit"`
}
