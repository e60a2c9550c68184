package ports

import (
	"time"

	"github.com/google/uuid"
)

// Event is the envelope published to read-only consumers of the action
// history
type Event struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Aggregate   string                 `json:"aggregate"`
	AggregateID string                 `json:"aggregate_id"`
	Data        map[string]interface{} `json:"data"`
	Version     int                    `json:"version"`
	CreatedAt   int64                  `json:"created_at"`
}

// Event Types
const (
	EventTypeActionRecorded = "action_recorded"
	EventTypeActionUpdated  = "action_updated"
	EventTypeRunCompleted   = "run_completed"
)

// NewEvent creates a new event
func NewEvent(eventType, aggregate, aggregateID string, data map[string]interface{}, version int) *Event {
	return &Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		Aggregate:   aggregate,
		AggregateID: aggregateID,
		Data:        data,
		Version:     version,
		CreatedAt:   time.Now().Unix(),
	}
}
