package domain

import "time"

// RunType represents why an audit run happened
type RunType string

const (
	RunTypeInitial RunType = "INITIAL"
	RunTypeSync    RunType = "SYNC"
)

// RunStatus represents the lifecycle state of a run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// AuditRun is a monotonically numbered snapshot boundary.
type AuditRun struct {
	ID         int64      `json:"id"`
	RunType    RunType    `json:"run_type"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
}

// Complete marks the run finished successfully
func (r *AuditRun) Complete(at time.Time) {
	r.Status = RunStatusCompleted
	r.FinishedAt = &at
}

// Fail marks the run as failed with the cause
func (r *AuditRun) Fail(at time.Time, err error) {
	r.Status = RunStatusFailed
	r.FinishedAt = &at
	if err != nil {
		r.Error = err.Error()
	}
}
