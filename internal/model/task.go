package model

import "time"

// TaskStatus represents the state of one pipeline task attempt.
type TaskStatus string

const (
	TaskStatusRunning        TaskStatus = "running"
	TaskStatusComplete       TaskStatus = "complete"
	TaskStatusFailed         TaskStatus = "failed"
	TaskStatusUpstreamFailed TaskStatus = "upstream_failed" // never attempted; a dependency failed
)

// Terminal reports whether no further attempts follow this status.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusComplete || s == TaskStatusUpstreamFailed
}

// TaskResult is what a task reports on success.
type TaskResult struct {
	RowsWritten int64          `json:"rows_written"`
	RowsSkipped int64          `json:"rows_skipped"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TaskRun is one row of the task log.
type TaskRun struct {
	ID          int64          `json:"id"`
	RunID       string         `json:"run_id"`
	Task        string         `json:"task"`
	Attempt     int            `json:"attempt"`
	Status      TaskStatus     `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	RowsWritten int64          `json:"rows_written"`
	RowsSkipped int64          `json:"rows_skipped"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Duration returns how long the attempt took, or zero while it is running.
func (r TaskRun) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
