package models

import "time"

// Checkpoint is a point-in-time snapshot of session progress. One file is
// written per checkpoint event; checkpoints are never mutated once written.
type Checkpoint struct {
	Version          string        `json:"version"`
	Timestamp        time.Time     `json:"timestamp"`
	SessionID        string        `json:"session_id"`
	CurrentTaskID    string        `json:"current_task_id,omitempty"`
	CompletedTaskIDs []string      `json:"completed_task_ids"`
	FailedTaskIDs    []string      `json:"failed_task_ids"`
	Elapsed          time.Duration `json:"elapsed"`
}
