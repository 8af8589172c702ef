package models

import "time"

type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeFailed    OutcomeStatus = "failed"
)

// TaskOutcome records the terminal result of one task within a session.
// Outcomes are append-only; they are never mutated after being recorded.
type TaskOutcome struct {
	TaskID       string        `json:"task_id"`
	Status       OutcomeStatus `json:"status"`
	Duration     time.Duration `json:"duration"`
	FilesChanged []string      `json:"files_changed,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at,omitempty"`
	Error        string        `json:"error,omitempty"`
	FailedAt     time.Time     `json:"failed_at,omitempty"`
}

// WorkResult is what the delegated-work boundary returns for one attempt.
type WorkResult struct {
	Success      bool          `json:"success"`
	Output       string        `json:"output"`
	FilesChanged []string      `json:"files_changed"`
	Duration     time.Duration `json:"duration"`
}

// ValidationReport is the completion-validation boundary's verdict.
type ValidationReport struct {
	Passed   bool     `json:"passed"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// SessionResult is handed to the caller when a session terminates, however
// it terminated. It always carries the full outcome picture.
type SessionResult struct {
	SessionID string        `json:"session_id"`
	Completed []string      `json:"completed"` // task ids, in completion order
	Failed    []string      `json:"failed"`
	Skipped   []string      `json:"skipped"` // task ids never attempted (budget or abort)
	Elapsed   time.Duration `json:"elapsed"`
	Aborted   bool          `json:"aborted"` // session-ending failure or cancellation
	Warnings  []string      `json:"warnings,omitempty"`
}

// Succeeded reports whether the session finished with zero failed tasks.
// Skipped tasks do not count against success.
func (r *SessionResult) Succeeded() bool {
	return len(r.Failed) == 0 && !r.Aborted
}
