package models

import "time"

type TaskType string

const (
	TaskTypeFeature  TaskType = "feature"
	TaskTypeBugfix   TaskType = "bugfix"
	TaskTypeRefactor TaskType = "refactor"
	TaskTypeTest     TaskType = "test"
	TaskTypeDocs     TaskType = "docs"
)

// ValidTaskType reports whether t is one of the known task types.
func ValidTaskType(t TaskType) bool {
	switch t {
	case TaskTypeFeature, TaskTypeBugfix, TaskTypeRefactor, TaskTypeTest, TaskTypeDocs:
		return true
	}
	return false
}

// Task is a unit of requested work. Tasks are loaded once at session start
// and are never mutated by the engine; results live in separate TaskOutcome
// records keyed by task id.
type Task struct {
	ID                 string    `json:"id" yaml:"id"`
	Title              string    `json:"title" yaml:"title"`
	Type               TaskType  `json:"type" yaml:"type"`
	Priority           int       `json:"priority" yaml:"priority,omitempty"`
	Requirements       string    `json:"requirements" yaml:"requirements"`
	AcceptanceCriteria []string  `json:"acceptance_criteria" yaml:"acceptance_criteria,omitempty"`
	EstimatedDuration  int       `json:"estimated_duration" yaml:"estimated_duration,omitempty"` // minutes; doubles as the execution timeout
	Dependencies       []string  `json:"dependencies" yaml:"dependencies,omitempty"`
	FilesToModify      []string  `json:"files_to_modify" yaml:"files_to_modify,omitempty"` // advisory only
	Tags               []string  `json:"tags" yaml:"tags,omitempty"`
	Enabled            bool      `json:"enabled" yaml:"enabled"`
	CreatedAt          time.Time `json:"created_at" yaml:"-"`

	// Position is the declaration order within the queue, used as the final
	// tie-break when resolving the execution order.
	Position int `json:"position" yaml:"-"`
}

// Timeout returns the per-task execution timeout derived from the estimate.
func (t *Task) Timeout() time.Duration {
	if t.EstimatedDuration <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(t.EstimatedDuration) * time.Minute
}
