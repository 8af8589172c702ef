package models

import (
	"testing"
	"time"
)

func TestTaskTimeout(t *testing.T) {
	task := &Task{EstimatedDuration: 45}
	if got := task.Timeout(); got != 45*time.Minute {
		t.Errorf("expected 45m, got %s", got)
	}

	task = &Task{}
	if got := task.Timeout(); got != 30*time.Minute {
		t.Errorf("expected 30m default, got %s", got)
	}

	task = &Task{EstimatedDuration: -5}
	if got := task.Timeout(); got != 30*time.Minute {
		t.Errorf("negative estimate should fall back to default, got %s", got)
	}
}

func TestValidTaskType(t *testing.T) {
	for _, tt := range []TaskType{TaskTypeFeature, TaskTypeBugfix, TaskTypeRefactor, TaskTypeTest, TaskTypeDocs} {
		if !ValidTaskType(tt) {
			t.Errorf("expected %s to be valid", tt)
		}
	}
	if ValidTaskType("banana") {
		t.Error("expected banana to be invalid")
	}
	if ValidTaskType("") {
		t.Error("expected empty type to be invalid")
	}
}

func TestSessionResultSucceeded(t *testing.T) {
	tests := []struct {
		name   string
		result SessionResult
		want   bool
	}{
		{"all completed", SessionResult{Completed: []string{"a"}}, true},
		{"empty run", SessionResult{}, true},
		{"skipped only", SessionResult{Completed: []string{"a"}, Skipped: []string{"b"}}, true},
		{"has failure", SessionResult{Completed: []string{"a"}, Failed: []string{"b"}}, false},
		{"aborted", SessionResult{Completed: []string{"a"}, Aborted: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Succeeded(); got != tt.want {
				t.Errorf("Succeeded() = %v, want %v", got, tt.want)
			}
		})
	}
}
