package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ldi/nightshift/pkg/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.Init(context.Background()); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	return database
}

func TestCreateAndGetTask(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	task := &models.Task{
		Title:              "Add retry metrics",
		Type:               models.TaskTypeFeature,
		Priority:           5,
		Requirements:       "Expose retry counts per category",
		AcceptanceCriteria: []string{"counter increments", "report includes counts"},
		EstimatedDuration:  45,
		FilesToModify:      []string{"internal/retry/retry.go"},
		Tags:               []string{"observability"},
		Enabled:            true,
	}

	if err := database.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.ID == "" {
		t.Fatal("expected generated id")
	}
	if task.CreatedAt.IsZero() {
		t.Error("expected created_at to be populated")
	}
	if task.Position == 0 {
		t.Error("expected position to be assigned")
	}

	got, err := database.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected task, got nil")
	}
	if got.Title != task.Title {
		t.Errorf("expected title %q, got %q", task.Title, got.Title)
	}
	if len(got.AcceptanceCriteria) != 2 {
		t.Errorf("expected 2 acceptance criteria, got %v", got.AcceptanceCriteria)
	}
	if !got.Enabled {
		t.Error("expected task enabled")
	}
}

func TestGetTask_UnknownReturnsNil(t *testing.T) {
	database := setupTestDB(t)
	got, err := database.GetTask(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown id, got %+v", got)
	}
}

func TestCreateTask_InvalidType(t *testing.T) {
	database := setupTestDB(t)
	err := database.CreateTask(context.Background(), &models.Task{
		Title:        "bad",
		Type:         "banana",
		Requirements: "x",
	})
	if err == nil {
		t.Fatal("expected error for invalid task type")
	}
}

func TestListTasks_OrderAndDependencies(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	first := &models.Task{Title: "first", Requirements: "r", Enabled: true}
	if err := database.CreateTask(ctx, first); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	second := &models.Task{Title: "second", Requirements: "r", Enabled: true, Dependencies: []string{first.ID}}
	if err := database.CreateTask(ctx, second); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	disabled := &models.Task{Title: "disabled", Requirements: "r", Enabled: false}
	if err := database.CreateTask(ctx, disabled); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	all, err := database.ListTasks(ctx, false)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
	if all[0].Title != "first" || all[1].Title != "second" {
		t.Errorf("expected declaration order, got %s then %s", all[0].Title, all[1].Title)
	}
	if len(all[1].Dependencies) != 1 || all[1].Dependencies[0] != first.ID {
		t.Errorf("expected dependency attached, got %v", all[1].Dependencies)
	}

	enabled, err := database.ListTasks(ctx, true)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(enabled) != 2 {
		t.Errorf("expected 2 enabled tasks, got %d", len(enabled))
	}
}

func TestSetTaskEnabled(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	task := &models.Task{Title: "toggle", Requirements: "r", Enabled: true}
	if err := database.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	if err := database.SetTaskEnabled(ctx, task.ID, false); err != nil {
		t.Fatalf("SetTaskEnabled failed: %v", err)
	}
	got, err := database.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Enabled {
		t.Error("expected task disabled")
	}

	if err := database.SetTaskEnabled(ctx, "ghost", true); err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestDeleteTask(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	task := &models.Task{Title: "doomed", Requirements: "r", Enabled: true}
	if err := database.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := database.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	got, err := database.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got != nil {
		t.Error("expected task gone after delete")
	}
}

func TestSessionsAndOutcomes(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	if err := database.CreateSession(ctx, "s1", 8*time.Hour); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	outcomes := []models.TaskOutcome{
		{TaskID: "a", Status: models.OutcomeCompleted, Duration: time.Minute, FilesChanged: []string{"x.go", "y.go"}},
		{TaskID: "b", Status: models.OutcomeFailed, Duration: time.Second, Error: "rate limit exceeded"},
		{TaskID: "c", Status: models.OutcomeCompleted, Duration: 2 * time.Minute, FilesChanged: []string{"z.go"}},
	}
	for _, o := range outcomes {
		if err := database.RecordOutcome(ctx, "s1", o); err != nil {
			t.Fatalf("RecordOutcome failed: %v", err)
		}
	}

	got, err := database.ListOutcomes(ctx, "s1")
	if err != nil {
		t.Fatalf("ListOutcomes failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(got))
	}
	// Append order is preserved.
	for i, want := range []string{"a", "b", "c"} {
		if got[i].TaskID != want {
			t.Errorf("outcome %d: expected %s, got %s", i, want, got[i].TaskID)
		}
	}
	if got[1].Status != models.OutcomeFailed || got[1].Error == "" {
		t.Errorf("expected failed outcome with error, got %+v", got[1])
	}
	if got[0].Duration != time.Minute {
		t.Errorf("expected 1m duration, got %s", got[0].Duration)
	}
	if len(got[0].FilesChanged) != 2 {
		t.Errorf("expected 2 changed files, got %v", got[0].FilesChanged)
	}

	if err := database.FinishSession(ctx, "s1", false); err != nil {
		t.Fatalf("FinishSession failed: %v", err)
	}
	if err := database.FinishSession(ctx, "ghost", true); err == nil {
		t.Error("expected error finishing unknown session")
	}
}

func TestExportQueue(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	for _, title := range []string{"one", "two"} {
		if err := database.CreateTask(ctx, &models.Task{Title: title, Requirements: "r", Enabled: true}); err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "queue.jsonl")
	if err := database.ExportQueue(ctx, path); err != nil {
		t.Fatalf("ExportQueue failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSONL lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"one"`) || !strings.Contains(lines[1], `"two"`) {
		t.Errorf("export should preserve declaration order:\n%s", data)
	}
}

func TestAutoExportOnChange(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "queue.jsonl")
	database.EnableAutoExport(path)

	if err := database.CreateTask(ctx, &models.Task{Title: "auto", Requirements: "r", Enabled: true}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected export file after write, got %v", err)
	}
}
