package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ldi/nightshift/internal/checkpoint"
	"github.com/ldi/nightshift/internal/db"
	"github.com/ldi/nightshift/pkg/models"
)

func setupServer(t *testing.T) (*httptest.Server, *db.DB, *checkpoint.Store) {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Init(context.Background()); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	store := checkpoint.NewStore(t.TempDir())
	ts := httptest.NewServer(NewServer(database, store).Handler())
	t.Cleanup(ts.Close)
	return ts, database, store
}

func getJSON(t *testing.T, url string, dst any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if dst != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decode %s failed: %v", url, err)
		}
	}
	return resp
}

func TestHandleTasks(t *testing.T) {
	ts, database, _ := setupServer(t)
	ctx := context.Background()

	if err := database.CreateTask(ctx, &models.Task{Title: "one", Requirements: "r", Enabled: true}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	var tasks []models.Task
	resp := getJSON(t, ts.URL+"/api/tasks", &tasks)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(tasks) != 1 || tasks[0].Title != "one" {
		t.Errorf("unexpected tasks: %+v", tasks)
	}
}

func TestHandleOrder(t *testing.T) {
	ts, database, _ := setupServer(t)
	ctx := context.Background()

	first := &models.Task{Title: "first", Requirements: "r", Enabled: true}
	if err := database.CreateTask(ctx, first); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	second := &models.Task{Title: "second", Requirements: "r", Enabled: true, Dependencies: []string{first.ID}}
	if err := database.CreateTask(ctx, second); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	var body struct {
		Order    []models.Task `json:"order"`
		Warnings []string      `json:"warnings"`
	}
	resp := getJSON(t, ts.URL+"/api/order", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(body.Order) != 2 || body.Order[0].ID != first.ID {
		t.Errorf("unexpected order: %+v", body.Order)
	}
}

func TestHandleOutcomes(t *testing.T) {
	ts, database, _ := setupServer(t)
	ctx := context.Background()

	if err := database.CreateSession(ctx, "s1", time.Hour); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := database.RecordOutcome(ctx, "s1", models.TaskOutcome{
		TaskID: "a", Status: models.OutcomeCompleted, Duration: time.Minute,
	}); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}

	var outcomes []models.TaskOutcome
	resp := getJSON(t, ts.URL+"/api/outcomes?session=s1", &outcomes)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(outcomes) != 1 || outcomes[0].TaskID != "a" {
		t.Errorf("unexpected outcomes: %+v", outcomes)
	}

	resp = getJSON(t, ts.URL+"/api/outcomes", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without session param, got %d", resp.StatusCode)
	}
}

func TestHandleCheckpoint(t *testing.T) {
	ts, _, store := setupServer(t)

	resp := getJSON(t, ts.URL+"/api/checkpoint?session=ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", resp.StatusCode)
	}

	if _, err := store.Save(models.Checkpoint{
		SessionID:        "s1",
		CompletedTaskIDs: []string{"a"},
		Elapsed:          time.Hour,
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var cp models.Checkpoint
	resp = getJSON(t, ts.URL+"/api/checkpoint?session=s1", &cp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cp.SessionID != "s1" || len(cp.CompletedTaskIDs) != 1 {
		t.Errorf("unexpected checkpoint: %+v", cp)
	}
}
