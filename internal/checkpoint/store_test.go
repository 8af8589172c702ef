package checkpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ldi/nightshift/pkg/models"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	cp := models.Checkpoint{
		SessionID:        "session-1",
		CurrentTaskID:    "task-b",
		CompletedTaskIDs: []string{"task-a"},
		FailedTaskIDs:    []string{},
		Elapsed:          90 * time.Minute,
	}

	path, err := store.Save(cp)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !strings.Contains(path, "session-1") {
		t.Errorf("checkpoint should live under the session directory, got %s", path)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.SessionID != "session-1" {
		t.Errorf("expected session-1, got %s", loaded.SessionID)
	}
	if loaded.CurrentTaskID != "task-b" {
		t.Errorf("expected current task task-b, got %s", loaded.CurrentTaskID)
	}
	if len(loaded.CompletedTaskIDs) != 1 || loaded.CompletedTaskIDs[0] != "task-a" {
		t.Errorf("unexpected completed ids: %v", loaded.CompletedTaskIDs)
	}
	if loaded.Elapsed != 90*time.Minute {
		t.Errorf("expected 90m elapsed, got %s", loaded.Elapsed)
	}
	if loaded.Version == "" {
		t.Error("expected version to be stamped on save")
	}
	if loaded.Timestamp.IsZero() {
		t.Error("expected timestamp to be stamped on save")
	}
}

func TestSave_RequiresSessionID(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Save(models.Checkpoint{}); err == nil {
		t.Fatal("expected error for checkpoint without session id")
	}
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if _, err := store.Save(models.Checkpoint{SessionID: "s"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "s"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestLoad_MissingFileIsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing checkpoint file")
	}
}

func TestLoad_CorruptFileIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint-1.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for corrupt checkpoint file")
	}
}

func TestLoad_MissingSessionIDIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint-1.json")
	if err := os.WriteFile(path, []byte(`{"version":"1.0"}`), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for checkpoint without session id")
	}
}

func TestLatest_ReturnsNewest(t *testing.T) {
	store := NewStore(t.TempDir())

	times := []time.Time{
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC),
	}
	var newest string
	for _, ts := range times {
		path, err := store.Save(models.Checkpoint{
			SessionID: "s",
			Timestamp: ts,
			Elapsed:   time.Duration(ts.Hour()) * time.Hour,
		})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if ts.Hour() == 2 {
			newest = path
		}
	}

	got, err := store.Latest("s")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if got != newest {
		t.Errorf("expected %s, got %s", newest, got)
	}

	cp, err := Load(got)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cp.Elapsed != 2*time.Hour {
		t.Errorf("expected the 2h checkpoint, got %s", cp.Elapsed)
	}
}

func TestLatest_NoCheckpointsIsError(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Latest("ghost"); err == nil {
		t.Fatal("expected error when no checkpoints exist")
	}
}
