package db

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// EnableAutoExport sets up a hook that exports the task queue to the given
// path after every successful write. Exports are best-effort; a failed
// export never fails the original write.
func (db *DB) EnableAutoExport(path string) {
	db.SetOnChange(func(ctx context.Context) {
		_ = db.ExportQueue(ctx, path)
	})
}

// ExportQueue writes the task queue as JSONL (one task per line, declaration
// order) atomically using a temporary file. The export is the human-diffable
// mirror of the sqlite queue, suitable for checking into version control.
func (db *DB) ExportQueue(ctx context.Context, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	tasks, err := db.ListTasks(ctx, false)
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, "queue-*.jsonl")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempFile.Name())
		}
	}()

	enc := json.NewEncoder(tempFile)
	for _, t := range tasks {
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("failed to write queue line: %w", err)
		}
	}

	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	filename := tempFile.Name()
	tempFile = nil // Prevent defer from removing it

	if err := os.Rename(filename, path); err != nil {
		return fmt.Errorf("failed to move queue export into place: %w", err)
	}
	return nil
}
