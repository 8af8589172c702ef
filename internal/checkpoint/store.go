// Package checkpoint persists session progress so a new process can resume
// a partially-completed session.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ldi/nightshift/pkg/models"
)

// Version written into every checkpoint for forward compatibility.
const Version = "1.0"

// Store writes one file per checkpoint event under
// <dir>/<session_id>/checkpoint-<unixnano>.json.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save writes the checkpoint atomically (write-to-temp-then-rename) and
// returns the path written. It is safe to call frequently; a crash mid-save
// can never leave a half-written file at the final path.
func (s *Store) Save(cp models.Checkpoint) (string, error) {
	if cp.SessionID == "" {
		return "", fmt.Errorf("checkpoint has no session id")
	}
	if cp.Version == "" {
		cp.Version = Version
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	if cp.CompletedTaskIDs == nil {
		cp.CompletedTaskIDs = []string{}
	}
	if cp.FailedTaskIDs == nil {
		cp.FailedTaskIDs = []string{}
	}

	dir := filepath.Join(s.dir, cp.SessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, fmt.Sprintf("checkpoint-%d.json", cp.Timestamp.UnixNano()))
	tempFile, err := os.CreateTemp(dir, "checkpoint-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tempName := tempFile.Name()
	committed := false
	defer func() {
		tempFile.Close()
		if !committed {
			os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return "", fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return "", fmt.Errorf("failed to move checkpoint into place: %w", err)
	}
	committed = true
	return path, nil
}

// Load reads one checkpoint file. A missing or unparsable file is an error,
// never a silent no-op: resuming from nothing must fail loudly at startup.
func Load(path string) (models.Checkpoint, error) {
	var cp models.Checkpoint
	data, err := os.ReadFile(path)
	if err != nil {
		return cp, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return cp, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}
	if cp.SessionID == "" {
		return cp, fmt.Errorf("checkpoint %s has no session id", path)
	}
	return cp, nil
}

// Latest returns the path of the most recent checkpoint for a session, or
// an error when none exists. The unixnano-suffixed filenames make the
// lexicographically largest name the newest.
func (s *Store) Latest(sessionID string) (string, error) {
	dir := filepath.Join(s.dir, sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to list checkpoints for session %s: %w", sessionID, err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "checkpoint-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no checkpoints found for session %s", sessionID)
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}
