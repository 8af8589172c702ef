package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ldi/nightshift/pkg/models"
)

// CreateSession records the start of a session run.
func (db *DB) CreateSession(ctx context.Context, sessionID string, budget time.Duration) error {
	query := `INSERT INTO sessions (id, budget_secs) VALUES (?, ?)`
	if _, err := db.ExecContext(ctx, query, sessionID, int(budget.Seconds())); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	db.triggerChange(ctx)
	return nil
}

// FinishSession marks a session as terminated.
func (db *DB) FinishSession(ctx context.Context, sessionID string, succeeded bool) error {
	v := 0
	if succeeded {
		v = 1
	}
	query := `UPDATE sessions SET finished_at = CURRENT_TIMESTAMP, succeeded = ? WHERE id = ?`
	res, err := db.ExecContext(ctx, query, v, sessionID)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	db.triggerChange(ctx)
	return nil
}

// RecordOutcome appends one task outcome to a session's history.
// The append order is preserved by the autoincrement sequence.
func (db *DB) RecordOutcome(ctx context.Context, sessionID string, o models.TaskOutcome) error {
	files, err := json.Marshal(o.FilesChanged)
	if err != nil {
		return fmt.Errorf("failed to encode files_changed: %w", err)
	}
	query := `
		INSERT INTO outcomes (session_id, task_id, status, duration_ms, files_changed, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query,
		sessionID, o.TaskID, o.Status, o.Duration.Milliseconds(), string(files), o.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	db.triggerChange(ctx)
	return nil
}

// ListOutcomes returns a session's outcomes in append order.
func (db *DB) ListOutcomes(ctx context.Context, sessionID string) ([]models.TaskOutcome, error) {
	query := `
		SELECT task_id, status, duration_ms, files_changed, error, recorded_at
		FROM outcomes
		WHERE session_id = ?
		ORDER BY seq ASC
	`
	rows, err := db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []models.TaskOutcome
	for rows.Next() {
		var o models.TaskOutcome
		var files string
		var durationMs int64
		var recordedAt time.Time
		if err := rows.Scan(&o.TaskID, &o.Status, &durationMs, &files, &o.Error, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Duration = time.Duration(durationMs) * time.Millisecond
		if files != "" {
			if err := json.Unmarshal([]byte(files), &o.FilesChanged); err != nil {
				return nil, fmt.Errorf("failed to decode files_changed: %w", err)
			}
		}
		if o.Status == models.OutcomeFailed {
			o.FailedAt = recordedAt
		} else {
			o.CompletedAt = recordedAt
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return outcomes, nil
}
