package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/ldi/nightshift/pkg/models"
)

// CreateTask inserts a new task and its dependency edges.
// If t.ID is empty, a new UUID is generated. Position defaults to the next
// slot in declaration order.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Type == "" {
		t.Type = models.TaskTypeFeature
	}
	if !models.ValidTaskType(t.Type) {
		return fmt.Errorf("invalid task type: %s", t.Type)
	}

	if t.Position == 0 {
		var max sql.NullInt64
		if err := db.QueryRowContext(ctx, `SELECT MAX(position) FROM tasks`).Scan(&max); err != nil {
			return fmt.Errorf("failed to determine task position: %w", err)
		}
		t.Position = int(max.Int64) + 1
	}

	criteria, files, tags, err := encodeTaskLists(t)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (id, title, type, priority, requirements, acceptance_criteria,
		                   estimated_duration, files_to_modify, tags, enabled, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING created_at
	`
	enabled := 0
	if t.Enabled {
		enabled = 1
	}
	err = db.QueryRowContext(ctx, query,
		t.ID, t.Title, t.Type, t.Priority, t.Requirements, criteria,
		t.EstimatedDuration, files, tags, enabled, t.Position,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	for _, dep := range t.Dependencies {
		if err := db.createDependency(ctx, t.ID, dep); err != nil {
			return err
		}
	}

	db.triggerChange(ctx)
	return nil
}

func (db *DB) createDependency(ctx context.Context, taskID, dependsOnTaskID string) error {
	query := `INSERT OR IGNORE INTO dependencies (task_id, depends_on_task_id) VALUES (?, ?)`
	if _, err := db.ExecContext(ctx, query, taskID, dependsOnTaskID); err != nil {
		return fmt.Errorf("failed to create dependency %s -> %s: %w", taskID, dependsOnTaskID, err)
	}
	return nil
}

// GetTask retrieves a task by its ID. Returns nil when the task is unknown.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	query := taskSelect + ` WHERE id = ?`
	rows, err := db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	if err := db.attachDependencies(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks[0], nil
}

// ListTasks returns every task in declaration order, dependencies attached.
// When enabledOnly is set, disabled tasks are filtered out.
func (db *DB) ListTasks(ctx context.Context, enabledOnly bool) ([]*models.Task, error) {
	query := taskSelect
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY position ASC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if err := db.attachDependencies(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// SetTaskEnabled flips the enabled flag. Disabled tasks are excluded from
// the execution order entirely.
func (db *DB) SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	res, err := db.ExecContext(ctx, `UPDATE tasks SET enabled = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	db.triggerChange(ctx)
	return nil
}

// DeleteTask deletes a task by its ID.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	db.triggerChange(ctx)
	return nil
}

const taskSelect = `
	SELECT id, title, type, priority, requirements, acceptance_criteria,
	       estimated_duration, files_to_modify, tags, enabled, position, created_at
	FROM tasks
`

func scanTasks(rows *sql.Rows) ([]*models.Task, error) {
	var tasks []*models.Task
	for rows.Next() {
		t := &models.Task{}
		var criteria, files, tags string
		var enabled int
		err := rows.Scan(
			&t.ID, &t.Title, &t.Type, &t.Priority, &t.Requirements, &criteria,
			&t.EstimatedDuration, &files, &tags, &enabled, &t.Position, &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Enabled = enabled == 1
		if err := decodeTaskLists(t, criteria, files, tags); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return tasks, nil
}

func (db *DB) attachDependencies(ctx context.Context, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	rows, err := db.QueryContext(ctx, `SELECT task_id, depends_on_task_id FROM dependencies ORDER BY task_id, depends_on_task_id`)
	if err != nil {
		return fmt.Errorf("failed to load dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d models.Dependency
		if err := rows.Scan(&d.TaskID, &d.DependsOnTaskID); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		if t, ok := byID[d.TaskID]; ok {
			t.Dependencies = append(t.Dependencies, d.DependsOnTaskID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

func encodeTaskLists(t *models.Task) (criteria, files, tags string, err error) {
	enc := func(v []string) (string, error) {
		if v == nil {
			v = []string{}
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode task list field: %w", err)
		}
		return string(b), nil
	}
	if criteria, err = enc(t.AcceptanceCriteria); err != nil {
		return
	}
	if files, err = enc(t.FilesToModify); err != nil {
		return
	}
	tags, err = enc(t.Tags)
	return
}

func decodeTaskLists(t *models.Task, criteria, files, tags string) error {
	dec := func(s string, dst *[]string) error {
		if s == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(s), dst); err != nil {
			return fmt.Errorf("failed to decode task list field: %w", err)
		}
		return nil
	}
	if err := dec(criteria, &t.AcceptanceCriteria); err != nil {
		return err
	}
	if err := dec(files, &t.FilesToModify); err != nil {
		return err
	}
	return dec(tags, &t.Tags)
}
