// Package taskfile loads task definitions from a YAML file for bulk import
// into the queue.
package taskfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ldi/nightshift/pkg/models"
)

type document struct {
	Version string    `yaml:"version"`
	Tasks   []taskDoc `yaml:"tasks"`
}

// taskDoc mirrors models.Task with looser typing so the file can omit
// fields: enabled defaults to true, type defaults to feature.
type taskDoc struct {
	ID                 string   `yaml:"id"`
	Title              string   `yaml:"title"`
	Type               string   `yaml:"type"`
	Priority           int      `yaml:"priority"`
	Requirements       string   `yaml:"requirements"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria"`
	EstimatedDuration  int      `yaml:"estimated_duration"`
	Dependencies       []string `yaml:"dependencies"`
	FilesToModify      []string `yaml:"files_to_modify"`
	Tags               []string `yaml:"tags"`
	Enabled            *bool    `yaml:"enabled"`
}

// Load reads and parses a task file from disk.
func Load(path string) ([]models.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	tasks, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tasks, nil
}

// Parse decodes a task file and validates every entry.
func Parse(data []byte) ([]models.Task, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse task file: %w", err)
	}
	if len(doc.Tasks) == 0 {
		return nil, fmt.Errorf("task file defines no tasks")
	}

	seen := make(map[string]bool, len(doc.Tasks))
	tasks := make([]models.Task, 0, len(doc.Tasks))
	for i, d := range doc.Tasks {
		t, err := d.toTask()
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i+1, err)
		}
		if t.ID != "" {
			if seen[t.ID] {
				return nil, fmt.Errorf("task %d: duplicate id %q", i+1, t.ID)
			}
			seen[t.ID] = true
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (d taskDoc) toTask() (models.Task, error) {
	var t models.Task
	if d.Title == "" {
		return t, fmt.Errorf("missing title")
	}
	if d.Requirements == "" {
		return t, fmt.Errorf("task %q: missing requirements", d.Title)
	}

	taskType := models.TaskType(d.Type)
	if d.Type == "" {
		taskType = models.TaskTypeFeature
	} else if !models.ValidTaskType(taskType) {
		return t, fmt.Errorf("task %q: unknown type %q", d.Title, d.Type)
	}

	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}

	return models.Task{
		ID:                 d.ID,
		Title:              d.Title,
		Type:               taskType,
		Priority:           d.Priority,
		Requirements:       d.Requirements,
		AcceptanceCriteria: d.AcceptanceCriteria,
		EstimatedDuration:  d.EstimatedDuration,
		Dependencies:       d.Dependencies,
		FilesToModify:      d.FilesToModify,
		Tags:               d.Tags,
		Enabled:            enabled,
	}, nil
}
