// Package report renders the end-of-session summary for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ldi/nightshift/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")).
			Border(lipgloss.NormalBorder()).
			Padding(0, 1)

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	skippedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

// Render produces the styled summary of a finished session. Task titles are
// looked up from tasks when available; unknown ids render bare.
func Render(result *models.SessionResult, tasks []models.Task, outcomes []models.TaskOutcome) string {
	titles := make(map[string]string, len(tasks))
	for _, t := range tasks {
		titles[t.ID] = t.Title
	}
	durations := make(map[string]time.Duration, len(outcomes))
	errs := make(map[string]string, len(outcomes))
	for _, o := range outcomes {
		durations[o.TaskID] = o.Duration
		if o.Error != "" {
			errs[o.TaskID] = o.Error
		}
	}

	var sb strings.Builder

	status := "finished"
	if result.Aborted {
		status = "aborted"
	}
	sb.WriteString(headerStyle.Render(fmt.Sprintf("Session %s %s", shortID(result.SessionID), status)))
	sb.WriteString("\n")
	sb.WriteString(statsStyle.Render(fmt.Sprintf("%d completed · %d failed · %d skipped · elapsed %s",
		len(result.Completed), len(result.Failed), len(result.Skipped),
		result.Elapsed.Round(time.Second))))
	sb.WriteString("\n\n")

	for _, id := range result.Completed {
		line := fmt.Sprintf("  ✓ %s", label(id, titles))
		if d, ok := durations[id]; ok {
			line += fmt.Sprintf(" (%s)", d.Round(time.Second))
		}
		sb.WriteString(completedStyle.Render(line))
		sb.WriteString("\n")
	}
	for _, id := range result.Failed {
		line := fmt.Sprintf("  ✗ %s", label(id, titles))
		if msg, ok := errs[id]; ok {
			line += fmt.Sprintf(" — %s", truncate(msg, 80))
		}
		sb.WriteString(failedStyle.Render(line))
		sb.WriteString("\n")
	}
	for _, id := range result.Skipped {
		sb.WriteString(skippedStyle.Render(fmt.Sprintf("  - %s (skipped)", label(id, titles))))
		sb.WriteString("\n")
	}

	if len(result.Warnings) > 0 {
		sb.WriteString("\n")
		for _, w := range result.Warnings {
			sb.WriteString(warningStyle.Render(fmt.Sprintf("  ! %s", w)))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// RenderQueue lists the queue in execution-relevant form for `list-tasks`.
func RenderQueue(tasks []models.Task) string {
	if len(tasks) == 0 {
		return skippedStyle.Render("queue is empty") + "\n"
	}

	var sb strings.Builder
	for _, t := range tasks {
		marker := "•"
		style := completedStyle
		if !t.Enabled {
			marker = "○"
			style = skippedStyle
		}
		line := fmt.Sprintf("  %s %s  %s [%s, priority %d]", marker, shortID(t.ID), t.Title, t.Type, t.Priority)
		if len(t.Dependencies) > 0 {
			line += fmt.Sprintf("  after: %s", strings.Join(shortIDs(t.Dependencies), ", "))
		}
		sb.WriteString(style.Render(line))
		sb.WriteString("\n")
	}
	return sb.String()
}

func label(id string, titles map[string]string) string {
	if title, ok := titles[id]; ok {
		return fmt.Sprintf("%s (%s)", title, shortID(id))
	}
	return id
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = shortID(id)
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
