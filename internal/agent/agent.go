// Package agent is the delegated-work boundary: it hands a task to an
// external coding-agent CLI and reports what came back.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ldi/nightshift/embed/prompts"
	"github.com/ldi/nightshift/pkg/models"
)

// Error wraps a failed delegated-work attempt with the output tail that
// the classifier pattern-matches against.
type Error struct {
	TaskID  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("agent failed for task %s: %s", e.TaskID, e.Message)
	}
	return fmt.Sprintf("agent failed for task %s: %v", e.TaskID, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Runner executes tasks through the agent CLI.
type Runner struct {
	binary     string
	model      string
	cmdFactory func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewRunner creates a Runner for the given agent binary and model.
func NewRunner(binary, model string) *Runner {
	if binary == "" {
		binary = "claude"
	}
	return &Runner{
		binary:     binary,
		model:      model,
		cmdFactory: exec.CommandContext,
	}
}

// Healthcheck verifies the agent binary is reachable before any task runs.
func (r *Runner) Healthcheck(ctx context.Context) error {
	if _, err := exec.LookPath(r.binary); err != nil {
		return fmt.Errorf("agent binary %q not found: %w", r.binary, err)
	}
	cmd := r.cmdFactory(ctx, r.binary, "--version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("agent binary %q not runnable: %w", r.binary, err)
	}
	return nil
}

// Execute runs one task attempt with the given timeout. The underlying
// process is terminated when the timeout elapses and the returned error
// classifies as a timeout.
func (r *Runner) Execute(ctx context.Context, task *models.Task, workDir string, timeout time.Duration) (*models.WorkResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-p", "--dangerously-skip-permissions"}
	if r.model != "" {
		args = append(args, "--model", r.model)
	}
	cmd := r.cmdFactory(attemptCtx, r.binary, args...)
	cmd.Dir = workDir
	cmd.Stdin = strings.NewReader(constructPrompt(task))

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, &Error{
				TaskID:  task.ID,
				Message: fmt.Sprintf("timed out after %s", timeout),
				Cause:   context.DeadlineExceeded,
			}
		}
		return nil, &Error{
			TaskID:  task.ID,
			Message: fmt.Sprintf("%v: %s", err, tail(output.String(), 500)),
			Cause:   err,
		}
	}

	files, err := r.changedFiles(ctx, workDir)
	if err != nil {
		// Diff failures are diagnostic only; the work itself succeeded.
		files = nil
	}

	return &models.WorkResult{
		Success:      true,
		Output:       output.String(),
		FilesChanged: files,
		Duration:     duration,
	}, nil
}

// changedFiles lists files the attempt touched, relative to HEAD.
func (r *Runner) changedFiles(ctx context.Context, workDir string) ([]string, error) {
	cmd := r.cmdFactory(ctx, "git", "-C", workDir, "diff", "--name-only", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to diff worktree: %w", err)
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

func constructPrompt(task *models.Task) string {
	var sb strings.Builder
	sb.WriteString(prompts.Header)
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("# Task: %s [%s]\n\n", task.Title, task.Type))
	sb.WriteString(fmt.Sprintf("## Requirements\n%s\n\n", task.Requirements))
	if len(task.AcceptanceCriteria) > 0 {
		sb.WriteString("## Acceptance Criteria\n")
		for i, c := range task.AcceptanceCriteria {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, c))
		}
		sb.WriteString("\n")
	}
	if len(task.FilesToModify) > 0 {
		sb.WriteString("## Files Likely Involved\n")
		for _, f := range task.FilesToModify {
			sb.WriteString(fmt.Sprintf("- %s\n", f))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(prompts.Footer)
	return sb.String()
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
