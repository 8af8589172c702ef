// Package gitops is the commit/rollback boundary: one branch per task,
// committed on success, hard-reset on failure.
package gitops

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ldi/nightshift/pkg/models"
)

// Repo runs git against a single working directory.
type Repo struct {
	dir        string
	sessionID  string
	cmdFactory func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewRepo creates a Repo rooted at dir for the given session.
func NewRepo(dir, sessionID string) *Repo {
	return &Repo{
		dir:        dir,
		sessionID:  sessionID,
		cmdFactory: exec.CommandContext,
	}
}

// Healthcheck verifies dir is inside a git work tree.
func (r *Repo) Healthcheck(ctx context.Context) error {
	out, err := r.git(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return fmt.Errorf("not a git repository: %s: %w", r.dir, err)
	}
	if strings.TrimSpace(out) != "true" {
		return fmt.Errorf("not a git repository: %s", r.dir)
	}
	return nil
}

// Begin creates and checks out the task branch.
func (r *Repo) Begin(ctx context.Context, task *models.Task) error {
	branch := r.branchName(task.ID)
	if _, err := r.git(ctx, "checkout", "-B", branch); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", branch, err)
	}
	return nil
}

// Commit stages and commits everything the task changed. Called only after
// both delegated work and validation succeeded.
func (r *Repo) Commit(ctx context.Context, task *models.Task, result *models.WorkResult) error {
	if _, err := r.git(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("failed to stage changes for task %s: %w", task.ID, err)
	}
	msg := fmt.Sprintf("%s: %s", task.Type, task.Title)
	if _, err := r.git(ctx, "commit", "--allow-empty", "-m", msg); err != nil {
		return fmt.Errorf("failed to commit task %s: %w", task.ID, err)
	}
	return nil
}

// Rollback discards uncommitted changes from a failed task. Safe to call
// when nothing changed.
func (r *Repo) Rollback(ctx context.Context, task *models.Task) error {
	if _, err := r.git(ctx, "reset", "--hard", "HEAD"); err != nil {
		return fmt.Errorf("failed to reset after task %s: %w", task.ID, err)
	}
	if _, err := r.git(ctx, "clean", "-fd"); err != nil {
		return fmt.Errorf("failed to clean worktree after task %s: %w", task.ID, err)
	}
	return nil
}

func (r *Repo) branchName(taskID string) string {
	return fmt.Sprintf("nightshift/%s/%s", r.sessionID, taskID)
}

func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	cmd := r.cmdFactory(ctx, "git", append([]string{"-C", r.dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %v: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
