// Package session drives a bounded unattended run: it walks an ordered task
// list, delegates each task to the agent boundary under retry, validates and
// commits the results, and checkpoints progress after every step.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ldi/nightshift/internal/checkpoint"
	"github.com/ldi/nightshift/internal/classify"
	"github.com/ldi/nightshift/internal/retry"
	"github.com/ldi/nightshift/pkg/models"
)

// Agent performs the delegated work for a single task attempt.
type Agent interface {
	Healthcheck(ctx context.Context) error
	Execute(ctx context.Context, task *models.Task, workDir string, timeout time.Duration) (*models.WorkResult, error)
}

// Validator decides whether a successful attempt actually completed the task.
type Validator interface {
	Validate(ctx context.Context, task *models.Task, result *models.WorkResult) (models.ValidationReport, error)
}

// Committer is the persistence boundary for task results in the work tree.
type Committer interface {
	Healthcheck(ctx context.Context) error
	Begin(ctx context.Context, task *models.Task) error
	Commit(ctx context.Context, task *models.Task, result *models.WorkResult) error
	Rollback(ctx context.Context, task *models.Task) error
}

// Recorder persists outcomes to durable storage. Optional: a nil Recorder
// disables history.
type Recorder interface {
	RecordOutcome(ctx context.Context, sessionID string, o models.TaskOutcome) error
	FinishSession(ctx context.Context, sessionID string, succeeded bool) error
}

// Config carries the session tunables and collaborators.
type Config struct {
	SessionID    string
	WorkDir      string
	Budget       time.Duration // wall-clock ceiling, default 8h
	PriorElapsed time.Duration // carried over when resuming

	CheckpointInterval time.Duration // periodic checkpoint, default 5m
	SampleInterval     time.Duration // resource sampling, default 30s

	RetryPolicy retry.Policy

	Agent       Agent
	Validator   Validator
	Committer   Committer
	Recorder    Recorder // optional
	Checkpoints *checkpoint.Store

	Output   io.Writer // progress log, default os.Stderr
	EventLog io.Writer // optional NDJSON event stream
}

// Runner executes one session. It is single-use: create a new Runner per run.
type Runner struct {
	cfg   Config
	retry *retry.Runner
	state *State
	usage usageRing
	log   *log.Logger

	eventMu sync.Mutex
	events  *json.Encoder
}

// NewRunner validates the configuration and applies defaults.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Agent == nil {
		return nil, fmt.Errorf("session requires an agent")
	}
	if cfg.Validator == nil {
		return nil, fmt.Errorf("session requires a validator")
	}
	if cfg.Committer == nil {
		return nil, fmt.Errorf("session requires a committer")
	}
	if cfg.Checkpoints == nil {
		return nil, fmt.Errorf("session requires a checkpoint store")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 8 * time.Hour
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 30 * time.Second
	}
	if cfg.RetryPolicy == (retry.Policy{}) {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	r := &Runner{
		cfg:   cfg,
		state: newState(cfg.SessionID, cfg.Budget, cfg.PriorElapsed),
		log:   log.New(cfg.Output, fmt.Sprintf("[%s] ", shortID(cfg.SessionID)), log.LstdFlags),
	}
	r.retry = retry.New(cfg.RetryPolicy)
	r.retry.KeepAlive = r.saveCheckpoint
	if cfg.EventLog != nil {
		r.events = json.NewEncoder(cfg.EventLog)
	}
	return r, nil
}

// outcome of a single task run, as seen by the main loop.
type taskVerdict int

const (
	taskDone      taskVerdict = iota // completed or failed; continue
	taskAbort                        // session-ending failure; finalize now
	taskCancelled                    // ctx cancelled mid-task; finalize now
)

// Run executes the ordered task list until it completes, the budget runs
// out, ctx is cancelled, or a session-ending failure occurs. It always
// returns a result; the error is non-nil only when the environment checks
// fail before any task runs.
func (r *Runner) Run(ctx context.Context, order []models.Task) (*models.SessionResult, error) {
	r.state.setPhase(PhaseValidating)
	if err := r.cfg.Agent.Healthcheck(ctx); err != nil {
		return r.abortBeforeStart(&EnvironmentError{Err: err})
	}
	if err := r.cfg.Committer.Healthcheck(ctx); err != nil {
		return r.abortBeforeStart(&EnvironmentError{Err: err})
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	var bg sync.WaitGroup
	bg.Add(2)
	go r.checkpointLoop(bgCtx, &bg)
	go r.sampleLoop(bgCtx, &bg)

	r.event("session_start", "", "")
	r.log.Printf("session started: %d tasks, budget %s", len(order), r.cfg.Budget)

	aborted := false
	for i := range order {
		task := &order[i]

		if ctx.Err() != nil {
			r.log.Printf("cancelled; finalizing")
			aborted = true
			break
		}
		if r.state.BudgetExhausted() {
			r.log.Printf("time budget exhausted after %s; remaining tasks skipped", r.state.Elapsed().Round(time.Second))
			break
		}

		switch r.runTask(ctx, task) {
		case taskAbort:
			aborted = true
		case taskCancelled:
			aborted = true
		case taskDone:
			r.saveCheckpoint()
			continue
		}
		break
	}

	stopBackground()
	bg.Wait()

	return r.finalize(ctx, order, aborted), nil
}

func (r *Runner) abortBeforeStart(err *EnvironmentError) (*models.SessionResult, error) {
	r.log.Printf("%v", err)
	return &models.SessionResult{
		SessionID: r.cfg.SessionID,
		Aborted:   true,
		Elapsed:   r.state.Elapsed(),
		Warnings:  []string{err.Error()},
	}, err
}

// runTask takes one task through delegate -> validate -> commit, rolling
// back on any failure.
func (r *Runner) runTask(ctx context.Context, task *models.Task) taskVerdict {
	r.state.setCurrentTask(task.ID)
	defer r.state.setCurrentTask("")

	r.event("task_start", task.ID, "")
	r.log.Printf("task %s: %s [%s]", task.ID, task.Title, task.Type)
	started := time.Now()

	if err := r.cfg.Committer.Begin(ctx, task); err != nil {
		return r.failTask(ctx, task, started, err, false)
	}

	var result *models.WorkResult
	attempts := 0
	err := r.retry.Do(ctx, func(attemptCtx context.Context) error {
		attempts++
		r.state.setPhase(PhaseRunning)
		out, err := r.cfg.Agent.Execute(attemptCtx, task, r.cfg.WorkDir, task.Timeout())
		if err != nil {
			c := classify.Classify(err)
			r.event("attempt_failed", task.ID, fmt.Sprintf("attempt=%d class=%s err=%v", attempts, c.Class, err))
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			// The in-flight task is neither completed nor failed; it shows
			// up as skipped, and a resume will attempt it again.
			r.event("task_cancelled", task.ID, "")
			return taskCancelled
		}
		return r.failTask(ctx, task, started, err, true)
	}

	r.state.setPhase(PhaseValidating)
	report, err := r.cfg.Validator.Validate(ctx, task, result)
	if err != nil {
		return r.failTask(ctx, task, started, fmt.Errorf("validation error: %w", err), true)
	}
	if !report.Passed {
		return r.failTask(ctx, task, started,
			fmt.Errorf("validation failed: %v", report.Errors), true)
	}
	for _, w := range report.Warnings {
		r.log.Printf("task %s: warning: %s", task.ID, w)
	}

	r.state.setPhase(PhaseCommitting)
	if err := r.cfg.Committer.Commit(ctx, task, result); err != nil {
		return r.failTask(ctx, task, started, fmt.Errorf("commit failed: %w", err), true)
	}

	now := time.Now()
	outcome := models.TaskOutcome{
		TaskID:       task.ID,
		Status:       models.OutcomeCompleted,
		Duration:     now.Sub(started),
		FilesChanged: result.FilesChanged,
		StartedAt:    started,
		CompletedAt:  now,
	}
	r.state.appendCompleted(outcome)
	r.record(ctx, outcome)
	r.event("task_completed", task.ID, fmt.Sprintf("attempts=%d files=%d", attempts, len(outcome.FilesChanged)))
	r.log.Printf("task %s: completed in %s (%d files changed)", task.ID, outcome.Duration.Round(time.Second), len(outcome.FilesChanged))
	return taskDone
}

// failTask records a failed outcome, rolls the work tree back, and decides
// whether the failure ends the whole session.
func (r *Runner) failTask(ctx context.Context, task *models.Task, started time.Time, err error, rollback bool) taskVerdict {
	r.state.setPhase(PhaseRollingBack)
	if rollback {
		if rbErr := r.cfg.Committer.Rollback(ctx, task); rbErr != nil {
			r.log.Printf("task %s: rollback failed: %v", task.ID, rbErr)
		}
	}

	now := time.Now()
	outcome := models.TaskOutcome{
		TaskID:    task.ID,
		Status:    models.OutcomeFailed,
		Duration:  now.Sub(started),
		StartedAt: started,
		Error:     err.Error(),
		FailedAt:  now,
	}
	r.state.appendFailed(outcome)
	r.record(ctx, outcome)
	r.event("task_failed", task.ID, err.Error())
	r.log.Printf("task %s: failed: %v", task.ID, err)

	if classify.IsSessionEnding(err) {
		r.log.Printf("task %s: failure is session-ending; aborting", task.ID)
		r.event("session_ending_failure", task.ID, err.Error())
		return taskAbort
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) && classify.IsSessionEnding(exhausted.Err) {
		r.log.Printf("task %s: failure is session-ending; aborting", task.ID)
		r.event("session_ending_failure", task.ID, err.Error())
		return taskAbort
	}
	return taskDone
}

// finalize always runs, whatever ended the loop: it writes the terminal
// checkpoint, closes the durable session record, and assembles the result.
func (r *Runner) finalize(ctx context.Context, order []models.Task, aborted bool) *models.SessionResult {
	r.state.setPhase(PhaseFinalizing)

	completed, failed := r.state.outcomes()
	seen := make(map[string]bool, len(completed)+len(failed))

	result := &models.SessionResult{
		SessionID: r.cfg.SessionID,
		Aborted:   aborted,
		Elapsed:   r.state.Elapsed(),
	}
	for _, o := range completed {
		result.Completed = append(result.Completed, o.TaskID)
		seen[o.TaskID] = true
	}
	for _, o := range failed {
		result.Failed = append(result.Failed, o.TaskID)
		seen[o.TaskID] = true
	}
	for i := range order {
		if !seen[order[i].ID] {
			result.Skipped = append(result.Skipped, order[i].ID)
		}
	}

	if _, err := r.cfg.Checkpoints.Save(r.state.Snapshot()); err != nil {
		w := fmt.Sprintf("final checkpoint write failed: %v", err)
		r.log.Printf("%s", w)
		result.Warnings = append(result.Warnings, w)
	}

	if r.cfg.Recorder != nil {
		if err := r.cfg.Recorder.FinishSession(ctx, r.cfg.SessionID, result.Succeeded()); err != nil {
			w := fmt.Sprintf("failed to close session record: %v", err)
			r.log.Printf("%s", w)
			result.Warnings = append(result.Warnings, w)
		}
	}

	r.event("session_end", "", fmt.Sprintf("completed=%d failed=%d skipped=%d aborted=%t",
		len(result.Completed), len(result.Failed), len(result.Skipped), result.Aborted))
	r.log.Printf("session finished: %d completed, %d failed, %d skipped, elapsed %s",
		len(result.Completed), len(result.Failed), len(result.Skipped), result.Elapsed.Round(time.Second))

	r.state.setPhase(PhaseDone)
	return result
}

// checkpointLoop re-emits a checkpoint on a fixed interval so a crash
// between tasks loses at most one interval of progress metadata.
func (r *Runner) checkpointLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(r.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.saveCheckpoint()
		}
	}
}

// sampleLoop records orchestrator resource usage into the bounded ring.
func (r *Runner) sampleLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(r.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.usage.record()
		}
	}
}

// UsageSamples returns the recorded resource samples, oldest first.
func (r *Runner) UsageSamples() []UsageSample {
	return r.usage.snapshot()
}

func (r *Runner) saveCheckpoint() {
	if _, err := r.cfg.Checkpoints.Save(r.state.Snapshot()); err != nil {
		r.log.Printf("checkpoint write failed: %v", err)
	}
}

func (r *Runner) record(ctx context.Context, o models.TaskOutcome) {
	if r.cfg.Recorder == nil {
		return
	}
	if err := r.cfg.Recorder.RecordOutcome(ctx, r.cfg.SessionID, o); err != nil {
		r.log.Printf("failed to record outcome for task %s: %v", o.TaskID, err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type sessionEvent struct {
	Time    time.Time `json:"time"`
	Event   string    `json:"event"`
	TaskID  string    `json:"task_id,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Elapsed string    `json:"elapsed"`
}

func (r *Runner) event(name, taskID, detail string) {
	if r.events == nil {
		return
	}
	r.eventMu.Lock()
	defer r.eventMu.Unlock()
	_ = r.events.Encode(sessionEvent{
		Time:    time.Now().UTC(),
		Event:   name,
		TaskID:  taskID,
		Detail:  detail,
		Elapsed: r.state.Elapsed().Round(time.Millisecond).String(),
	})
}
