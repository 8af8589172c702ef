package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/ldi/nightshift/pkg/models"
)

// Phase names the state machine's position, exposed for observability.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseValidating  Phase = "validating"
	PhaseRunning     Phase = "running"
	PhaseCommitting  Phase = "committing"
	PhaseRollingBack Phase = "rolling_back"
	PhaseFinalizing  Phase = "finalizing"
	PhaseDone        Phase = "done"
)

// EnvironmentError is a fatal pre-loop failure: the session aborts before
// any task runs.
type EnvironmentError struct {
	Err error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("environment check failed: %v", e.Err)
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}

// State is the mutable root of a running session. Only the main loop writes
// it; the periodic timers read consistent snapshots through the mutex.
type State struct {
	mu sync.Mutex

	sessionID     string
	startTime     time.Time
	priorElapsed  time.Duration // carried over from a resumed checkpoint
	budget        time.Duration
	phase         Phase
	currentTaskID string
	completed     []models.TaskOutcome
	failed        []models.TaskOutcome
}

func newState(sessionID string, budget, priorElapsed time.Duration) *State {
	return &State{
		sessionID:    sessionID,
		startTime:    time.Now(),
		priorElapsed: priorElapsed,
		budget:       budget,
		phase:        PhaseIdle,
	}
}

func (s *State) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *State) setCurrentTask(id string) {
	s.mu.Lock()
	s.currentTaskID = id
	s.mu.Unlock()
}

func (s *State) appendCompleted(o models.TaskOutcome) {
	s.mu.Lock()
	s.completed = append(s.completed, o)
	s.mu.Unlock()
}

func (s *State) appendFailed(o models.TaskOutcome) {
	s.mu.Lock()
	s.failed = append(s.failed, o)
	s.mu.Unlock()
}

// Elapsed is wall-clock time spent in this session, including time spent
// before a resume.
func (s *State) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priorElapsed + time.Since(s.startTime)
}

// BudgetExhausted reports whether the session's wall-clock ceiling passed.
func (s *State) BudgetExhausted() bool {
	return s.Elapsed() >= s.budget
}

// Snapshot produces the checkpoint view of current progress.
func (s *State) Snapshot() models.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	completedIDs := make([]string, 0, len(s.completed))
	for _, o := range s.completed {
		completedIDs = append(completedIDs, o.TaskID)
	}
	failedIDs := make([]string, 0, len(s.failed))
	for _, o := range s.failed {
		failedIDs = append(failedIDs, o.TaskID)
	}

	return models.Checkpoint{
		Timestamp:        time.Now().UTC(),
		SessionID:        s.sessionID,
		CurrentTaskID:    s.currentTaskID,
		CompletedTaskIDs: completedIDs,
		FailedTaskIDs:    failedIDs,
		Elapsed:          s.priorElapsed + time.Since(s.startTime),
	}
}

func (s *State) outcomes() (completed, failed []models.TaskOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TaskOutcome{}, s.completed...), append([]models.TaskOutcome{}, s.failed...)
}
