package session

import (
	"github.com/ldi/nightshift/pkg/models"
)

// Remaining filters an ordered task list down to the tasks a prior
// checkpoint has not settled. Completed and failed tasks are never
// re-attempted; a task that was in flight when the previous process died is
// in neither list and runs again. Feed the checkpoint's Elapsed into
// Config.PriorElapsed so the budget spans both processes.
func Remaining(order []models.Task, cp models.Checkpoint) []models.Task {
	settled := make(map[string]bool, len(cp.CompletedTaskIDs)+len(cp.FailedTaskIDs))
	for _, id := range cp.CompletedTaskIDs {
		settled[id] = true
	}
	for _, id := range cp.FailedTaskIDs {
		settled[id] = true
	}

	remaining := make([]models.Task, 0, len(order))
	for _, t := range order {
		if !settled[t.ID] {
			remaining = append(remaining, t)
		}
	}
	return remaining
}
