// Package resolver turns a task set into a deterministic execution order.
//
// The order respects the dependency relation restricted to enabled tasks:
// a task appears only after all of its (known, enabled) dependencies. Ties
// among ready tasks break by priority descending, then by declaration
// order, so identical inputs always produce identical orders — which is
// what makes checkpoint/resume filtering safe.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ldi/nightshift/pkg/models"
)

// ResolutionError reports a dependency cycle. Cycle holds the sequence of
// task ids forming the loop, first id repeated at the end.
type ResolutionError struct {
	Cycle []string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// Resolve computes the execution order for the given task set.
//
// Disabled tasks are excluded entirely. Dependencies on ids not present
// among the enabled tasks do not block resolution; they are returned as
// warnings for the caller to surface. A cycle (including a self-dependency)
// is a hard error.
func Resolve(tasks []models.Task) ([]models.Task, []string, error) {
	enabled := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Enabled {
			enabled = append(enabled, t)
		}
	}
	if len(enabled) == 0 {
		return []models.Task{}, nil, nil
	}

	byID := make(map[string]int, len(enabled))
	for i, t := range enabled {
		byID[t.ID] = i
	}

	// Edges restricted to known enabled tasks; unknown ids become warnings.
	var warnings []string
	deps := make(map[string][]string, len(enabled))
	for _, t := range enabled {
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				warnings = append(warnings, fmt.Sprintf("task %s depends on unknown or disabled task %s", t.ID, dep))
				continue
			}
			deps[t.ID] = append(deps[t.ID], dep)
		}
	}

	if cycle := findCycle(enabled, deps); cycle != nil {
		return nil, warnings, &ResolutionError{Cycle: cycle}
	}

	order := topoSort(enabled, byID, deps)
	return order, warnings, nil
}

// findCycle runs a DFS tracking the on-stack set. Returns the cycle path
// when one exists, nil otherwise. A self-dependency is a cycle of length one.
func findCycle(tasks []models.Task, deps map[string][]string) []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(tasks))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				// Back edge: slice the current stack from the first
				// occurrence of dep to get the loop.
				for i, s := range stack {
					if s == dep {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, dep)
					}
				}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, t := range tasks {
		if color[t.ID] == white {
			if cycle := visit(t.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// topoSort is Kahn's algorithm with a deterministic ready queue: priority
// descending, then declaration order. Assumes acyclicity was established.
func topoSort(tasks []models.Task, byID map[string]int, deps map[string][]string) []models.Task {
	pending := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		pending[t.ID] = len(deps[t.ID])
		for _, dep := range deps[t.ID] {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var ready []models.Task
	for _, t := range tasks {
		if pending[t.ID] == 0 {
			ready = append(ready, t)
		}
	}

	order := make([]models.Task, 0, len(tasks))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool {
			if ready[i].Priority != ready[j].Priority {
				return ready[i].Priority > ready[j].Priority
			}
			return ready[i].Position < ready[j].Position
		})

		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range dependents[next.ID] {
			pending[dependent]--
			if pending[dependent] == 0 {
				ready = append(ready, tasks[byID[dependent]])
			}
		}
	}
	return order
}
