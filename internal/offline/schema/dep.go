package schema

import (
	"errors"
	"fmt"
	"slices"
)

// ErrDependencyExists is returned when adding a prerequisite that is already recorded.
var ErrDependencyExists = errors.New("dependency already exists")

// Dependencies maps a task ID to the IDs of tasks that must be finished first.
// It is stored locally under the taskDependencies key and never sent to the server.
type Dependencies map[string][]string

// Add records that taskID depends on depID.
func (d Dependencies) Add(taskID, depID string) error {
	if taskID == "" || depID == "" {
		return fmt.Errorf("task id and dependency id are required")
	}
	if taskID == depID {
		return fmt.Errorf("task %s cannot depend on itself", taskID)
	}
	if slices.Contains(d[taskID], depID) {
		return fmt.Errorf("%s -> %s: %w", taskID, depID, ErrDependencyExists)
	}
	d[taskID] = append(d[taskID], depID)
	return nil
}

// Remove deletes the taskID -> depID edge. It reports whether an edge was removed.
func (d Dependencies) Remove(taskID, depID string) bool {
	deps, ok := d[taskID]
	if !ok {
		return false
	}
	i := slices.Index(deps, depID)
	if i < 0 {
		return false
	}
	deps = slices.Delete(deps, i, i+1)
	if len(deps) == 0 {
		delete(d, taskID)
	} else {
		d[taskID] = deps
	}
	return true
}

// Of returns the prerequisites of taskID.
func (d Dependencies) Of(taskID string) []string {
	return slices.Clone(d[taskID])
}

// Blocking returns the prerequisites of taskID that are not completed in tasks.
// Prerequisites missing from tasks are ignored.
func (d Dependencies) Blocking(taskID string, tasks []Task) []Task {
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var blocking []Task
	for _, id := range d[taskID] {
		t, ok := byID[id]
		if !ok || t.Status == StatusCompleted {
			continue
		}
		blocking = append(blocking, t)
	}
	return blocking
}
