package tasks

import (
	"context"
	"fmt"
	"sort"

	"github.com/taskmasterpro/tm/internal/offline/schema"
)

// Dependency is a task with its prerequisites resolved against the cache.
type Dependency struct {
	Task     schema.Task
	Requires []schema.Task
	// Missing lists prerequisite ids absent from the cached tasks.
	Missing []string
	// Blocked is true while any known prerequisite is unfinished.
	Blocked bool
}

// AddDependency records that taskID cannot start before depID is done.
// Both tasks must be in the cached task set.
func (s *Service) AddDependency(ctx context.Context, taskID, depID string) error {
	for _, id := range []string{taskID, depID} {
		if _, ok := s.cache.Task(ctx, id); !ok {
			return fmt.Errorf("task %s is not in the local cache (run 'tm task list' first)", id)
		}
	}
	return s.cache.AddDependency(ctx, taskID, depID)
}

// RemoveDependency deletes a recorded dependency.
func (s *Service) RemoveDependency(ctx context.Context, taskID, depID string) error {
	ok, err := s.cache.RemoveDependency(ctx, taskID, depID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s does not depend on %s", taskID, depID)
	}
	return nil
}

// Dependencies lists every task with recorded prerequisites, or only taskID
// when it is not empty.
func (s *Service) Dependencies(ctx context.Context, taskID string) []Dependency {
	deps := s.cache.Dependencies(ctx)
	tasks := s.cache.Tasks(ctx)
	byID := make(map[string]schema.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	ids := make([]string, 0, len(deps))
	for id := range deps {
		if taskID == "" || id == taskID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]Dependency, 0, len(ids))
	for _, id := range ids {
		d := Dependency{Task: byID[id]}
		if d.Task.ID == "" {
			d.Task = schema.Task{ID: id, Title: "(unknown task)"}
		}
		for _, req := range deps.Of(id) {
			t, ok := byID[req]
			if !ok {
				d.Missing = append(d.Missing, req)
				continue
			}
			d.Requires = append(d.Requires, t)
		}
		d.Blocked = len(deps.Blocking(id, tasks)) > 0
		out = append(out, d)
	}
	return out
}
