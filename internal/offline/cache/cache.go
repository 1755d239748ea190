// Package cache is the typed view over the client's persisted state: the last
// fetched task set, the session (token, user, theme) and local-only task
// dependencies.
//
// Readers never see storage errors. A missing or corrupted entry reads as its
// empty value and the problem is logged, so display code can always render
// something.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/taskmasterpro/tm/internal/offline/schema"
	"github.com/taskmasterpro/tm/internal/offline/store"
)

// Theme values accepted by SetTheme.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// ErrInvalidTheme is returned by SetTheme for values other than light or dark.
var ErrInvalidTheme = errors.New("theme must be light or dark")

// Cache reads and writes persisted client state.
type Cache struct {
	store  store.Store
	logger *log.Logger

	// mu serializes read-modify-write sequences (dependencies).
	mu sync.Mutex
}

// New creates a cache over st. A nil logger logs to stderr.
func New(st store.Store, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	return &Cache{store: st, logger: logger}
}

// readJSON decodes key into v. It returns false when the key is absent,
// unreadable or corrupted; the latter two are logged.
func (c *Cache) readJSON(ctx context.Context, key string, v any) bool {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Printf("failed to read %s: %v", key, err)
		return false
	}
	if !ok || len(data) == 0 {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Printf("ignoring corrupted %s entry: %v", key, err)
		return false
	}
	return true
}

func (c *Cache) writeJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := c.store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// Tasks returns the cached task set from the last successful fetch.
func (c *Cache) Tasks(ctx context.Context) []schema.Task {
	var tasks []schema.Task
	if !c.readJSON(ctx, store.KeyTasks, &tasks) {
		return []schema.Task{}
	}
	if tasks == nil {
		tasks = []schema.Task{}
	}
	return tasks
}

// TasksSavedAt returns when the cached task set was last replaced.
func (c *Cache) TasksSavedAt(ctx context.Context) (time.Time, bool) {
	t, ok, err := c.store.UpdatedAt(ctx, store.KeyTasks)
	if err != nil {
		c.logger.Printf("failed to read %s timestamp: %v", store.KeyTasks, err)
		return time.Time{}, false
	}
	return t, ok
}

// ReplaceTasks overwrites the cached task set. The cache is never merged.
func (c *Cache) ReplaceTasks(ctx context.Context, tasks []schema.Task) error {
	if tasks == nil {
		tasks = []schema.Task{}
	}
	return c.writeJSON(ctx, store.KeyTasks, tasks)
}

// Task returns the cached task with the given id.
func (c *Cache) Task(ctx context.Context, id string) (schema.Task, bool) {
	for _, t := range c.Tasks(ctx) {
		if t.ID == id {
			return t, true
		}
	}
	return schema.Task{}, false
}

// Token returns the stored bearer token, or "" when logged out.
func (c *Cache) Token(ctx context.Context) string {
	var tok string
	c.readJSON(ctx, store.KeyToken, &tok)
	return tok
}

// SetToken stores the bearer token.
func (c *Cache) SetToken(ctx context.Context, token string) error {
	return c.writeJSON(ctx, store.KeyToken, token)
}

// User returns the stored profile snapshot.
func (c *Cache) User(ctx context.Context) (schema.User, bool) {
	var u schema.User
	if !c.readJSON(ctx, store.KeyUser, &u) {
		return schema.User{}, false
	}
	return u, true
}

// SetUser stores the profile snapshot.
func (c *Cache) SetUser(ctx context.Context, u schema.User) error {
	return c.writeJSON(ctx, store.KeyUser, u)
}

// Theme returns the stored theme, defaulting to light.
func (c *Cache) Theme(ctx context.Context) string {
	var theme string
	if !c.readJSON(ctx, store.KeyTheme, &theme) {
		return ThemeLight
	}
	if theme != ThemeLight && theme != ThemeDark {
		c.logger.Printf("ignoring unknown theme %q", theme)
		return ThemeLight
	}
	return theme
}

// SetTheme stores the theme preference.
func (c *Cache) SetTheme(ctx context.Context, theme string) error {
	if theme != ThemeLight && theme != ThemeDark {
		return fmt.Errorf("%q: %w", theme, ErrInvalidTheme)
	}
	return c.writeJSON(ctx, store.KeyTheme, theme)
}

// ClearSession removes the user, token and theme. Cached tasks, dependencies
// and pending operations are kept.
func (c *Cache) ClearSession(ctx context.Context) error {
	if err := c.store.Delete(ctx, store.KeyUser, store.KeyToken, store.KeyTheme); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Dependencies returns the local dependency map.
func (c *Cache) Dependencies(ctx context.Context) schema.Dependencies {
	deps := schema.Dependencies{}
	if !c.readJSON(ctx, store.KeyTaskDependencies, &deps) || deps == nil {
		deps = schema.Dependencies{}
	}
	return deps
}

// AddDependency records that taskID depends on depID.
func (c *Cache) AddDependency(ctx context.Context, taskID, depID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deps := c.Dependencies(ctx)
	if err := deps.Add(taskID, depID); err != nil {
		return err
	}
	return c.writeJSON(ctx, store.KeyTaskDependencies, deps)
}

// RemoveDependency deletes the taskID -> depID edge and reports whether it existed.
func (c *Cache) RemoveDependency(ctx context.Context, taskID, depID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deps := c.Dependencies(ctx)
	if !deps.Remove(taskID, depID) {
		return false, nil
	}
	if err := c.writeJSON(ctx, store.KeyTaskDependencies, deps); err != nil {
		return false, err
	}
	return true, nil
}

// Stats summarizes the cached task set.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Overdue    int `json:"overdue"`
}

// Stats counts cached tasks by status. Overdue is evaluated at now.
func (c *Cache) Stats(ctx context.Context, now time.Time) Stats {
	var s Stats
	for _, t := range c.Tasks(ctx) {
		s.Total++
		switch t.Status {
		case schema.StatusPending:
			s.Pending++
		case schema.StatusInProgress:
			s.InProgress++
		case schema.StatusCompleted:
			s.Completed++
		}
		if t.IsOverdue(now) {
			s.Overdue++
		}
	}
	return s
}

// DueOn returns cached tasks whose due date falls on the calendar day of day.
func (c *Cache) DueOn(ctx context.Context, day time.Time) []schema.Task {
	y, m, d := day.Date()
	var out []schema.Task
	for _, t := range c.Tasks(ctx) {
		due, ok := t.Due()
		if !ok {
			continue
		}
		dy, dm, dd := due.Date()
		if dy == y && dm == m && dd == d {
			out = append(out, t)
		}
	}
	return out
}
