// Package store provides the durable key-value storage behind the offline client.
//
// The web client kept its state in the browser's localStorage under a handful
// of string keys. This package keeps the same keys and the same JSON values,
// but stores them in an embedded SQLite database so they survive restarts of
// the CLI and the daemon:
//
//   - Database file: <data_dir>/tm.db
//   - WAL mode: the daemon and one-shot CLI commands share the file
//   - Tables: kv (key/value/updated_at), sync_runs (sync history)
//
// Components depend on the Store interface; Memory is an in-process
// implementation for tests and dry runs.
package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// Keys persisted by the client. Values are JSON documents.
const (
	KeyToken            = "token"
	KeyUser             = "user"
	KeyTasks            = "tasks"
	KeyTaskDependencies = "taskDependencies"
	KeyPendingSync      = "pendingSync"
	KeyTheme            = "theme"
)

// Store is a string-keyed blob store with synchronous writes.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Update replaces the value under key with the result of fn, atomically
	// with respect to other writers of the same store, including other
	// processes sharing a database file. fn receives the current value (ok
	// is false when the key is absent). If fn returns an error nothing is
	// written and Update returns it.
	Update(ctx context.Context, key string, fn func(value []byte, ok bool) ([]byte, error)) error
	// UpdatedAt returns when key was last written. ok is false when the key
	// is absent.
	UpdatedAt(ctx context.Context, key string) (t time.Time, ok bool, err error)
}

// Memory is a Store held in process memory.
type Memory struct {
	mu      sync.RWMutex
	data    map[string][]byte
	updated map[string]time.Time
	runs    []SyncRun
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte), updated: make(map[string]time.Time)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(v), true, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = slices.Clone(value)
	m.updated[key] = time.Now().UTC()
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
		delete(m.updated, k)
	}
	return nil
}

func (m *Memory) Update(_ context.Context, key string, fn func([]byte, bool) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.data[key]
	value, err := fn(slices.Clone(old), ok)
	if err != nil {
		return err
	}
	m.data[key] = slices.Clone(value)
	m.updated[key] = time.Now().UTC()
	return nil
}

func (m *Memory) UpdatedAt(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.updated[key]
	return t, ok, nil
}

// Keys returns the stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.data))
}
