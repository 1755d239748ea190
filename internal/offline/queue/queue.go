// Package queue holds mutating API calls captured while the server was
// unreachable, in the order they were issued.
//
// The pendingSync key of the store is the source of truth. The CLI and the
// daemon each hold a Queue over the same database, so every change re-reads
// the persisted list and writes the result in one store transaction. The
// in-memory list is the view as of the last change or Restore; Drain, Len
// and List read that view.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskmasterpro/tm/internal/offline/schema"
	"github.com/taskmasterpro/tm/internal/offline/store"
)

var (
	// ErrQueueFull is returned by Enqueue when MaxPending operations are waiting.
	ErrQueueFull = errors.New("pending queue is full")

	// ErrNotPersisted marks an operation that was queued in memory but could
	// not be written to the store. It is written by the next successful change.
	ErrNotPersisted = errors.New("operation queued in memory only")

	// ErrNotFound is returned when an operation id is not in the queue.
	ErrNotFound = errors.New("operation not in queue")
)

// Config configures a Queue.
type Config struct {
	// MaxPending caps the number of queued operations (0 = unlimited).
	MaxPending int

	// Logger receives restore and persist diagnostics.
	Logger *log.Logger

	// Now returns the current time (defaults to time.Now).
	Now func() time.Time
}

// DefaultConfig returns an unlimited queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxPending: 0,
		Logger:     log.New(os.Stderr, "[queue] ", log.LstdFlags),
		Now:        time.Now,
	}
}

// Queue is the persisted FIFO of pending writes. It is safe for concurrent
// use, and several Queues may share one store.
type Queue struct {
	store  store.Store
	config Config

	mu      sync.Mutex
	ops     []schema.Operation
	unsaved []schema.Operation
}

// New creates an empty queue backed by st. Call Restore to load persisted state.
func New(st store.Store, config Config) *Queue {
	def := DefaultConfig()
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	if config.Now == nil {
		config.Now = def.Now
	}
	return &Queue{store: st, config: config}
}

// decode parses a pendingSync value. A corrupted entry is logged and read as
// an empty queue.
func (q *Queue) decode(data []byte, ok bool) []schema.Operation {
	if !ok || len(data) == 0 {
		return nil
	}
	var ops []schema.Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		q.config.Logger.Printf("ignoring corrupted %s entry: %v", store.KeyPendingSync, err)
		return nil
	}
	return ops
}

// withUnsaved appends operations whose earlier write failed and that are not
// in ops yet.
func (q *Queue) withUnsaved(ops []schema.Operation) []schema.Operation {
	for _, u := range q.unsaved {
		if !slices.ContainsFunc(ops, func(op schema.Operation) bool { return op.ID == u.ID }) {
			ops = append(ops, u)
		}
	}
	return ops
}

// Restore reloads the view from the store. Operations that could not be
// persisted yet are kept at the end.
//
// A corrupted pendingSync entry is logged and treated as an empty queue; only
// storage read failures are returned.
func (q *Queue) Restore(ctx context.Context) error {
	data, ok, err := q.store.Get(ctx, store.KeyPendingSync)
	if err != nil {
		return fmt.Errorf("failed to restore pending queue: %w", err)
	}
	ops := q.decode(data, ok)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = q.withUnsaved(ops)
	return nil
}

// updateLocked applies fn to the persisted queue in one store transaction
// and makes the result the view. Errors returned by fn are passed through
// unwrapped. q.mu must be held.
func (q *Queue) updateLocked(ctx context.Context, fn func([]schema.Operation) ([]schema.Operation, error)) error {
	var next []schema.Operation
	var fnErr error
	err := q.store.Update(ctx, store.KeyPendingSync, func(data []byte, ok bool) ([]byte, error) {
		ops, err := fn(q.withUnsaved(q.decode(data, ok)))
		if err != nil {
			fnErr = err
			return nil, err
		}
		if ops == nil {
			ops = []schema.Operation{}
		}
		out, err := json.Marshal(ops)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pending queue: %w", err)
		}
		next = ops
		return out, nil
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fmt.Errorf("failed to persist pending queue: %w", err)
	}
	q.ops = next
	q.unsaved = nil
	return nil
}

// Persist writes any operations that failed to persist earlier and reloads
// the view.
func (q *Queue) Persist(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.updateLocked(ctx, func(ops []schema.Operation) ([]schema.Operation, error) {
		return ops, nil
	})
}

// Enqueue appends op to the persisted queue. It returns the new queue length.
//
// If the write to the store fails the operation stays queued in memory and
// the returned error wraps ErrNotPersisted.
func (q *Queue) Enqueue(ctx context.Context, op schema.Operation) (int, error) {
	if err := op.Validate(); err != nil {
		return 0, fmt.Errorf("failed to enqueue %s: %w", op, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	full := func(n int) error {
		return fmt.Errorf("%w (%d operations waiting)", ErrQueueFull, n)
	}

	var n int
	err := q.updateLocked(ctx, func(ops []schema.Operation) ([]schema.Operation, error) {
		if q.config.MaxPending > 0 && len(ops) >= q.config.MaxPending {
			n = len(ops)
			return nil, full(n)
		}
		ops = append(ops, op)
		n = len(ops)
		return ops, nil
	})
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, ErrQueueFull):
		return n, err
	}

	if q.config.MaxPending > 0 && len(q.ops) >= q.config.MaxPending {
		return len(q.ops), full(len(q.ops))
	}
	q.unsaved = append(q.unsaved, op)
	q.ops = append(q.ops, op)
	q.config.Logger.Printf("queued %s in memory only: %v", op, err)
	return len(q.ops), fmt.Errorf("%w: %v", ErrNotPersisted, err)
}

// Drain returns a lazy FIFO sequence over the operations ready for replay at
// the time of the call. Operations stay queued until Ack, Remove or Retry.
//
// The sequence can be ranged over once; later ranges yield nothing.
func (q *Queue) Drain() iter.Seq[schema.Operation] {
	q.mu.Lock()
	now := q.config.Now()
	snapshot := make([]schema.Operation, 0, len(q.ops))
	for _, op := range q.ops {
		if op.Ready(now) {
			snapshot = append(snapshot, op)
		}
	}
	q.mu.Unlock()

	var drained atomic.Bool
	return func(yield func(schema.Operation) bool) {
		if !drained.CompareAndSwap(false, true) {
			return
		}
		for _, op := range snapshot {
			if !yield(op) {
				return
			}
		}
	}
}

// Ack removes a successfully replayed operation and persists the queue.
func (q *Queue) Ack(ctx context.Context, id string) error {
	n, err := q.Remove(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("failed to ack %s: %w", id, ErrNotFound)
	}
	return nil
}

// Remove deletes the operations with the given ids from the persisted queue.
// It returns how many were removed; unknown ids are ignored.
func (q *Queue) Remove(ctx context.Context, ids ...string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed int
	err := q.updateLocked(ctx, func(ops []schema.Operation) ([]schema.Operation, error) {
		before := len(ops)
		ops = slices.DeleteFunc(ops, func(op schema.Operation) bool {
			return slices.Contains(ids, op.ID)
		})
		removed = before - len(ops)
		return ops, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Retry records a failed replay attempt for id, keeping its queue position,
// and defers it until next.
func (q *Queue) Retry(ctx context.Context, id string, lastErr error, next time.Time) (schema.Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var updated schema.Operation
	err := q.updateLocked(ctx, func(ops []schema.Operation) ([]schema.Operation, error) {
		i := slices.IndexFunc(ops, func(op schema.Operation) bool { return op.ID == id })
		if i < 0 {
			return nil, fmt.Errorf("failed to retry %s: %w", id, ErrNotFound)
		}
		op := &ops[i]
		op.Attempts++
		op.NextAttemptAt = next
		if lastErr != nil {
			op.LastError = lastErr.Error()
		}
		updated = *op
		return ops, nil
	})
	return updated, err
}

// Clear empties the persisted queue.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.updateLocked(ctx, func([]schema.Operation) ([]schema.Operation, error) {
		return nil, nil
	})
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// List returns a copy of the queue in FIFO order.
func (q *Queue) List() []schema.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.ops)
}

// NextAttempt returns the earliest deferred retry time, if any operation is
// backed off.
func (q *Queue) NextAttempt() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var next time.Time
	for _, op := range q.ops {
		if op.NextAttemptAt.IsZero() {
			continue
		}
		if next.IsZero() || op.NextAttemptAt.Before(next) {
			next = op.NextAttemptAt
		}
	}
	return next, !next.IsZero()
}

// Has reports whether an operation with id is queued.
func (q *Queue) Has(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.ContainsFunc(q.ops, func(op schema.Operation) bool { return op.ID == id })
}
