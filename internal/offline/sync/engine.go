package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/taskmasterpro/tm/internal/api"
	"github.com/taskmasterpro/tm/internal/offline/connectivity"
	"github.com/taskmasterpro/tm/internal/offline/notify"
	"github.com/taskmasterpro/tm/internal/offline/queue"
	"github.com/taskmasterpro/tm/internal/offline/schema"
	"github.com/taskmasterpro/tm/internal/offline/store"
)

// Config configures an Engine.
type Config struct {
	// Policy handles replays that fail before reaching the server.
	Policy Policy

	// MaxAttempts bounds replays per operation under PolicyRequeue.
	MaxAttempts int

	// BackoffBase and BackoffMax shape the retry delay: base * 2^attempts, capped.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Concurrency caps simultaneous replays (0 = all at once).
	Concurrency int

	Notifier notify.Notifier
	History  store.History
	Logger   *log.Logger
	Now      func() time.Time
}

// DefaultConfig reproduces the web client: every queued write is replayed at
// once and failed replays are dropped.
func DefaultConfig() Config {
	return Config{
		Policy:      PolicyDrop,
		MaxAttempts: 5,
		BackoffBase: 2 * time.Second,
		BackoffMax:  5 * time.Minute,
		Concurrency: 0,
		Notifier:    notify.Discard{},
		Logger:      log.New(os.Stderr, "[sync] ", log.LstdFlags),
		Now:         time.Now,
	}
}

// Backoff returns the delay before the retry that follows attempt number
// attempts (0-based).
func (c Config) Backoff(attempts int) time.Duration {
	d := c.BackoffBase
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= c.BackoffMax || d <= 0 {
			return c.BackoffMax
		}
	}
	if d > c.BackoffMax {
		return c.BackoffMax
	}
	return d
}

// Engine replays the pending queue and reconciles the local cache.
type Engine struct {
	queue     *queue.Queue
	replayer  Replayer
	refresher Refresher
	monitor   Connectivity
	config    Config

	state atomic.Int32
	wake  chan struct{}
	retry atomic.Pointer[time.Timer]
}

// New creates an engine. monitor may be nil to skip the online check.
func New(q *queue.Queue, replayer Replayer, refresher Refresher, monitor Connectivity, config Config) *Engine {
	def := DefaultConfig()
	if config.Policy == "" {
		config.Policy = def.Policy
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = def.BackoffBase
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = def.BackoffMax
	}
	if config.Notifier == nil {
		config.Notifier = def.Notifier
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	if config.Now == nil {
		config.Now = def.Now
	}
	return &Engine{
		queue:     q,
		replayer:  replayer,
		refresher: refresher,
		monitor:   monitor,
		config:    config,
		wake:      make(chan struct{}, 1),
	}
}

// State returns whether a sync pass is running.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// SyncAll replays every ready queued operation concurrently, applies the
// failure policy, persists the queue and re-fetches the task set.
//
// Calls made while a pass is running return ErrSyncInProgress immediately.
// When some operations did not apply the report is returned together with
// an error wrapping ErrPartialSync.
func (e *Engine) SyncAll(ctx context.Context) (*Report, error) {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateSyncing)) {
		return nil, ErrSyncInProgress
	}
	defer e.state.Store(int32(StateIdle))

	if e.monitor != nil && !e.monitor.Online() {
		return nil, ErrOffline
	}

	// Another process sharing the store may have queued writes since the
	// last change this process made.
	if err := e.queue.Restore(ctx); err != nil {
		return nil, err
	}

	var ops []schema.Operation
	for op := range e.queue.Drain() {
		ops = append(ops, op)
	}

	report := &Report{StartedAt: e.config.Now(), Policy: e.config.Policy}
	if len(ops) == 0 {
		report.FinishedAt = e.config.Now()
		report.Pending = e.queue.Len()
		return report, nil
	}

	e.config.Logger.Printf("Replaying %d pending operation(s) (policy=%s)", len(ops), e.config.Policy)
	e.config.Notifier.Toast(notify.LevelInfo, fmt.Sprintf(notify.MsgSyncingFormat, len(ops)))

	results := e.replayAll(ctx, ops)

	// Queue bookkeeping must complete even if ctx was cancelled mid-replay.
	bg := context.WithoutCancel(ctx)
	for i := range results {
		results[i] = e.settle(bg, ctx, results[i])
		report.count(results[i])
	}
	report.Results = results

	if err := e.queue.Persist(bg); err != nil {
		e.config.Logger.Printf("WARNING: failed to persist queue after sync: %v", err)
	}
	report.Pending = e.queue.Len()
	e.config.Notifier.PendingChanged(report.Pending)

	if e.refresher != nil && ctx.Err() == nil {
		n, err := e.refresher.Refresh(ctx)
		if err != nil {
			report.RefreshErr = err
			e.config.Logger.Printf("WARNING: failed to refresh tasks after sync: %v", err)
		} else {
			report.Refreshed = true
			report.Fetched = n
		}
	}

	report.FinishedAt = e.config.Now()
	e.scheduleRetry()

	var syncErr error
	if report.Failed() > 0 {
		syncErr = fmt.Errorf("%w: %d of %d operations did not apply (%d rejected, %d dropped, %d requeued, %d interrupted)",
			ErrPartialSync, report.Failed(), report.Attempted(),
			report.Rejected, report.Dropped, report.Requeued, report.Interrupted)
	}

	if e.config.History != nil {
		if _, err := e.config.History.RecordSync(bg, report.Run(syncErr)); err != nil {
			e.config.Logger.Printf("WARNING: failed to record sync run: %v", err)
		}
	}

	e.config.Logger.Printf("Sync complete: applied=%d rejected=%d dropped=%d requeued=%d interrupted=%d pending=%d refreshed=%v",
		report.Applied, report.Rejected, report.Dropped, report.Requeued, report.Interrupted, report.Pending, report.Refreshed)

	summary := report.Summary()
	level, msg := summary.Message()
	e.config.Notifier.Toast(level, msg)
	e.config.Notifier.SyncCompleted(summary)

	return report, syncErr
}

type indexedResult struct {
	index int
	res   OpResult
}

// replayAll issues every operation at once (bounded by Concurrency) and
// returns results in queue order.
func (e *Engine) replayAll(ctx context.Context, ops []schema.Operation) []OpResult {
	p := pool.NewWithResults[indexedResult]()
	if e.config.Concurrency > 0 {
		p = p.WithMaxGoroutines(e.config.Concurrency)
	}

	for i, op := range ops {
		p.Go(func() indexedResult {
			_, err := e.replayer.Replay(ctx, op)
			return indexedResult{index: i, res: OpResult{Op: op, Err: err}}
		})
	}

	collected := p.Wait()
	sort.Slice(collected, func(a, b int) bool { return collected[a].index < collected[b].index })

	results := make([]OpResult, len(collected))
	for i, c := range collected {
		results[i] = c.res
	}
	return results
}

// settle decides the outcome of one replay and updates the queue.
func (e *Engine) settle(bg, ctx context.Context, res OpResult) OpResult {
	op := res.Op

	switch {
	case res.Err == nil:
		res.Outcome = OutcomeApplied
		if err := e.queue.Ack(bg, op.ID); err != nil && !errors.Is(err, queue.ErrNotFound) {
			e.config.Logger.Printf("WARNING: failed to dequeue %s: %v", op, err)
		}
		return res

	case !api.IsNetworkError(res.Err):
		res.Outcome = OutcomeRejected
		e.config.Logger.Printf("Server rejected %s (%s): %v", op, op.ID, res.Err)
		e.remove(bg, op)
		return res

	case ctx.Err() != nil:
		res.Outcome = OutcomeInterrupted
		return res
	}

	if e.config.Policy == PolicyRequeue && op.Attempts+1 < e.config.MaxAttempts {
		delay := e.config.Backoff(op.Attempts)
		updated, err := e.queue.Retry(bg, op.ID, res.Err, e.config.Now().Add(delay))
		if err != nil {
			e.config.Logger.Printf("WARNING: failed to requeue %s: %v", op, err)
		} else {
			res.Op = updated
		}
		res.Outcome = OutcomeRequeued
		e.config.Logger.Printf("Replay of %s failed (attempt %d/%d), retrying in %v: %v",
			op, op.Attempts+1, e.config.MaxAttempts, delay, res.Err)
		return res
	}

	res.Outcome = OutcomeDropped
	e.config.Logger.Printf("WARNING: dropping %s (%s) after failed replay, the change is lost: %v", op, op.ID, res.Err)
	e.remove(bg, op)
	return res
}

func (e *Engine) remove(ctx context.Context, op schema.Operation) {
	if _, err := e.queue.Remove(ctx, op.ID); err != nil {
		e.config.Logger.Printf("WARNING: failed to dequeue %s: %v", op, err)
	}
}

// scheduleRetry arms a timer for the earliest backed-off operation.
func (e *Engine) scheduleRetry() {
	next, ok := e.queue.NextAttempt()
	if !ok {
		if t := e.retry.Swap(nil); t != nil {
			t.Stop()
		}
		return
	}

	delay := next.Sub(e.config.Now())
	if delay < 0 {
		delay = 0
	}
	t := time.AfterFunc(delay, e.Trigger)
	if old := e.retry.Swap(t); old != nil {
		old.Stop()
	}
}

// Trigger asks Run to start a sync pass. It never blocks; triggers that
// arrive while one is pending are coalesced.
func (e *Engine) Trigger() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run syncs once per online transition received on transitions, and on every
// Trigger while online. It returns when ctx is done or transitions is closed.
func (e *Engine) Run(ctx context.Context, transitions <-chan connectivity.Transition) error {
	defer func() {
		if t := e.retry.Swap(nil); t != nil {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case t, ok := <-transitions:
			if !ok {
				return nil
			}
			if t.To != connectivity.Online {
				continue
			}
			e.runOnce(ctx)

		case <-e.wake:
			if e.monitor != nil && !e.monitor.Online() {
				continue
			}
			e.runOnce(ctx)
		}
	}
}

func (e *Engine) runOnce(ctx context.Context) {
	_, err := e.SyncAll(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncInProgress), errors.Is(err, ErrOffline):
		e.config.Logger.Printf("Sync skipped: %v", err)
	case errors.Is(err, ErrPartialSync):
		// Already logged per operation.
	default:
		e.config.Logger.Printf("WARNING: sync failed: %v", err)
	}
}
