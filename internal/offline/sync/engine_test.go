package sync

import (
	"context"
	"errors"
	"io"
	"log"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskmasterpro/tm/internal/api"
	"github.com/taskmasterpro/tm/internal/offline/connectivity"
	"github.com/taskmasterpro/tm/internal/offline/gateway"
	"github.com/taskmasterpro/tm/internal/offline/notify"
	"github.com/taskmasterpro/tm/internal/offline/queue"
	"github.com/taskmasterpro/tm/internal/offline/schema"
	"github.com/taskmasterpro/tm/internal/offline/store"
)

var testNow = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

// fakeReplayer answers each endpoint with a configured error (nil = accept).
type fakeReplayer struct {
	mu      stdsync.Mutex
	errs    map[string]error
	calls   []string
	block   chan struct{}
	started chan struct{}
}

func (f *fakeReplayer) Replay(ctx context.Context, op schema.Operation) (*gateway.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, op.String())
	err := f.errs[op.Endpoint]
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &api.NetworkError{Method: string(op.Method), Endpoint: op.Endpoint, Err: ctx.Err()}
		}
	}
	if err != nil {
		return nil, err
	}
	return &gateway.Result{Success: true, Status: 200}, nil
}

func (f *fakeReplayer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeRefresher struct {
	calls atomic.Int32
	err   error
}

func (f *fakeRefresher) Refresh(context.Context) (int, error) {
	f.calls.Add(1)
	return 3, f.err
}

type staticConn bool

func (s staticConn) Online() bool { return bool(s) }

func rejected(endpoint string) error {
	return &api.Error{Status: 404, Method: "DELETE", Endpoint: endpoint, Message: "Task not found"}
}

func unreachable(endpoint string) error {
	return &api.NetworkError{Method: "POST", Endpoint: endpoint, Err: errors.New("connection refused")}
}

type fixture struct {
	now       atomic.Pointer[time.Time]
	queue     *queue.Queue
	store     *store.Memory
	replayer  *fakeReplayer
	refresher *fakeRefresher
	notes     *notify.Recorder
	engine    *Engine
}

func newFixture(t *testing.T, cfg Config, online bool) *fixture {
	t.Helper()
	f := &fixture{
		store:     store.NewMemory(),
		replayer:  &fakeReplayer{errs: map[string]error{}},
		refresher: &fakeRefresher{},
		notes:     &notify.Recorder{},
	}
	f.setNow(testNow)
	clock := func() time.Time { return *f.now.Load() }

	f.queue = queue.New(f.store, queue.Config{
		Logger: log.New(io.Discard, "", 0),
		Now:    clock,
	})
	cfg.Notifier = f.notes
	cfg.History = f.store
	cfg.Logger = log.New(io.Discard, "", 0)
	cfg.Now = clock
	f.engine = New(f.queue, f.replayer, f.refresher, staticConn(online), cfg)
	return f
}

func (f *fixture) setNow(t time.Time) {
	f.now.Store(&t)
}

func (f *fixture) enqueue(t *testing.T, method schema.Method, endpoint string) schema.Operation {
	t.Helper()
	op, err := schema.NewOperation(method, endpoint, nil, testNow)
	if err != nil {
		t.Fatalf("NewOperation() failed: %v", err)
	}
	if _, err := f.queue.Enqueue(context.Background(), op); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	return op
}

func TestSyncAll_AllApplied(t *testing.T) {
	f := newFixture(t, Config{}, true)
	f.enqueue(t, schema.MethodPost, "/tasks")
	f.enqueue(t, schema.MethodDelete, "/tasks/42")

	report, err := f.engine.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll() failed: %v", err)
	}
	if report.Applied != 2 || report.Attempted() != 2 {
		t.Errorf("report = %+v", report)
	}
	if f.queue.Len() != 0 {
		t.Errorf("queue length = %d, want 0", f.queue.Len())
	}
	if f.refresher.calls.Load() != 1 {
		t.Errorf("refresh called %d times, want 1", f.refresher.calls.Load())
	}
	if !report.Refreshed || report.Fetched != 3 {
		t.Errorf("Refreshed=%v Fetched=%d", report.Refreshed, report.Fetched)
	}
	if !f.notes.HasToast(notify.MsgSynced) {
		t.Errorf("toasts = %v", f.notes.Toasts())
	}
	if f.notes.LastPending() != 0 {
		t.Errorf("pending badge = %d, want 0", f.notes.LastPending())
	}
	if report.Results[0].Op.Endpoint != "/tasks" || report.Results[1].Op.Endpoint != "/tasks/42" {
		t.Error("results not in queue order")
	}
}

// The server accepts the first write and rejects the second. The rejected
// write is dropped and never retried: the queue ends up empty and the task
// list is re-fetched.
func TestSyncAll_RejectedWriteIsDropped(t *testing.T) {
	f := newFixture(t, Config{}, true)
	f.enqueue(t, schema.MethodPost, "/tasks")
	f.enqueue(t, schema.MethodDelete, "/tasks/42")
	f.replayer.errs["/tasks/42"] = rejected("/tasks/42")

	report, err := f.engine.SyncAll(context.Background())
	if !errors.Is(err, ErrPartialSync) {
		t.Fatalf("SyncAll() error = %v, want ErrPartialSync", err)
	}
	if report == nil {
		t.Fatal("SyncAll() returned no report with partial failure")
	}
	if report.Applied != 1 || report.Rejected != 1 {
		t.Errorf("applied=%d rejected=%d", report.Applied, report.Rejected)
	}
	if f.queue.Len() != 0 {
		t.Errorf("queue length = %d, want 0", f.queue.Len())
	}
	if f.refresher.calls.Load() != 1 {
		t.Error("full task re-fetch not triggered")
	}

	raw, _, _ := f.store.Get(context.Background(), store.KeyPendingSync)
	if string(raw) != "[]" {
		t.Errorf("persisted queue = %s, want []", raw)
	}

	runs, _ := f.store.SyncHistory(context.Background(), 1)
	if len(runs) != 1 || runs[0].Rejected != 1 || runs[0].Error == "" {
		t.Errorf("history = %+v", runs)
	}
}

func TestSyncAll_DropPolicyLosesUnreachableWrites(t *testing.T) {
	f := newFixture(t, Config{Policy: PolicyDrop}, true)
	f.enqueue(t, schema.MethodPost, "/tasks")
	f.replayer.errs["/tasks"] = unreachable("/tasks")

	report, err := f.engine.SyncAll(context.Background())
	if !errors.Is(err, ErrPartialSync) {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if report.Dropped != 1 || f.queue.Len() != 0 {
		t.Errorf("dropped=%d queue=%d", report.Dropped, f.queue.Len())
	}
	toasts := f.notes.Toasts()
	last := toasts[len(toasts)-1]
	if last.Level != notify.LevelWarning {
		t.Errorf("summary toast = %+v, want warning", last)
	}
}

func TestSyncAll_RequeuePolicy(t *testing.T) {
	cfg := Config{
		Policy:      PolicyRequeue,
		MaxAttempts: 2,
		BackoffBase: time.Second,
		BackoffMax:  time.Minute,
	}
	f := newFixture(t, cfg, true)
	op := f.enqueue(t, schema.MethodPost, "/tasks")
	f.replayer.errs["/tasks"] = unreachable("/tasks")

	report, err := f.engine.SyncAll(context.Background())
	if !errors.Is(err, ErrPartialSync) {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if report.Requeued != 1 {
		t.Errorf("requeued = %d, want 1", report.Requeued)
	}
	ops := f.queue.List()
	if len(ops) != 1 || ops[0].ID != op.ID || ops[0].Attempts != 1 {
		t.Fatalf("queue = %+v", ops)
	}
	if want := testNow.Add(time.Second); !ops[0].NextAttemptAt.Equal(want) {
		t.Errorf("NextAttemptAt = %v, want %v", ops[0].NextAttemptAt, want)
	}

	// Not ready yet: nothing is replayed.
	report, err = f.engine.SyncAll(context.Background())
	if err != nil || report.Attempted() != 0 {
		t.Errorf("early SyncAll() = %+v, %v", report, err)
	}

	// Second failure reaches MaxAttempts and drops the write.
	f.setNow(testNow.Add(2 * time.Second))
	report, _ = f.engine.SyncAll(context.Background())
	if report.Dropped != 1 || f.queue.Len() != 0 {
		t.Errorf("dropped=%d queue=%d after max attempts", report.Dropped, f.queue.Len())
	}
}

func TestSyncAll_RequeueThenApply(t *testing.T) {
	f := newFixture(t, Config{Policy: PolicyRequeue, BackoffBase: time.Second}, true)
	f.enqueue(t, schema.MethodPut, "/tasks/1")
	f.replayer.errs["/tasks/1"] = unreachable("/tasks/1")

	_, _ = f.engine.SyncAll(context.Background())
	if f.queue.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", f.queue.Len())
	}

	delete(f.replayer.errs, "/tasks/1")
	f.setNow(testNow.Add(time.Hour))
	report, err := f.engine.SyncAll(context.Background())
	if err != nil || report.Applied != 1 || f.queue.Len() != 0 {
		t.Errorf("SyncAll() = %+v, %v; queue=%d", report, err, f.queue.Len())
	}
}

func TestSyncAll_ReentrantCallIsNoop(t *testing.T) {
	f := newFixture(t, Config{}, true)
	f.enqueue(t, schema.MethodPost, "/tasks")
	f.replayer.block = make(chan struct{})
	f.replayer.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.SyncAll(context.Background())
		done <- err
	}()

	select {
	case <-f.replayer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first SyncAll() never started replaying")
	}
	if f.engine.State() != StateSyncing {
		t.Errorf("State() = %s, want syncing", f.engine.State())
	}

	report, err := f.engine.SyncAll(context.Background())
	if !errors.Is(err, ErrSyncInProgress) || report != nil {
		t.Errorf("re-entrant SyncAll() = %v, %v; want ErrSyncInProgress", report, err)
	}

	close(f.replayer.block)
	if err := <-done; err != nil {
		t.Fatalf("first SyncAll() failed: %v", err)
	}
	if calls := f.replayer.Calls(); len(calls) != 1 {
		t.Errorf("replays = %v, want exactly one", calls)
	}
	if f.engine.State() != StateIdle {
		t.Errorf("State() = %s after sync, want idle", f.engine.State())
	}
}

func TestSyncAll_Offline(t *testing.T) {
	f := newFixture(t, Config{}, false)
	f.enqueue(t, schema.MethodPost, "/tasks")

	if _, err := f.engine.SyncAll(context.Background()); !errors.Is(err, ErrOffline) {
		t.Errorf("SyncAll() = %v, want ErrOffline", err)
	}
	if len(f.replayer.Calls()) != 0 || f.queue.Len() != 1 {
		t.Error("offline SyncAll() touched the queue")
	}
}

func TestSyncAll_EmptyQueue(t *testing.T) {
	f := newFixture(t, Config{}, true)

	report, err := f.engine.SyncAll(context.Background())
	if err != nil || report.Attempted() != 0 {
		t.Errorf("SyncAll() = %+v, %v", report, err)
	}
	if f.refresher.calls.Load() != 0 {
		t.Error("empty sync re-fetched tasks")
	}
	if len(f.notes.Toasts()) != 0 {
		t.Errorf("empty sync showed toasts: %v", f.notes.Toasts())
	}
}

func TestSyncAll_CancelledKeepsOperations(t *testing.T) {
	f := newFixture(t, Config{Policy: PolicyDrop}, true)
	f.enqueue(t, schema.MethodPost, "/tasks")
	f.replayer.block = make(chan struct{})
	f.replayer.started = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-f.replayer.started
		cancel()
	}()

	report, err := f.engine.SyncAll(ctx)
	if !errors.Is(err, ErrPartialSync) {
		t.Fatalf("SyncAll() = %v", err)
	}
	if report.Interrupted != 1 || f.queue.Len() != 1 {
		t.Errorf("interrupted=%d queue=%d, want the write kept", report.Interrupted, f.queue.Len())
	}
	if f.refresher.calls.Load() != 0 {
		t.Error("cancelled sync re-fetched tasks")
	}
}

func TestSyncAll_EnqueuedDuringSyncIsKept(t *testing.T) {
	f := newFixture(t, Config{}, true)
	f.enqueue(t, schema.MethodPost, "/tasks")
	f.replayer.block = make(chan struct{})
	f.replayer.started = make(chan struct{}, 1)

	done := make(chan struct{})
	go func() {
		_, _ = f.engine.SyncAll(context.Background())
		close(done)
	}()

	<-f.replayer.started
	late := f.enqueue(t, schema.MethodDelete, "/tasks/7")
	close(f.replayer.block)
	<-done

	ops := f.queue.List()
	if len(ops) != 1 || ops[0].ID != late.ID {
		t.Errorf("queue = %v, want only the late operation", ops)
	}
}

// A second Queue over the same store stands in for a one-shot CLI command
// writing while the daemon's engine holds its own view.
func TestSyncAll_ReplaysWritesFromAnotherQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, true)
	first := f.enqueue(t, schema.MethodPost, "/tasks")

	cli := queue.New(f.store, queue.Config{Logger: log.New(io.Discard, "", 0)})
	second, err := schema.NewOperation(schema.MethodPut, "/tasks/7", map[string]any{"title": "B"}, testNow)
	if err != nil {
		t.Fatalf("NewOperation() failed: %v", err)
	}
	if _, err := cli.Enqueue(ctx, second); err != nil {
		t.Fatalf("Enqueue() on second queue failed: %v", err)
	}

	report, err := f.engine.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll() failed: %v", err)
	}
	if report.Applied != 2 {
		t.Errorf("applied = %d, want 2 (calls %v)", report.Applied, f.replayer.Calls())
	}
	calls := f.replayer.Calls()
	if len(calls) != 2 || calls[0] != first.String() || calls[1] != second.String() {
		t.Errorf("replayed %v, want [%s %s]", calls, first, second)
	}

	if err := cli.Restore(ctx); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
	if cli.Len() != 0 || f.queue.Len() != 0 {
		t.Errorf("queues after sync: cli %d, engine %d, want both empty", cli.Len(), f.queue.Len())
	}
}

func TestSyncAll_KeepsWritesFromAnotherQueueDuringSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, true)
	f.enqueue(t, schema.MethodPost, "/tasks")
	f.replayer.block = make(chan struct{})
	f.replayer.started = make(chan struct{}, 1)

	done := make(chan struct{})
	go func() {
		_, _ = f.engine.SyncAll(ctx)
		close(done)
	}()

	<-f.replayer.started
	cli := queue.New(f.store, queue.Config{Logger: log.New(io.Discard, "", 0)})
	late, err := schema.NewOperation(schema.MethodDelete, "/tasks/9", nil, testNow)
	if err != nil {
		t.Fatalf("NewOperation() failed: %v", err)
	}
	if _, err := cli.Enqueue(ctx, late); err != nil {
		t.Fatalf("Enqueue() on second queue failed: %v", err)
	}
	close(f.replayer.block)
	<-done

	check := queue.New(f.store, queue.Config{Logger: log.New(io.Discard, "", 0)})
	if err := check.Restore(ctx); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
	ops := check.List()
	if len(ops) != 1 || ops[0].ID != late.ID {
		t.Errorf("stored queue = %v, want only the late operation", ops)
	}
}

func TestConfig_BackoffIsCapped(t *testing.T) {
	cfg := Config{BackoffBase: time.Second, BackoffMax: 10 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for attempts, w := range want {
		if got := cfg.Backoff(attempts); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", attempts, got, w)
		}
	}
	if got := cfg.Backoff(200); got != 10*time.Second {
		t.Errorf("Backoff(200) = %v, want cap", got)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"drop": PolicyDrop, "REQUEUE": PolicyRequeue, "": PolicyDrop} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("retry-forever"); err == nil {
		t.Error("ParsePolicy(retry-forever) should fail")
	}
}

func TestRun_SyncsOncePerOnlineTransition(t *testing.T) {
	f := newFixture(t, Config{}, true)
	f.enqueue(t, schema.MethodPost, "/tasks")

	transitions := make(chan connectivity.Transition, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- f.engine.Run(ctx, transitions) }()

	transitions <- connectivity.Transition{From: connectivity.Online, To: connectivity.Offline}
	transitions <- connectivity.Transition{From: connectivity.Offline, To: connectivity.Online}
	close(transitions)

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after transitions closed")
	}

	if calls := f.replayer.Calls(); len(calls) != 1 {
		t.Errorf("replays = %v, want one", calls)
	}
	if syncs := f.notes.Syncs(); len(syncs) != 1 || syncs[0].Applied != 1 {
		t.Errorf("sync summaries = %+v, want one with 1 applied", syncs)
	}
}

func TestRun_TriggerAndCancel(t *testing.T) {
	f := newFixture(t, Config{}, true)
	f.enqueue(t, schema.MethodPost, "/tasks")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.engine.Run(ctx, make(chan connectivity.Transition)) }()

	f.engine.Trigger()
	f.engine.Trigger()

	deadline := time.Now().Add(2 * time.Second)
	for f.queue.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if f.queue.Len() != 0 {
		t.Error("Trigger() did not start a sync")
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}
