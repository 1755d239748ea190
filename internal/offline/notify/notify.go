// Package notify is the user-visible surface of the offline subsystem:
// transient toasts, the pending-changes badge and the online indicator.
package notify

import (
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"sync"

	"github.com/taskmasterpro/tm/internal/ui"
)

// Level is the severity of a toast.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Messages shown on the standard offline transitions.
const (
	MsgOffline       = "📴 You are offline. Changes will sync when online."
	MsgOnline        = "📶 Back online! Syncing your tasks..."
	MsgSavedLocally  = "📴 Change saved locally. Will sync when online."
	MsgSynced        = "✅ All changes synced!"
	MsgCachedTasks   = "📴 Showing cached tasks (offline mode)"
	MsgQueueFull     = "⚠️ Too many unsynced changes. Reconnect to sync before making more."
	MsgSyncingFormat = "🔄 Syncing %d pending changes..."
	msgPartialFormat = "⚠️ Synced %d of %d changes (%d lost, %d will retry)"
)

// SyncSummary is what the user is told after a sync pass.
type SyncSummary struct {
	Attempted int  `json:"attempted"`
	Applied   int  `json:"applied"`
	Rejected  int  `json:"rejected"`
	Dropped   int  `json:"dropped"`
	Requeued  int  `json:"requeued"`
	Pending   int  `json:"pending"`
	Refreshed bool `json:"refreshed"`
}

// Message returns the toast text and level for s.
func (s SyncSummary) Message() (Level, string) {
	if s.Applied == s.Attempted {
		return LevelSuccess, MsgSynced
	}
	lost := s.Rejected + s.Dropped
	return LevelWarning, fmt.Sprintf(msgPartialFormat, s.Applied, s.Attempted, lost, s.Requeued)
}

// Notifier receives user-visible events. Implementations must be safe for
// concurrent use and must not block.
type Notifier interface {
	Toast(level Level, message string)
	PendingChanged(n int)
	ConnectivityChanged(online bool)
	SyncCompleted(summary SyncSummary)
}

// Discard ignores all events.
type Discard struct{}

func (Discard) Toast(Level, string)       {}
func (Discard) PendingChanged(int)        {}
func (Discard) ConnectivityChanged(bool)  {}
func (Discard) SyncCompleted(SyncSummary) {}

// Log writes events to a logger.
type Log struct {
	Logger *log.Logger
}

// NewLog creates a Log notifier. A nil logger logs to stderr.
func NewLog(logger *log.Logger) *Log {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &Log{Logger: logger}
}

func (l *Log) Toast(level Level, message string) {
	l.Logger.Printf("%s: %s", level, message)
}

func (l *Log) PendingChanged(n int) {
	l.Logger.Printf("pending changes: %d", n)
}

func (l *Log) ConnectivityChanged(online bool) {
	if online {
		l.Logger.Printf("connectivity: online")
	} else {
		l.Logger.Printf("connectivity: offline")
	}
}

func (l *Log) SyncCompleted(s SyncSummary) {
	l.Logger.Printf("sync complete: attempted=%d applied=%d rejected=%d dropped=%d requeued=%d pending=%d refreshed=%v",
		s.Attempted, s.Applied, s.Rejected, s.Dropped, s.Requeued, s.Pending, s.Refreshed)
}

// Console prints toasts to a terminal writer with styling.
// Pending counts and sync summaries are printed only when they change.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	pending int
}

// NewConsole creates a Console notifier writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, pending: -1}
}

func (c *Console) Toast(level Level, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var marker string
	switch level {
	case LevelSuccess:
		marker = ui.RenderPass("✓")
	case LevelWarning:
		marker = ui.RenderWarn("⚠")
	case LevelError:
		marker = ui.RenderFail("✗")
	default:
		marker = ui.RenderAccent("•")
	}
	fmt.Fprintf(c.w, "%s %s\n", marker, message)
}

func (c *Console) PendingChanged(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n == c.pending {
		return
	}
	c.pending = n
	if badge := ui.RenderBadge(n); badge != "" {
		fmt.Fprintf(c.w, "%s\n", badge)
	}
}

func (c *Console) ConnectivityChanged(bool) {}

func (c *Console) SyncCompleted(SyncSummary) {}

// Fanout forwards every event to each notifier in order.
type Fanout []Notifier

func (f Fanout) Toast(level Level, message string) {
	for _, n := range f {
		n.Toast(level, message)
	}
}

func (f Fanout) PendingChanged(count int) {
	for _, n := range f {
		n.PendingChanged(count)
	}
}

func (f Fanout) ConnectivityChanged(online bool) {
	for _, n := range f {
		n.ConnectivityChanged(online)
	}
}

func (f Fanout) SyncCompleted(s SyncSummary) {
	for _, n := range f {
		n.SyncCompleted(s)
	}
}

// Hub forwards events to a set of notifiers that can change at runtime.
type Hub struct {
	mu      sync.RWMutex
	targets []*hubEntry
}

type hubEntry struct {
	n Notifier
}

// NewHub creates a hub forwarding to targets.
func NewHub(targets ...Notifier) *Hub {
	h := &Hub{}
	for _, n := range targets {
		h.targets = append(h.targets, &hubEntry{n: n})
	}
	return h
}

// Add registers n and returns a function that unregisters it.
func (h *Hub) Add(n Notifier) (remove func()) {
	e := &hubEntry{n: n}
	h.mu.Lock()
	h.targets = append(h.targets, e)
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.targets = slices.DeleteFunc(h.targets, func(t *hubEntry) bool { return t == e })
	}
}

func (h *Hub) snapshot() Fanout {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(Fanout, len(h.targets))
	for i, e := range h.targets {
		out[i] = e.n
	}
	return out
}

func (h *Hub) Toast(level Level, message string) { h.snapshot().Toast(level, message) }
func (h *Hub) PendingChanged(n int)              { h.snapshot().PendingChanged(n) }
func (h *Hub) ConnectivityChanged(online bool)   { h.snapshot().ConnectivityChanged(online) }
func (h *Hub) SyncCompleted(s SyncSummary)       { h.snapshot().SyncCompleted(s) }
