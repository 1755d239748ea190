package notify

import (
	"slices"
	"sync"
)

// Toast is one recorded toast.
type Toast struct {
	Level   Level
	Message string
}

// Recorder keeps every event in memory. The daemon's status endpoint and
// tests read it back.
type Recorder struct {
	mu           sync.Mutex
	toasts       []Toast
	pending      []int
	connectivity []bool
	syncs        []SyncSummary
}

func (r *Recorder) Toast(level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, Toast{Level: level, Message: message})
}

func (r *Recorder) PendingChanged(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, n)
}

func (r *Recorder) ConnectivityChanged(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectivity = append(r.connectivity, online)
}

func (r *Recorder) SyncCompleted(s SyncSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncs = append(r.syncs, s)
}

// Toasts returns recorded toasts in order.
func (r *Recorder) Toasts() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.toasts)
}

// Pending returns every published pending count in order.
func (r *Recorder) Pending() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.pending)
}

// LastPending returns the most recent pending count, or -1 if none was published.
func (r *Recorder) LastPending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return -1
	}
	return r.pending[len(r.pending)-1]
}

// Connectivity returns every published connectivity state in order.
func (r *Recorder) Connectivity() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.connectivity)
}

// Syncs returns every sync summary in order.
func (r *Recorder) Syncs() []SyncSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.syncs)
}

// HasToast reports whether a toast with message was recorded.
func (r *Recorder) HasToast(message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.ContainsFunc(r.toasts, func(t Toast) bool { return t.Message == message })
}
