package sync

import (
	"time"

	"github.com/taskmasterpro/tm/internal/offline/notify"
	"github.com/taskmasterpro/tm/internal/offline/schema"
	"github.com/taskmasterpro/tm/internal/offline/store"
)

// Outcome is what happened to one replayed operation.
type Outcome string

const (
	// OutcomeApplied: the server accepted the write; removed from the queue.
	OutcomeApplied Outcome = "applied"
	// OutcomeRejected: the server refused the write; removed, never retried.
	OutcomeRejected Outcome = "rejected"
	// OutcomeDropped: the replay failed in transit and the write was discarded.
	OutcomeDropped Outcome = "dropped"
	// OutcomeRequeued: the replay failed in transit and will be retried.
	OutcomeRequeued Outcome = "requeued"
	// OutcomeInterrupted: the sync was cancelled; the operation stays queued.
	OutcomeInterrupted Outcome = "interrupted"
)

// OpResult is the result of replaying one operation.
type OpResult struct {
	Op      schema.Operation `json:"op"`
	Outcome Outcome          `json:"outcome"`
	Err     error            `json:"-"`
}

// Report summarizes one SyncAll pass.
type Report struct {
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
	Policy     Policy     `json:"policy"`
	Results    []OpResult `json:"results"`

	Applied     int `json:"applied"`
	Rejected    int `json:"rejected"`
	Dropped     int `json:"dropped"`
	Requeued    int `json:"requeued"`
	Interrupted int `json:"interrupted"`

	// Pending is the queue length after the pass.
	Pending int `json:"pending"`

	// Refreshed is true when the task re-fetch succeeded.
	Refreshed  bool  `json:"refreshed"`
	Fetched    int   `json:"fetched"`
	RefreshErr error `json:"-"`
}

// Attempted returns the number of operations replayed.
func (r *Report) Attempted() int {
	return len(r.Results)
}

// Failed returns the number of operations that did not apply.
func (r *Report) Failed() int {
	return r.Attempted() - r.Applied
}

func (r *Report) count(res OpResult) {
	switch res.Outcome {
	case OutcomeApplied:
		r.Applied++
	case OutcomeRejected:
		r.Rejected++
	case OutcomeDropped:
		r.Dropped++
	case OutcomeRequeued:
		r.Requeued++
	case OutcomeInterrupted:
		r.Interrupted++
	}
}

// Summary converts the report into the notification payload.
func (r *Report) Summary() notify.SyncSummary {
	return notify.SyncSummary{
		Attempted: r.Attempted(),
		Applied:   r.Applied,
		Rejected:  r.Rejected,
		Dropped:   r.Dropped,
		Requeued:  r.Requeued + r.Interrupted,
		Pending:   r.Pending,
		Refreshed: r.Refreshed,
	}
}

// Run converts the report into a sync history row.
func (r *Report) Run(syncErr error) store.SyncRun {
	run := store.SyncRun{
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Policy:     string(r.Policy),
		Attempted:  r.Attempted(),
		Applied:    r.Applied,
		Rejected:   r.Rejected,
		Dropped:    r.Dropped,
		Requeued:   r.Requeued + r.Interrupted,
		Refreshed:  r.Refreshed,
	}
	if syncErr != nil {
		run.Error = syncErr.Error()
	} else if r.RefreshErr != nil {
		run.Error = "refresh: " + r.RefreshErr.Error()
	}
	return run
}
