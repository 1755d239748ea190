package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/taskmasterpro/tm/internal/offline/gateway"
	"github.com/taskmasterpro/tm/internal/offline/schema"
)

var (
	// ErrSyncInProgress is returned by SyncAll while another pass is running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrOffline is returned by SyncAll when the monitor reports offline.
	ErrOffline = errors.New("cannot sync while offline")

	// ErrPartialSync is wrapped by SyncAll when some operations did not apply.
	ErrPartialSync = errors.New("partial sync")
)

// Replayer re-issues a queued operation against the API without queueing it
// again. *gateway.Gateway implements it.
type Replayer interface {
	Replay(ctx context.Context, op schema.Operation) (*gateway.Result, error)
}

// Refresher re-fetches the full task set into the local cache and returns the
// number of tasks fetched.
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

// Connectivity reports the current connectivity state.
type Connectivity interface {
	Online() bool
}

// Policy decides what happens to an operation whose replay failed before
// reaching the server.
type Policy string

const (
	// PolicyDrop removes the operation; the write is lost and logged.
	PolicyDrop Policy = "drop"

	// PolicyRequeue keeps the operation in place and retries it with
	// exponential backoff, up to MaxAttempts.
	PolicyRequeue Policy = "requeue"
)

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyDrop, PolicyRequeue:
		return p, nil
	case "":
		return PolicyDrop, nil
	}
	return "", fmt.Errorf("unknown sync policy %q (must be drop or requeue)", s)
}

// State is the engine state.
type State int32

const (
	StateIdle State = iota
	StateSyncing
)

func (s State) String() string {
	if s == StateSyncing {
		return "syncing"
	}
	return "idle"
}
