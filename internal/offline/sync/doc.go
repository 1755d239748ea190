// Package sync replays the pending-operation queue against the API once the
// client is back online.
//
// SyncAll takes a snapshot of the ready operations, replays all of them
// concurrently, then settles each one:
//
//   - accepted by the server: removed from the queue
//   - rejected by the server (4xx/5xx with a JSON body): removed, never retried
//   - failed in transit: dropped or requeued with backoff, depending on Policy
//
// After a pass the full task set is re-fetched so the cache reflects the
// server's view, including any server-side normalization of replayed writes.
//
// Run drives SyncAll from connectivity transitions and explicit Triggers.
// Only one pass runs at a time; overlapping calls return ErrSyncInProgress.
package sync
