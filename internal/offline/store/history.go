package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SyncRun is one recorded pass of the sync engine.
type SyncRun struct {
	ID         int64     `json:"id" yaml:"id"`
	StartedAt  time.Time `json:"startedAt" yaml:"started_at"`
	FinishedAt time.Time `json:"finishedAt" yaml:"finished_at"`
	Policy     string    `json:"policy" yaml:"policy"`
	Attempted  int       `json:"attempted" yaml:"attempted"`
	Applied    int       `json:"applied" yaml:"applied"`
	Rejected   int       `json:"rejected" yaml:"rejected"`
	Dropped    int       `json:"dropped" yaml:"dropped"`
	Requeued   int       `json:"requeued" yaml:"requeued"`
	Refreshed  bool      `json:"refreshed" yaml:"refreshed"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Duration returns how long the run took.
func (r SyncRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// History records sync runs.
type History interface {
	RecordSync(ctx context.Context, run SyncRun) (int64, error)
	SyncHistory(ctx context.Context, limit int) ([]SyncRun, error)
}

var (
	_ History = (*DB)(nil)
	_ History = (*Memory)(nil)
)

// RecordSync appends run to the sync_runs table and returns its row id.
func (db *DB) RecordSync(ctx context.Context, run SyncRun) (int64, error) {
	query := `
	INSERT INTO sync_runs (
		started_at, finished_at, policy, attempted, applied,
		rejected, dropped, requeued, refreshed, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := db.conn.ExecContext(ctx, query,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.Policy,
		run.Attempted,
		run.Applied,
		run.Rejected,
		run.Dropped,
		run.Requeued,
		boolToInt(run.Refreshed),
		sql.NullString{String: run.Error, Valid: run.Error != ""},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record sync run: %w", err)
	}
	return res.LastInsertId()
}

// SyncHistory returns the most recent runs, newest first. limit <= 0 returns all.
func (db *DB) SyncHistory(ctx context.Context, limit int) ([]SyncRun, error) {
	query := `
	SELECT id, started_at, finished_at, policy, attempted, applied,
	       rejected, dropped, requeued, refreshed, error
	FROM sync_runs
	ORDER BY id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync history: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var run SyncRun
		var startedAt, finishedAt string
		var refreshed int
		var errText sql.NullString

		err := rows.Scan(
			&run.ID,
			&startedAt,
			&finishedAt,
			&run.Policy,
			&run.Attempted,
			&run.Applied,
			&run.Rejected,
			&run.Dropped,
			&run.Requeued,
			&refreshed,
			&errText,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}

		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			run.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
			run.FinishedAt = t
		}
		run.Refreshed = refreshed != 0
		run.Error = errText.String

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync history: %w", err)
	}
	return runs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RecordSync keeps run in memory.
func (m *Memory) RecordSync(_ context.Context, run SyncRun) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.ID = int64(len(m.runs) + 1)
	m.runs = append(m.runs, run)
	return run.ID, nil
}

// SyncHistory returns recorded runs, newest first.
func (m *Memory) SyncHistory(_ context.Context, limit int) ([]SyncRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []SyncRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m.runs[i])
	}
	return out, nil
}
