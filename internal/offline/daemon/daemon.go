// Package daemon runs the offline subsystem in the background.
//
// The daemon:
//  1. Follows connectivity signals from a state file and from dashboard clients
//  2. Replays the pending queue on every transition to online
//  3. Periodically picks up writes queued by other processes and refreshes
//     the cached task set while online
//  4. Publishes notifications to connected dashboard clients
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskmasterpro/tm/internal/offline/cache"
	"github.com/taskmasterpro/tm/internal/offline/connectivity"
	"github.com/taskmasterpro/tm/internal/offline/dashboard"
	"github.com/taskmasterpro/tm/internal/offline/notify"
	"github.com/taskmasterpro/tm/internal/offline/queue"
	offsync "github.com/taskmasterpro/tm/internal/offline/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// RefreshInterval is how often the task set is re-fetched while online
	// and the shared queue is re-read (0 disables both).
	RefreshInterval time.Duration

	// StateFile is the connectivity state file to follow (optional).
	StateFile string

	// Dashboard configures the WebSocket dashboard (nil disables it).
	Dashboard *dashboard.Config

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RefreshInterval: 5 * time.Minute,
		Logger:          log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Components are the offline subsystem parts the daemon drives.
type Components struct {
	Monitor   *connectivity.Monitor
	Engine    *offsync.Engine
	Queue     *queue.Queue
	Cache     *cache.Cache
	Refresher offsync.Refresher
	Notifier  *notify.Hub
}

func (c Components) validate() error {
	switch {
	case c.Monitor == nil:
		return errors.New("monitor cannot be nil")
	case c.Engine == nil:
		return errors.New("engine cannot be nil")
	case c.Queue == nil:
		return errors.New("queue cannot be nil")
	case c.Cache == nil:
		return errors.New("cache cannot be nil")
	case c.Notifier == nil:
		return errors.New("notifier cannot be nil")
	}
	return nil
}

// Daemon orchestrates connectivity sources, the sync engine and the dashboard.
type Daemon struct {
	parts  Components
	config *Config

	source    *connectivity.FileSource
	dash      *dashboard.Server
	handler   *dashboard.Handler
	unhook    []func()
	unsub     func()
	refreshes atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
	stopErr  error
}

// New creates a daemon. Use Start to run it.
func New(parts Components, config *Config) (*Daemon, error) {
	if err := parts.validate(); err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		parts:  parts,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}

	if config.StateFile != "" {
		src, err := connectivity.NewFileSource(config.StateFile, parts.Monitor, config.Logger)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create connectivity source: %w", err)
		}
		d.source = src
	}

	if config.Dashboard != nil {
		dc := *config.Dashboard
		dc.Connectivity = parts.Monitor
		if d.source != nil {
			dc.Connectivity = d.source
		}
		dc.Trigger = parts.Engine.Trigger
		dc.Status = func() any { return d.handler.Status() }
		d.dash = dashboard.NewServer(&dc)
		d.handler = dashboard.NewHandler(d.dash, dc.Logger)
	}

	return d, nil
}

// Start runs the daemon until ctx is cancelled or Stop is called.
//
// On start the daemon subscribes the sync engine to connectivity
// transitions, starts the state-file source and the dashboard, and replays
// any queue left over from a previous run if already online.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	transitions, unsub := d.parts.Monitor.Subscribe(4)
	d.unsub = unsub

	d.unhook = append(d.unhook, d.parts.Notifier.Add(statsOnSync{d: d}))
	if d.handler != nil {
		d.handler.SetInitial(d.parts.Monitor.Online(), d.parts.Queue.Len())
		d.unhook = append(d.unhook, d.parts.Notifier.Add(d.handler))
		if err := d.dash.Start(); err != nil {
			d.cleanup()
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		d.publishStats()
	}

	if d.source != nil {
		if err := d.source.Start(); err != nil {
			d.cleanup()
			return fmt.Errorf("failed to start connectivity source: %w", err)
		}
		d.config.Logger.Printf("Following connectivity state file %s", d.source.Path())
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.parts.Engine.Run(d.ctx, transitions); err != nil && !errors.Is(err, context.Canceled) {
			d.config.Logger.Printf("Sync loop stopped: %v", err)
		}
	}()

	if d.config.RefreshInterval > 0 {
		d.wg.Add(1)
		go d.refreshLoop()
	}

	if d.parts.Monitor.Online() && d.parts.Queue.Len() > 0 {
		d.config.Logger.Printf("Replaying %d operation(s) left from a previous run", d.parts.Queue.Len())
		d.parts.Engine.Trigger()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.stopErr = d.cleanup()
		d.config.Logger.Println("Daemon stopped")
	})
	return d.stopErr
}

func (d *Daemon) cleanup() error {
	d.cancel()

	var errs []error
	if d.source != nil && d.source.IsRunning() {
		if err := d.source.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.unsub != nil {
		d.unsub()
	}
	for _, unhook := range d.unhook {
		unhook()
	}
	d.unhook = nil

	d.wg.Wait()

	if d.dash != nil {
		if err := d.dash.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DashboardAddr returns the dashboard's listening address, or "" when the
// dashboard is disabled.
func (d *Daemon) DashboardAddr() string {
	if d.dash == nil {
		return ""
	}
	return d.dash.Addr()
}

// Refreshes returns how many periodic refreshes have completed.
func (d *Daemon) Refreshes() int64 {
	return d.refreshes.Load()
}

// refreshLoop re-fetches the task set on every tick while online and idle.
func (d *Daemon) refreshLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if !d.parts.Monitor.Online() || d.parts.Engine.State() == offsync.StateSyncing {
				d.pickUpQueued(false)
				continue
			}
			if d.pickUpQueued(true) {
				continue
			}
			if d.parts.Refresher == nil {
				continue
			}
			n, err := d.parts.Refresher.Refresh(d.ctx)
			if err != nil {
				d.config.Logger.Printf("WARNING: periodic refresh failed: %v", err)
				continue
			}
			d.refreshes.Add(1)
			d.config.Logger.Printf("Refreshed %d task(s)", n)
			d.publishStats()
		}
	}
}

// pickUpQueued re-reads the queue shared with other processes and publishes
// the pending count when it changed. With replay set and new operations
// found it triggers a sync and reports true; the sync refreshes the task set.
func (d *Daemon) pickUpQueued(replay bool) bool {
	known := make(map[string]bool)
	for _, op := range d.parts.Queue.List() {
		known[op.ID] = true
	}
	if err := d.parts.Queue.Restore(d.ctx); err != nil {
		d.config.Logger.Printf("WARNING: failed to re-read pending queue: %v", err)
		return false
	}

	ops := d.parts.Queue.List()
	found := 0
	for _, op := range ops {
		if !known[op.ID] {
			found++
		}
	}
	if found > 0 || len(ops) != len(known) {
		d.parts.Notifier.PendingChanged(len(ops))
	}
	if !replay || found == 0 {
		return false
	}
	d.config.Logger.Printf("Picked up %d operation(s) queued by another process", found)
	d.parts.Engine.Trigger()
	return true
}

func (d *Daemon) publishStats() {
	if d.handler == nil {
		return
	}
	d.handler.UpdateStats(d.parts.Cache.Stats(d.ctx, time.Now()))
}

// statsOnSync republishes cache statistics after each sync pass.
type statsOnSync struct {
	notify.Discard
	d *Daemon
}

func (s statsOnSync) SyncCompleted(notify.SyncSummary) {
	s.d.publishStats()
}
