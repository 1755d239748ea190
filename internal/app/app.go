// Package app assembles the client from its configuration.
//
// An App owns every long-lived component: the SQLite store, the cache and
// pending queue persisted in it, the connectivity monitor, the request
// gateway, the task service and the sync engine. Commands open one App,
// use it, and close it.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/taskmasterpro/tm/internal/api"
	"github.com/taskmasterpro/tm/internal/auth"
	"github.com/taskmasterpro/tm/internal/config"
	"github.com/taskmasterpro/tm/internal/logging"
	"github.com/taskmasterpro/tm/internal/offline/cache"
	"github.com/taskmasterpro/tm/internal/offline/connectivity"
	"github.com/taskmasterpro/tm/internal/offline/daemon"
	"github.com/taskmasterpro/tm/internal/offline/dashboard"
	"github.com/taskmasterpro/tm/internal/offline/gateway"
	"github.com/taskmasterpro/tm/internal/offline/notify"
	"github.com/taskmasterpro/tm/internal/offline/queue"
	"github.com/taskmasterpro/tm/internal/offline/store"
	offsync "github.com/taskmasterpro/tm/internal/offline/sync"
	"github.com/taskmasterpro/tm/internal/tasks"
)

// Options are per-process settings that do not belong in the config file.
type Options struct {
	// Console receives styled toasts. Nil prints nothing.
	Console io.Writer

	// Logging is the shared log output. Nil discards logs.
	Logging *logging.Logging

	// UserAgent is sent with every API request.
	UserAgent string
}

// App is an opened client.
type App struct {
	Config  *config.Config
	Logging *logging.Logging

	DB       *store.DB
	Cache    *cache.Cache
	Queue    *queue.Queue
	Monitor  *connectivity.Monitor
	Notifier *notify.Hub
	Client   *api.Client
	Gateway  *gateway.Gateway
	Tasks    *tasks.Service
	Engine   *offsync.Engine

	logger *log.Logger
}

// Open opens the database, restores the pending queue and wires the
// components together.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Logging == nil {
		opts.Logging = logging.Discard()
	}
	logs := opts.Logging

	policy, err := offsync.ParsePolicy(cfg.Sync.Policy)
	if err != nil {
		return nil, err
	}
	initial, err := initialState(cfg)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Logging: logs,
		DB:      db,
		logger:  logs.Logger("app"),
	}

	a.Notifier = notify.NewHub(notify.NewLog(logs.Logger("notify")))
	if opts.Console != nil {
		a.Notifier.Add(notify.NewConsole(opts.Console))
	}

	a.Cache = cache.New(db, logs.Logger("cache"))
	a.Queue = queue.New(db, queue.Config{
		MaxPending: cfg.Queue.MaxPending,
		Logger:     logs.Logger("queue"),
	})
	if err := a.Queue.Restore(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if n := a.Queue.Len(); n > 0 {
		a.logger.Printf("Restored %d pending operation(s)", n)
	}

	a.Monitor = connectivity.NewMonitor(initial, a.Notifier, logs.Logger("connectivity"))

	apiConfig := api.DefaultConfig()
	apiConfig.BaseURL = cfg.API.BaseURL
	apiConfig.Timeout = cfg.API.Timeout
	apiConfig.Logger = logs.Logger("api")
	apiConfig.Verbose = logs.Verbose()
	if opts.UserAgent != "" {
		apiConfig.UserAgent = opts.UserAgent
	}
	a.Client = api.New(apiConfig, a.Cache.Token)

	gwLogger := logs.Logger("gateway")
	a.Gateway = gateway.New(a.Client, a.Monitor, a.Queue, a.Notifier, gateway.Config{
		Bypass: cfg.Gateway.Bypass,
		Logger: gwLogger,
		Debugf: func(format string, args ...any) {
			logs.Debugf(gwLogger, format, args...)
		},
	})

	a.Tasks = tasks.New(a.Gateway, a.Client, a.Cache, tasks.Config{
		Notifier: a.Notifier,
		Logger:   logs.Logger("tasks"),
	})

	a.Engine = offsync.New(a.Queue, a.Gateway, a.Tasks, a.Monitor, offsync.Config{
		Policy:      policy,
		MaxAttempts: cfg.Sync.MaxAttempts,
		BackoffBase: cfg.Sync.BackoffBase,
		BackoffMax:  cfg.Sync.BackoffMax,
		Concurrency: cfg.Sync.Concurrency,
		Notifier:    a.Notifier,
		History:     db,
		Logger:      logs.Logger("sync"),
	})

	a.warnExpiredSession(ctx)
	return a, nil
}

// initialState prefers the state file over the configured default.
func initialState(cfg *config.Config) (connectivity.State, error) {
	state, ok, err := connectivity.ReadStateFile(cfg.StateFilePath())
	if err != nil {
		return connectivity.Offline, err
	}
	if ok {
		return state, nil
	}
	return connectivity.ParseState(cfg.Connectivity.Initial)
}

func (a *App) warnExpiredSession(ctx context.Context) {
	s, err := a.Session(ctx)
	if err != nil {
		return
	}
	if s.Expired(time.Now()) {
		a.logger.Printf("WARNING: session for user %s expired at %s; queued writes will be rejected until you log in again",
			s.UserID, s.ExpiresAt.Format(time.RFC3339))
	}
}

// Session decodes the stored session token.
func (a *App) Session(ctx context.Context) (auth.Session, error) {
	return auth.ParseToken(a.Cache.Token(ctx))
}

// SetConnectivity records state in the state file, so a running daemon
// follows it, and applies it to this process.
func (a *App) SetConnectivity(state connectivity.State) error {
	if err := connectivity.WriteStateFile(a.Config.StateFilePath(), state); err != nil {
		return err
	}
	a.Monitor.Set(state)
	return nil
}

// SyncHistory returns the most recent sync runs.
func (a *App) SyncHistory(ctx context.Context, limit int) ([]store.SyncRun, error) {
	return a.DB.SyncHistory(ctx, limit)
}

// NewDaemon builds the background daemon over this App's components.
func (a *App) NewDaemon() (*daemon.Daemon, error) {
	dc := daemon.DefaultConfig()
	dc.RefreshInterval = a.Config.Sync.RefreshInterval
	dc.StateFile = a.Config.StateFilePath()
	dc.Logger = a.Logging.Logger("daemon")
	if a.Config.Dashboard.Enabled {
		dash := dashboard.DefaultConfig()
		dash.Host = a.Config.Dashboard.Host
		dash.Port = a.Config.Dashboard.Port
		dash.Logger = a.Logging.Logger("dashboard")
		dc.Dashboard = dash
	}

	return daemon.New(daemon.Components{
		Monitor:   a.Monitor,
		Engine:    a.Engine,
		Queue:     a.Queue,
		Cache:     a.Cache,
		Refresher: a.Tasks,
		Notifier:  a.Notifier,
	}, dc)
}

// Close closes the database. Every queue change is already in the store.
func (a *App) Close() error {
	return a.DB.Close()
}
