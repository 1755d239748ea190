// Package config loads the client configuration.
//
// Settings come from, in increasing priority: built-in defaults, the global
// file ~/.taskmaster/config.yaml, the project file ./.taskmaster/config.yaml
// and TM_* environment variables (TM_SYNC_POLICY overrides sync.policy).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/taskmasterpro/tm/internal/offline/connectivity"
	offsync "github.com/taskmasterpro/tm/internal/offline/sync"
)

// Config is the full client configuration.
type Config struct {
	// DataDir holds the database, the log file and the default state file.
	DataDir string `mapstructure:"data_dir"`

	API          APIConfig          `mapstructure:"api"`
	Log          LogConfig          `mapstructure:"log"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Dashboard    DashboardConfig    `mapstructure:"dashboard"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	// File is the log path; empty means <data_dir>/tm.log.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Verbose    bool   `mapstructure:"verbose"`
}

type SyncConfig struct {
	Policy          string        `mapstructure:"policy"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	Concurrency     int           `mapstructure:"concurrency"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type QueueConfig struct {
	MaxPending int `mapstructure:"max_pending"`
}

type ConnectivityConfig struct {
	// StateFile is watched by the daemon; writing "online" or "offline" to it
	// drives transitions. Empty means <data_dir>/connectivity.
	StateFile string `mapstructure:"state_file"`
	Initial   string `mapstructure:"initial"`
}

type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

type GatewayConfig struct {
	// Bypass lists endpoint prefixes that are never queued.
	Bypass []string `mapstructure:"bypass"`
}

// DefaultConfig returns the configuration used when no file sets a value.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		API: APIConfig{
			BaseURL: "http://localhost:5000/api",
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Sync: SyncConfig{
			Policy:          string(offsync.PolicyDrop),
			MaxAttempts:     5,
			BackoffBase:     2 * time.Second,
			BackoffMax:      5 * time.Minute,
			RefreshInterval: 5 * time.Minute,
		},
		Queue: QueueConfig{
			MaxPending: 1000,
		},
		Connectivity: ConnectivityConfig{
			Initial: connectivity.Online.String(),
		},
		Dashboard: DashboardConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8765,
		},
		Gateway: GatewayConfig{
			Bypass: []string{"/auth/"},
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskmaster"
	}
	return filepath.Join(home, ".taskmaster")
}

// DBPath is the SQLite database holding the cache and the pending queue.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "tm.db")
}

// LogPath is the rotating log file.
func (c *Config) LogPath() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.DataDir, "tm.log")
}

// StateFilePath is the connectivity state file the daemon watches.
func (c *Config) StateFilePath() string {
	if c.Connectivity.StateFile != "" {
		return c.Connectivity.StateFile
	}
	return filepath.Join(c.DataDir, "connectivity")
}

// Validate checks values that the rest of the client would reject later.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative")
	}
	if _, err := offsync.ParsePolicy(c.Sync.Policy); err != nil {
		return fmt.Errorf("sync.policy: %w", err)
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1 (got %d)", c.Sync.MaxAttempts)
	}
	if c.Sync.BackoffBase <= 0 || c.Sync.BackoffMax < c.Sync.BackoffBase {
		return fmt.Errorf("sync.backoff_base must be positive and no larger than sync.backoff_max")
	}
	if c.Sync.Concurrency < 0 {
		return fmt.Errorf("sync.concurrency must not be negative")
	}
	if c.Queue.MaxPending < 0 {
		return fmt.Errorf("queue.max_pending must not be negative")
	}
	if _, err := connectivity.ParseState(c.Connectivity.Initial); err != nil {
		return fmt.Errorf("connectivity.initial: %w", err)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port %d is out of range", c.Dashboard.Port)
	}
	return nil
}
