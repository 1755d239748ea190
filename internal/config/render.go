package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Settings returns the configuration as nested maps keyed like the config
// file, with durations written as strings ("30s").
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"data_dir": c.DataDir,
		"api": map[string]any{
			"base_url": c.API.BaseURL,
			"timeout":  c.API.Timeout.String(),
		},
		"log": map[string]any{
			"file":        c.Log.File,
			"max_size_mb": c.Log.MaxSizeMB,
			"max_backups": c.Log.MaxBackups,
			"verbose":     c.Log.Verbose,
		},
		"sync": map[string]any{
			"policy":           c.Sync.Policy,
			"max_attempts":     c.Sync.MaxAttempts,
			"backoff_base":     c.Sync.BackoffBase.String(),
			"backoff_max":      c.Sync.BackoffMax.String(),
			"concurrency":      c.Sync.Concurrency,
			"refresh_interval": c.Sync.RefreshInterval.String(),
		},
		"queue": map[string]any{
			"max_pending": c.Queue.MaxPending,
		},
		"connectivity": map[string]any{
			"state_file": c.Connectivity.StateFile,
			"initial":    c.Connectivity.Initial,
		},
		"dashboard": map[string]any{
			"enabled": c.Dashboard.Enabled,
			"host":    c.Dashboard.Host,
			"port":    c.Dashboard.Port,
		},
		"gateway": map[string]any{
			"bypass": c.Gateway.Bypass,
		},
	}
}

// Formats accepted by Render.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
	FormatJSON = "json"
)

// Render writes the configuration to w in format.
func Render(w io.Writer, c *Config, format string) error {
	settings := c.Settings()
	switch format {
	case FormatYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(settings); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(settings); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
		return nil
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(settings)
	}
	return fmt.Errorf("unknown format %q (must be yaml, toml or json)", format)
}

// WriteDefault writes the default configuration as YAML to path. It refuses
// to overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# taskmaster client configuration\n")
	if err := Render(&buf, DefaultConfig(), FormatYAML); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
