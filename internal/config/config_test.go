package config

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if cfg.Sync.Policy != "drop" {
		t.Errorf("default policy = %q, want drop", cfg.Sync.Policy)
	}
	if cfg.Dashboard.Port != 8765 || cfg.Dashboard.Host != "127.0.0.1" {
		t.Errorf("dashboard = %+v", cfg.Dashboard)
	}
	if filepath.Base(cfg.DBPath()) != "tm.db" || filepath.Base(cfg.LogPath()) != "tm.log" {
		t.Errorf("paths = %s, %s", cfg.DBPath(), cfg.LogPath())
	}
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", `
data_dir: /tmp/tm-test
api:
  base_url: https://tasks.example.com/api
  timeout: 5s
sync:
  policy: requeue
  backoff_max: 1m
gateway:
  bypass: ["/auth/", "/export/"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.API.BaseURL != "https://tasks.example.com/api" || cfg.API.Timeout != 5*time.Second {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.Sync.Policy != "requeue" || cfg.Sync.BackoffMax != time.Minute {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if cfg.Sync.MaxAttempts != 5 || cfg.Queue.MaxPending != 1000 {
		t.Errorf("defaults lost: attempts=%d max_pending=%d", cfg.Sync.MaxAttempts, cfg.Queue.MaxPending)
	}
	if !reflect.DeepEqual(cfg.Gateway.Bypass, []string{"/auth/", "/export/"}) {
		t.Errorf("bypass = %v", cfg.Gateway.Bypass)
	}
	if cfg.StateFilePath() != filepath.Join("/tmp/tm-test", "connectivity") {
		t.Errorf("state file = %s", cfg.StateFilePath())
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	path := writeFile(t, "config.toml", `
[queue]
max_pending = 50

[dashboard]
enabled = false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Queue.MaxPending != 50 || cfg.Dashboard.Enabled {
		t.Errorf("queue=%+v dashboard=%+v", cfg.Queue, cfg.Dashboard)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "sync:\n  policy: drop\n")
	t.Setenv("TM_SYNC_POLICY", "requeue")
	t.Setenv("TM_DASHBOARD_PORT", "9000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Sync.Policy != "requeue" || cfg.Dashboard.Port != 9000 {
		t.Errorf("policy=%q port=%d", cfg.Sync.Policy, cfg.Dashboard.Port)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"policy", "sync:\n  policy: sometimes\n", "sync.policy"},
		{"initial", "connectivity:\n  initial: maybe\n", "connectivity.initial"},
		{"attempts", "sync:\n  max_attempts: 0\n", "max_attempts"},
		{"port", "dashboard:\n  port: 70000\n", "dashboard.port"},
		{"backoff", "sync:\n  backoff_base: 10m\n  backoff_max: 1m\n", "backoff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yaml", tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() of a missing explicit file should fail")
	}
}

func TestRender(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		format string
		want   []string
	}{
		{FormatYAML, []string{"policy: drop", "timeout: 30s", "port: 8765"}},
		{FormatTOML, []string{"[sync]", `policy = "drop"`, "port = 8765"}},
		{FormatJSON, []string{`"policy": "drop"`, `"base_url": "http://localhost:5000/api"`}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Render(&buf, cfg, tt.format); err != nil {
				t.Fatalf("Render() failed: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output missing %q:\n%s", w, buf.String())
				}
			}
		})
	}

	if err := Render(&bytes.Buffer{}, cfg, "ini"); err == nil {
		t.Error("Render(ini) should fail")
	}
}

func TestWriteDefault_LoadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}
	if err := WriteDefault(path, false); err == nil {
		t.Error("WriteDefault() overwrote an existing file")
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("WriteDefault(force) failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("round trip changed the config:\n got %+v\nwant %+v", cfg, DefaultConfig())
	}
}
