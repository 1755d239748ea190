// Command tm is the TaskMaster command-line client.
//
// Writes made while offline are queued locally and replayed when the
// connection comes back, either by 'tm sync' or by the 'tm daemon'
// background process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/taskmasterpro/tm/internal/app"
	"github.com/taskmasterpro/tm/internal/config"
	"github.com/taskmasterpro/tm/internal/logging"
	"github.com/taskmasterpro/tm/internal/ui"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "tm",
	Short: "TaskMaster client with offline support",
	Long: `tm manages your TaskMaster tasks from the terminal.

Changes made while the server is unreachable are saved locally and
synced automatically once you are back online.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	Version:       Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.taskmaster/config.yaml and ./.taskmaster/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log requests and sync activity to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "session", Title: "Session:"},
		&cobra.Group{ID: "tasks", Title: "Tasks:"},
		&cobra.Group{ID: "sync", Title: "Offline & sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration selected by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Verbose = true
	}
	return cfg, nil
}

// openApp loads the configuration and opens the client. The caller must
// call the returned close function.
func openApp(ctx context.Context) (*app.App, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logs, err := logging.New(logging.Config{
		File:       cfg.LogPath(),
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Verbose:    cfg.Log.Verbose,
	})
	if err != nil {
		return nil, nil, err
	}

	opts := app.Options{Logging: logs, UserAgent: "tm/" + Version}
	if !jsonOutput {
		opts.Console = os.Stdout
	}
	a, err := app.Open(ctx, cfg, opts)
	if err != nil {
		_ = logs.Close()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("Warning:"), err)
		}
		_ = logs.Close()
	}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
