package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/taskmasterpro/tm/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon:
  1. Follows the connectivity state file (see 'tm net')
  2. Replays queued changes whenever connectivity returns
  3. Refreshes the cached task list periodically while online
  4. Serves the local dashboard WebSocket (ws://127.0.0.1:8765/ws)
  5. Starts a new log file on SIGHUP, for logrotate

Dashboard messages: toast, pending_count, connectivity, sync_complete, stats.
A connected UI shell may send {"type":"connectivity","data":{"online":false}}
to report link changes, or {"type":"sync"} to request a sync.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		noDashboard, _ := cmd.Flags().GetBool("no-dashboard")
		port, _ := cmd.Flags().GetInt("port")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, done, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer done()

		if noDashboard {
			a.Config.Dashboard.Enabled = false
		}
		if cmd.Flags().Changed("port") {
			a.Config.Dashboard.Port = port
		}

		d, err := a.NewDaemon()
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Server: %s\n", a.Client.BaseURL())
		fmt.Printf("   State file: %s\n", a.Config.StateFilePath())
		fmt.Printf("   Policy: %s\n", a.Config.Sync.Policy)
		fmt.Printf("   Pending: %d\n", a.Queue.Len())
		if a.Config.Dashboard.Enabled {
			fmt.Printf("   Dashboard: ws://%s:%d/ws\n", a.Config.Dashboard.Host, a.Config.Dashboard.Port)
		}
		fmt.Printf("\nPress Ctrl+C to stop (SIGHUP reopens the log file)\n\n")

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					if err := a.Logging.Rotate(); err != nil {
						fmt.Fprintf(os.Stderr, "%s failed to rotate log: %v\n", ui.RenderWarn("Warning:"), err)
					}
				}
			}
		}()

		// Start blocks until the signal context is cancelled.
		if err := d.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("daemon stopped with error: %w", err)
		}
		fmt.Println("\nDaemon stopped")
		return nil
	},
}

func init() {
	daemonCmd.Flags().Bool("no-dashboard", false, "Do not serve the dashboard")
	daemonCmd.Flags().IntP("port", "p", 8765, "Dashboard port")
	rootCmd.AddCommand(daemonCmd)
}
