package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/taskmasterpro/tm/internal/offline/backup"
	"github.com/taskmasterpro/tm/internal/offline/connectivity"
	offsync "github.com/taskmasterpro/tm/internal/offline/sync"
	"github.com/taskmasterpro/tm/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Replay changes saved while offline",
	Long: `Replay every queued change against the server, then refresh the
local task list.

Changes the server rejects are dropped and reported. Changes that fail
because the server is unreachable are handled by sync.policy: dropped
(the default) or kept for a later retry (requeue).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		history, _ := cmd.Flags().GetInt("history")

		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		if history > 0 {
			runs, err := a.SyncHistory(cmd.Context(), history)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(runs)
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				result := ui.RenderPass("ok")
				if r.Error != "" {
					result = ui.RenderWarn(r.Error)
				}
				rows = append(rows, []string{
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.Policy,
					fmt.Sprintf("%d/%d", r.Applied, r.Attempted),
					fmt.Sprint(r.Rejected),
					fmt.Sprint(r.Dropped),
					fmt.Sprint(r.Requeued),
					result,
				})
			}
			fmt.Print(ui.Table([]string{"STARTED", "POLICY", "APPLIED", "REJECTED", "DROPPED", "REQUEUED", "RESULT"}, rows))
			return nil
		}

		if n := a.Queue.Len(); n > 0 && !jsonOutput {
			fmt.Printf("%s Syncing %d pending change(s)...\n", ui.RenderAccent("🔄"), n)
		}
		start := time.Now()
		report, err := a.Engine.SyncAll(cmd.Context())
		switch {
		case errors.Is(err, offsync.ErrOffline):
			return fmt.Errorf("%w (run 'tm net online' once connected)", err)
		case err != nil && !errors.Is(err, offsync.ErrPartialSync):
			return err
		}

		if jsonOutput {
			return printJSON(report)
		}
		fmt.Printf("%s Sync finished in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Applied: %d\n", report.Applied)
		if report.Rejected > 0 {
			fmt.Printf("   Rejected by server: %s\n", ui.RenderFail(fmt.Sprint(report.Rejected)))
		}
		if report.Dropped > 0 {
			fmt.Printf("   Lost (unreachable): %s\n", ui.RenderFail(fmt.Sprint(report.Dropped)))
		}
		if report.Requeued+report.Interrupted > 0 {
			fmt.Printf("   Will retry: %d\n", report.Requeued+report.Interrupted)
		}
		if report.Refreshed {
			fmt.Printf("   Tasks refreshed: %d\n", report.Fetched)
		}
		for _, r := range report.Results {
			if r.Err != nil {
				fmt.Printf("   %s %s: %v\n", ui.RenderMuted(string(r.Outcome)), r.Op, r.Err)
			}
		}
		return err
	},
}

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Inspect and manage changes waiting to sync",
}

var queueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List pending changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		ops := a.Queue.List()
		if jsonOutput {
			return printJSON(ops)
		}
		if len(ops) == 0 {
			fmt.Println("Nothing waiting to sync.")
			return nil
		}
		rows := make([][]string, 0, len(ops))
		for _, op := range ops {
			retry := ""
			if op.Attempts > 0 {
				retry = fmt.Sprintf("%d tries, next %s", op.Attempts, op.NextAttemptAt.Local().Format("15:04:05"))
			}
			rows = append(rows, []string{
				shortID(op.ID),
				string(op.Method),
				op.Endpoint,
				op.EnqueuedAt.Local().Format("2006-01-02 15:04"),
				retry,
			})
		}
		fmt.Print(ui.Table([]string{"ID", "METHOD", "ENDPOINT", "QUEUED", "RETRY"}, rows))
		return nil
	},
}

var queueExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write pending changes to a JSONL file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		n, err := backup.ExportQueue(a.Queue, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s Exported %d change(s) to %s\n", ui.RenderPass("✓"), n, args[0])
		return nil
	},
}

var queueImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Queue changes from a JSONL file",
	Long: `Add the changes in a file written by 'tm queue export' to the queue.

Changes already queued (same id) are skipped, so importing twice is safe.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		result, err := backup.Import(cmd.Context(), a.Queue, backup.ImportOptions{Path: args[0], DryRun: dryRun})
		if jsonOutput {
			if jerr := printJSON(result); jerr != nil {
				return jerr
			}
			return err
		}
		if result != nil {
			verb := "Imported"
			if dryRun {
				verb = "Would import"
			}
			fmt.Printf("%s %s %d of %d change(s) (%d already queued)\n",
				ui.RenderPass("✓"), verb, result.Imported, result.Read, result.Skipped)
		}
		if err == nil && !dryRun && result.Imported > 0 {
			a.Notifier.PendingChanged(a.Queue.Len())
		}
		return err
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every pending change",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		n := a.Queue.Len()
		if n == 0 {
			fmt.Println("Nothing waiting to sync.")
			return nil
		}
		if !force {
			ok, err := confirm(fmt.Sprintf("Discard %d unsynced change(s)? This cannot be undone.", n), false)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("aborted (use --force when not running in a terminal)")
			}
		}
		if err := a.Queue.Clear(cmd.Context()); err != nil {
			return err
		}
		a.Notifier.PendingChanged(0)
		fmt.Printf("%s Discarded %d change(s)\n", ui.RenderPass("✓"), n)
		return nil
	},
}

var netCmd = &cobra.Command{
	Use:     "net [online|offline]",
	GroupID: "sync",
	Short:   "Show or set connectivity",
	Long: `Show or set whether tm talks to the server.

Setting the state writes it to the connectivity state file, which a running
'tm daemon' follows: going online replays the pending queue. Scripts such
as a network-manager hook can write the same file directly.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"online", "offline"},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		if len(args) == 1 {
			state, err := connectivity.ParseState(args[0])
			if err != nil {
				return err
			}
			if err := a.SetConnectivity(state); err != nil {
				return err
			}
		}

		if jsonOutput {
			return printJSON(map[string]any{"online": a.Monitor.Online(), "stateFile": a.Config.StateFilePath()})
		}
		if a.Monitor.Online() {
			fmt.Printf("Connectivity: %s\n", ui.RenderPass("online"))
		} else {
			fmt.Printf("Connectivity: %s\n", ui.RenderWarn("offline"))
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	syncCmd.Flags().Int("history", 0, "Show the last N sync runs instead of syncing")
	queueImportCmd.Flags().Bool("dry-run", false, "Report what would be imported")
	queueClearCmd.Flags().BoolP("force", "f", false, "Do not ask for confirmation")

	queueCmd.AddCommand(queueListCmd, queueExportCmd, queueImportCmd, queueClearCmd)
	rootCmd.AddCommand(syncCmd, queueCmd, netCmd)
}
