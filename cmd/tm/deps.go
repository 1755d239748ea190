package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/taskmasterpro/tm/internal/ui"
)

var depsCmd = &cobra.Command{
	Use:     "deps",
	GroupID: "tasks",
	Short:   "Manage local task dependencies",
	Long: `Record which tasks must be finished before others can start.

Dependencies are kept on this machine only; the server does not know
about them. Both tasks must be in the local cache ('tm task list').`,
}

var depsAddCmd = &cobra.Command{
	Use:   "add <task-id> <requires-id>",
	Short: "Record that a task requires another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		if err := a.Tasks.AddDependency(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s %s now requires %s\n", ui.RenderPass("✓"), args[0], args[1])
		return nil
	},
}

var depsRemoveCmd = &cobra.Command{
	Use:     "remove <task-id> <requires-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a dependency",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		if err := a.Tasks.RemoveDependency(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s %s no longer requires %s\n", ui.RenderPass("✓"), args[0], args[1])
		return nil
	},
}

var depsListCmd = &cobra.Command{
	Use:   "list [task-id]",
	Short: "List dependencies",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id string
		if len(args) == 1 {
			id = args[0]
		}

		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		deps := a.Tasks.Dependencies(cmd.Context(), id)
		if jsonOutput {
			return printJSON(deps)
		}
		if len(deps) == 0 {
			fmt.Println("No dependencies recorded.")
			return nil
		}
		for _, d := range deps {
			marker := ui.RenderPass("ready")
			if d.Blocked {
				marker = ui.RenderWarn("blocked")
			}
			fmt.Printf("%s %s [%s]\n", d.Task.ID, d.Task.Title, marker)
			for _, r := range d.Requires {
				fmt.Printf("  └─ %s %s (%s)\n", r.ID, r.Title, ui.RenderStatus(string(r.Status)))
			}
			if len(d.Missing) > 0 {
				fmt.Printf("  └─ %s\n", ui.RenderMuted("not cached: "+strings.Join(d.Missing, ", ")))
			}
		}
		return nil
	},
}

func init() {
	depsCmd.AddCommand(depsAddCmd, depsRemoveCmd, depsListCmd)
	rootCmd.AddCommand(depsCmd)
}
