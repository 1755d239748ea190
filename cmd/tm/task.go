package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/taskmasterpro/tm/internal/offline/schema"
	"github.com/taskmasterpro/tm/internal/tasks"
	"github.com/taskmasterpro/tm/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	Aliases: []string{"tasks", "t"},
	GroupID: "tasks",
	Short:   "List and change tasks",
}

func renderTasks(list []schema.Task) string {
	now := time.Now()
	rows := make([][]string, 0, len(list))
	for _, t := range list {
		due := t.DueDate
		if d, ok := t.Due(); ok {
			due = d.Format(time.DateOnly)
		}
		if t.IsOverdue(now) {
			due = ui.RenderFail(due + " overdue")
		}
		id := t.ID
		if id == "" {
			id = ui.RenderMuted("(pending)")
		}
		rows = append(rows, []string{
			id,
			t.Title,
			ui.RenderStatus(string(t.Status)),
			ui.RenderPriority(string(t.Priority)),
			t.Category,
			due,
		})
	}
	return ui.Table([]string{"ID", "TITLE", "STATUS", "PRIORITY", "CATEGORY", "DUE"}, rows)
}

// reportMutation prints the outcome of a write.
func reportMutation(m *tasks.Mutation, done string) error {
	if jsonOutput {
		return printJSON(m)
	}
	if m.Queued {
		fmt.Printf("%s %s (saved locally, will sync when online)\n", ui.RenderWarn("⏳"), done)
		return nil
	}
	fmt.Printf("%s %s\n", ui.RenderPass("✓"), done)
	return nil
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks",
	Long: `List your tasks.

When the server cannot be reached the last fetched task list is shown
instead, filtered locally.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		priority, _ := cmd.Flags().GetString("priority")
		category, _ := cmd.Flags().GetString("category")
		f := tasks.Filter{Status: schema.Status(status), Priority: schema.Priority(priority), Category: category}
		if status != "" && !f.Status.IsValid() {
			return fmt.Errorf("invalid status %q", status)
		}
		if priority != "" && !f.Priority.IsValid() {
			return fmt.Errorf("invalid priority %q", priority)
		}

		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		listing, err := a.Tasks.List(cmd.Context(), f)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(listing)
		}
		if len(listing.Tasks) == 0 {
			fmt.Println("No tasks.")
			return nil
		}
		fmt.Print(renderTasks(listing.Tasks))
		if listing.Cached {
			note := "(cached, may be out of date)"
			if !listing.CachedAt.IsZero() {
				note = fmt.Sprintf("(cached at %s, may be out of date)", listing.CachedAt.Local().Format("2006-01-02 15:04"))
			}
			fmt.Println(ui.RenderMuted(note))
		}
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task with its comments and attachments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		t, err := a.Tasks.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(t)
		}

		fmt.Printf("\n%s %s\n\n", ui.RenderAccent("📋"), ui.RenderHeader(t.Title))
		fmt.Printf("ID: %s\n", t.ID)
		fmt.Printf("Status: %s\n", ui.RenderStatus(string(t.Status)))
		fmt.Printf("Priority: %s\n", ui.RenderPriority(string(t.Priority)))
		fmt.Printf("Category: %s\n", t.Category)
		fmt.Printf("Due: %s\n", t.DueDate)
		if t.Description != "" {
			fmt.Printf("\n%s\n", t.Description)
		}
		if len(t.SharedWith) > 0 {
			fmt.Printf("\nShared with: %s\n", strings.Join(t.SharedWith, ", "))
		}
		if len(t.Attachments) > 0 {
			fmt.Printf("\nAttachments:\n")
			for _, att := range t.Attachments {
				fmt.Printf("  %s  %s\n", att.SavedAs, ui.RenderMuted(att.Filename))
			}
		}
		if len(t.Comments) > 0 {
			fmt.Printf("\nComments:\n")
			for _, c := range t.Comments {
				fmt.Printf("  %s %s: %s\n", ui.RenderMuted(c.Timestamp), c.UserName, c.Text)
			}
		}
		fmt.Println()
		return nil
	},
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Long: `Create a task.

--due accepts dates (2026-11-01) and phrases such as "tomorrow" or
"next friday".`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("description")
		dueFlag, _ := cmd.Flags().GetString("due")
		priority, _ := cmd.Flags().GetString("priority")
		category, _ := cmd.Flags().GetString("category")

		due, err := parseDue(dueFlag, time.Now())
		if err != nil {
			return err
		}
		t := schema.Task{
			Title:       strings.Join(args, " "),
			Description: desc,
			DueDate:     due,
			Priority:    schema.Priority(priority),
			Category:    category,
		}

		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		m, err := a.Tasks.Create(cmd.Context(), t)
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("Created %q", t.Title)
		if !m.Queued && m.Task != nil {
			msg = fmt.Sprintf("Created %s %q", m.Task.ID, m.Task.Title)
		}
		return reportMutation(m, msg)
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var p tasks.Patch
		flags := cmd.Flags()
		if flags.Changed("title") {
			v, _ := flags.GetString("title")
			p.Title = &v
		}
		if flags.Changed("description") {
			v, _ := flags.GetString("description")
			p.Description = &v
		}
		if flags.Changed("due") {
			v, _ := flags.GetString("due")
			due, err := parseDue(v, time.Now())
			if err != nil {
				return err
			}
			p.DueDate = &due
		}
		if flags.Changed("priority") {
			v, _ := flags.GetString("priority")
			pr := schema.Priority(v)
			p.Priority = &pr
		}
		if flags.Changed("category") {
			v, _ := flags.GetString("category")
			p.Category = &v
		}
		if flags.Changed("status") {
			v, _ := flags.GetString("status")
			st := schema.Status(v)
			p.Status = &st
		}

		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		m, err := a.Tasks.Update(cmd.Context(), args[0], p)
		if err != nil {
			return err
		}
		return reportMutation(m, "Updated "+args[0])
	},
}

// simpleTaskCmd builds a command that runs one write against a task id.
func simpleTaskCmd(use, short, verb string, nargs int, run func(a *tasks.Service, cmd *cobra.Command, args []string) (*tasks.Mutation, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			m, err := run(a.Tasks, cmd, args)
			if err != nil {
				return err
			}
			return reportMutation(m, verb+" "+args[0])
		},
	}
}

var taskDeleteCmd = simpleTaskCmd("delete <id>", "Delete a task", "Deleted", 1,
	func(s *tasks.Service, cmd *cobra.Command, args []string) (*tasks.Mutation, error) {
		return s.Delete(cmd.Context(), args[0])
	})

var taskDoneCmd = simpleTaskCmd("done <id>", "Mark a task completed", "Completed", 1,
	func(s *tasks.Service, cmd *cobra.Command, args []string) (*tasks.Mutation, error) {
		st := schema.StatusCompleted
		return s.Update(cmd.Context(), args[0], tasks.Patch{Status: &st})
	})

var taskCommentCmd = simpleTaskCmd("comment <id> <text>", "Comment on a task", "Commented on", 2,
	func(s *tasks.Service, cmd *cobra.Command, args []string) (*tasks.Mutation, error) {
		return s.Comment(cmd.Context(), args[0], args[1])
	})

var taskShareCmd = simpleTaskCmd("share <id> <email>", "Share a task with another user", "Shared", 2,
	func(s *tasks.Service, cmd *cobra.Command, args []string) (*tasks.Mutation, error) {
		return s.Share(cmd.Context(), args[0], args[1])
	})

var taskRemindCmd = simpleTaskCmd("remind <id>", "Email a reminder for a task", "Reminder sent for", 1,
	func(s *tasks.Service, cmd *cobra.Command, args []string) (*tasks.Mutation, error) {
		return s.Remind(cmd.Context(), args[0])
	})

var taskDetachCmd = simpleTaskCmd("detach <id> <saved-name>", "Remove an attachment", "Removed attachment from", 2,
	func(s *tasks.Service, cmd *cobra.Command, args []string) (*tasks.Mutation, error) {
		return s.Detach(cmd.Context(), args[0], args[1])
	})

var taskAttachCmd = &cobra.Command{
	Use:   "attach <id> <file>",
	Short: "Upload a file to a task (needs a connection)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		att, err := a.Tasks.Attach(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(att)
		}
		fmt.Printf("%s Attached %s as %s\n", ui.RenderPass("✓"), att.Filename, att.SavedAs)
		return nil
	},
}

var taskSharedCmd = &cobra.Command{
	Use:   "shared",
	Short: "List tasks others shared with you",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		shared, err := a.Tasks.Shared(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(shared)
		}
		if len(shared) == 0 {
			fmt.Println("Nothing has been shared with you.")
			return nil
		}
		rows := make([][]string, 0, len(shared))
		for _, t := range shared {
			rows = append(rows, []string{t.ID, t.Title, ui.RenderStatus(string(t.Status)), t.SharedBy})
		}
		fmt.Print(ui.Table([]string{"ID", "TITLE", "STATUS", "SHARED BY"}, rows))
		return nil
	},
}

var taskActivityCmd = &cobra.Command{
	Use:   "activity <id>",
	Short: "Show a task's activity log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		entries, err := a.Tasks.Activity(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(entries)
		}
		for _, e := range entries {
			line := e.Action
			if e.TargetUser != "" {
				line += " → " + e.TargetUser
			}
			fmt.Printf("%s  %s  %s\n", ui.RenderMuted(e.Timestamp), e.UserID, line)
		}
		return nil
	},
}

var taskStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the cached tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		s := a.Tasks.Stats(cmd.Context())
		if jsonOutput {
			return printJSON(s)
		}
		fmt.Printf("\n%s Task Statistics\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Total: %d\n", s.Total)
		fmt.Printf("Pending: %d\n", s.Pending)
		fmt.Printf("In progress: %d\n", s.InProgress)
		fmt.Printf("Completed: %d\n", s.Completed)
		if s.Overdue > 0 {
			fmt.Printf("Overdue: %s\n", ui.RenderFail(fmt.Sprint(s.Overdue)))
		}
		fmt.Println()
		return nil
	},
}

var taskDueCmd = &cobra.Command{
	Use:   "due [date]",
	Short: "List cached tasks due on a day (default today)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		day := time.Now()
		if len(args) == 1 {
			s, err := parseDue(args[0], day)
			if err != nil {
				return err
			}
			day, _ = time.Parse(time.DateOnly, s)
		}

		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		list := a.Tasks.DueOn(cmd.Context(), day)
		if jsonOutput {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Printf("Nothing due on %s.\n", day.Format(time.DateOnly))
			return nil
		}
		fmt.Print(renderTasks(list))
		return nil
	},
}

func init() {
	taskListCmd.Flags().String("status", "", "Filter by status (pending, in-progress, completed)")
	taskListCmd.Flags().String("priority", "", "Filter by priority (low, medium, high)")
	taskListCmd.Flags().String("category", "", "Filter by category")

	taskAddCmd.Flags().StringP("description", "d", "", "Description")
	taskAddCmd.Flags().String("due", "today", "Due date")
	taskAddCmd.Flags().StringP("priority", "p", "medium", "Priority (low, medium, high)")
	taskAddCmd.Flags().StringP("category", "c", "other", "Category")

	taskUpdateCmd.Flags().String("title", "", "New title")
	taskUpdateCmd.Flags().StringP("description", "d", "", "New description")
	taskUpdateCmd.Flags().String("due", "", "New due date")
	taskUpdateCmd.Flags().StringP("priority", "p", "", "New priority")
	taskUpdateCmd.Flags().StringP("category", "c", "", "New category")
	taskUpdateCmd.Flags().StringP("status", "s", "", "New status")

	taskCmd.AddCommand(
		taskListCmd, taskShowCmd, taskAddCmd, taskUpdateCmd, taskDoneCmd, taskDeleteCmd,
		taskCommentCmd, taskShareCmd, taskRemindCmd, taskAttachCmd, taskDetachCmd,
		taskSharedCmd, taskActivityCmd, taskStatsCmd, taskDueCmd,
	)
	rootCmd.AddCommand(taskCmd)
}
