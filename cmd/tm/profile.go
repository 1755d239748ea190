package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/taskmasterpro/tm/internal/tasks"
	"github.com/taskmasterpro/tm/internal/ui"
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	GroupID: "session",
	Short:   "Show or change your profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		p, err := a.Tasks.Profile(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(p)
		}
		fmt.Printf("\n%s %s <%s>\n", ui.RenderAccent("👤"), p.Name, p.Email)
		if p.Bio != "" {
			fmt.Printf("   %s\n", p.Bio)
		}
		if p.Photo != "" {
			fmt.Printf("   Photo: %s\n", p.Photo)
		}
		fmt.Printf("\nTasks: %d total, %d pending, %d in progress, %d completed\n\n",
			p.TaskStats.Total, p.TaskStats.Pending, p.TaskStats.InProgress, p.TaskStats.Completed)
		return nil
	},
}

var profileUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Change name, email or bio",
	RunE: func(cmd *cobra.Command, args []string) error {
		var u tasks.ProfileUpdate
		for _, f := range []struct {
			name string
			dst  **string
		}{{"name", &u.Name}, {"email", &u.Email}, {"bio", &u.Bio}} {
			if cmd.Flags().Changed(f.name) {
				v, _ := cmd.Flags().GetString(f.name)
				*f.dst = &v
			}
		}

		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		m, err := a.Tasks.UpdateProfile(cmd.Context(), u)
		if err != nil {
			return err
		}
		return reportMutation(m, "Profile updated")
	},
}

var photoCmd = &cobra.Command{
	Use:   "photo",
	Short: "Manage the profile photo",
}

var photoUploadCmd = &cobra.Command{
	Use:   "upload <image>",
	Short: "Upload a profile photo (needs a connection)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		url, err := a.Tasks.UploadPhoto(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]string{"photoUrl": url})
		}
		fmt.Printf("%s Photo uploaded: %s\n", ui.RenderPass("✓"), url)
		return nil
	},
}

var photoDeleteCmd = &cobra.Command{
	Use:     "delete",
	Aliases: []string{"rm"},
	Short:   "Remove the profile photo",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		m, err := a.Tasks.DeletePhoto(cmd.Context())
		if err != nil {
			return err
		}
		return reportMutation(m, "Photo removed")
	},
}

var themeCmd = &cobra.Command{
	Use:       "theme [light|dark]",
	GroupID:   "session",
	Short:     "Show or set the theme preference",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"light", "dark"},
	RunE: func(cmd *cobra.Command, args []string) error {
		pull, _ := cmd.Flags().GetBool("pull")

		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		switch {
		case pull:
			theme, err := a.Tasks.PullTheme(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s Theme from server: %s\n", ui.RenderPass("✓"), theme)
			return nil
		case len(args) == 1:
			m, err := a.Tasks.SetTheme(cmd.Context(), strings.ToLower(args[0]))
			if err != nil {
				return err
			}
			return reportMutation(m, "Theme set to "+strings.ToLower(args[0]))
		}

		theme := a.Tasks.Theme(cmd.Context())
		if jsonOutput {
			return printJSON(map[string]string{"theme": theme})
		}
		fmt.Println(theme)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:       "export <csv|pdf|excel>",
	GroupID:   "tasks",
	Short:     "Download your tasks as CSV, PDF or Excel",
	Args:      cobra.ExactArgs(1),
	ValidArgs: tasks.ExportFormats,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")
		format := strings.ToLower(args[0])
		if out == "" {
			ext := format
			if format == "excel" {
				ext = "xlsx"
			}
			out = "tasks." + ext
		}

		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}
		n, err := a.Tasks.Export(cmd.Context(), format, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(out)
			return err
		}
		fmt.Printf("%s Wrote %s (%d bytes)\n", ui.RenderPass("✓"), out, n)
		return nil
	},
}

func init() {
	profileUpdateCmd.Flags().String("name", "", "Display name")
	profileUpdateCmd.Flags().String("email", "", "Account email")
	profileUpdateCmd.Flags().String("bio", "", "Short bio")
	themeCmd.Flags().Bool("pull", false, "Fetch the preference stored on the server")
	exportCmd.Flags().StringP("output", "o", "", "Output file (default tasks.<ext>)")

	photoCmd.AddCommand(photoUploadCmd, photoDeleteCmd)
	profileCmd.AddCommand(profileUpdateCmd, photoCmd)
	rootCmd.AddCommand(profileCmd, themeCmd, exportCmd)
}
