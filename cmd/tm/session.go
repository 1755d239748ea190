package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/taskmasterpro/tm/internal/auth"
	"github.com/taskmasterpro/tm/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "session",
	Short:   "Log in to TaskMaster",
	Long: `Log in and store the session locally.

Prompts for missing credentials when run in a terminal. Logging in always
needs a connection; it is never queued.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if err := promptCredentials(false, nil, &email, &password); err != nil {
			return err
		}

		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		user, err := a.Tasks.Login(cmd.Context(), email, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if _, err := a.Tasks.PullTheme(cmd.Context()); err != nil {
			a.Logging.Logger("tm").Printf("could not fetch theme preference: %v", err)
		}

		if jsonOutput {
			return printJSON(user)
		}
		fmt.Printf("%s Logged in as %s <%s>\n", ui.RenderPass("✓"), user.Name, user.Email)
		if n := a.Queue.Len(); n > 0 {
			fmt.Printf("   %d change(s) are waiting to sync (run 'tm sync')\n", n)
		}
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:     "register",
	GroupID: "session",
	Short:   "Create a TaskMaster account",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if err := promptCredentials(true, &name, &email, &password); err != nil {
			return err
		}

		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		user, err := a.Tasks.Register(cmd.Context(), name, email, password)
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}
		if jsonOutput {
			return printJSON(user)
		}
		fmt.Printf("%s Welcome, %s! You are logged in.\n", ui.RenderPass("✓"), user.Name)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "session",
	Short:   "Forget the stored session",
	Long: `Remove the stored user, token and theme.

Cached tasks and changes waiting to sync are kept; they are replayed after
the next login.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		if n := a.Queue.Len(); n > 0 {
			ok, err := confirm(fmt.Sprintf("%d change(s) have not synced yet. Log out anyway?", n), true)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		if err := a.Tasks.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("%s Logged out\n", ui.RenderPass("✓"))
		return nil
	},
}

type statusView struct {
	LoggedIn   bool       `json:"loggedIn"`
	User       string     `json:"user,omitempty"`
	Email      string     `json:"email,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Expired    bool       `json:"expired,omitempty"`
	Online     bool       `json:"online"`
	Pending    int        `json:"pending"`
	CachedTask int        `json:"cachedTasks"`
	Theme      string     `json:"theme"`
	Server     string     `json:"server"`
	Verified   *bool      `json:"verified,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "session",
	Short:   "Show session, connectivity and pending changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		check, _ := cmd.Flags().GetBool("verify")
		a, done, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer done()

		v := statusView{
			Online:     a.Monitor.Online(),
			Pending:    a.Queue.Len(),
			CachedTask: len(a.Cache.Tasks(ctx)),
			Theme:      a.Tasks.Theme(ctx),
			Server:     a.Client.BaseURL(),
		}
		if user, ok := a.Tasks.CurrentUser(ctx); ok && a.Cache.Token(ctx) != "" {
			v.LoggedIn = true
			v.User = user.Name
			v.Email = user.Email
		}
		session, err := a.Session(ctx)
		switch {
		case err == nil:
			v.LoggedIn = true
			if !session.ExpiresAt.IsZero() {
				v.ExpiresAt = &session.ExpiresAt
				v.Expired = session.Expired(time.Now())
			}
		case !errors.Is(err, auth.ErrNoToken):
			a.Logging.Logger("tm").Printf("cannot decode session token: %v", err)
		}
		if check && v.LoggedIn && v.Online {
			_, verr := a.Tasks.Verify(ctx)
			ok := verr == nil
			v.Verified = &ok
			if verr != nil {
				a.Logging.Logger("tm").Printf("session verification failed: %v", verr)
			}
		}

		if jsonOutput {
			return printJSON(v)
		}

		fmt.Printf("\n%s TaskMaster Status\n\n", ui.RenderAccent("📊"))
		if v.LoggedIn {
			fmt.Printf("User: %s <%s>\n", v.User, v.Email)
			if v.ExpiresAt != nil {
				if v.Expired {
					fmt.Printf("Session: %s (run 'tm login')\n", ui.RenderFail("expired"))
				} else {
					fmt.Printf("Session: valid for %s\n", session.Remaining(time.Now()).Round(time.Minute))
				}
			}
			if v.Verified != nil {
				if *v.Verified {
					fmt.Printf("Server check: %s\n", ui.RenderPass("token accepted"))
				} else {
					fmt.Printf("Server check: %s (run 'tm login')\n", ui.RenderFail("token rejected"))
				}
			}
		} else {
			fmt.Printf("User: %s\n", ui.RenderMuted("not logged in"))
		}
		if v.Online {
			fmt.Printf("Connectivity: %s\n", ui.RenderPass("online"))
		} else {
			fmt.Printf("Connectivity: %s\n", ui.RenderWarn("offline"))
		}
		if badge := ui.RenderBadge(v.Pending); badge != "" {
			fmt.Printf("Pending: %s\n", badge)
		} else {
			fmt.Printf("Pending: none\n")
		}
		fmt.Printf("Cached tasks: %d\n", v.CachedTask)
		fmt.Printf("Theme: %s\n", v.Theme)
		fmt.Printf("Server: %s\n\n", v.Server)
		return nil
	},
}

func init() {
	loginCmd.Flags().String("email", "", "Account email")
	loginCmd.Flags().String("password", "", "Account password (prompted when omitted)")

	registerCmd.Flags().String("name", "", "Display name")
	registerCmd.Flags().String("email", "", "Account email")
	registerCmd.Flags().String("password", "", "Password, at least 6 characters (prompted when omitted)")

	statusCmd.Flags().Bool("verify", false, "Check the stored session with the server")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, statusCmd)
}
