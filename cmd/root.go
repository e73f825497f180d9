package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rahat/mess/internal/app"
)

var version string

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "mess",
	Short: "Household mess and expense tracker client",
	Long: `mess - client for the shared household mess/expense tracker.

Meals, bazar entries, and payments are sent to the mess server when online
and queued locally when not; queued work is replayed by the sync engine.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	cobra.OnInitialize(initLogging)

	rootCmd.AddGroup(
		&cobra.Group{ID: "entries", Title: "Entry Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "account", Title: "Account Commands:"},
	)
	rootCmd.SetHelpCommandGroupID("sync")
	rootCmd.SetCompletionCommandGroupID("sync")
}

func initLogging() {
	level := slog.LevelWarn
	if v, _ := rootCmd.PersistentFlags().GetBool("verbose"); v {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// openApp constructs the client graph; callers must Close it.
func openApp() (*app.App, error) {
	a, err := app.New()
	if err != nil {
		return nil, fmt.Errorf("initialize client: %w", err)
	}
	return a, nil
}

// requireAuth fails early for commands that need a session.
func requireAuth(a *app.App) error {
	if !a.Session.Authenticated() {
		return fmt.Errorf("not logged in (run 'mess login')")
	}
	return nil
}
