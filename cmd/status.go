package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/rahat/mess/internal/tui/monitor"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show connectivity, session, and queue state",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		online := a.Conn.IsOnline(context.Background())
		if online {
			fmt.Println("server:  online")
		} else {
			fmt.Println("server:  offline")
		}

		if a.Session.Authenticated() {
			if p, err := a.Session.Profile(); err == nil && p != nil {
				fmt.Printf("session: %s <%s>\n", p.Name, p.Email)
			} else {
				fmt.Println("session: logged in")
			}
		} else {
			fmt.Println("session: not logged in")
		}

		fmt.Printf("queue:   %d pending\n", a.PendingCount())
		if r := a.Engine.LastReport(); r != nil {
			fmt.Printf("sync:    last ran %s\n", r.Finished.Format("15:04:05"))
		}
		return nil
	},
}

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Short:   "Live dashboard of sync and queue activity",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		a.StartAutoSync()

		p := tea.NewProgram(monitor.New(a), tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, monitorCmd)
}
