package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	syncengine "github.com/rahat/mess/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Replay queued offline requests",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		statusOnly, _ := cmd.Flags().GetBool("status")
		clear, _ := cmd.Flags().GetBool("clear")
		purge, _ := cmd.Flags().GetBool("purge")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if clear {
			if err := a.Queue.Clear(); err != nil {
				return err
			}
			fmt.Println("Queue cleared.")
			return nil
		}
		if purge {
			n, err := a.Queue.PurgeExhausted()
			if err != nil {
				return err
			}
			fmt.Printf("Purged %d retry-exhausted entries.\n", n)
			return nil
		}
		if statusOnly {
			fmt.Printf("%d pending request(s) in the offline queue.\n", a.PendingCount())
			return nil
		}

		if err := requireAuth(a); err != nil {
			return err
		}

		report, err := a.Engine.SyncNow(context.Background())
		if err == syncengine.ErrDrainInProgress {
			fmt.Println("A sync is already running.")
			return nil
		}
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

func printReport(r *syncengine.Report) {
	if r.Halt == syncengine.HaltOffline {
		fmt.Println("Offline: nothing sent; queued work will sync when back online.")
		return
	}
	fmt.Printf("Batch %d: %d sent", r.Batch, r.Succeeded)
	if r.Kept > 0 {
		fmt.Printf(", %d kept for retry", r.Kept)
	}
	if n := r.DroppedTerminal + r.DroppedUnknown + r.DroppedExhaust; n > 0 {
		fmt.Printf(", %d dropped", n)
	}
	if r.DroppedDupes > 0 {
		fmt.Printf(", %d duplicate reads skipped", r.DroppedDupes)
	}
	fmt.Println()
	switch r.Halt {
	case syncengine.HaltSessionExpired:
		fmt.Println("Halted: session expired, log in again.")
	case syncengine.HaltRateLimited:
		fmt.Println("Halted: server rate limit, remaining entries kept for next cycle.")
	}
}

func init() {
	syncCmd.Flags().Bool("status", false, "show queue depth without syncing")
	syncCmd.Flags().Bool("clear", false, "drop every queued request")
	syncCmd.Flags().Bool("purge", false, "drop retry-exhausted requests only")
	rootCmd.AddCommand(syncCmd)
}
