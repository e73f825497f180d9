package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rahat/mess/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Show or change client settings",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		changed := false
		if v, _ := cmd.Flags().GetString("server"); v != "" {
			cfg.ServerURL = v
			changed = true
		}
		if v, _ := cmd.Flags().GetString("sync-interval"); v != "" {
			cfg.SyncInterval = v
			changed = true
		}
		if cmd.Flags().Changed("max-retries") {
			cfg.MaxRetries, _ = cmd.Flags().GetInt("max-retries")
			changed = true
		}
		if cmd.Flags().Changed("auto-sync") {
			v, _ := cmd.Flags().GetBool("auto-sync")
			cfg.AutoSync = &v
			changed = true
		}

		if changed {
			if err := config.Save(cfg); err != nil {
				return err
			}
		}

		fmt.Printf("server:        %s\n", cfg.ResolvedServerURL())
		fmt.Printf("sync interval: %s\n", cfg.ResolvedSyncInterval())
		fmt.Printf("batch limit:   %d\n", cfg.ResolvedBatchLimit())
		fmt.Printf("max retries:   %d\n", cfg.ResolvedMaxRetries())
		fmt.Printf("cache ttl:     %s\n", cfg.ResolvedCacheTTL())
		fmt.Printf("auto sync:     %v\n", cfg.AutoSyncEnabled())
		return nil
	},
}

func init() {
	configCmd.Flags().String("server", "", "set the server base URL")
	configCmd.Flags().String("sync-interval", "", "set the periodic sync cadence (e.g. 5m)")
	configCmd.Flags().Int("max-retries", 0, "set the per-request retry bound")
	configCmd.Flags().Bool("auto-sync", true, "enable or disable the periodic sync timer")
	rootCmd.AddCommand(configCmd)
}
