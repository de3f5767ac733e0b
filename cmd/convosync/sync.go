package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var syncFull bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync new conversations since the last run",
	Long: `Run an incremental sync: pages are fetched newest-first and
pagination stops at the first record that is already synced and unchanged.

With --full, the sync frontier and all local metadata are discarded first
and every conversation from the configured start_date forward is
re-fetched. Use this to repair the vault after manual edits or to pick up
content-toggle changes.

Press Ctrl-C to cancel; everything materialized before the cancellation
point is kept.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := loadApp(true)
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		run := a.coord.Sync
		if syncFull {
			run = a.coord.FullResync
		}
		out, err := run(ctx)
		reportOutcome(out, err)
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false,
		"discard the frontier and re-fetch everything from start_date")
	rootCmd.AddCommand(syncCmd)
}
