package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcveigh/convosync/internal/config"
	"github.com/jmcveigh/convosync/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled syncs in the foreground",
	Long: `Run convosync as a long-lived process. Two timers are armed:

  auto_sync_interval    incremental sync (default 1h)
  backup_sync_interval  safety-net full resync (default 24h)

The config file is watched; changing either interval re-arms the timers
without a restart. With dashboard.enabled, a WebSocket server broadcasts
live sync events.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := loadApp(true)
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		d, err := daemon.New(a.coord, &daemon.Config{
			AutoSyncInterval:   a.cfg.AutoSyncInterval,
			BackupSyncInterval: a.cfg.BackupSyncInterval,
			ConfigPath:         a.cfg.Path(),
			ReloadIntervals: func() (time.Duration, time.Duration, error) {
				cfg, err := config.Load(a.cfg.Path())
				if err != nil {
					return 0, 0, err
				}
				return cfg.AutoSyncInterval, cfg.BackupSyncInterval, nil
			},
			Logger: a.logger,
		})
		if err != nil {
			fatal(err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := d.Start(ctx); err != nil {
			fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
