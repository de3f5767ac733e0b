package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state and configuration",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := loadApp(false)
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		ctx := context.Background()

		count, err := a.store.CountMeta(ctx)
		if err != nil {
			fatal(err)
		}
		dates, err := a.store.AllDates(ctx)
		if err != nil {
			fatal(err)
		}
		last, err := a.store.LastSync(ctx)
		if err != nil {
			fatal(err)
		}

		fmt.Printf("Config:        %s\n", a.cfg.Path())
		fmt.Printf("Vault:         %s/%s\n", a.cfg.VaultDir, a.cfg.FolderPath)
		fmt.Printf("State DB:      %s\n", a.cfg.DBPath)
		fmt.Printf("Conversations: %d across %d day(s)\n", count, len(dates))
		if len(dates) > 0 {
			fmt.Printf("Date range:    %s to %s\n", dates[0], dates[len(dates)-1])
		}
		if last != nil {
			fmt.Printf("Last sync:     %s\n", last.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("Last sync:     never")
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
