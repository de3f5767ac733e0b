package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sync runs",
	Long: `Show the sync history log, newest first. The log keeps the last 24
hours of runs, capped at 100 entries.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := loadApp(false)
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		entries, err := a.store.RecentHistory(context.Background(), historyLimit)
		if err != nil {
			fatal(err)
		}
		if len(entries) == 0 {
			fmt.Println("No sync runs in the last 24 hours")
			return
		}

		for _, e := range entries {
			line := fmt.Sprintf("%s  %-11s %-10s %3d record(s)",
				e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Action, e.Type, e.Count)
			if e.APICalls > 0 {
				line += fmt.Sprintf(", %d API call(s)", e.APICalls)
			}
			if e.Error != "" {
				line += "  " + e.Error
			}
			fmt.Println(line)
		}
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum entries to show")
	rootCmd.AddCommand(historyCmd)
}
