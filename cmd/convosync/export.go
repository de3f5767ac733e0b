package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var importBackup bool

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export sync state to JSONL",
	Long: `Write the full sync state (frontier, metadata, history) to a JSONL
file, one object per line. The export is portable across machines and
survives state database schema changes.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := loadApp(false)
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		if err := a.store.ExportJSONL(context.Background(), args[0]); err != nil {
			fatal(err)
		}
		fmt.Printf("State exported to %s\n", args[0])
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import sync state from a JSONL export",
	Long: `Merge a JSONL state export into the local state database. Existing
rows are kept; imported metadata overwrites rows with the same ID and the
frontier only moves forward.

Note: importing metadata does not materialize documents. Run
'convosync sync --full' afterwards to rebuild the vault.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := loadApp(false)
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		result, err := a.store.ImportJSONL(context.Background(), args[0], importBackup)
		if err != nil {
			fatal(err)
		}

		if result.BackupCreated != "" {
			fmt.Printf("Backed up state database to %s\n", result.BackupCreated)
		}
		fmt.Printf("Imported %d metadata row(s), %d history entr(ies)\n",
			result.MetaImported, result.HistoryImported)
		if result.FrontierSet {
			fmt.Println("Frontier updated")
		}
	},
}

func init() {
	importCmd.Flags().BoolVar(&importBackup, "backup", true,
		"back up the state database before importing")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
