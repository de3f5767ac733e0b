package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var memoryCategory string

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage memories on the remote service",
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored memories",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := loadApp(false)
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		memories, err := a.client.ListMemories(context.Background())
		if err != nil {
			fatal(err)
		}
		if len(memories) == 0 {
			fmt.Println("No memories stored")
			return
		}
		for _, m := range memories {
			line := fmt.Sprintf("%s  %s", m.ID, m.Content)
			if m.Category != "" {
				line += fmt.Sprintf("  [%s]", m.Category)
			}
			fmt.Println(line)
		}
	},
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Store a new memory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := loadApp(false)
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		memory, err := a.client.CreateMemory(context.Background(), args[0], memoryCategory)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Memory stored (%s)\n", memory.ID)
	},
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a memory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := loadApp(false)
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		if err := a.client.DeleteMemory(context.Background(), args[0]); err != nil {
			fatal(err)
		}
		fmt.Println("Memory deleted")
	},
}

func init() {
	memoryAddCmd.Flags().StringVar(&memoryCategory, "category", "", "memory category")
	memoryCmd.AddCommand(memoryListCmd, memoryAddCmd, memoryDeleteCmd)
	rootCmd.AddCommand(memoryCmd)
}
