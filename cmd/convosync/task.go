package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Edit action items on the remote service",
	Long: `Create, complete, reopen or delete action items. These are direct
writes to the remote API, sent immediately and never queued; the local
vault picks the change up on the next sync of that day.`,
}

var taskAddCmd = &cobra.Command{
	Use:   "add <conversation-id> <description>",
	Short: "Add an action item to a conversation",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := loadApp(false)
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		if err := a.client.CreateActionItem(context.Background(), args[0], args[1]); err != nil {
			fatal(err)
		}
		fmt.Println("Action item added")
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <conversation-id> <description>",
	Short: "Mark an action item completed",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		setCompleted(args[0], args[1], true)
	},
}

var taskReopenCmd = &cobra.Command{
	Use:   "reopen <conversation-id> <description>",
	Short: "Mark a completed action item open again",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		setCompleted(args[0], args[1], false)
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <conversation-id> <description>",
	Short: "Delete an action item",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := loadApp(false)
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		if err := a.client.DeleteActionItem(context.Background(), args[0], args[1]); err != nil {
			fatal(err)
		}
		fmt.Println("Action item deleted")
	},
}

func setCompleted(conversationID, description string, completed bool) {
	a, err := loadApp(false)
	if err != nil {
		fatal(err)
	}
	defer a.Close()

	if err := a.client.SetActionItemCompleted(context.Background(), conversationID, description, completed); err != nil {
		fatal(err)
	}
	if completed {
		fmt.Println("Action item completed")
	} else {
		fmt.Println("Action item reopened")
	}
}

func init() {
	taskCmd.AddCommand(taskAddCmd, taskDoneCmd, taskReopenCmd, taskDeleteCmd)
	rootCmd.AddCommand(taskCmd)
}
