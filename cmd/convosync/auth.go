package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jmcveigh/convosync/internal/config"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Store the API key",
	Long: `Prompt for the remote API key and persist it in the config file.
The key is read without echo when stdin is a terminal.`,
	Run: func(cmd *cobra.Command, args []string) {
		key, err := readKey()
		if err != nil {
			fatal(err)
		}
		if key == "" {
			fatal(fmt.Errorf("no key entered"))
		}

		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.SetAPIKey(path, key); err != nil {
			fatal(err)
		}
		fmt.Printf("API key saved to %s\n", path)
	},
}

func readKey() (string, error) {
	fmt.Print("API key: ")

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read key: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	// Piped input (scripts, tests).
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func init() {
	rootCmd.AddCommand(authCmd)
}
