package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/jmcveigh/convosync/internal/config"
)

var resyncEnd string

var resyncCmd = &cobra.Command{
	Use:   "resync <date>",
	Short: "Re-fetch a single day or date range",
	Long: `Re-fetch one local day (or a range with --to), bypassing the sync
frontier. The fetch is bounded server-side to the requested window, so a
resync of one day costs at most a few API calls regardless of history
size.

The date may be strict (YYYY-MM-DD) or natural language:

  convosync resync 2025-04-01
  convosync resync yesterday
  convosync resync "last monday"
  convosync resync 2025-04-01 --to 2025-04-07`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		// The argument is validated and resolved before anything opens a
		// network connection. Relative phrases like "yesterday" resolve
		// against the configured timezone, not the process zone.
		now := time.Now().In(configuredLocation())
		first, err := resolveDate(strings.Join(args, " "), now)
		if err != nil {
			fatal(err)
		}
		last := first
		if resyncEnd != "" {
			if last, err = resolveDate(resyncEnd, now); err != nil {
				fatal(err)
			}
		}

		a, err := loadApp(true)
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Resyncing %s", first)
		if last != first {
			fmt.Printf(" through %s", last)
		}
		fmt.Println()

		out, err := a.coord.ResyncRange(ctx, first, last)
		reportOutcome(out, err)
	},
}

func init() {
	resyncCmd.Flags().StringVar(&resyncEnd, "to", "",
		"end of the date range, inclusive (date or natural language)")
	rootCmd.AddCommand(resyncCmd)
}

// configuredLocation resolves the timezone from the config file, falling
// back to the process zone when no usable config exists yet.
func configuredLocation() *time.Location {
	cfg, err := config.Load(configPath)
	if err != nil {
		return time.Local
	}
	loc, err := cfg.Location()
	if err != nil {
		return time.Local
	}
	return loc
}

// resolveDate turns a strict YYYY-MM-DD or a natural-language phrase like
// "yesterday" into a calendar date relative to now.
func resolveDate(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse("2006-01-02", s); err == nil {
		return s, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, now)
	if err == nil && r != nil {
		return r.Time.Format("2006-01-02"), nil
	}
	return "", fmt.Errorf("unrecognized date %q (use YYYY-MM-DD or e.g. \"yesterday\")", s)
}
