package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jmcveigh/convosync/internal/api"
	"github.com/jmcveigh/convosync/internal/config"
	"github.com/jmcveigh/convosync/internal/dashboard"
	"github.com/jmcveigh/convosync/internal/materialize"
	"github.com/jmcveigh/convosync/internal/rollup"
	"github.com/jmcveigh/convosync/internal/state"
	"github.com/jmcveigh/convosync/internal/syncer"
	"github.com/jmcveigh/convosync/internal/vault"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "convosync",
	Short: "Sync conversations into a local markdown vault",
	Long: `convosync pulls conversation records from the remote API and
materializes them as interlinked markdown documents: one folder per day
with an index, overview, action items, events and transcript, plus a
global aggregate index.

State (sync frontier, synced metadata, run history) lives in a local
SQLite database, so incremental runs fetch only what changed since the
last sync.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ~/.convosync/config.yaml)")
}

// app bundles everything a sync command needs.
type app struct {
	cfg    *config.Config
	store  *state.Store
	client *api.Client
	coord  *syncer.Coordinator
	dash   *dashboard.Server
	logger *log.Logger
}

// newLogger builds the shared logger. With log_file set, output goes to
// both stderr and a rotating file.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	return log.New(w, prefix, log.LstdFlags)
}

// loadApp loads config, opens the state store, and wires the coordinator.
// With withDashboard, the websocket server is started and attached as the
// coordinator's event sink. Callers must Close the returned app.
func loadApp(withDashboard bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg, "[convosync] ")

	store, err := state.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(context.Background()); err != nil {
		store.Close()
		return nil, err
	}

	a := &app{cfg: cfg, store: store, logger: logger}

	if withDashboard && cfg.Dashboard.Enabled {
		a.dash = dashboard.NewServer(&dashboard.Config{
			Port:    cfg.Dashboard.Port,
			History: store,
			Logger:  newLogger(cfg, "[dashboard] "),
		})
		if err := a.dash.Start(); err != nil {
			store.Close()
			return nil, err
		}
	}

	a.client = api.NewClient(cfg.APIBaseURL, cfg.APIKey,
		api.WithLogger(newLogger(cfg, "[api] ")))
	fs := vault.NewFS(cfg.VaultDir)

	syncCfg := syncer.Config{
		Source:       a.client,
		Store:        store,
		Materializer: materialize.New(fs, cfg.FolderPath, cfg.Content, loc, logger),
		Rollup:       rollup.New(fs, cfg.FolderPath, logger),
		Location:     loc,
		StartDate:    cfg.StartDate,
		Logger:       logger,
		Progress: func(step string, percent int) {
			fmt.Printf("\r[%3d%%] %-40s", percent, step)
			if percent >= 100 {
				fmt.Println()
			}
		},
	}
	if a.dash != nil {
		syncCfg.Events = a.dash
	}
	a.coord = syncer.New(syncCfg)

	return a, nil
}

func (a *app) Close() {
	if a.dash != nil {
		if err := a.dash.Stop(); err != nil {
			a.logger.Printf("Dashboard shutdown error: %v", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Printf("State close error: %v", err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// reportOutcome prints the run summary the way the notification surface
// words it.
func reportOutcome(out syncer.Outcome, err error) {
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "Sync failed: %v (check logs)\n", err)
		os.Exit(1)
	case out.Cancelled:
		fmt.Printf("Sync cancelled: %d conversation(s) kept, %d API call(s)\n",
			out.RecordsSynced, out.APICalls)
	default:
		fmt.Printf("Synced %d conversation(s) in %d API call(s)\n",
			out.RecordsSynced, out.APICalls)
	}
}
