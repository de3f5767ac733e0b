// Package daemon runs sync unattended. It arms two repeating timers, an
// auto-sync timer for incremental runs and a backup timer for safety-net
// full resyncs, and watches the config file so interval changes take
// effect without a restart.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jmcveigh/convosync/internal/syncer"
)

// Runner is the slice of the sync coordinator the daemon drives.
type Runner interface {
	AutoSync(ctx context.Context) (syncer.Outcome, error)
	FullResync(ctx context.Context) (syncer.Outcome, error)
}

// Config holds daemon configuration.
type Config struct {
	// AutoSyncInterval is how often to run an incremental sync.
	// Zero disables the auto-sync timer.
	AutoSyncInterval time.Duration

	// BackupSyncInterval is how often to run a full resync.
	// Zero disables the backup timer.
	BackupSyncInterval time.Duration

	// ConfigPath, when set, is watched for changes; on change
	// ReloadIntervals is consulted and both timers are re-armed.
	ConfigPath string

	// ReloadIntervals re-reads the configured intervals. Required when
	// ConfigPath is set.
	ReloadIntervals func() (auto, backup time.Duration, err error)

	// DebounceInterval batches rapid config-file events together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AutoSyncInterval:   time.Hour,
		BackupSyncInterval: 24 * time.Hour,
		DebounceInterval:   250 * time.Millisecond,
		Logger:             log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon schedules background sync runs.
//
// At most one instance of each timer is armed at a time: re-arming always
// disarms the prior instance first, so an interval change never leaves a
// stale timer firing on the old schedule.
type Daemon struct {
	runner  Runner
	config  *Config
	watcher *fsnotify.Watcher

	timerMu     sync.Mutex
	autoTimer   *time.Timer
	backupTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Daemon. Use Start to begin scheduling.
func New(runner Runner, config *Config) (*Daemon, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 250 * time.Millisecond
	}
	if config.ConfigPath != "" && config.ReloadIntervals == nil {
		return nil, fmt.Errorf("ReloadIntervals is required when watching a config file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		runner: runner,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start arms the timers and, when configured, begins watching the config
// file. It blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Printf("Starting daemon (auto-sync %v, backup %v)",
		d.config.AutoSyncInterval, d.config.BackupSyncInterval)

	d.SetIntervals(d.config.AutoSyncInterval, d.config.BackupSyncInterval)

	if d.config.ConfigPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = watcher

		// Watch the directory, not the file: editors and viper both
		// replace the file on save, which drops a file-level watch.
		if err := watcher.Add(filepath.Dir(d.config.ConfigPath)); err != nil {
			return fmt.Errorf("failed to watch config directory: %w", err)
		}
		d.config.Logger.Printf("Watching config: %s", d.config.ConfigPath)

		d.wg.Add(1)
		go d.watchConfig()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop disarms the timers and shuts the daemon down.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")
	d.cancel()

	d.timerMu.Lock()
	if d.autoTimer != nil {
		d.autoTimer.Stop()
		d.autoTimer = nil
	}
	if d.backupTimer != nil {
		d.backupTimer.Stop()
		d.backupTimer = nil
	}
	d.timerMu.Unlock()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// SetIntervals re-arms both timers with new intervals. A non-positive
// interval disarms that timer.
func (d *Daemon) SetIntervals(auto, backup time.Duration) {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()

	d.autoTimer = d.rearm(d.autoTimer, auto, d.runAutoSync)
	d.backupTimer = d.rearm(d.backupTimer, backup, d.runBackupSync)
}

// rearm stops the existing timer, if any, before arming a new one.
func (d *Daemon) rearm(old *time.Timer, interval time.Duration, fire func()) *time.Timer {
	if old != nil {
		old.Stop()
	}
	if interval <= 0 {
		return nil
	}
	return time.AfterFunc(interval, fire)
}

func (d *Daemon) runAutoSync() {
	if d.ctx.Err() != nil {
		return
	}
	out, err := d.runner.AutoSync(d.ctx)
	switch {
	case errors.Is(err, syncer.ErrRunInProgress):
		d.config.Logger.Println("Auto-sync skipped: run already in progress")
	case err != nil:
		d.config.Logger.Printf("Auto-sync failed: %v", err)
	default:
		d.config.Logger.Printf("Auto-sync: %d record(s), %d API call(s)", out.RecordsSynced, out.APICalls)
	}

	d.timerMu.Lock()
	if d.ctx.Err() == nil && d.autoTimer != nil {
		d.autoTimer = d.rearm(d.autoTimer, d.config.AutoSyncInterval, d.runAutoSync)
	}
	d.timerMu.Unlock()
}

func (d *Daemon) runBackupSync() {
	if d.ctx.Err() != nil {
		return
	}
	out, err := d.runner.FullResync(d.ctx)
	switch {
	case errors.Is(err, syncer.ErrRunInProgress):
		d.config.Logger.Println("Backup sync skipped: run already in progress")
	case err != nil:
		d.config.Logger.Printf("Backup sync failed: %v", err)
	default:
		d.config.Logger.Printf("Backup sync: %d record(s), %d API call(s)", out.RecordsSynced, out.APICalls)
	}

	d.timerMu.Lock()
	if d.ctx.Err() == nil && d.backupTimer != nil {
		d.backupTimer = d.rearm(d.backupTimer, d.config.BackupSyncInterval, d.runBackupSync)
	}
	d.timerMu.Unlock()
}

// watchConfig reacts to config-file changes by reloading the intervals.
func (d *Daemon) watchConfig() {
	defer d.wg.Done()

	var debounce *time.Timer
	target := filepath.Clean(d.config.ConfigPath)

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(d.config.DebounceInterval, d.reloadIntervals)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) reloadIntervals() {
	if d.ctx.Err() != nil {
		return
	}
	auto, backup, err := d.config.ReloadIntervals()
	if err != nil {
		d.config.Logger.Printf("Config reload failed: %v", err)
		return
	}

	d.timerMu.Lock()
	changed := auto != d.config.AutoSyncInterval || backup != d.config.BackupSyncInterval
	d.config.AutoSyncInterval = auto
	d.config.BackupSyncInterval = backup
	d.timerMu.Unlock()
	if !changed {
		return
	}

	d.config.Logger.Printf("Config changed, re-arming timers (auto-sync %v, backup %v)", auto, backup)
	d.SetIntervals(auto, backup)
}
