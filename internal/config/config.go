// Package config loads and validates convosync settings.
//
// Settings live in a single YAML file (default ~/.convosync/config.yaml)
// and can be overridden through CONVOSYNC_* environment variables. The
// loaded Config is an explicit value threaded through the engine; nothing
// reads viper globals after Load returns.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ContentToggles selects which per-day content documents are generated.
// The index document is always written; each content document can be
// disabled independently.
type ContentToggles struct {
	Overview    bool `mapstructure:"overview"`
	ActionItems bool `mapstructure:"action_items"`
	Events      bool `mapstructure:"events"`
	Transcript  bool `mapstructure:"transcript"`
}

// Dashboard configures the optional websocket progress server.
type Dashboard struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Config is the typed settings blob for the sync engine.
type Config struct {
	// APIKey is the bearer token for the remote conversation API.
	APIKey string `mapstructure:"api_key"`

	// APIBaseURL is the remote API root, e.g. "https://api.example.com/v1".
	APIBaseURL string `mapstructure:"api_base_url"`

	// VaultDir is the root of the local document vault.
	VaultDir string `mapstructure:"vault_dir"`

	// FolderPath is the subfolder of the vault that holds day shards.
	FolderPath string `mapstructure:"folder_path"`

	// DBPath is the sqlite state database location.
	DBPath string `mapstructure:"db_path"`

	// StartDate bounds full resyncs: records before this local date
	// (YYYY-MM-DD) are never fetched.
	StartDate string `mapstructure:"start_date"`

	// Timezone is the IANA zone used for day bucketing ("Local" allowed).
	Timezone string `mapstructure:"timezone"`

	Content ContentToggles `mapstructure:"content"`

	// AutoSyncInterval is how often the daemon runs an incremental sync.
	// Zero disables the auto-sync timer.
	AutoSyncInterval time.Duration `mapstructure:"auto_sync_interval"`

	// BackupSyncInterval is how often the daemon runs a safety-net full
	// resync. Zero disables the backup timer.
	BackupSyncInterval time.Duration `mapstructure:"backup_sync_interval"`

	Dashboard Dashboard `mapstructure:"dashboard"`

	// LogFile is the rotating log destination; empty logs to stderr only.
	LogFile string `mapstructure:"log_file"`

	// path is where the config was loaded from, kept for Save.
	path string
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".convosync", "config.yaml")
}

func setDefaults(v *viper.Viper) {
	// Keys without a meaningful default still need an entry so AutomaticEnv
	// overrides reach Unmarshal.
	v.SetDefault("api_key", "")
	v.SetDefault("log_file", "")
	v.SetDefault("api_base_url", "https://api.omiapi.com/v1")
	v.SetDefault("vault_dir", "vault")
	v.SetDefault("folder_path", "Conversations")
	v.SetDefault("db_path", filepath.Join(filepath.Dir(DefaultPath()), "state.db"))
	v.SetDefault("start_date", "2024-01-01")
	v.SetDefault("timezone", "Local")
	v.SetDefault("content.overview", true)
	v.SetDefault("content.action_items", true)
	v.SetDefault("content.events", true)
	v.SetDefault("content.transcript", true)
	v.SetDefault("auto_sync_interval", time.Hour)
	v.SetDefault("backup_sync_interval", 24*time.Hour)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8347)
}

// Load reads the config file at path. A missing file is not an error:
// defaults plus environment overrides are returned, so first-run commands
// like `convosync auth` work before any file exists.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CONVOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.path = path

	return &cfg, nil
}

// Path returns the file this config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Validate checks the fields a sync run depends on.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required (run 'convosync auth' to set it)")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url is required")
	}
	if c.VaultDir == "" {
		return fmt.Errorf("vault_dir is required")
	}
	if c.StartDate != "" {
		if _, err := time.Parse("2006-01-02", c.StartDate); err != nil {
			return fmt.Errorf("start_date must be YYYY-MM-DD: %w", err)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SetAPIKey persists a new API key into the config file, creating the file
// and its directory on first use.
func SetAPIKey(path, key string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Preserve existing settings if the file is already there.
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read existing config: %w", err)
		}
	}

	v.Set("api_key", key)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
