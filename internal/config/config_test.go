package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	// Missing file is fine: defaults apply.
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.FolderPath != "Conversations" {
		t.Errorf("FolderPath = %q, want 'Conversations'", cfg.FolderPath)
	}
	if !cfg.Content.Transcript {
		t.Error("Content.Transcript should default to true")
	}
	if cfg.AutoSyncInterval != time.Hour {
		t.Errorf("AutoSyncInterval = %v, want 1h", cfg.AutoSyncInterval)
	}
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
api_key: test-key
vault_dir: /tmp/vault
start_date: "2025-01-15"
auto_sync_interval: 30m
content:
  transcript: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.APIKey != "test-key" {
		t.Errorf("APIKey = %q, want 'test-key'", cfg.APIKey)
	}
	if cfg.StartDate != "2025-01-15" {
		t.Errorf("StartDate = %q, want '2025-01-15'", cfg.StartDate)
	}
	if cfg.AutoSyncInterval != 30*time.Minute {
		t.Errorf("AutoSyncInterval = %v, want 30m", cfg.AutoSyncInterval)
	}
	if cfg.Content.Transcript {
		t.Error("Content.Transcript should be false")
	}
	if !cfg.Content.Overview {
		t.Error("Content.Overview should keep its default true")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONVOSYNC_API_KEY", "from-env")
	t.Setenv("CONVOSYNC_LOG_FILE", "/tmp/convosync.log")
	t.Setenv("CONVOSYNC_VAULT_DIR", "/tmp/env-vault")

	// No config file: env values must still land on the struct.
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want 'from-env'", cfg.APIKey)
	}
	if cfg.LogFile != "/tmp/convosync.log" {
		t.Errorf("LogFile = %q, want '/tmp/convosync.log'", cfg.LogFile)
	}
	if cfg.VaultDir != "/tmp/env-vault" {
		t.Errorf("VaultDir = %q, want '/tmp/env-vault'", cfg.VaultDir)
	}
}

func TestLoad_EnvOverridesFileValue(t *testing.T) {
	t.Setenv("CONVOSYNC_API_KEY", "env-wins")
	path := writeConfig(t, "api_key: file-key\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.APIKey != "env-wins" {
		t.Errorf("APIKey = %q, want 'env-wins'", cfg.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.APIKey = "" },
			wantErr: true,
		},
		{
			name:    "malformed start date",
			mutate:  func(c *Config) { c.StartDate = "April 1st" },
			wantErr: true,
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Timezone = "Mars/Olympus" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				APIKey:     "k",
				APIBaseURL: "https://api.example.com/v1",
				VaultDir:   "vault",
				StartDate:  "2024-01-01",
				Timezone:   "UTC",
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetAPIKey_CreatesAndPreserves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := SetAPIKey(path, "first-key"); err != nil {
		t.Fatalf("SetAPIKey() failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.APIKey != "first-key" {
		t.Errorf("APIKey = %q, want 'first-key'", cfg.APIKey)
	}

	// Rewriting the key must not clobber other settings.
	if err := SetAPIKey(path, "second-key"); err != nil {
		t.Fatalf("second SetAPIKey() failed: %v", err)
	}
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() after rewrite failed: %v", err)
	}
	if cfg.APIKey != "second-key" {
		t.Errorf("APIKey = %q, want 'second-key'", cfg.APIKey)
	}
	if cfg.FolderPath != "Conversations" {
		t.Errorf("FolderPath = %q, want 'Conversations'", cfg.FolderPath)
	}
}
