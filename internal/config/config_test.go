package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Leaderboard.Host != "https://keyrace.app" {
		t.Errorf("Expected default host, got %q", cfg.Leaderboard.Host)
	}
	if cfg.GitHub.PollAttempts != 20 {
		t.Errorf("Expected 20 poll attempts, got %d", cfg.GitHub.PollAttempts)
	}
	if cfg.GitHub.IntervalMultiplier != 2 {
		t.Errorf("Expected interval multiplier 2, got %d", cfg.GitHub.IntervalMultiplier)
	}
	if cfg.GitHub.DefaultInterval != 15*time.Second {
		t.Errorf("Expected default interval 15s, got %v", cfg.GitHub.DefaultInterval)
	}
	if cfg.Counter.RetainMinutes != 20 {
		t.Errorf("Expected 20 retained minutes, got %d", cfg.Counter.RetainMinutes)
	}
	if cfg.Counter.RetainGrace != 20*time.Minute {
		t.Errorf("Expected 20m grace, got %v", cfg.Counter.RetainGrace)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestLoadFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[leaderboard]
host = "http://localhost:9999"

[counter]
retain_minutes = 5
retain_grace = "90s"

[logging]
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Leaderboard.Host != "http://localhost:9999" {
		t.Errorf("Expected host from file, got %q", cfg.Leaderboard.Host)
	}
	if cfg.Counter.RetainMinutes != 5 {
		t.Errorf("Expected 5 retained minutes, got %d", cfg.Counter.RetainMinutes)
	}
	if cfg.Counter.RetainGrace != 90*time.Second {
		t.Errorf("Expected 90s grace, got %v", cfg.Counter.RetainGrace)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected debug level, got %q", cfg.Logging.Level)
	}
	// Untouched keys keep their defaults.
	if cfg.GitHub.PollAttempts != 20 {
		t.Errorf("Expected default poll attempts, got %d", cfg.GitHub.PollAttempts)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("KEYRACE_LEADERBOARD_HOST", "http://from-env")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Leaderboard.Host != "http://from-env" {
		t.Errorf("Expected env host, got %q", cfg.Leaderboard.Host)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"negative retain", func(c *Config) { c.Counter.RetainMinutes = -1 }, "retain_minutes"},
		{"retain too large", func(c *Config) { c.Counter.RetainMinutes = 1441 }, "retain_minutes"},
		{"negative grace", func(c *Config) { c.Counter.RetainGrace = -time.Second }, "retain_grace"},
		{"zero attempts", func(c *Config) { c.GitHub.PollAttempts = 0 }, "poll_attempts"},
		{"zero multiplier", func(c *Config) { c.GitHub.IntervalMultiplier = 0 }, "interval_multiplier"},
		{"empty db path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.errSub)
			}
		})
	}
}

func TestValidateNetwork(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateNetwork(); err != nil {
		t.Fatalf("Expected defaults to validate, got %v", err)
	}
	cfg.Leaderboard.Host = "  "
	if err := cfg.ValidateNetwork(); err == nil {
		t.Error("Expected error for blank host")
	}
	cfg = Default()
	cfg.GitHub.ClientID = ""
	if err := cfg.ValidateNetwork(); err == nil {
		t.Error("Expected error for empty client id")
	}
}

func TestWriteTemplateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyrace", "config.toml")
	cfg := Default()
	cfg.Leaderboard.Host = "http://example.test"
	cfg.Counter.RetainGrace = 3 * time.Minute

	if err := WriteTemplate(path, cfg, false); err != nil {
		t.Fatalf("WriteTemplate failed: %v", err)
	}
	if err := WriteTemplate(path, cfg, false); err == nil {
		t.Error("Expected error when config already exists")
	}
	if err := WriteTemplate(path, cfg, true); err != nil {
		t.Fatalf("WriteTemplate with force failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Leaderboard.Host != "http://example.test" {
		t.Errorf("Expected host to round trip, got %q", loaded.Leaderboard.Host)
	}
	if loaded.Counter.RetainGrace != 3*time.Minute {
		t.Errorf("Expected grace to round trip, got %v", loaded.Counter.RetainGrace)
	}
}

func TestXDGPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/cfg")
	t.Setenv("XDG_DATA_HOME", "/tmp/data")

	if got := DefaultConfigPath(); got != filepath.Join("/tmp/cfg", "keyrace", "config.toml") {
		t.Errorf("DefaultConfigPath() = %q", got)
	}
	if got := DefaultDBPath(); got != filepath.Join("/tmp/data", "keyrace", "keyrace.db") {
		t.Errorf("DefaultDBPath() = %q", got)
	}
	if got := DefaultLogDir(); got != filepath.Join("/tmp/data", "keyrace", "logs") {
		t.Errorf("DefaultLogDir() = %q", got)
	}
}
