package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors Config with durations as strings so the written file reads naturally.
type fileConfig struct {
	Leaderboard struct {
		Host    string `toml:"host"`
		Timeout string `toml:"timeout"`
	} `toml:"leaderboard"`
	GitHub struct {
		ClientID           string `toml:"client_id"`
		Scope              string `toml:"scope"`
		BaseURL            string `toml:"base_url"`
		APIURL             string `toml:"api_url"`
		PollAttempts       int    `toml:"poll_attempts"`
		IntervalMultiplier int    `toml:"interval_multiplier"`
		DefaultInterval    string `toml:"default_interval"`
		Timeout            string `toml:"timeout"`
	} `toml:"github"`
	Counter struct {
		RetainMinutes int    `toml:"retain_minutes"`
		RetainGrace   string `toml:"retain_grace"`
	} `toml:"counter"`
	Storage struct {
		Path string `toml:"path"`
	} `toml:"storage"`
	Logging struct {
		Directory  string `toml:"directory"`
		Level      string `toml:"level"`
		Console    bool   `toml:"console"`
		MaxSize    int    `toml:"max_size"`
		MaxBackups int    `toml:"max_backups"`
		MaxAge     int    `toml:"max_age"`
		Compress   bool   `toml:"compress"`
	} `toml:"logging"`
}

func toFileConfig(c *Config) fileConfig {
	var f fileConfig
	f.Leaderboard.Host = c.Leaderboard.Host
	f.Leaderboard.Timeout = c.Leaderboard.Timeout.String()
	f.GitHub.ClientID = c.GitHub.ClientID
	f.GitHub.Scope = c.GitHub.Scope
	f.GitHub.BaseURL = c.GitHub.BaseURL
	f.GitHub.APIURL = c.GitHub.APIURL
	f.GitHub.PollAttempts = c.GitHub.PollAttempts
	f.GitHub.IntervalMultiplier = c.GitHub.IntervalMultiplier
	f.GitHub.DefaultInterval = c.GitHub.DefaultInterval.String()
	f.GitHub.Timeout = c.GitHub.Timeout.String()
	f.Counter.RetainMinutes = c.Counter.RetainMinutes
	f.Counter.RetainGrace = c.Counter.RetainGrace.String()
	f.Storage.Path = c.Storage.Path
	f.Logging.Directory = c.Logging.Directory
	f.Logging.Level = c.Logging.Level
	f.Logging.Console = c.Logging.Console
	f.Logging.MaxSize = c.Logging.MaxSize
	f.Logging.MaxBackups = c.Logging.MaxBackups
	f.Logging.MaxAge = c.Logging.MaxAge
	f.Logging.Compress = c.Logging.Compress
	return f
}

// WriteTemplate writes cfg to path as TOML. An existing file is left untouched unless force is set.
func WriteTemplate(path string, cfg *Config, force bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s (use --force to overwrite)", path)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "config-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := fmt.Fprintln(tmp, "# keyrace configuration. KEYRACE_* environment variables override these values."); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := toml.NewEncoder(tmp).Encode(toFileConfig(cfg)); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
