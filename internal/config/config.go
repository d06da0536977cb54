// Package config loads keyrace settings from defaults, a TOML file and KEYRACE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration structure.
type Config struct {
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	GitHub      GitHubConfig      `mapstructure:"github"`
	Counter     CounterConfig     `mapstructure:"counter"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// LeaderboardConfig holds the remote leaderboard settings.
type LeaderboardConfig struct {
	Host    string        `mapstructure:"host"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// GitHubConfig holds the device flow settings.
type GitHubConfig struct {
	ClientID           string        `mapstructure:"client_id"`
	Scope              string        `mapstructure:"scope"`
	BaseURL            string        `mapstructure:"base_url"`
	APIURL             string        `mapstructure:"api_url"`
	PollAttempts       int           `mapstructure:"poll_attempts"`
	IntervalMultiplier int           `mapstructure:"interval_multiplier"`
	DefaultInterval    time.Duration `mapstructure:"default_interval"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// CounterConfig holds the day-rollover retention policy.
type CounterConfig struct {
	RetainMinutes int           `mapstructure:"retain_minutes"`
	RetainGrace   time.Duration `mapstructure:"retain_grace"`
}

// StorageConfig holds the SQLite location.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds settings for the logger.
type LoggingConfig struct {
	Directory  string `mapstructure:"directory"`
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// setDefaults sets the default values for the configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("leaderboard.host", "https://keyrace.app")
	v.SetDefault("leaderboard.timeout", 30*time.Second)

	v.SetDefault("github.client_id", "a945f87ad537bfddb109")
	v.SetDefault("github.scope", "")
	v.SetDefault("github.base_url", "https://github.com")
	v.SetDefault("github.api_url", "https://api.github.com")
	v.SetDefault("github.poll_attempts", 20)
	v.SetDefault("github.interval_multiplier", 2)
	v.SetDefault("github.default_interval", 15*time.Second)
	v.SetDefault("github.timeout", 30*time.Second)

	v.SetDefault("counter.retain_minutes", 20)
	v.SetDefault("counter.retain_grace", 20*time.Minute)

	v.SetDefault("storage.path", DefaultDBPath())

	v.SetDefault("logging.directory", DefaultLogDir())
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", false)
	v.SetDefault("logging.max_size", 10)   // megabytes
	v.SetDefault("logging.max_backups", 3) // files
	v.SetDefault("logging.max_age", 28)    // days
	v.SetDefault("logging.compress", true)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("toml")

	// e.g. KEYRACE_LEADERBOARD_HOST
	v.SetEnvPrefix("KEYRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config at path. A missing file is not an error; defaults and env vars apply.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	v := newViper(path)
	if err := readIfExists(v, path); err != nil {
		return nil, err
	}
	return decode(v)
}

// Default returns the configuration with no file or environment applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		// Defaults always decode.
		panic(err)
	}
	return cfg
}

func readIfExists(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat config: %w", err)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return &cfg, nil
}

// Validate checks the values the counter and network clients depend on.
func (c *Config) Validate() error {
	if c.Counter.RetainMinutes < 0 || c.Counter.RetainMinutes > 1440 {
		return fmt.Errorf("counter.retain_minutes must be between 0 and 1440")
	}
	if c.Counter.RetainGrace < 0 {
		return fmt.Errorf("counter.retain_grace must be >= 0")
	}
	if c.GitHub.PollAttempts <= 0 {
		return fmt.Errorf("github.poll_attempts must be > 0")
	}
	if c.GitHub.IntervalMultiplier <= 0 {
		return fmt.Errorf("github.interval_multiplier must be > 0")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	return nil
}

// ValidateNetwork checks the values needed by commands that talk to GitHub or the leaderboard.
func (c *Config) ValidateNetwork() error {
	if strings.TrimSpace(c.Leaderboard.Host) == "" {
		return fmt.Errorf("leaderboard.host must not be empty")
	}
	if strings.TrimSpace(c.GitHub.ClientID) == "" {
		return fmt.Errorf("github.client_id must not be empty")
	}
	if c.GitHub.BaseURL == "" || c.GitHub.APIURL == "" {
		return fmt.Errorf("github.base_url and github.api_url must not be empty")
	}
	return nil
}
