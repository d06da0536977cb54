// Package main provides the keyrace command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aayushbajaj/keyrace/internal/app"
	"github.com/aayushbajaj/keyrace/internal/config"
	"github.com/aayushbajaj/keyrace/internal/logging"
)

var (
	configPath string
	verbose    bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "keyrace",
		Short:         "Count your keystrokes and race your friends",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newWhoamiCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newLeaderboardCmd())
	rootCmd.AddCommand(newFollowsCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Logging.Console = true
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// openService loads config, builds the logger and restores persisted state.
// The returned cleanup closes everything.
func openService() (*app.Service, *config.Config, *zap.Logger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	svc, err := app.NewService(cfg, logger, app.Options{})
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, nil, fmt.Errorf("failed to open keyrace: %w", err)
	}
	svc.Start()

	cleanup := func() {
		if err := svc.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return svc, cfg, logger, cleanup, nil
}

func logErrf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}
