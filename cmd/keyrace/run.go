package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aayushbajaj/keyrace/internal/config"
	"github.com/aayushbajaj/keyrace/internal/keylogger"
	"github.com/aayushbajaj/keyrace/internal/tui"
)

var runDashboard bool

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Count keystrokes until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runRunCmd,
	}
	cmd.Flags().BoolVar(&runDashboard, "tui", false, "show the live dashboard while counting")
	return cmd
}

func runRunCmd(_ *cobra.Command, _ []string) error {
	svc, _, logger, cleanup, err := openService()
	if err != nil {
		return err
	}
	defer cleanup()

	feed, err := keylogger.Start()
	if err != nil {
		if errors.Is(err, keylogger.ErrNoPermission) {
			logErrln("keyrace needs Accessibility access to count keystrokes.")
		}
		return err
	}
	defer keylogger.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.Watch(configPath, logger, svc.Reload); err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
	}

	logger.Info("counting keystrokes", zap.Bool("dashboard", runDashboard))
	if !runDashboard {
		return svc.Run(ctx, feed)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, feed) }()

	program := tea.NewProgram(tui.New(svc), tea.WithAltScreen(), tea.WithContext(ctx))
	_, uiErr := program.Run()
	cancel()
	runErr := <-done
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return fmt.Errorf("failed to run TUI: %w", uiErr)
	}
	return runErr
}

func logErrln(msg string) {
	fmt.Fprintln(os.Stderr, msg)
}
