package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aayushbajaj/keyrace/internal/config"
)

var configForce bool

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.WriteTemplate(configPath, config.Default(), configForce); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config, database and log locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:   %s\n", configPath)
			fmt.Fprintf(out, "database: %s\n", cfg.Storage.Path)
			fmt.Fprintf(out, "logs:     %s\n", cfg.Logging.Directory)
			return nil
		},
	}

	cmd.AddCommand(initCmd, pathCmd)
	return cmd
}
