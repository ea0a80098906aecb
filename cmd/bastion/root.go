// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/bastionbot/bastion/internal/config"
	"github.com/bastionbot/bastion/internal/logging"
	"github.com/bastionbot/bastion/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the bastion CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bastion",
		Short: "Bastion - guild permission engine and moderation bot",
		Long: `Bastion resolves what guild members may do under native, level, or
layered permission strategies and gates bot commands on the result.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default $XDG_CONFIG_HOME/bastion/config.yaml)")
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL URL (DATABASE_URL overrides)")
	cmd.PersistentFlags().String("log-format", config.DefaultLogFormat, "log format (json or text)")
	cmd.PersistentFlags().String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSyncCmd())
	cmd.AddCommand(NewCheckCmd())

	return cmd
}

// loadConfig reads --config, or the XDG default when it exists, and the
// command's flags, then installs the default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		path = xdg.ExistingConfigFile()
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logging.SetDefault("bastion", version, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func requireDatabase(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return oops.Code(config.CodeInvalid).Errorf("database_url is required (set it in the config file, --database-url or DATABASE_URL)")
	}
	return nil
}
