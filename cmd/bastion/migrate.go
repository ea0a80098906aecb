// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package main

import (
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/bastionbot/bastion/internal/store"
)

// Migrations is the subset of *store.Migrator the migrate commands drive.
type Migrations interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	AppliedMigrations() ([]uint, error)
	Close() error
}

// migratorFactory opens migrations for a database URL. Tests replace it.
var migratorFactory = func(url string) (Migrations, error) {
	return store.NewMigrator(url)
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the permission schema",
		Long:  `Apply, roll back, or inspect the permission record migrations.`,
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: withMigrator(func(cmd *cobra.Command, m Migrations, _ []string) error {
			pending, err := m.PendingMigrations()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				cmd.Println("Schema is up to date")
				return nil
			}
			if err := m.Up(); err != nil {
				return err
			}
			cmd.Printf("Applied %d migration(s)\n", len(pending))
			return nil
		}),
	}

	var all bool
	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long:  `Roll back the last migration, --steps migrations, or with --all the whole schema. Rolling back drops records.`,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrations, _ []string) error {
			if all {
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("Rolled back all migrations")
				return nil
			}
			if steps <= 0 {
				return oops.Code("INVALID_STEPS").Errorf("steps must be positive, got %d", steps)
			}
			if err := m.Steps(-steps); err != nil {
				return err
			}
			cmd.Printf("Rolled back %d migration(s)\n", steps)
			return nil
		}),
	}
	down.Flags().BoolVar(&all, "all", false, "roll back every migration")
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE: withMigrator(func(cmd *cobra.Command, m Migrations, _ []string) error {
			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			pending, err := m.PendingMigrations()
			if err != nil {
				return err
			}
			state := "clean"
			if dirty {
				state = "dirty"
			}
			cmd.Printf("Version: %d (%s)\n", v, state)
			for _, p := range pending {
				name, err := store.MigrationName(p)
				if err != nil {
					return err
				}
				cmd.Printf("Pending: %s\n", name)
			}
			return nil
		}),
	}

	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrations, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").With("version", args[0]).Wrap(err)
			}
			if err := m.Force(v); err != nil {
				return err
			}
			cmd.Printf("Forced version %d\n", v)
			return nil
		}),
	}

	cmd.AddCommand(up, down, version, force)
	return cmd
}

func withMigrator(run func(cmd *cobra.Command, m Migrations, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := requireDatabase(cfg); err != nil {
			return err
		}
		m, err := migratorFactory(cfg.DatabaseURL)
		if err != nil {
			return oops.Code("DB_CONNECT_FAILED").With("operation", "open migrator").Wrap(err)
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil {
				cmd.PrintErrf("close migrator: %v\n", closeErr)
			}
		}()
		return run(cmd, m, args)
	}
}
