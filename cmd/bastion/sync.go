// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bastionbot/bastion/internal/access/capability"
	"github.com/bastionbot/bastion/internal/access/level"
	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/guild"
	"github.com/bastionbot/bastion/internal/store"
)

// NewSyncCmd creates the sync subcommand.
func NewSyncCmd() *cobra.Command {
	var guildID string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Load the level table once and report what it holds",
		Long: `Run one level synchronization against the database, the same way serve
does at boot, and print a per-guild summary of the enabled level records.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := requireDatabase(cfg); err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := store.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			return runSync(ctx, cmd.OutOrStdout(), store.NewPostgresStore(pool), newCapabilities(cfg), guildID)
		},
	}
	cmd.Flags().StringVar(&guildID, "guild", "", "only report this guild (global records included)")
	return cmd
}

func runSync(ctx context.Context, w io.Writer, records types.LevelStore, caps *capability.Registry, guildID string) error {
	r := level.New(records, caps)
	if err := r.SyncWithRetry(ctx, syncRetryBase, syncRetries); err != nil {
		return err
	}

	var filter *string
	if guildID != "" {
		filter = &guildID
	}
	levels, err := records.FindPermissionLevels(ctx, filter)
	if err != nil {
		return err
	}
	writeLevelReport(w, levels)
	return nil
}

type guildLevels struct {
	guildID string
	levels  []int
	users   int
	roles   int
}

// writeLevelReport prints one line per guild, global records first.
func writeLevelReport(w io.Writer, levels []types.PermissionLevel) {
	byGuild := make(map[string]*guildLevels)
	for _, l := range levels {
		g, ok := byGuild[l.GuildID]
		if !ok {
			g = &guildLevels{guildID: l.GuildID}
			byGuild[l.GuildID] = g
		}
		g.levels = append(g.levels, l.Level)
		g.users += len(l.Users)
		g.roles += len(l.Roles)
	}

	ids := make([]string, 0, len(byGuild))
	for id := range byGuild {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		switch {
		case a == b:
			return 0
		case a == guild.GlobalID:
			return -1
		case b == guild.GlobalID:
			return 1
		}
		return strings.Compare(a, b)
	})

	_, _ = fmt.Fprintf(w, "Synced %d level record(s) across %d guild(s)\n", len(levels), len(ids))
	for _, id := range ids {
		g := byGuild[id]
		slices.Sort(g.levels)
		name := id
		if id == guild.GlobalID {
			name = "global"
		}
		_, _ = fmt.Fprintf(w, "  %s: levels %s (%d role and %d user assignment(s))\n",
			name, joinInts(g.levels), g.roles, g.users)
	}
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
