// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/bastionbot/bastion/internal/access"
	"github.com/bastionbot/bastion/internal/command"
	"github.com/bastionbot/bastion/internal/command/handlers"
	"github.com/bastionbot/bastion/internal/guild"
	"github.com/bastionbot/bastion/internal/store"
)

// checkFlags describes the member to resolve.
type checkFlags struct {
	guildID string
	userID  string
	owner   bool
	roles   []string
	native  []string
	require []string
}

// NewCheckCmd creates the check subcommand.
func NewCheckCmd() *cobra.Command {
	f := &checkFlags{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Resolve the permissions of a member described by flags",
		Long: `Build a member from flags, resolve it with the strategy its guild is
configured for, and print the resolved set. With --require the command
fails unless the member holds every named permission or capability.

Level and layered guilds read records from the database; native guilds
need none.`,
		Example: `  bastion check --guild 1001 --user 42 --role 7:3 --native KickMembers,SendMessages
  bastion check --guild 1001 --user 42 --require BanMembers,mod.warn`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			member, err := f.member()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var records Records
			if cfg.DatabaseURL != "" {
				pool, err := store.Connect(ctx, cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer pool.Close()
				records = store.NewPostgresStore(pool)
			}
			profiles, closeCache := newProfileCache(cfg)
			defer func() { _ = closeCache() }() //nolint:errcheck // best effort on exit

			c := newComponents(cfg, records, profiles)
			return runCheck(ctx, cmd.OutOrStdout(), c.engine, member, f.require)
		},
	}

	cmd.Flags().StringVar(&f.guildID, "guild", "", "guild id")
	cmd.Flags().StringVar(&f.userID, "user", "", "user id")
	cmd.Flags().BoolVar(&f.owner, "owner", false, "the user owns the guild")
	cmd.Flags().StringSliceVar(&f.roles, "role", nil, "role as ID or ID:POSITION (repeatable)")
	cmd.Flags().StringSliceVar(&f.native, "native", nil, "native permissions the platform grants the member")
	cmd.Flags().StringSliceVar(&f.require, "require", nil, "permission or capability names to require")
	_ = cmd.MarkFlagRequired("guild") //nolint:errcheck // flag exists
	_ = cmd.MarkFlagRequired("user")  //nolint:errcheck // flag exists

	return cmd
}

// member builds the described guild member.
func (f *checkFlags) member() (*guild.Member, error) {
	g := guild.Guild{ID: f.guildID}
	if f.owner {
		g.OwnerID = f.userID
	}

	roles := make([]guild.Role, 0, len(f.roles))
	for _, spec := range f.roles {
		id, pos, hasPos := strings.Cut(spec, ":")
		role := guild.Role{ID: id}
		if hasPos {
			n, err := strconv.Atoi(pos)
			if err != nil {
				return nil, oops.Code("INVALID_ROLE").With("role", spec).Errorf("role position must be an integer")
			}
			role.Position = n
		}
		if role.ID == "" {
			return nil, oops.Code("INVALID_ROLE").With("role", spec).Errorf("role id is required")
		}
		roles = append(roles, role)
	}

	native, err := guild.ParsePermissions(f.native)
	if err != nil {
		return nil, err
	}
	return &guild.Member{
		Guild:       g,
		User:        guild.User{ID: f.userID},
		Roles:       roles,
		Permissions: guild.ComputePermissions(g, f.userID, roles) | native,
	}, nil
}

func runCheck(ctx context.Context, w io.Writer, engine *access.Engine, m *guild.Member, require []string) error {
	set, err := engine.GetPermissions(ctx, m)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "Mode: %s\n", engine.Settings(m.GuildID()).Mode)
	_, _ = fmt.Fprint(w, handlers.FormatResolvedSet(set))

	if len(require) == 0 {
		return nil
	}
	ok, err := engine.HasPermissionNames(ctx, m, require...)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "Allowed: %t\n", ok)
	if !ok {
		return command.ErrPermissionDenied("check", require...)
	}
	return nil
}
