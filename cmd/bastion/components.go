// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package main

import (
	"context"
	"log/slog"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/bastionbot/bastion/internal/access"
	"github.com/bastionbot/bastion/internal/access/cache"
	"github.com/bastionbot/bastion/internal/access/capability"
	"github.com/bastionbot/bastion/internal/access/layered"
	"github.com/bastionbot/bastion/internal/access/level"
	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/command"
	"github.com/bastionbot/bastion/internal/config"
	"github.com/bastionbot/bastion/internal/guild"
)

// Records is the persistence the level and layered strategies read.
// *store.PostgresStore implements it.
type Records interface {
	types.LevelStore
	types.ProfileStore
}

// components is the engine and the strategy state serve manages.
type components struct {
	engine   *access.Engine
	levels   *level.Resolver // nil without records
	profiles cache.Cache
}

// newCapabilities registers the capabilities the bot ships with.
func newCapabilities(cfg *config.Config) *capability.Registry {
	admins := slices.Clone(cfg.SystemAdmins)
	reg := capability.NewRegistry()
	reg.MustRegister(
		capability.NewSystemAdmin(admins),
		capability.New(command.CapabilityRateLimitBypass, func(a guild.Actor) bool {
			return slices.Contains(admins, a.UserID())
		}),
	)
	return reg
}

// newProfileCache builds the in-process cache, tiered over redis when
// redis_addr is set. The returned func releases the redis client.
func newProfileCache(cfg *config.Config) (cache.Cache, func() error) {
	local := cache.NewMemory(cfg.CacheSize, cfg.CacheTTL)
	if cfg.RedisAddr == "" {
		return local, func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	slog.Info("profile cache uses redis", "addr", cfg.RedisAddr)
	return cache.NewTiered(local, cache.NewRedis(client, cfg.CacheTTL)), client.Close
}

// newComponents wires the engine. Without records, guilds selecting the
// level or layered mode fail with STRATEGY_MISCONFIGURED.
func newComponents(cfg *config.Config, records Records, profiles cache.Cache) *components {
	reg := newCapabilities(cfg)
	logger := slog.Default()
	opts := []access.Option{
		access.WithSettings(cfg),
		access.WithLogger(logger),
	}

	c := &components{profiles: profiles}
	if records != nil {
		c.levels = level.New(records, reg,
			level.WithLogger(logger),
			level.WithRefreshInterval(cfg.LevelRefresh),
		)
		lr := c.levels
		opts = append(opts,
			access.WithResolverFactory(types.ModeLevel, func() (types.Resolver, error) {
				return lr, nil
			}),
			access.WithResolverFactory(types.ModeLayered, func() (types.Resolver, error) {
				return layered.New(records, reg,
					layered.WithCache(profiles),
					layered.WithLogger(logger),
				), nil
			}),
		)
	}
	c.engine = access.NewEngine(reg, opts...)
	return c
}

// invalidator drops cached profile resolutions.
type invalidator interface {
	InvalidateGuild(ctx context.Context, guildID string) error
}

// watchProfiles applies profile change notifications until changes closes.
// Global records and reconnects, which may have dropped notifications,
// purge the whole cache.
func watchProfiles(ctx context.Context, changes <-chan types.Change, inv invalidator, profiles cache.Cache) {
	for change := range changes {
		switch {
		case change.GuildID == "", change.Kind == types.ChangeProfiles && change.GuildID == guild.GlobalID:
			if err := profiles.Purge(ctx); err != nil {
				slog.WarnContext(ctx, "purge profile cache", "error", err)
			}
		case change.Kind == types.ChangeProfiles:
			if err := inv.InvalidateGuild(ctx, change.GuildID); err != nil {
				slog.WarnContext(ctx, "invalidate guild profiles", "guild_id", change.GuildID, "error", err)
			}
		}
	}
}
