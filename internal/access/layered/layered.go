// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package layered resolves permissions from prioritized profiles.
//
// A profile attaches to users and roles and may grant or deny native bits and
// capabilities. Profiles that apply to a member are applied in ascending
// priority; for any bit or capability the last profile to touch it wins.
// Results are cached per (guild, member).
package layered

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/singleflight"

	"github.com/bastionbot/bastion/internal/access/cache"
	"github.com/bastionbot/bastion/internal/access/capability"
	"github.com/bastionbot/bastion/internal/access/native"
	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/guild"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache replaces the default in-memory cache.
func WithCache(c cache.Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithClock overrides time.Now for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// Resolver is the layered profile strategy.
type Resolver struct {
	store  types.ProfileStore
	native *native.Resolver
	cache  cache.Cache
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// New creates a layered Resolver. Without WithCache it uses a Memory cache
// of cache.DefaultSize entries and cache.DefaultTTL.
func New(store types.ProfileStore, registry *capability.Registry, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = cache.NewMemory(cache.DefaultSize, cache.DefaultTTL)
	}
	r.native = native.New(registry, native.WithLogger(r.logger))
	return r
}

// Mode implements types.Resolver.
func (r *Resolver) Mode() types.Mode { return types.ModeLayered }

// GetPermissions implements types.Resolver. Bare users resolve through the
// native strategy and carry nil Profiles.
func (r *Resolver) GetPermissions(ctx context.Context, actor guild.Actor, requested ...string) (types.ResolvedSet, error) {
	m, ok := actor.AsMember()
	if !ok {
		return r.native.GetPermissions(ctx, actor, requested...)
	}
	return r.computePermissions(ctx, m)
}

// HasPermissions implements types.Resolver. Every named capability must be
// in the resolved set.
func (r *Resolver) HasPermissions(ctx context.Context, actor guild.Actor, required guild.Permissions, caps ...string) (bool, error) {
	m, ok := actor.AsMember()
	if !ok {
		return r.native.HasPermissions(ctx, actor, required, caps...)
	}
	set, err := r.computePermissions(ctx, m)
	if err != nil {
		return false, err
	}
	return set.Has(required, caps...), nil
}

// HasPermissionsOnMember implements types.Resolver.
func (r *Resolver) HasPermissionsOnMember(ctx context.Context, actor guild.Actor, target *guild.Member, required guild.Permissions) (bool, error) {
	if !types.Outranks(actor, target) {
		return false, nil
	}
	return r.HasPermissions(ctx, actor, required)
}

// HasPermissionsOnRole implements types.Resolver.
func (r *Resolver) HasPermissionsOnRole(ctx context.Context, actor guild.Actor, _ guild.Role, required guild.Permissions) (bool, error) {
	return r.HasPermissions(ctx, actor, required)
}

// HasPermissionsOnChannel implements types.Resolver.
func (r *Resolver) HasPermissionsOnChannel(ctx context.Context, actor guild.Actor, _ string, required guild.Permissions) (bool, error) {
	return r.HasPermissions(ctx, actor, required)
}

// InvalidateMember implements types.Invalidator.
func (r *Resolver) InvalidateMember(ctx context.Context, guildID, memberID string) error {
	return r.cache.Delete(ctx, cache.Key{GuildID: guildID, MemberID: memberID})
}

// InvalidateGuild implements types.Invalidator.
func (r *Resolver) InvalidateGuild(ctx context.Context, guildID string) error {
	return r.cache.DeleteGuild(ctx, guildID)
}

func (r *Resolver) computePermissions(ctx context.Context, m *guild.Member) (types.ResolvedSet, error) {
	key := cache.Key{GuildID: m.GuildID(), MemberID: m.UserID()}

	entry, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.WarnContext(ctx, "permission cache read failed", "key", key.String(), "error", err)
	}
	if ok {
		return r.fromEntry(entry), nil
	}

	ch := r.group.DoChan(key.String(), func() (any, error) {
		return r.load(ctx, key, m)
	})

	select {
	case <-ctx.Done():
		return types.ResolvedSet{}, oops.In("layered").Code(types.CodePersistenceFailed).
			With("guild_id", key.GuildID).With("member_id", key.MemberID).
			Wrapf(ctx.Err(), "context cancelled while resolving profiles")
	case res := <-ch:
		if res.Err != nil {
			// A shared call can fail because the caller that started it went
			// away; resolve on our own context instead of inheriting that.
			if res.Shared && isContextErr(res.Err) && ctx.Err() == nil {
				e, err := r.load(ctx, key, m)
				if err != nil {
					return types.ResolvedSet{}, err
				}
				return r.fromEntry(e), nil
			}
			return types.ResolvedSet{}, res.Err
		}
		//nolint:forcetypeassert // load always returns cache.Entry
		return r.fromEntry(res.Val.(cache.Entry)), nil
	}
}

// load runs the profile query, merges the result and populates the cache.
// Failures are never cached.
func (r *Resolver) load(ctx context.Context, key cache.Key, m *guild.Member) (cache.Entry, error) {
	start := time.Now()
	profiles, err := r.store.FindPermissionProfiles(ctx, key.GuildID, key.MemberID, m.RoleIDs())
	if err != nil {
		recordQuery(time.Since(start), false)
		return cache.Entry{}, oops.In("layered").Code(types.CodePersistenceFailed).
			With("guild_id", key.GuildID).With("member_id", key.MemberID).Wrap(err)
	}
	recordQuery(time.Since(start), true)

	entry := r.merge(m, profiles)
	if err := r.cache.Set(ctx, key, entry); err != nil {
		r.logger.WarnContext(ctx, "permission cache write failed", "key", key.String(), "error", err)
	}
	return entry, nil
}

// merge seeds the set from the member's native bitmask and passing
// capabilities, then applies each profile in order.
func (r *Resolver) merge(m *guild.Member, profiles []types.PermissionProfile) cache.Entry {
	registry := r.native.Registry()
	nativePerms := m.Permissions
	caps := registry.Passing(m)
	names := make([]string, 0, len(profiles))

	for _, p := range profiles {
		names = append(names, p.Name)
		nativePerms = (nativePerms | p.GrantedNative) &^ p.DeniedNative
		for _, grant := range p.GrantedCapabilities {
			caps.Add(registry.Resolve(grant)...)
		}
		for _, deny := range p.DeniedCapabilities {
			for _, c := range registry.Resolve(deny) {
				caps.Remove(c.Name())
			}
			caps.Remove(deny)
		}
	}

	return cache.Entry{
		Native:       nativePerms,
		Capabilities: caps.Names(),
		Profiles:     names,
		ResolvedAt:   r.now(),
	}
}

// fromEntry rebuilds a resolved set; capability names that are no longer
// registered are dropped.
func (r *Resolver) fromEntry(e cache.Entry) types.ResolvedSet {
	caps := capability.NewSet()
	for _, name := range e.Capabilities {
		if c, ok := r.native.Registry().Get(name); ok {
			caps.Add(c)
		}
	}
	profiles := e.Profiles
	if profiles == nil {
		profiles = []string{}
	}
	return types.ResolvedSet{
		Native:       e.Native,
		Capabilities: caps,
		Profiles:     profiles,
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
