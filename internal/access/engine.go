// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package access is the entry point of the permission engine.
//
// An Engine picks a strategy per guild from its SettingsProvider:
//   - native: the platform bitmask plus capability predicates
//   - level: integer ranks that accumulate grants from lower levels
//   - layered: prioritized profiles that grant and deny, last writer wins
//
// Actors without guild context always resolve through the native strategy.
// Errors are fail-closed: callers must treat a returned error as "unknown",
// never as "granted".
package access

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bastionbot/bastion/internal/access/capability"
	"github.com/bastionbot/bastion/internal/access/native"
	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/guild"
	"github.com/bastionbot/bastion/internal/logging"
)

var tracer = otel.Tracer("bastion/access")

// ModerationPermissions are the native permissions that make a member a
// moderator.
const ModerationPermissions = guild.PermissionAdministrator |
	guild.PermissionBanMembers |
	guild.PermissionKickMembers |
	guild.PermissionManageGuild |
	guild.PermissionModerateMembers |
	guild.PermissionManageMessages |
	guild.PermissionManageNicknames |
	guild.PermissionMuteMembers |
	guild.PermissionMoveMembers |
	guild.PermissionDeafenMembers

// AutoModerationBypass is the permission that exempts a member from
// automatic moderation unless the caller widens the check.
const AutoModerationBypass = guild.PermissionManageGuild

// ResolverFactory builds a strategy the first time a guild selects it.
type ResolverFactory func() (types.Resolver, error)

// Option configures an Engine.
type Option func(*Engine)

// WithSettings sets the per-guild settings source. Without it every guild
// resolves in native mode.
func WithSettings(p SettingsProvider) Option {
	return func(e *Engine) { e.settings = p }
}

// WithResolver installs a ready strategy for its mode.
func WithResolver(r types.Resolver) Option {
	return func(e *Engine) { e.resolvers[r.Mode()] = r }
}

// WithResolverFactory installs a lazily built strategy for mode.
func WithResolverFactory(mode types.Mode, f ResolverFactory) Option {
	return func(e *Engine) { e.factories[mode] = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine dispatches permission checks to the strategy each guild selects.
//
// Engine is safe for concurrent use.
type Engine struct {
	registry  *capability.Registry
	settings  SettingsProvider
	native    types.Resolver
	resolvers map[types.Mode]types.Resolver
	factories map[types.Mode]ResolverFactory
	logger    *slog.Logger
	mu        sync.RWMutex
}

// NewEngine creates an Engine over registry. The native strategy is always
// available; level and layered must be supplied with WithResolver or
// WithResolverFactory.
func NewEngine(registry *capability.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:  registry,
		settings:  StaticSettings(nil),
		resolvers: make(map[types.Mode]types.Resolver),
		factories: make(map[types.Mode]ResolverFactory),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if r, ok := e.resolvers[types.ModeNative]; ok {
		e.native = r
	} else {
		e.native = native.New(registry, native.WithLogger(e.logger))
		e.resolvers[types.ModeNative] = e.native
	}
	return e
}

// Registry returns the capability registry.
func (e *Engine) Registry() *capability.Registry { return e.registry }

// Settings returns the settings of guildID.
func (e *Engine) Settings(guildID string) GuildSettings {
	return e.settings.GuildSettings(guildID)
}

// ResolverFor returns the strategy that resolves actor.
func (e *Engine) ResolverFor(actor guild.Actor) (types.Resolver, error) {
	m, ok := actor.AsMember()
	if !ok {
		return e.native, nil
	}
	return e.resolver(e.settings.GuildSettings(m.GuildID()).Mode, m.GuildID())
}

func (e *Engine) resolver(mode types.Mode, guildID string) (types.Resolver, error) {
	e.mu.RLock()
	r, ok := e.resolvers[mode]
	e.mu.RUnlock()
	if ok {
		return r, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.resolvers[mode]; ok {
		return r, nil
	}
	factory, ok := e.factories[mode]
	if !ok {
		return nil, oops.In("access").Code(types.CodeStrategyMisconfigured).
			With("guild_id", guildID).With("mode", mode.String()).
			Errorf("no resolver for permission mode %s", mode)
	}
	r, err := factory()
	if err != nil {
		return nil, oops.In("access").Code(types.CodeStrategyMisconfigured).
			With("guild_id", guildID).With("mode", mode.String()).
			Wrapf(err, "build %s resolver", mode)
	}
	e.resolvers[mode] = r
	e.logger.Info("permission resolver created", "mode", mode.String(), "guild_id", guildID)
	return r, nil
}

// startSpan opens a span for a resolution and scopes the context for logs.
func (e *Engine) startSpan(ctx context.Context, name string, actor guild.Actor) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("access.user_id", actor.UserID())}
	if m, ok := actor.AsMember(); ok {
		attrs = append(attrs, attribute.String("access.guild_id", m.GuildID()))
		ctx = logging.WithGuild(ctx, m.GuildID(), m.UserID())
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (e *Engine) finish(ctx context.Context, span trace.Span, mode types.Mode, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.WarnContext(ctx, "permission resolution failed", "mode", mode.String(), "error", err)
	}
	span.SetAttributes(attribute.String("access.mode", mode.String()))
	span.End()
	recordResolution(mode, time.Since(start), err)
}

// GetPermissions resolves actor's permission set. When requested is
// non-empty only those capabilities are evaluated by predicate.
func (e *Engine) GetPermissions(ctx context.Context, actor guild.Actor, requested ...string) (types.ResolvedSet, error) {
	start := time.Now()
	ctx, span := e.startSpan(ctx, "access.get_permissions", actor)
	r, err := e.ResolverFor(actor)
	if err != nil {
		e.finish(ctx, span, types.ModeNative, start, err)
		return types.ResolvedSet{}, err
	}
	set, err := r.GetPermissions(ctx, actor, requested...)
	e.finish(ctx, span, r.Mode(), start, err)
	return set, err
}

// GetMemberPermissions resolves a guild member's permission set.
func (e *Engine) GetMemberPermissions(ctx context.Context, m *guild.Member) (types.ResolvedSet, error) {
	if m == nil {
		return types.ResolvedSet{}, oops.In("access").Code(types.CodeNotGuildMember).
			Errorf("member is required")
	}
	return e.GetPermissions(ctx, m)
}

// HasPermissions reports whether actor holds required (administrator
// implies all) and every named capability. Unknown capabilities deny.
func (e *Engine) HasPermissions(ctx context.Context, actor guild.Actor, required guild.Permissions, caps ...string) (bool, error) {
	start := time.Now()
	ctx, span := e.startSpan(ctx, "access.has_permissions", actor)
	r, err := e.ResolverFor(actor)
	if err != nil {
		e.finish(ctx, span, types.ModeNative, start, err)
		return false, err
	}
	ok, err := r.HasPermissions(ctx, actor, required, caps...)
	span.SetAttributes(attribute.Bool("access.allowed", ok && err == nil))
	e.finish(ctx, span, r.Mode(), start, err)
	return ok && err == nil, err
}

// HasPermissionNames is HasPermissions over a mixed list of native
// permission and capability names.
func (e *Engine) HasPermissionNames(ctx context.Context, actor guild.Actor, names ...string) (bool, error) {
	required, caps := types.SplitRequirement(names)
	return e.HasPermissions(ctx, actor, required, caps...)
}

// HasPermissionsOnMember additionally requires actor to outrank target.
func (e *Engine) HasPermissionsOnMember(ctx context.Context, actor guild.Actor, target *guild.Member, required guild.Permissions) (bool, error) {
	r, err := e.ResolverFor(actor)
	if err != nil {
		return false, err
	}
	return r.HasPermissionsOnMember(ctx, actor, target, required)
}

// HasPermissionsOnRole checks required for an action on role.
func (e *Engine) HasPermissionsOnRole(ctx context.Context, actor guild.Actor, role guild.Role, required guild.Permissions) (bool, error) {
	r, err := e.ResolverFor(actor)
	if err != nil {
		return false, err
	}
	return r.HasPermissionsOnRole(ctx, actor, role, required)
}

// HasPermissionsOnChannel checks required for an action in channelID.
func (e *Engine) HasPermissionsOnChannel(ctx context.Context, actor guild.Actor, channelID string, required guild.Permissions) (bool, error) {
	r, err := e.ResolverFor(actor)
	if err != nil {
		return false, err
	}
	return r.HasPermissionsOnChannel(ctx, actor, channelID, required)
}

// IsSystemAdmin reports whether actor holds the system.admin capability,
// either through its predicate or, outside native mode, through a grant.
// Resolution failures count as false.
func (e *Engine) IsSystemAdmin(ctx context.Context, actor guild.Actor) bool {
	if c, ok := e.registry.Get(capability.SystemAdmin); ok && c.Check(actor) {
		return true
	}
	r, err := e.ResolverFor(actor)
	if err != nil || r.Mode() == types.ModeNative {
		return false
	}
	set, err := r.GetPermissions(ctx, actor, capability.SystemAdmin)
	if err != nil {
		e.logger.WarnContext(ctx, "system admin check failed", "user_id", actor.UserID(), "error", err)
		return false
	}
	return set.Capabilities.Has(capability.SystemAdmin)
}

// CanBypassGuildRestrictions reports whether m owns the guild or holds
// Administrator natively.
func (e *Engine) CanBypassGuildRestrictions(m *guild.Member) bool {
	return m.IsOwner() || m.Permissions.Has(guild.PermissionAdministrator, false)
}

// CanBypassAutoModeration reports whether automatic moderation should skip
// m: it can bypass guild restrictions, or its resolved permissions include
// AutoModerationBypass or any bit of extra.
func (e *Engine) CanBypassAutoModeration(ctx context.Context, m *guild.Member, extra ...guild.Permissions) (bool, error) {
	if e.CanBypassGuildRestrictions(m) {
		return true, nil
	}
	accepted := AutoModerationBypass
	for _, p := range extra {
		accepted |= p
	}
	set, err := e.GetPermissions(ctx, m)
	if err != nil {
		return false, err
	}
	return set.Native.Any(accepted, true), nil
}

// IsModerator reports whether m's resolved permissions include any of
// ModerationPermissions.
func (e *Engine) IsModerator(ctx context.Context, m *guild.Member) (bool, error) {
	set, err := e.GetPermissions(ctx, m)
	if err != nil {
		return false, err
	}
	return set.Native.Any(ModerationPermissions, false), nil
}

// InvalidateMember drops derived state for one member in every strategy
// that keeps any.
func (e *Engine) InvalidateMember(ctx context.Context, guildID, memberID string) error {
	var errs []error
	for _, inv := range e.invalidators() {
		if err := inv.InvalidateMember(ctx, guildID, memberID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InvalidateGuild drops derived state for a guild in every strategy that
// keeps any.
func (e *Engine) InvalidateGuild(ctx context.Context, guildID string) error {
	var errs []error
	for _, inv := range e.invalidators() {
		if err := inv.InvalidateGuild(ctx, guildID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) invalidators() []types.Invalidator {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []types.Invalidator
	for _, r := range e.resolvers {
		if inv, ok := r.(types.Invalidator); ok {
			out = append(out, inv)
		}
	}
	return out
}
