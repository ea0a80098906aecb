// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package native resolves permissions from the platform's role-derived
// bitmask, augmented by capability predicates. The level and layered
// strategies fall back to it for actors without guild context.
package native

import (
	"context"
	"log/slog"

	"github.com/bastionbot/bastion/internal/access/capability"
	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/guild"
)

// Resolver is the native-permission strategy.
type Resolver struct {
	registry *capability.Registry
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for capability lookups.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a native Resolver reading capabilities from registry.
func New(registry *capability.Registry, opts ...Option) *Resolver {
	r := &Resolver{registry: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the capability registry the resolver reads.
func (r *Resolver) Registry() *capability.Registry { return r.registry }

// Mode implements types.Resolver.
func (r *Resolver) Mode() types.Mode { return types.ModeNative }

// GetPermissions implements types.Resolver. Bare users resolve to the zero
// bitmask.
func (r *Resolver) GetPermissions(_ context.Context, actor guild.Actor, requested ...string) (types.ResolvedSet, error) {
	return types.ResolvedSet{
		Native:       Bitmask(actor),
		Capabilities: r.registry.Passing(actor, requested...),
	}, nil
}

// HasPermissions implements types.Resolver.
func (r *Resolver) HasPermissions(ctx context.Context, actor guild.Actor, native guild.Permissions, caps ...string) (bool, error) {
	if !Bitmask(actor).Has(native, true) {
		return false, nil
	}
	return r.CheckCapabilities(ctx, actor, nil, caps...), nil
}

// HasPermissionsOnMember implements types.Resolver.
func (r *Resolver) HasPermissionsOnMember(ctx context.Context, actor guild.Actor, target *guild.Member, native guild.Permissions) (bool, error) {
	if !types.Outranks(actor, target) {
		return false, nil
	}
	return r.HasPermissions(ctx, actor, native)
}

// HasPermissionsOnRole implements types.Resolver.
func (r *Resolver) HasPermissionsOnRole(ctx context.Context, actor guild.Actor, _ guild.Role, native guild.Permissions) (bool, error) {
	return r.HasPermissions(ctx, actor, native)
}

// HasPermissionsOnChannel implements types.Resolver.
func (r *Resolver) HasPermissionsOnChannel(ctx context.Context, actor guild.Actor, _ string, native guild.Permissions) (bool, error) {
	return r.HasPermissions(ctx, actor, native)
}

// CheckCapabilities reports whether every named capability is either in
// granted or registered with a predicate that passes for actor. Unknown
// names deny.
func (r *Resolver) CheckCapabilities(ctx context.Context, actor guild.Actor, granted capability.Set, names ...string) bool {
	for _, name := range names {
		if granted.Has(name) {
			continue
		}
		c, ok := r.registry.Get(name)
		if !ok {
			r.logger.DebugContext(ctx, "capability not registered", "capability", name)
			return false
		}
		if !c.Check(actor) {
			return false
		}
	}
	return true
}

// Bitmask returns the actor's native bitmask, zero for bare users.
func Bitmask(actor guild.Actor) guild.Permissions {
	if m, ok := actor.AsMember(); ok {
		return m.Permissions
	}
	return 0
}
