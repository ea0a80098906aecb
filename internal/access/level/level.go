// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package level resolves permissions from an integer level hierarchy.
//
// Every role and user may be assigned a level with a set of granted
// permissions. A member's level is the highest level assigned to the member
// or any of its roles. Its permissions are the member's native bitmask plus
// the grants of every role-scoped level at or below its own, plus grants made
// to the member's user id directly.
//
// Level records are read into an in-memory table by Sync, which runs lazily
// on first use and may be re-run manually, on a timer, or on change
// notifications (see Start).
package level

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/bastionbot/bastion/internal/access/capability"
	"github.com/bastionbot/bastion/internal/access/native"
	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/guild"
	"github.com/bastionbot/bastion/pkg/errutil"
)

// MaxLevel is the level reported for guild owners and system administrators.
const MaxLevel = 100

// MemberPermissions is the level strategy's view of a member.
type MemberPermissions struct {
	Level       int
	Permissions guild.Permissions
	// Capabilities lists capability grants, possibly patterns, from the
	// applicable level records.
	Capabilities []string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithRefreshInterval enables periodic re-sync while Start is running.
// Zero disables the timer.
func WithRefreshInterval(d time.Duration) Option {
	return func(r *Resolver) { r.refreshInterval = d }
}

// WithClock overrides time.Now for sync timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// Resolver is the level strategy.
type Resolver struct {
	store           types.LevelStore
	native          *native.Resolver
	logger          *slog.Logger
	refreshInterval time.Duration
	now             func() time.Time

	tbl    atomic.Pointer[table]
	syncMu sync.Mutex

	// wg tracks background goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a level Resolver reading records from store.
func New(store types.LevelStore, registry *capability.Registry, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.native = native.New(registry, native.WithLogger(r.logger))
	return r
}

// Mode implements types.Resolver.
func (r *Resolver) Mode() types.Mode { return types.ModeLevel }

// Sync reads every level record and atomically replaces the lookup table.
// On failure the previous table stays in place.
func (r *Resolver) Sync(ctx context.Context) error {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()
	return r.syncLocked(ctx)
}

func (r *Resolver) syncLocked(ctx context.Context) error {
	start := time.Now()
	levels, err := r.store.FindPermissionLevels(ctx, nil)
	if err != nil {
		recordSync(time.Since(start), false, 0)
		return oops.In("level").Code(types.CodeLevelSyncFailed).Wrap(err)
	}

	t := buildTable(levels, r.now())
	r.tbl.Store(t)
	recordSync(time.Since(start), true, t.records)

	r.logger.InfoContext(ctx, "synchronized permission levels",
		"records", t.records,
		"assignments", len(t.assignments))
	return nil
}

// SyncWithRetry runs Sync with exponential backoff, giving up after
// maxRetries additional attempts or when ctx ends.
func (r *Resolver) SyncWithRetry(ctx context.Context, base time.Duration, maxRetries uint64) error {
	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(base))
	//nolint:wrapcheck // Sync errors are already coded
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := r.Sync(ctx); err != nil {
			r.logger.WarnContext(ctx, "permission level sync failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

// Synced reports whether a table has been loaded.
func (r *Resolver) Synced() bool { return r.tbl.Load() != nil }

// LastSync returns when the current table was built, or the zero time.
func (r *Resolver) LastSync() time.Time {
	if t := r.tbl.Load(); t != nil {
		return t.syncedAt
	}
	return time.Time{}
}

// snapshot returns the current table, running the one-time lazy sync when
// none has been loaded. A failed lazy sync is retried on the next call.
func (r *Resolver) snapshot(ctx context.Context) (*table, error) {
	if t := r.tbl.Load(); t != nil {
		return t, nil
	}

	r.syncMu.Lock()
	defer r.syncMu.Unlock()
	if t := r.tbl.Load(); t != nil {
		return t, nil
	}
	if err := r.syncLocked(ctx); err != nil {
		return nil, err
	}
	return r.tbl.Load(), nil
}

func (r *Resolver) isSystemAdmin(actor guild.Actor) bool {
	c, ok := r.native.Registry().Get(capability.SystemAdmin)
	return ok && c.Check(actor)
}

// GetPermissionLevel returns the member's effective level.
func (r *Resolver) GetPermissionLevel(ctx context.Context, m *guild.Member) (int, error) {
	t, err := r.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return r.levelOf(t, m), nil
}

func (r *Resolver) levelOf(t *table, m *guild.Member) int {
	if m.IsOwner() || r.isSystemAdmin(m) {
		return MaxLevel
	}
	return t.memberLevel(m)
}

// GetMemberPermissions returns the member's level and accumulated grants.
func (r *Resolver) GetMemberPermissions(ctx context.Context, m *guild.Member) (MemberPermissions, error) {
	t, err := r.snapshot(ctx)
	if err != nil {
		return MemberPermissions{}, err
	}
	level := r.levelOf(t, m)
	granted, caps := t.grants(m, level)
	return MemberPermissions{
		Level:        level,
		Permissions:  m.Permissions | granted,
		Capabilities: caps,
	}, nil
}

// GetPermissions implements types.Resolver.
func (r *Resolver) GetPermissions(ctx context.Context, actor guild.Actor, requested ...string) (types.ResolvedSet, error) {
	m, ok := actor.AsMember()
	if !ok {
		return r.native.GetPermissions(ctx, actor, requested...)
	}
	mp, err := r.GetMemberPermissions(ctx, m)
	if err != nil {
		return types.ResolvedSet{}, err
	}

	caps := r.native.Registry().Passing(actor, requested...)
	caps.Add(r.resolveGrants(mp.Capabilities)...)
	level := mp.Level
	return types.ResolvedSet{
		Native:       mp.Permissions,
		Capabilities: caps,
		Level:        &level,
	}, nil
}

// HasPermissions implements types.Resolver.
func (r *Resolver) HasPermissions(ctx context.Context, actor guild.Actor, required guild.Permissions, caps ...string) (bool, error) {
	m, ok := actor.AsMember()
	if !ok {
		return r.native.HasPermissions(ctx, actor, required, caps...)
	}
	mp, err := r.GetMemberPermissions(ctx, m)
	if err != nil {
		return false, err
	}
	if !mp.Permissions.Has(required, true) {
		return false, nil
	}
	granted := capability.NewSet(r.resolveGrants(mp.Capabilities)...)
	return r.native.CheckCapabilities(ctx, actor, granted, caps...), nil
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

// CanModerate implements types.Moderator: the moderator's level must be
// strictly above the target's.
func (r *Resolver) CanModerate(ctx context.Context, target, moderator *guild.Member) (bool, error) {
	t, err := r.snapshot(ctx)
	if err != nil {
		return false, err
	}
	return r.levelOf(t, moderator) > r.levelOf(t, target), nil
}

// InvalidateGuild implements types.Invalidator. The table holds level
// records only, so there is nothing to drop; record changes reach it
// through Sync and the Start loop.
func (r *Resolver) InvalidateGuild(context.Context, string) error { return nil }

// InvalidateMember implements types.Invalidator. See InvalidateGuild.
func (r *Resolver) InvalidateMember(context.Context, string, string) error { return nil }

func (r *Resolver) resolveGrants(names []string) []capability.Capability {
	var out []capability.Capability
	for _, name := range names {
		out = append(out, r.native.Registry().Resolve(name)...)
	}
	return out
}

// Start spawns the background refresher. It re-syncs every refresh interval
// (when configured) and on level change notifications from listener, which
// may be nil. The goroutine exits when ctx is cancelled.
func (r *Resolver) Start(ctx context.Context, listener types.Listener) error {
	var changes <-chan types.Change
	if listener != nil {
		ch, err := listener.Listen(ctx)
		if err != nil {
			return oops.In("level").Code(types.CodeLevelSyncFailed).With("operation", "listen").Wrap(err)
		}
		changes = ch
	}

	if changes == nil && r.refreshInterval <= 0 {
		return nil
	}

	r.wg.Add(1)
	go r.refreshLoop(ctx, changes)
	return nil
}

// Wait blocks until background goroutines have exited.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

func (r *Resolver) refreshLoop(ctx context.Context, changes <-chan types.Change) {
	defer r.wg.Done()

	var tick <-chan time.Time
	if r.refreshInterval > 0 {
		ticker := time.NewTicker(r.refreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			r.resync(ctx, "interval")
		case c, ok := <-changes:
			if !ok {
				changes = nil
				if tick == nil {
					return
				}
				continue
			}
			if c.Kind == types.ChangeLevels {
				r.resync(ctx, "notification")
			}
		}
	}
}

func (r *Resolver) resync(ctx context.Context, trigger string) {
	if err := r.Sync(ctx); err != nil && ctx.Err() == nil {
		errutil.LogError(ctx, r.logger.With("trigger", trigger), "permission level refresh failed", err)
	}
}
