// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package access

import (
	"context"

	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/guild"
)

type moderationOptions struct {
	allowSelf bool
}

// ModerationOption adjusts CanModerate.
type ModerationOption func(*moderationOptions)

// AllowSelf lets a moderator act on themselves.
func AllowSelf() ModerationOption {
	return func(o *moderationOptions) { o.allowSelf = true }
}

// CanModerate reports whether moderator may take a moderation action
// against target. Checks run in order:
//  1. acting on oneself is refused unless AllowSelf or a system admin
//  2. system admins may moderate anyone
//  3. the owner cannot be moderated and may moderate anyone else
//  4. invincible users and roles cannot be moderated
//  5. unless the guild disables it, target must sit below moderator
//  6. strategies implementing types.Moderator get the final word
func (e *Engine) CanModerate(ctx context.Context, target, moderator *guild.Member, opts ...ModerationOption) (bool, error) {
	var o moderationOptions
	for _, opt := range opts {
		opt(&o)
	}

	sysAdmin := e.IsSystemAdmin(ctx, moderator)
	if target.UserID() == moderator.UserID() && !sysAdmin && !o.allowSelf {
		return false, nil
	}
	if sysAdmin {
		return true, nil
	}
	if target.IsOwner() {
		return false, nil
	}
	if moderator.IsOwner() {
		return true, nil
	}

	settings := e.settings.GuildSettings(target.GuildID())
	if settings.IsInvincible(target) {
		return false, nil
	}
	if settings.checksPositions() && target.HighestRolePosition() >= moderator.HighestRolePosition() {
		return false, nil
	}

	r, err := e.ResolverFor(target)
	if err != nil {
		return false, err
	}
	if mod, ok := r.(types.Moderator); ok {
		return mod.CanModerate(ctx, target, moderator)
	}
	return true, nil
}

// CanAutoModerate reports whether automatic moderation may act on m.
// System admins, the owner, invincible members and members that bypass
// auto-moderation are exempt.
func (e *Engine) CanAutoModerate(ctx context.Context, m *guild.Member) (bool, error) {
	if e.IsSystemAdmin(ctx, m) || m.IsOwner() {
		return false, nil
	}
	if e.settings.GuildSettings(m.GuildID()).IsInvincible(m) {
		return false, nil
	}
	bypass, err := e.CanBypassAutoModeration(ctx, m)
	if err != nil {
		return false, err
	}
	return !bypass, nil
}
