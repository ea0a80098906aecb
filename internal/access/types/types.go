// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package types defines the contract shared by the permission strategies:
// the resolved permission set, the resolver interface, persistence records
// and the error codes every strategy reports.
package types

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/bastionbot/bastion/internal/access/capability"
	"github.com/bastionbot/bastion/internal/guild"
)

// Error codes shared by the strategies and the engine facade.
const (
	CodeStrategyMisconfigured = "STRATEGY_MISCONFIGURED"
	CodePersistenceFailed     = "PERSISTENCE_FAILED"
	CodeLevelSyncFailed       = "LEVEL_SYNC_FAILED"
	CodeNotGuildMember        = "NOT_GUILD_MEMBER"
	CodeInvalidMode           = "INVALID_MODE"
)

// Mode selects the strategy a guild resolves permissions with.
type Mode int

// Mode constants. ModeNative is the zero value and the default.
const (
	ModeNative Mode = iota
	ModeLevel
	ModeLayered
)

var modeStrings = [...]string{
	"native",
	"level",
	"layered",
}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeStrings) {
		return modeStrings[m]
	}
	return fmt.Sprintf("unknown(%d)", int(m))
}

// ParseMode parses a configured mode name. "discord" and "levels" are
// accepted as aliases of native and level.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "native", "discord":
		return ModeNative, nil
	case "level", "levels":
		return ModeLevel, nil
	case "layered":
		return ModeLayered, nil
	default:
		return 0, oops.In("access").Code(CodeInvalidMode).With("mode", s).
			Errorf("unknown permission mode %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ResolvedSet is the outcome of resolving an actor's permissions.
type ResolvedSet struct {
	Native       guild.Permissions
	Capabilities capability.Set
	// Profiles is nil when the actor has no guild context or the strategy
	// does not use profiles.
	Profiles []string
	// Level is set by the level strategy only.
	Level *int
}

// Has reports whether the set satisfies the native requirement (administrator
// implies all) and contains every named capability.
func (s ResolvedSet) Has(native guild.Permissions, caps ...string) bool {
	if !s.Native.Has(native, true) {
		return false
	}
	for _, name := range caps {
		if !s.Capabilities.Has(name) {
			return false
		}
	}
	return true
}

// Resolver is implemented by each permission strategy.
type Resolver interface {
	// Mode identifies the strategy.
	Mode() Mode
	// GetPermissions resolves the actor's permission set. When requested is
	// non-empty only those capabilities are evaluated by predicate.
	GetPermissions(ctx context.Context, actor guild.Actor, requested ...string) (ResolvedSet, error)
	// HasPermissions reports whether the actor satisfies the native
	// requirement and every named capability. Unknown capabilities deny.
	HasPermissions(ctx context.Context, actor guild.Actor, native guild.Permissions, caps ...string) (bool, error)
	// HasPermissionsOnMember additionally requires the actor to outrank target.
	HasPermissionsOnMember(ctx context.Context, actor guild.Actor, target *guild.Member, native guild.Permissions) (bool, error)
	// HasPermissionsOnRole checks permissions for an action on role.
	HasPermissionsOnRole(ctx context.Context, actor guild.Actor, role guild.Role, native guild.Permissions) (bool, error)
	// HasPermissionsOnChannel checks permissions for an action in a channel.
	HasPermissionsOnChannel(ctx context.Context, actor guild.Actor, channelID string, native guild.Permissions) (bool, error)
}

// Moderator is implemented by strategies that narrow moderation beyond role
// positions.
type Moderator interface {
	CanModerate(ctx context.Context, target, moderator *guild.Member) (bool, error)
}

// Invalidator is implemented by strategies that keep derived state.
type Invalidator interface {
	InvalidateMember(ctx context.Context, guildID, memberID string) error
	InvalidateGuild(ctx context.Context, guildID string) error
}

// Outranks reports whether actor's highest role is strictly above target's.
// Bare users outrank nobody.
func Outranks(actor guild.Actor, target *guild.Member) bool {
	m, ok := actor.AsMember()
	if !ok || target == nil {
		return false
	}
	return m.HighestRolePosition() > target.HighestRolePosition()
}

// SplitRequirement separates native permission names from capability names.
func SplitRequirement(names []string) (guild.Permissions, []string) {
	var native guild.Permissions
	var caps []string
	for _, name := range names {
		if bit, ok := guild.ParsePermission(name); ok {
			native |= bit
			continue
		}
		caps = append(caps, name)
	}
	return native, caps
}

// PermissionLevel is a persisted level assignment.
type PermissionLevel struct {
	ID                  string
	GuildID             string
	Level               int
	Roles               []string
	Users               []string
	Granted             guild.Permissions
	GrantedCapabilities []string
	Disabled            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PermissionProfile is a persisted, prioritized grant/deny bundle.
type PermissionProfile struct {
	ID                  string
	GuildID             string
	Name                string
	Priority            int
	Disabled            bool
	Users               []string
	Roles               []string
	GrantedNative       guild.Permissions
	DeniedNative        guild.Permissions
	GrantedCapabilities []string
	DeniedCapabilities  []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// LevelStore reads level records. A nil guildID returns every guild.
type LevelStore interface {
	FindPermissionLevels(ctx context.Context, guildID *string) ([]PermissionLevel, error)
}

// ProfileStore reads the enabled profiles that apply to a member, ordered by
// ascending priority.
type ProfileStore interface {
	FindPermissionProfiles(ctx context.Context, guildID, memberID string, roleIDs []string) ([]PermissionProfile, error)
}

// ChangeKind names the record family a change notification refers to.
type ChangeKind string

// ChangeKind values.
const (
	ChangeLevels   ChangeKind = "levels"
	ChangeProfiles ChangeKind = "profiles"
)

// Change is emitted by a Listener when permission records are mutated.
type Change struct {
	Kind    ChangeKind
	GuildID string
}

// Listener delivers record change notifications. The channel closes when
// ctx is cancelled.
type Listener interface {
	Listen(ctx context.Context) (<-chan Change, error)
}
