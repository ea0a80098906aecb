// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package access

import (
	"slices"

	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/guild"
)

// PositionCheck controls whether CanModerate compares role positions.
type PositionCheck string

// PositionCheck values. The empty value behaves like PositionCheckAlways.
const (
	PositionCheckAlways        PositionCheck = "always"
	PositionCheckManualActions PositionCheck = "during_manual_actions"
	PositionCheckNever         PositionCheck = "never"
)

// GuildSettings is the permission configuration of one guild.
type GuildSettings struct {
	Mode            types.Mode
	InvincibleUsers []string
	InvincibleRoles []string
	PositionCheck   PositionCheck
}

// IsInvincible reports whether m is exempt from moderation by user id or
// by holding an invincible role.
func (s GuildSettings) IsInvincible(m *guild.Member) bool {
	if slices.Contains(s.InvincibleUsers, m.UserID()) {
		return true
	}
	return slices.ContainsFunc(s.InvincibleRoles, m.HasRole)
}

func (s GuildSettings) checksPositions() bool {
	return s.PositionCheck != PositionCheckNever
}

// SettingsProvider returns the settings of a guild. Guilds without explicit
// configuration get the zero GuildSettings, which selects native mode.
type SettingsProvider interface {
	GuildSettings(guildID string) GuildSettings
}

// StaticSettings is a SettingsProvider backed by a map.
type StaticSettings map[string]GuildSettings

// GuildSettings implements SettingsProvider.
func (s StaticSettings) GuildSettings(guildID string) GuildSettings {
	return s[guildID]
}
