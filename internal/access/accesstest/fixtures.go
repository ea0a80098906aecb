// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package accesstest

import "github.com/bastionbot/bastion/internal/guild"

// Fixture ids used across engine tests.
const (
	GuildID     = "100000000000000001"
	OwnerID     = "200000000000000001"
	UserID      = "200000000000000002"
	OtherUserID = "200000000000000003"
	ModRoleID   = "300000000000000001"
	AdminRoleID = "300000000000000002"
)

// Scenario is a guild with a Moderator role (BanMembers, KickMembers), an
// Admin role (Administrator) and an @everyone role (SendMessages) whose id
// equals the guild id.
type Scenario struct {
	Guild     guild.Guild
	Moderator guild.Role
	Admin     guild.Role
	Everyone  guild.Role
}

// NewScenario builds the standard fixture guild.
func NewScenario() Scenario {
	return Scenario{
		Guild: guild.Guild{ID: GuildID, Name: "Test Guild", OwnerID: OwnerID},
		Moderator: guild.Role{
			ID: ModRoleID, Name: "Moderator", Position: 0,
			Permissions: guild.PermissionBanMembers | guild.PermissionKickMembers,
		},
		Admin: guild.Role{
			ID: AdminRoleID, Name: "Admin", Position: 1,
			Permissions: guild.PermissionAdministrator,
		},
		Everyone: guild.Role{
			ID: GuildID, Name: "@everyone", Position: 2,
			Permissions: guild.PermissionSendMessages,
		},
	}
}

// Member returns a member of the scenario guild holding roles. The native
// bitmask is derived the way the platform derives it.
func (s Scenario) Member(userID string, roles ...guild.Role) *guild.Member {
	return NewMember(s.Guild, userID, roles...)
}

// Normal holds only @everyone.
func (s Scenario) Normal() *guild.Member { return s.Member(UserID, s.Everyone) }

// Mod holds Moderator and @everyone.
func (s Scenario) Mod() *guild.Member { return s.Member(UserID, s.Moderator, s.Everyone) }

// AdminMod holds Admin, Moderator and @everyone.
func (s Scenario) AdminMod() *guild.Member {
	return s.Member(UserID, s.Admin, s.Moderator, s.Everyone)
}

// AdminOnly holds Admin and @everyone.
func (s Scenario) AdminOnly() *guild.Member { return s.Member(UserID, s.Admin, s.Everyone) }

// Owner is the guild owner with only @everyone.
func (s Scenario) Owner() *guild.Member { return s.Member(OwnerID, s.Everyone) }

// NewMember builds a member of g with a platform-derived bitmask.
func NewMember(g guild.Guild, userID string, roles ...guild.Role) *guild.Member {
	return &guild.Member{
		Guild:       g,
		User:        guild.User{ID: userID, Username: "user-" + userID},
		Roles:       roles,
		Permissions: guild.ComputePermissions(g, userID, roles),
	}
}

// RankedMember builds a member whose single role sits at position.
func RankedMember(g guild.Guild, userID string, position int, perms guild.Permissions) *guild.Member {
	return NewMember(g, userID, guild.Role{ID: "role-" + userID, Name: "rank", Position: position, Permissions: perms})
}
