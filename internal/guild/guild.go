// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package guild models the platform objects the permission engine reads:
// users, guilds, roles, members, and native permission bitmasks.
//
// Values in this package are borrowed from the platform client and are never
// mutated by the engine.
package guild

import "github.com/samber/oops"

// GlobalID is the guild id used by records that apply to every guild.
const GlobalID = "0"

// CodeMemberNotFound is returned by member lookups for unknown members.
const CodeMemberNotFound = "MEMBER_NOT_FOUND"

// ErrMemberNotFound reports that userID is not a member of guildID, or that
// either is unknown to the platform.
func ErrMemberNotFound(guildID, userID string) error {
	return oops.In("guild").
		Code(CodeMemberNotFound).
		With("guild_id", guildID).
		With("user_id", userID).
		Errorf("member not found")
}

// Actor is either a bare User or a guild *Member.
type Actor interface {
	// UserID returns the platform user id of the actor.
	UserID() string
	// AsMember returns the member view when the actor has guild context.
	AsMember() (*Member, bool)
}

// User is a platform identity with no guild context.
type User struct {
	ID       string
	Username string
	Bot      bool
}

// UserID implements Actor.
func (u User) UserID() string { return u.ID }

// AsMember implements Actor. A bare user is never a member.
func (u User) AsMember() (*Member, bool) { return nil, false }

// Guild is the community container that scopes roles and members.
type Guild struct {
	ID      string
	Name    string
	OwnerID string
}

// Role is a guild role with its relative position.
type Role struct {
	ID          string
	Name        string
	Position    int
	Permissions Permissions
}

// Member is a user inside a guild. Permissions is the native bitmask the
// platform derived from Roles.
type Member struct {
	Guild       Guild
	User        User
	Nick        string
	Roles       []Role
	Permissions Permissions
}

// UserID implements Actor.
func (m *Member) UserID() string { return m.User.ID }

// AsMember implements Actor.
func (m *Member) AsMember() (*Member, bool) { return m, m != nil }

// GuildID returns the id of the member's guild.
func (m *Member) GuildID() string { return m.Guild.ID }

// IsOwner reports whether the member owns its guild.
func (m *Member) IsOwner() bool {
	return m.Guild.OwnerID != "" && m.Guild.OwnerID == m.User.ID
}

// RoleIDs returns the ids of the member's roles in declaration order.
func (m *Member) RoleIDs() []string {
	ids := make([]string, len(m.Roles))
	for i, r := range m.Roles {
		ids[i] = r.ID
	}
	return ids
}

// HasRole reports whether the member holds the role with the given id.
func (m *Member) HasRole(id string) bool {
	for _, r := range m.Roles {
		if r.ID == id {
			return true
		}
	}
	return false
}

// HighestRolePosition returns the greatest position among the member's roles,
// or 0 when the member has none.
func (m *Member) HighestRolePosition() int {
	highest := 0
	for i, r := range m.Roles {
		if i == 0 || r.Position > highest {
			highest = r.Position
		}
	}
	return highest
}

// ComputePermissions folds role bitmasks into a member bitmask. The guild
// owner receives AllPermissions.
func ComputePermissions(g Guild, userID string, roles []Role) Permissions {
	if g.OwnerID != "" && g.OwnerID == userID {
		return AllPermissions
	}
	var p Permissions
	for _, r := range roles {
		p |= r.Permissions
	}
	return p
}
