// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package level

import (
	"time"

	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/guild"
)

type scope uint8

const (
	scopeRole scope = iota
	scopeUser
)

type key struct {
	guildID string
	scope   scope
	id      string
}

// assignment is the merged view of every level record naming one role or
// user in one guild.
type assignment struct {
	level   int
	granted guild.Permissions
	caps    []string
}

// table is an immutable snapshot built by Sync. Readers never observe a
// partially built table.
type table struct {
	assignments map[key]assignment
	// roleLevels holds, per guild id, the records that name at least one role.
	roleLevels map[string][]types.PermissionLevel
	records    int
	syncedAt   time.Time
}

func buildTable(levels []types.PermissionLevel, now time.Time) *table {
	t := &table{
		assignments: make(map[key]assignment),
		roleLevels:  make(map[string][]types.PermissionLevel),
		syncedAt:    now,
	}
	for _, l := range levels {
		if l.Disabled || l.Level < 0 {
			continue
		}
		t.records++
		for _, id := range l.Roles {
			t.merge(key{guildID: l.GuildID, scope: scopeRole, id: id}, l)
		}
		for _, id := range l.Users {
			t.merge(key{guildID: l.GuildID, scope: scopeUser, id: id}, l)
		}
		if len(l.Roles) > 0 {
			t.roleLevels[l.GuildID] = append(t.roleLevels[l.GuildID], l)
		}
	}
	return t
}

func (t *table) merge(k key, l types.PermissionLevel) {
	a, ok := t.assignments[k]
	if !ok || l.Level > a.level {
		a.level = l.Level
	}
	a.granted |= l.Granted
	a.caps = append(a.caps, l.GrantedCapabilities...)
	t.assignments[k] = a
}

func (t *table) lookup(guildID string, s scope, id string) (assignment, bool) {
	a, ok := t.assignments[key{guildID: guildID, scope: s, id: id}]
	return a, ok
}

// memberLevel is max(user level, role levels) across the member's guild and
// the global scope, defaulting to 0.
func (t *table) memberLevel(m *guild.Member) int {
	level := 0
	for _, gid := range scopes(m.GuildID()) {
		if a, ok := t.lookup(gid, scopeUser, m.UserID()); ok && a.level > level {
			level = a.level
		}
		for _, r := range m.Roles {
			if a, ok := t.lookup(gid, scopeRole, r.ID); ok && a.level > level {
				level = a.level
			}
		}
	}
	return level
}

// grants folds the role-scoped records at or below level and the member's
// own user-scoped grant.
func (t *table) grants(m *guild.Member, level int) (guild.Permissions, []string) {
	var perms guild.Permissions
	var caps []string
	for _, gid := range scopes(m.GuildID()) {
		for _, l := range t.roleLevels[gid] {
			if l.Level <= level {
				perms |= l.Granted
				caps = append(caps, l.GrantedCapabilities...)
			}
		}
		if a, ok := t.lookup(gid, scopeUser, m.UserID()); ok {
			perms |= a.granted
			caps = append(caps, a.caps...)
		}
	}
	return perms, caps
}

func scopes(guildID string) []string {
	if guildID == guild.GlobalID {
		return []string{guildID}
	}
	return []string{guildID, guild.GlobalID}
}
