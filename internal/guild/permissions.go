// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package guild

import (
	"math/bits"
	"sort"
	"strings"

	"github.com/samber/oops"
)

// Permissions is a platform-native permission bitmask.
type Permissions uint64

// Native permission bits. Values follow the platform's documented flag offsets.
const (
	PermissionCreateInstantInvite Permissions = 1 << 0
	PermissionKickMembers         Permissions = 1 << 1
	PermissionBanMembers          Permissions = 1 << 2
	PermissionAdministrator       Permissions = 1 << 3
	PermissionManageChannels      Permissions = 1 << 4
	PermissionManageGuild         Permissions = 1 << 5
	PermissionAddReactions        Permissions = 1 << 6
	PermissionViewAuditLog        Permissions = 1 << 7
	PermissionPrioritySpeaker     Permissions = 1 << 8
	PermissionStream              Permissions = 1 << 9
	PermissionViewChannel         Permissions = 1 << 10
	PermissionSendMessages        Permissions = 1 << 11
	PermissionSendTTSMessages     Permissions = 1 << 12
	PermissionManageMessages      Permissions = 1 << 13
	PermissionEmbedLinks          Permissions = 1 << 14
	PermissionAttachFiles         Permissions = 1 << 15
	PermissionReadMessageHistory  Permissions = 1 << 16
	PermissionMentionEveryone     Permissions = 1 << 17
	PermissionUseExternalEmojis   Permissions = 1 << 18
	PermissionViewGuildInsights   Permissions = 1 << 19
	PermissionConnect             Permissions = 1 << 20
	PermissionSpeak               Permissions = 1 << 21
	PermissionMuteMembers         Permissions = 1 << 22
	PermissionDeafenMembers       Permissions = 1 << 23
	PermissionMoveMembers         Permissions = 1 << 24
	PermissionUseVAD              Permissions = 1 << 25
	PermissionChangeNickname      Permissions = 1 << 26
	PermissionManageNicknames     Permissions = 1 << 27
	PermissionManageRoles         Permissions = 1 << 28
	PermissionManageWebhooks      Permissions = 1 << 29
	PermissionManageExpressions   Permissions = 1 << 30
	PermissionUseApplicationCmds  Permissions = 1 << 31
	PermissionRequestToSpeak      Permissions = 1 << 32
	PermissionManageEvents        Permissions = 1 << 33
	PermissionManageThreads       Permissions = 1 << 34
	PermissionCreatePublicThreads Permissions = 1 << 35
	PermissionCreatePrivThreads   Permissions = 1 << 36
	PermissionUseExternalStickers Permissions = 1 << 37
	PermissionSendInThreads       Permissions = 1 << 38
	PermissionUseActivities       Permissions = 1 << 39
	PermissionModerateMembers     Permissions = 1 << 40
)

// AllPermissions has every known bit set.
const AllPermissions Permissions = 1<<41 - 1

// CodeUnknownPermission is returned when a permission name cannot be parsed.
const CodeUnknownPermission = "UNKNOWN_PERMISSION"

var permissionNames = map[Permissions]string{
	PermissionCreateInstantInvite: "CreateInstantInvite",
	PermissionKickMembers:         "KickMembers",
	PermissionBanMembers:          "BanMembers",
	PermissionAdministrator:       "Administrator",
	PermissionManageChannels:      "ManageChannels",
	PermissionManageGuild:         "ManageGuild",
	PermissionAddReactions:        "AddReactions",
	PermissionViewAuditLog:        "ViewAuditLog",
	PermissionPrioritySpeaker:     "PrioritySpeaker",
	PermissionStream:              "Stream",
	PermissionViewChannel:         "ViewChannel",
	PermissionSendMessages:        "SendMessages",
	PermissionSendTTSMessages:     "SendTTSMessages",
	PermissionManageMessages:      "ManageMessages",
	PermissionEmbedLinks:          "EmbedLinks",
	PermissionAttachFiles:         "AttachFiles",
	PermissionReadMessageHistory:  "ReadMessageHistory",
	PermissionMentionEveryone:     "MentionEveryone",
	PermissionUseExternalEmojis:   "UseExternalEmojis",
	PermissionViewGuildInsights:   "ViewGuildInsights",
	PermissionConnect:             "Connect",
	PermissionSpeak:               "Speak",
	PermissionMuteMembers:         "MuteMembers",
	PermissionDeafenMembers:       "DeafenMembers",
	PermissionMoveMembers:         "MoveMembers",
	PermissionUseVAD:              "UseVAD",
	PermissionChangeNickname:      "ChangeNickname",
	PermissionManageNicknames:     "ManageNicknames",
	PermissionManageRoles:         "ManageRoles",
	PermissionManageWebhooks:      "ManageWebhooks",
	PermissionManageExpressions:   "ManageGuildExpressions",
	PermissionUseApplicationCmds:  "UseApplicationCommands",
	PermissionRequestToSpeak:      "RequestToSpeak",
	PermissionManageEvents:        "ManageEvents",
	PermissionManageThreads:       "ManageThreads",
	PermissionCreatePublicThreads: "CreatePublicThreads",
	PermissionCreatePrivThreads:   "CreatePrivateThreads",
	PermissionUseExternalStickers: "UseExternalStickers",
	PermissionSendInThreads:       "SendMessagesInThreads",
	PermissionUseActivities:       "UseEmbeddedActivities",
	PermissionModerateMembers:     "ModerateMembers",
}

var permissionsByName = func() map[string]Permissions {
	m := make(map[string]Permissions, len(permissionNames))
	for bit, name := range permissionNames {
		m[name] = bit
	}
	return m
}()

// Has reports whether p contains every bit of required. When adminImpliesAll
// is set, a mask holding Administrator satisfies any requirement.
func (p Permissions) Has(required Permissions, adminImpliesAll bool) bool {
	if adminImpliesAll && p&PermissionAdministrator != 0 {
		return true
	}
	return p&required == required
}

// Any reports whether p contains at least one bit of candidates.
func (p Permissions) Any(candidates Permissions, adminImpliesAll bool) bool {
	if adminImpliesAll && p&PermissionAdministrator != 0 {
		return true
	}
	return p&candidates != 0
}

// Add returns p with the bits of other set.
func (p Permissions) Add(other Permissions) Permissions { return p | other }

// Remove returns p with the bits of other cleared.
func (p Permissions) Remove(other Permissions) Permissions { return p &^ other }

// Names returns the sorted names of the known bits set in p.
func (p Permissions) Names() []string {
	names := make([]string, 0, bits.OnesCount64(uint64(p)))
	for bit, name := range permissionNames {
		if p&bit != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (p Permissions) String() string {
	return strings.Join(p.Names(), "|")
}

// ParsePermission resolves a single permission name.
func ParsePermission(name string) (Permissions, bool) {
	bit, ok := permissionsByName[name]
	return bit, ok
}

// IsPermissionName reports whether name is a native permission name.
func IsPermissionName(name string) bool {
	_, ok := permissionsByName[name]
	return ok
}

// ParsePermissions folds names into a bitmask. Unknown names fail with
// CodeUnknownPermission.
func ParsePermissions(names []string) (Permissions, error) {
	var p Permissions
	for _, name := range names {
		bit, ok := permissionsByName[name]
		if !ok {
			return 0, oops.In("guild").Code(CodeUnknownPermission).With("permission", name).
				Errorf("unknown permission %q", name)
		}
		p |= bit
	}
	return p, nil
}

// MustParsePermissions is ParsePermissions for static tables.
func MustParsePermissions(names ...string) Permissions {
	p, err := ParsePermissions(names)
	if err != nil {
		panic(err)
	}
	return p
}
