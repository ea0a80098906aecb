package capability

import (
	"slices"

	"github.com/bastionbot/bastion/internal/guild"
)

// SystemAdmin is the reserved capability name for system administrators.
const SystemAdmin = "system.admin"

// NewSystemAdmin returns the system.admin capability, satisfied by the listed
// user ids in any guild and without guild context.
func NewSystemAdmin(userIDs []string) Capability {
	ids := slices.Clone(userIDs)
	return New(SystemAdmin, func(actor guild.Actor) bool {
		return slices.Contains(ids, actor.UserID())
	})
}
