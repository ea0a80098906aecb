// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package handlers_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionbot/bastion/internal/access"
	"github.com/bastionbot/bastion/internal/access/accesstest"
	"github.com/bastionbot/bastion/internal/access/capability"
	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/command"
	"github.com/bastionbot/bastion/internal/command/handlers"
	"github.com/bastionbot/bastion/internal/guild"
)

func TestPermsCommand(t *testing.T) {
	caps := capability.NewRegistry()
	caps.MustRegister(capability.NewSystemAdmin([]string{accesstest.UserID}))
	engine := access.NewEngine(caps)

	reg := command.NewRegistry()
	require.NoError(t, handlers.Register(reg, engine))
	d, err := command.NewDispatcher(reg, engine)
	require.NoError(t, err)

	var out bytes.Buffer
	s := accesstest.NewScenario()
	require.NoError(t, d.Dispatch(context.Background(), "perms", &command.Execution{Actor: s.Mod(), Output: &out}))
	assert.Equal(t, "Native: BanMembers, KickMembers, SendMessages\nCapabilities: system.admin\n", out.String())
}

func TestFormatResolvedSet(t *testing.T) {
	level := 20
	got := handlers.FormatResolvedSet(types.ResolvedSet{
		Native:   guild.PermissionSendMessages,
		Level:    &level,
		Profiles: []string{},
	})
	assert.Equal(t, "Level: 20\nNative: SendMessages\nCapabilities: (none)\nProfiles: (none)\n", got)
}
