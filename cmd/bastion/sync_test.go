// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/guild"
)

func TestWriteLevelReport(t *testing.T) {
	var out bytes.Buffer
	writeLevelReport(&out, []types.PermissionLevel{
		{GuildID: "2002", Level: 50, Roles: []string{"r1", "r2"}},
		{GuildID: "1001", Level: 80, Users: []string{"u1"}},
		{GuildID: guild.GlobalID, Level: 100, Users: []string{"u0"}},
		{GuildID: "1001", Level: 10, Roles: []string{"r3"}},
	})

	want := "Synced 4 level record(s) across 3 guild(s)\n" +
		"  global: levels 100 (0 role and 1 user assignment(s))\n" +
		"  1001: levels 10, 80 (1 role and 1 user assignment(s))\n" +
		"  2002: levels 50 (2 role and 0 user assignment(s))\n"
	assert.Equal(t, want, out.String())
}

func TestWriteLevelReportEmpty(t *testing.T) {
	var out bytes.Buffer
	writeLevelReport(&out, nil)
	assert.Equal(t, "Synced 0 level record(s) across 0 guild(s)\n", out.String())
}

func TestRunSync(t *testing.T) {
	records := &fakeRecords{levels: []types.PermissionLevel{
		{GuildID: testGuildID, Level: 10, Users: []string{testUserID}},
		{GuildID: "2002", Level: 20},
		{GuildID: guild.GlobalID, Level: 100},
	}}
	caps := newCapabilities(testConfig("level"))

	var out bytes.Buffer
	require.NoError(t, runSync(context.Background(), &out, records, caps, testGuildID))
	assert.Contains(t, out.String(), "Synced 2 level record(s) across 2 guild(s)")
	assert.NotContains(t, out.String(), "2002")

	out.Reset()
	require.NoError(t, runSync(context.Background(), &out, records, caps, ""))
	assert.Contains(t, out.String(), "Synced 3 level record(s) across 3 guild(s)")
}
