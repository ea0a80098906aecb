// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/command"
	"github.com/bastionbot/bastion/internal/config"
	"github.com/bastionbot/bastion/pkg/errutil"
)

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Cleanup(func() { configFile = "" })
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bastion.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"serve", "migrate", "sync", "check"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	cmd := NewRootCmd()
	for _, name := range []string{"config", "database-url", "log-format", "log-level"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestServeCommand_DefaultValues(t *testing.T) {
	cmd := NewServeCmd()
	tests := []struct {
		flag string
		want string
	}{
		{"metrics-addr", config.DefaultMetricsAddr},
		{"api-addr", config.DefaultAPIAddr},
		{"redis-addr", ""},
		{"prefix", config.DefaultPrefix},
	}
	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			got, err := cmd.Flags().GetString(tt.flag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServeCommand_RequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := execute(t, "serve", "--log-format", "text")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, config.CodeInvalid)
}

func TestCheckCommand(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	tests := []struct {
		name     string
		args     []string
		want     []string
		wantCode string
	}{
		{
			name: "native member",
			args: []string{"--native", "KickMembers,SendMessages"},
			want: []string{"Mode: native", "Native: KickMembers, SendMessages", "Capabilities: (none)"},
		},
		{
			name: "owner holds everything",
			args: []string{"--owner", "--require", "Administrator"},
			want: []string{"Allowed: true"},
		},
		{
			name:     "missing requirement fails",
			args:     []string{"--native", "SendMessages", "--require", "BanMembers"},
			want:     []string{"Allowed: false"},
			wantCode: command.CodePermissionDenied,
		},
		{
			name:     "unknown native permission",
			args:     []string{"--native", "Fly"},
			wantCode: "UNKNOWN_PERMISSION",
		},
		{
			name:     "bad role position",
			args:     []string{"--role", "5:high"},
			wantCode: "INVALID_ROLE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"check", "--guild", testGuildID, "--user", testUserID}, tt.args...)
			out, err := execute(t, args...)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestCheckCommand_LevelModeNeedsDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := writeConfig(t, "default_mode: level\n")

	_, err := execute(t, "--config", path, "check", "--guild", testGuildID, "--user", testUserID)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, types.CodeStrategyMisconfigured)
}

func TestLoadConfig_UsesXDGDefault(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "bastion"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(base, "bastion", "config.yaml"), []byte("default_mode: level\n"), 0o600))
	t.Setenv("XDG_CONFIG_HOME", base)

	cmd := NewCheckCmd()
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "level", cfg.DefaultMode)
}

func TestCheckCommand_RequiresGuildAndUser(t *testing.T) {
	_, err := execute(t, "check", "--user", testUserID)
	assert.Error(t, err)
}

type fakeMigrations struct {
	version uint
	pending []uint
	upErr   error
	steps   []int
	downAll bool
	forced  []int
	closed  bool
}

func (f *fakeMigrations) Up() error                          { return f.upErr }
func (f *fakeMigrations) Version() (uint, bool, error)       { return f.version, false, nil }
func (f *fakeMigrations) PendingMigrations() ([]uint, error) { return f.pending, nil }
func (f *fakeMigrations) AppliedMigrations() ([]uint, error) { return nil, nil }

func (f *fakeMigrations) Down() error {
	f.downAll = true
	return nil
}

func (f *fakeMigrations) Steps(n int) error {
	f.steps = append(f.steps, n)
	return nil
}

func (f *fakeMigrations) Force(v int) error {
	f.forced = append(f.forced, v)
	return nil
}

func (f *fakeMigrations) Close() error {
	f.closed = true
	return nil
}

func withFakeMigrations(t *testing.T, f *fakeMigrations) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/bastion")
	prev := migratorFactory
	migratorFactory = func(string) (Migrations, error) { return f, nil }
	t.Cleanup(func() { migratorFactory = prev })
}

func TestMigrateCommands(t *testing.T) {
	t.Run("up with pending", func(t *testing.T) {
		f := &fakeMigrations{pending: []uint{1, 2}}
		withFakeMigrations(t, f)
		out, err := execute(t, "migrate", "up")
		require.NoError(t, err)
		assert.Contains(t, out, "Applied 2 migration(s)")
		assert.True(t, f.closed)
	})

	t.Run("up to date", func(t *testing.T) {
		withFakeMigrations(t, &fakeMigrations{version: 2})
		out, err := execute(t, "migrate", "up")
		require.NoError(t, err)
		assert.Contains(t, out, "Schema is up to date")
	})

	t.Run("up fails", func(t *testing.T) {
		withFakeMigrations(t, &fakeMigrations{pending: []uint{1}, upErr: errors.New("boom")})
		_, err := execute(t, "migrate", "up")
		assert.Error(t, err)
	})

	t.Run("down one step", func(t *testing.T) {
		f := &fakeMigrations{version: 2}
		withFakeMigrations(t, f)
		_, err := execute(t, "migrate", "down")
		require.NoError(t, err)
		assert.Equal(t, []int{-1}, f.steps)
		assert.False(t, f.downAll)
	})

	t.Run("down all", func(t *testing.T) {
		f := &fakeMigrations{version: 2}
		withFakeMigrations(t, f)
		_, err := execute(t, "migrate", "down", "--all")
		require.NoError(t, err)
		assert.True(t, f.downAll)
	})

	t.Run("down rejects non-positive steps", func(t *testing.T) {
		withFakeMigrations(t, &fakeMigrations{})
		_, err := execute(t, "migrate", "down", "--steps", "0")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "INVALID_STEPS")
	})

	t.Run("version lists pending", func(t *testing.T) {
		withFakeMigrations(t, &fakeMigrations{version: 1, pending: []uint{2}})
		out, err := execute(t, "migrate", "version")
		require.NoError(t, err)
		assert.Contains(t, out, "Version: 1 (clean)")
		assert.Contains(t, out, "Pending: 000002_permission_profiles")
	})

	t.Run("force", func(t *testing.T) {
		f := &fakeMigrations{}
		withFakeMigrations(t, f)
		_, err := execute(t, "migrate", "force", "1")
		require.NoError(t, err)
		assert.Equal(t, []int{1}, f.forced)
	})

	t.Run("force rejects non-numeric version", func(t *testing.T) {
		withFakeMigrations(t, &fakeMigrations{})
		_, err := execute(t, "migrate", "force", "latest")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "INVALID_VERSION")
	})
}

func TestMigrateCommand_NoDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := execute(t, "migrate", "up")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, config.CodeInvalid)
}
