// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package config loads the bastion configuration from a YAML file and
// command-line flags.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/bastionbot/bastion/internal/access"
	"github.com/bastionbot/bastion/internal/access/types"
)

// CodeInvalid is the error code of every configuration failure.
const CodeInvalid = "CONFIG_INVALID"

// Defaults.
const (
	DefaultMetricsAddr  = "127.0.0.1:9100"
	DefaultAPIAddr      = "127.0.0.1:8080"
	DefaultLogFormat    = "json"
	DefaultLogLevel     = "info"
	DefaultPrefix       = "!"
	DefaultCacheSize    = 10_000
	DefaultCacheTTL     = 5 * time.Minute
	DefaultLevelRefresh = 0
)

// Config is the process configuration.
type Config struct {
	DatabaseURL  string        `koanf:"database_url" json:"database_url,omitempty" jsonschema:"description=PostgreSQL URL; DATABASE_URL overrides it"`
	DiscordToken string        `koanf:"discord_token" json:"discord_token,omitempty" jsonschema:"description=Bot token; DISCORD_TOKEN overrides it"`
	RedisAddr    string        `koanf:"redis_addr" json:"redis_addr,omitempty" jsonschema:"description=Redis address for the shared profile cache tier"`
	MetricsAddr  string        `koanf:"metrics_addr" json:"metrics_addr,omitempty"`
	APIAddr      string        `koanf:"api_addr" json:"api_addr,omitempty"`
	LogFormat    string        `koanf:"log_format" json:"log_format,omitempty" jsonschema:"enum=json,enum=text"`
	LogLevel     string        `koanf:"log_level" json:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Prefix       string        `koanf:"prefix" json:"prefix,omitempty" jsonschema:"description=Command prefix"`
	CacheSize    int           `koanf:"cache_size" json:"cache_size,omitempty" jsonschema:"minimum=1"`
	CacheTTL     time.Duration `koanf:"cache_ttl" json:"cache_ttl,omitempty" jsonschema:"type=string,description=Go duration such as 5m"`
	LevelRefresh time.Duration `koanf:"level_refresh" json:"level_refresh,omitempty" jsonschema:"type=string,description=Periodic level resync; 0 disables"`
	SystemAdmins []string      `koanf:"system_admins" json:"system_admins,omitempty" jsonschema:"description=User ids holding system.admin"`
	DefaultMode  string        `koanf:"default_mode" json:"default_mode,omitempty" jsonschema:"enum=native,enum=level,enum=layered"`

	Guilds map[string]GuildPermissions `koanf:"guilds" json:"guilds,omitempty" jsonschema:"description=Per-guild permission settings keyed by guild id"`
}

// GuildPermissions is the permission configuration of one guild.
type GuildPermissions struct {
	Mode                    string     `koanf:"mode" json:"mode,omitempty" jsonschema:"enum=native,enum=discord,enum=level,enum=levels,enum=layered"`
	Invincible              Invincible `koanf:"invincible" json:"invincible,omitempty"`
	CheckDiscordPermissions string     `koanf:"check_discord_permissions" json:"check_discord_permissions,omitempty" jsonschema:"enum=always,enum=during_manual_actions,enum=never"`
}

// Invincible lists members exempt from moderation.
type Invincible struct {
	Users []string `koanf:"users" json:"users,omitempty"`
	Roles []string `koanf:"roles" json:"roles,omitempty"`
}

// Default returns the configuration used for keys absent from every source.
func Default() Config {
	return Config{
		MetricsAddr:  DefaultMetricsAddr,
		APIAddr:      DefaultAPIAddr,
		LogFormat:    DefaultLogFormat,
		LogLevel:     DefaultLogLevel,
		Prefix:       DefaultPrefix,
		CacheSize:    DefaultCacheSize,
		CacheTTL:     DefaultCacheTTL,
		LevelRefresh: DefaultLevelRefresh,
		DefaultMode:  types.ModeNative.String(),
	}
}

// Load reads path (optional) and then flags (optional); changed flags win
// over the file. Flag names map to keys with '-' replaced by '_'. The
// DATABASE_URL and DISCORD_TOKEN environment variables override both.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		if err != nil {
			return nil, oops.Code(CodeInvalid).With("path", path).Wrap(err)
		}
		if err := ValidateSchema(data); err != nil {
			return nil, oops.Code(CodeInvalid).With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(CodeInvalid).With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeInvalid).Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code(CodeInvalid).Wrap(err)
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.DatabaseURL = url
	}
	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		cfg.DiscordToken = token
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the schema cannot express.
func (c *Config) Validate() error {
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code(CodeInvalid).Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.CacheSize <= 0 {
		return oops.Code(CodeInvalid).Errorf("cache_size must be positive, got %d", c.CacheSize)
	}
	if c.CacheTTL < 0 || c.LevelRefresh < 0 {
		return oops.Code(CodeInvalid).Errorf("durations must not be negative")
	}
	if _, err := types.ParseMode(c.DefaultMode); err != nil {
		return oops.Code(CodeInvalid).With("key", "default_mode").Wrap(err)
	}
	for id, g := range c.Guilds {
		if _, err := types.ParseMode(g.Mode); err != nil {
			return oops.Code(CodeInvalid).With("guild_id", id).Wrap(err)
		}
		switch access.PositionCheck(g.CheckDiscordPermissions) {
		case "", access.PositionCheckAlways, access.PositionCheckManualActions, access.PositionCheckNever:
		default:
			return oops.Code(CodeInvalid).
				With("guild_id", id).
				Errorf("unknown check_discord_permissions %q", g.CheckDiscordPermissions)
		}
	}
	return nil
}

// GuildSettings implements access.SettingsProvider. Guilds without an entry,
// and entries without a mode, use DefaultMode. Call Validate first; invalid
// modes fall back to native.
func (c *Config) GuildSettings(guildID string) access.GuildSettings {
	def, _ := types.ParseMode(c.DefaultMode) //nolint:errcheck // validated

	g, ok := c.Guilds[guildID]
	if !ok {
		return access.GuildSettings{Mode: def}
	}
	mode := def
	if g.Mode != "" {
		mode, _ = types.ParseMode(g.Mode) //nolint:errcheck // validated
	}
	return access.GuildSettings{
		Mode:            mode,
		InvincibleUsers: g.Invincible.Users,
		InvincibleRoles: g.Invincible.Roles,
		PositionCheck:   access.PositionCheck(g.CheckDiscordPermissions),
	}
}

// UsesMode reports whether the default or any guild selects mode.
func (c *Config) UsesMode(mode types.Mode) bool {
	if m, err := types.ParseMode(c.DefaultMode); err == nil && m == mode {
		return true
	}
	for _, g := range c.Guilds {
		if m, err := types.ParseMode(g.Mode); err == nil && m == mode {
			return true
		}
	}
	return false
}
