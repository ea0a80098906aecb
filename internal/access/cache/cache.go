// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package cache stores resolved member permissions keyed by guild and member.
//
// Memory is a bounded LRU with a time-to-live. Redis shares entries between
// processes. Tiered layers a Memory cache in front of a shared one.
// Entries hold capability names rather than capability objects so they can
// be serialized; callers re-resolve names through their registry.
package cache

import (
	"context"
	"time"

	"github.com/bastionbot/bastion/internal/guild"
)

// Defaults for the profile cache.
const (
	DefaultSize = 5000
	DefaultTTL  = 30 * time.Minute
)

// CodeDecodeFailed is returned when a shared entry cannot be decoded.
const CodeDecodeFailed = "CACHE_DECODE_FAILED"

// Key identifies a member within a guild.
type Key struct {
	GuildID  string
	MemberID string
}

func (k Key) String() string { return k.GuildID + ":" + k.MemberID }

// Entry is the cacheable form of a resolved permission set.
type Entry struct {
	Native       guild.Permissions `json:"native"`
	Capabilities []string          `json:"capabilities"`
	Profiles     []string          `json:"profiles"`
	ResolvedAt   time.Time         `json:"resolved_at"`
}

// Cache is implemented by every cache tier. Implementations are safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, key Key) (Entry, bool, error)
	Set(ctx context.Context, key Key, entry Entry) error
	Delete(ctx context.Context, key Key) error
	DeleteGuild(ctx context.Context, guildID string) error
	Purge(ctx context.Context) error
}
