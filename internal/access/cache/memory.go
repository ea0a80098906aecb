// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory is an in-process LRU cache whose entries expire after a TTL.
type Memory struct {
	lru *expirable.LRU[Key, Entry]
}

// NewMemory creates a Memory cache holding at most size entries for ttl each.
// Non-positive values fall back to DefaultSize and DefaultTTL.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{lru: expirable.NewLRU[Key, Entry](size, nil, ttl)}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key Key) (Entry, bool, error) {
	e, ok := m.lru.Get(key)
	recordLookup(tierMemory, ok)
	return e, ok, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key Key, entry Entry) error {
	m.lru.Add(key, entry)
	return nil
}

// Delete implements Cache.
func (m *Memory) Delete(_ context.Context, key Key) error {
	m.lru.Remove(key)
	return nil
}

// DeleteGuild implements Cache.
func (m *Memory) DeleteGuild(_ context.Context, guildID string) error {
	for _, k := range m.lru.Keys() {
		if k.GuildID == guildID {
			m.lru.Remove(k)
		}
	}
	return nil
}

// Purge implements Cache.
func (m *Memory) Purge(_ context.Context) error {
	m.lru.Purge()
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int { return m.lru.Len() }
