// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package accesstest provides fixtures and in-memory collaborators for
// permission engine tests.
package accesstest

import (
	"context"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/guild"
)

// LevelStore is an in-memory types.LevelStore.
type LevelStore struct {
	mu     sync.Mutex
	levels []types.PermissionLevel
	// Err, when set, is returned by every read.
	Err   error
	calls atomic.Int32
}

// NewLevelStore returns a store seeded with levels.
func NewLevelStore(levels ...types.PermissionLevel) *LevelStore {
	return &LevelStore{levels: levels}
}

// Set replaces the stored levels.
func (s *LevelStore) Set(levels ...types.PermissionLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels = levels
}

// Calls returns how many reads were served.
func (s *LevelStore) Calls() int { return int(s.calls.Load()) }

// FindPermissionLevels implements types.LevelStore.
func (s *LevelStore) FindPermissionLevels(ctx context.Context, guildID *string) ([]types.PermissionLevel, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.PermissionLevel, 0, len(s.levels))
	for _, l := range s.levels {
		if l.Disabled {
			continue
		}
		if guildID != nil && l.GuildID != *guildID && l.GuildID != guild.GlobalID {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// ProfileStore is an in-memory types.ProfileStore that applies the same
// filtering and ordering as the database query.
type ProfileStore struct {
	mu       sync.Mutex
	profiles []types.PermissionProfile
	// Err, when set, is returned by every read.
	Err error
	// Gate, when non-nil, blocks reads until it is closed or ctx ends.
	Gate  chan struct{}
	calls atomic.Int32
}

// NewProfileStore returns a store seeded with profiles.
func NewProfileStore(profiles ...types.PermissionProfile) *ProfileStore {
	return &ProfileStore{profiles: profiles}
}

// Set replaces the stored profiles.
func (s *ProfileStore) Set(profiles ...types.PermissionProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = profiles
}

// Calls returns how many reads were served.
func (s *ProfileStore) Calls() int { return int(s.calls.Load()) }

// FindPermissionProfiles implements types.ProfileStore.
func (s *ProfileStore) FindPermissionProfiles(ctx context.Context, guildID, memberID string, roleIDs []string) ([]types.PermissionProfile, error) {
	s.calls.Add(1)
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.PermissionProfile
	for _, p := range s.profiles {
		if p.Disabled || (p.GuildID != guildID && p.GuildID != guild.GlobalID) {
			continue
		}
		if slices.Contains(p.Users, memberID) || slices.ContainsFunc(p.Roles, func(r string) bool {
			return slices.Contains(roleIDs, r)
		}) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

// Listener is a types.Listener fed by Send.
type Listener struct {
	ch chan types.Change
	// Err, when set, is returned by Listen.
	Err error
}

// NewListener returns a listener with a buffered channel.
func NewListener() *Listener {
	return &Listener{ch: make(chan types.Change, 16)}
}

// Send delivers a change to the subscriber.
func (l *Listener) Send(c types.Change) { l.ch <- c }

// Close closes the notification channel.
func (l *Listener) Close() { close(l.ch) }

// Listen implements types.Listener.
func (l *Listener) Listen(_ context.Context) (<-chan types.Change, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	return l.ch, nil
}
