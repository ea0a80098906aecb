// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package cache

import (
	"context"
	"errors"
)

// Tiered reads through a local cache to a shared one. Writes and deletes go
// to both tiers.
type Tiered struct {
	local  Cache
	shared Cache
}

// NewTiered layers local in front of shared.
func NewTiered(local, shared Cache) *Tiered {
	return &Tiered{local: local, shared: shared}
}

// Get implements Cache. A shared hit populates the local tier.
func (t *Tiered) Get(ctx context.Context, key Key) (Entry, bool, error) {
	if e, ok, err := t.local.Get(ctx, key); err == nil && ok {
		return e, true, nil
	}
	e, ok, err := t.shared.Get(ctx, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	_ = t.local.Set(ctx, key, e)
	return e, true, nil
}

// Set implements Cache.
func (t *Tiered) Set(ctx context.Context, key Key, entry Entry) error {
	return errors.Join(t.local.Set(ctx, key, entry), t.shared.Set(ctx, key, entry))
}

// Delete implements Cache.
func (t *Tiered) Delete(ctx context.Context, key Key) error {
	return errors.Join(t.local.Delete(ctx, key), t.shared.Delete(ctx, key))
}

// DeleteGuild implements Cache.
func (t *Tiered) DeleteGuild(ctx context.Context, guildID string) error {
	return errors.Join(t.local.DeleteGuild(ctx, guildID), t.shared.DeleteGuild(ctx, guildID))
}

// Purge implements Cache.
func (t *Tiered) Purge(ctx context.Context) error {
	return errors.Join(t.local.Purge(ctx), t.shared.Purge(ctx))
}
