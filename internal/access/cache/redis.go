// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const defaultRedisPrefix = "bastion:perm"

// Redis stores entries as JSON in Redis. Each guild has a version counter
// that is part of every member key, so DeleteGuild is a single INCR and
// stale keys age out through their TTL.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// RedisOption configures a Redis cache.
type RedisOption func(*Redis)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// NewRedis creates a Redis cache with the given entry TTL.
func NewRedis(client redis.UniversalClient, ttl time.Duration, opts ...RedisOption) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Redis{client: client, ttl: ttl, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) versionKey(guildID string) string {
	return fmt.Sprintf("%s:version:%s", r.prefix, guildID)
}

func (r *Redis) entryKey(ctx context.Context, key Key) (string, error) {
	ver, err := r.client.Get(ctx, r.versionKey(key.GuildID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", oops.In("cache").With("guild_id", key.GuildID).Wrap(err)
	}
	return fmt.Sprintf("%s:entry:%s:%d:%s", r.prefix, key.GuildID, ver, key.MemberID), nil
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key Key) (Entry, bool, error) {
	k, err := r.entryKey(ctx, key)
	if err != nil {
		return Entry{}, false, err
	}
	raw, err := r.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		recordLookup(tierRedis, false)
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, oops.In("cache").With("key", k).Wrap(err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, oops.In("cache").Code(CodeDecodeFailed).With("key", k).Wrap(err)
	}
	recordLookup(tierRedis, true)
	return e, true, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, key Key, entry Entry) error {
	k, err := r.entryKey(ctx, key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return oops.In("cache").With("key", k).Wrap(err)
	}
	if err := r.client.Set(ctx, k, raw, r.ttl).Err(); err != nil {
		return oops.In("cache").With("key", k).Wrap(err)
	}
	return nil
}

// Delete implements Cache.
func (r *Redis) Delete(ctx context.Context, key Key) error {
	k, err := r.entryKey(ctx, key)
	if err != nil {
		return err
	}
	if err := r.client.Del(ctx, k).Err(); err != nil {
		return oops.In("cache").With("key", k).Wrap(err)
	}
	return nil
}

// DeleteGuild implements Cache by bumping the guild version.
func (r *Redis) DeleteGuild(ctx context.Context, guildID string) error {
	if err := r.client.Incr(ctx, r.versionKey(guildID)).Err(); err != nil {
		return oops.In("cache").With("guild_id", guildID).Wrap(err)
	}
	return nil
}

// Purge implements Cache by deleting every key under the prefix.
func (r *Redis) Purge(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 256).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 256 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return oops.In("cache").Wrap(err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return oops.In("cache").Wrap(err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return oops.In("cache").Wrap(err)
		}
	}
	return nil
}
