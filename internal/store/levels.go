// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/bastionbot/bastion/internal/access/level"
	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/guild"
)

const levelColumns = `id, guild_id, level, roles, users, granted, granted_capabilities, disabled, created_at, updated_at`

func scanLevel(row pgx.Row) (types.PermissionLevel, error) {
	var l types.PermissionLevel
	var granted int64
	err := row.Scan(&l.ID, &l.GuildID, &l.Level, &l.Roles, &l.Users,
		&granted, &l.GrantedCapabilities, &l.Disabled, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return l, fmt.Errorf("scanning level row: %w", err)
	}
	l.Granted = guild.Permissions(granted)
	return l, nil
}

func collectLevels(rows pgx.Rows) ([]types.PermissionLevel, error) {
	defer rows.Close()
	var out []types.PermissionLevel
	for rows.Next() {
		l, err := scanLevel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating level rows: %w", err)
	}
	return out, nil
}

// FindPermissionLevels returns the enabled level records for guildID and the
// global scope, or for every guild when guildID is nil.
func (s *PostgresStore) FindPermissionLevels(ctx context.Context, guildID *string) ([]types.PermissionLevel, error) {
	query := `SELECT ` + levelColumns + ` FROM permission_levels WHERE NOT disabled`
	var args []any
	if guildID != nil {
		query += ` AND (guild_id = $1 OR guild_id = '` + guild.GlobalID + `')`
		args = append(args, *guildID)
	}
	query += ` ORDER BY guild_id, level`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, oops.Code(CodeQueryFailed).With("operation", "find levels").Wrap(err)
	}
	levels, err := collectLevels(rows)
	if err != nil {
		return nil, oops.Code(CodeQueryFailed).With("operation", "find levels").Wrap(err)
	}
	return levels, nil
}

// GetLevel returns one level record, enabled or not.
func (s *PostgresStore) GetLevel(ctx context.Context, id string) (types.PermissionLevel, error) {
	l, err := scanLevel(s.pool.QueryRow(ctx,
		`SELECT `+levelColumns+` FROM permission_levels WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return l, oops.Code(CodeLevelNotFound).With("id", id).Errorf("level not found")
	}
	if err != nil {
		return l, oops.Code(CodeQueryFailed).With("id", id).Wrap(err)
	}
	return l, nil
}

// ListLevels returns every level record of guildID, disabled ones included.
func (s *PostgresStore) ListLevels(ctx context.Context, guildID string) ([]types.PermissionLevel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+levelColumns+` FROM permission_levels WHERE guild_id = $1 ORDER BY level`, guildID)
	if err != nil {
		return nil, oops.Code(CodeQueryFailed).With("guild_id", guildID).Wrap(err)
	}
	levels, err := collectLevels(rows)
	if err != nil {
		return nil, oops.Code(CodeQueryFailed).With("guild_id", guildID).Wrap(err)
	}
	return levels, nil
}

func validateLevel(l *types.PermissionLevel) error {
	if l.GuildID == "" {
		return oops.Code(CodeInvalidRecord).Errorf("level guild id is required")
	}
	if l.Level < 0 || l.Level > level.MaxLevel {
		return oops.Code(CodeInvalidRecord).
			With("level", l.Level).
			Errorf("level must be within 0..%d", level.MaxLevel)
	}
	return nil
}

// CreateLevel inserts l, assigning its ID. A second record for the same
// guild and level is LEVEL_DUPLICATE.
func (s *PostgresStore) CreateLevel(ctx context.Context, l *types.PermissionLevel) error {
	if err := validateLevel(l); err != nil {
		return err
	}
	id := ulid.Make().String()

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO permission_levels (id, guild_id, level, roles, users, granted, granted_capabilities, disabled)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, id, l.GuildID, l.Level, orEmpty(l.Roles), orEmpty(l.Users),
			int64(l.Granted), orEmpty(l.GrantedCapabilities), l.Disabled)
		if isUniqueViolation(err) {
			return oops.Code(CodeLevelDuplicate).
				With("guild_id", l.GuildID).
				With("level", l.Level).
				Errorf("level %d already exists", l.Level)
		}
		if err != nil {
			return err
		}
		return notify(ctx, tx, string(types.ChangeLevels), l.GuildID)
	})
	if err != nil {
		return oops.Code(CodeQueryFailed).With("operation", "create level").Wrap(err)
	}
	l.ID = id
	return nil
}

// UpdateLevel rewrites every mutable column of l.
func (s *PostgresStore) UpdateLevel(ctx context.Context, l *types.PermissionLevel) error {
	if err := validateLevel(l); err != nil {
		return err
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE permission_levels
			SET level = $2, roles = $3, users = $4, granted = $5,
			    granted_capabilities = $6, disabled = $7, updated_at = now()
			WHERE id = $1
		`, l.ID, l.Level, orEmpty(l.Roles), orEmpty(l.Users),
			int64(l.Granted), orEmpty(l.GrantedCapabilities), l.Disabled)
		if isUniqueViolation(err) {
			return oops.Code(CodeLevelDuplicate).With("level", l.Level).Errorf("level %d already exists", l.Level)
		}
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return oops.Code(CodeLevelNotFound).With("id", l.ID).Errorf("level not found")
		}
		return notify(ctx, tx, string(types.ChangeLevels), l.GuildID)
	})
	if err != nil {
		return oops.Code(CodeQueryFailed).With("operation", "update level").Wrap(err)
	}
	return nil
}

// DeleteLevel removes a level record.
func (s *PostgresStore) DeleteLevel(ctx context.Context, id string) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var guildID string
		err := tx.QueryRow(ctx, `DELETE FROM permission_levels WHERE id = $1 RETURNING guild_id`, id).Scan(&guildID)
		if errors.Is(err, pgx.ErrNoRows) {
			return oops.Code(CodeLevelNotFound).With("id", id).Errorf("level not found")
		}
		if err != nil {
			return err
		}
		return notify(ctx, tx, string(types.ChangeLevels), guildID)
	})
	if err != nil {
		return oops.Code(CodeQueryFailed).With("operation", "delete level").Wrap(err)
	}
	return nil
}
