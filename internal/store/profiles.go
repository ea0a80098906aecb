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

	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/guild"
)

const profileColumns = `id, guild_id, name, priority, disabled, users, roles, granted_native, denied_native, granted_capabilities, denied_capabilities, created_at, updated_at`

func scanProfile(row pgx.Row) (types.PermissionProfile, error) {
	var p types.PermissionProfile
	var granted, denied int64
	err := row.Scan(&p.ID, &p.GuildID, &p.Name, &p.Priority, &p.Disabled, &p.Users, &p.Roles,
		&granted, &denied, &p.GrantedCapabilities, &p.DeniedCapabilities, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, fmt.Errorf("scanning profile row: %w", err)
	}
	p.GrantedNative = guild.Permissions(granted)
	p.DeniedNative = guild.Permissions(denied)
	return p, nil
}

func collectProfiles(rows pgx.Rows) ([]types.PermissionProfile, error) {
	defer rows.Close()
	var out []types.PermissionProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profile rows: %w", err)
	}
	return out, nil
}

// FindPermissionProfiles returns the enabled profiles of guildID and the
// global scope that name memberID or one of roleIDs, lowest priority first.
func (s *PostgresStore) FindPermissionProfiles(ctx context.Context, guildID, memberID string, roleIDs []string) ([]types.PermissionProfile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+profileColumns+`
		FROM permission_profiles
		WHERE NOT disabled
		  AND (guild_id = $1 OR guild_id = '`+guild.GlobalID+`')
		  AND ($2 = ANY(users) OR roles && $3::text[])
		ORDER BY priority, created_at
	`, guildID, memberID, orEmpty(roleIDs))
	if err != nil {
		return nil, oops.Code(CodeQueryFailed).
			With("guild_id", guildID).
			With("member_id", memberID).
			Wrap(err)
	}
	profiles, err := collectProfiles(rows)
	if err != nil {
		return nil, oops.Code(CodeQueryFailed).With("guild_id", guildID).Wrap(err)
	}
	return profiles, nil
}

// GetProfile returns one profile, enabled or not.
func (s *PostgresStore) GetProfile(ctx context.Context, id string) (types.PermissionProfile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM permission_profiles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return p, oops.Code(CodeProfileNotFound).With("id", id).Errorf("profile not found")
	}
	if err != nil {
		return p, oops.Code(CodeQueryFailed).With("id", id).Wrap(err)
	}
	return p, nil
}

// ListProfiles returns every profile of guildID by priority.
func (s *PostgresStore) ListProfiles(ctx context.Context, guildID string) ([]types.PermissionProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM permission_profiles WHERE guild_id = $1 ORDER BY priority, created_at`, guildID)
	if err != nil {
		return nil, oops.Code(CodeQueryFailed).With("guild_id", guildID).Wrap(err)
	}
	profiles, err := collectProfiles(rows)
	if err != nil {
		return nil, oops.Code(CodeQueryFailed).With("guild_id", guildID).Wrap(err)
	}
	return profiles, nil
}

func validateProfile(p *types.PermissionProfile) error {
	if p.GuildID == "" {
		return oops.Code(CodeInvalidRecord).Errorf("profile guild id is required")
	}
	if p.Name == "" {
		return oops.Code(CodeInvalidRecord).Errorf("profile name is required")
	}
	for _, name := range p.GrantedCapabilities {
		if guild.IsPermissionName(name) {
			return oops.Code(CodeInvalidRecord).
				With("capability", name).
				Errorf("%s is a native permission, grant it through granted_native", name)
		}
	}
	return nil
}

// CreateProfile inserts p, assigning its ID. Names are unique per guild.
func (s *PostgresStore) CreateProfile(ctx context.Context, p *types.PermissionProfile) error {
	if err := validateProfile(p); err != nil {
		return err
	}
	id := ulid.Make().String()

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO permission_profiles (id, guild_id, name, priority, disabled, users, roles,
				granted_native, denied_native, granted_capabilities, denied_capabilities)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, id, p.GuildID, p.Name, p.Priority, p.Disabled, orEmpty(p.Users), orEmpty(p.Roles),
			int64(p.GrantedNative), int64(p.DeniedNative),
			orEmpty(p.GrantedCapabilities), orEmpty(p.DeniedCapabilities))
		if isUniqueViolation(err) {
			return oops.Code(CodeProfileDuplicate).
				With("guild_id", p.GuildID).
				With("name", p.Name).
				Errorf("profile %q already exists", p.Name)
		}
		if err != nil {
			return err
		}
		return notify(ctx, tx, string(types.ChangeProfiles), p.GuildID)
	})
	if err != nil {
		return oops.Code(CodeQueryFailed).With("operation", "create profile").Wrap(err)
	}
	p.ID = id
	return nil
}

// UpdateProfile rewrites every mutable column of p.
func (s *PostgresStore) UpdateProfile(ctx context.Context, p *types.PermissionProfile) error {
	if err := validateProfile(p); err != nil {
		return err
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE permission_profiles
			SET name = $2, priority = $3, disabled = $4, users = $5, roles = $6,
			    granted_native = $7, denied_native = $8,
			    granted_capabilities = $9, denied_capabilities = $10, updated_at = now()
			WHERE id = $1
		`, p.ID, p.Name, p.Priority, p.Disabled, orEmpty(p.Users), orEmpty(p.Roles),
			int64(p.GrantedNative), int64(p.DeniedNative),
			orEmpty(p.GrantedCapabilities), orEmpty(p.DeniedCapabilities))
		if isUniqueViolation(err) {
			return oops.Code(CodeProfileDuplicate).With("name", p.Name).Errorf("profile %q already exists", p.Name)
		}
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return oops.Code(CodeProfileNotFound).With("id", p.ID).Errorf("profile not found")
		}
		return notify(ctx, tx, string(types.ChangeProfiles), p.GuildID)
	})
	if err != nil {
		return oops.Code(CodeQueryFailed).With("operation", "update profile").Wrap(err)
	}
	return nil
}

// DeleteProfile removes a profile.
func (s *PostgresStore) DeleteProfile(ctx context.Context, id string) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var guildID string
		err := tx.QueryRow(ctx, `DELETE FROM permission_profiles WHERE id = $1 RETURNING guild_id`, id).Scan(&guildID)
		if errors.Is(err, pgx.ErrNoRows) {
			return oops.Code(CodeProfileNotFound).With("id", id).Errorf("profile not found")
		}
		if err != nil {
			return err
		}
		return notify(ctx, tx, string(types.ChangeProfiles), guildID)
	})
	if err != nil {
		return oops.Code(CodeQueryFailed).With("operation", "delete profile").Wrap(err)
	}
	return nil
}
