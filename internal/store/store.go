// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package store persists permission levels and permission profiles in
// PostgreSQL and publishes change notifications for the resolvers.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// Error codes.
const (
	CodeConnectFailed    = "DB_CONNECT_FAILED"
	CodeQueryFailed      = "PERSISTENCE_FAILED"
	CodeLevelNotFound    = "LEVEL_NOT_FOUND"
	CodeLevelDuplicate   = "LEVEL_DUPLICATE"
	CodeProfileNotFound  = "PROFILE_NOT_FOUND"
	CodeProfileDuplicate = "PROFILE_DUPLICATE"
	CodeInvalidRecord    = "RECORD_INVALID"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying record changes.
const NotifyChannel = "permissions_changed"

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens a pool and pings it.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.Code(CodeConnectFailed).Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code(CodeConnectFailed).With("operation", "ping").Wrap(err)
	}
	return pool, nil
}

// PostgresStore implements types.LevelStore and types.ProfileStore.
type PostgresStore struct {
	pool Pool
}

// NewPostgresStore creates a store backed by pool.
func NewPostgresStore(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// notify queues a change notification inside tx; it is delivered on commit.
func notify(ctx context.Context, tx pgx.Tx, kind, guildID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, kind+":"+guildID)
	return err
}

// inTx runs fn in a transaction and commits when it succeeds.
func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// orEmpty keeps NOT NULL array columns from receiving SQL NULL.
func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
