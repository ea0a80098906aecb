// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/bastionbot/bastion/internal/access/types"
)

// Reconnect backoff defaults.
const (
	defaultReconnectInitial = 100 * time.Millisecond
	defaultReconnectMax     = 30 * time.Second
)

// notificationConn is a connection dedicated to LISTEN.
type notificationConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Release()
}

type pooledConn struct {
	*pgxpool.Conn
}

func (c pooledConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return c.Conn.Conn().WaitForNotification(ctx)
}

// ParseChange decodes a "kind:guild_id" notification payload.
func ParseChange(payload string) (types.Change, bool) {
	kind, guildID, ok := strings.Cut(payload, ":")
	if !ok {
		return types.Change{}, false
	}
	switch k := types.ChangeKind(kind); k {
	case types.ChangeLevels, types.ChangeProfiles:
		return types.Change{Kind: k, GuildID: guildID}, true
	default:
		return types.Change{}, false
	}
}

// Listener implements types.Listener over PostgreSQL LISTEN/NOTIFY. Every
// Listen call holds its own connection and reconnects with capped
// exponential backoff until ctx is cancelled.
type Listener struct {
	dial             func(ctx context.Context) (notificationConn, error)
	reconnectInitial time.Duration
	reconnectMax     time.Duration
}

// NewListener creates a listener that acquires connections from pool.
func NewListener(pool *pgxpool.Pool) *Listener {
	return newListener(func(ctx context.Context) (notificationConn, error) {
		c, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return pooledConn{c}, nil
	})
}

func newListener(dial func(ctx context.Context) (notificationConn, error)) *Listener {
	return &Listener{
		dial:             dial,
		reconnectInitial: defaultReconnectInitial,
		reconnectMax:     defaultReconnectMax,
	}
}

// Listen subscribes to NotifyChannel. The first connection is made before
// returning so that a bad database fails fast. After a reconnect a levels
// change for every guild is emitted, since notifications may have been
// missed.
func (l *Listener) Listen(ctx context.Context) (<-chan types.Change, error) {
	conn, err := l.subscribe(ctx)
	if err != nil {
		return nil, oops.Code(CodeConnectFailed).With("channel", NotifyChannel).Wrap(err)
	}

	out := make(chan types.Change, 16)
	go l.loop(ctx, conn, out)
	return out, nil
}

func (l *Listener) subscribe(ctx context.Context) (notificationConn, error) {
	conn, err := l.dial(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Release()
		return nil, err
	}
	return conn, nil
}

func (l *Listener) loop(ctx context.Context, conn notificationConn, out chan<- types.Change) {
	defer close(out)
	for {
		err := l.receive(ctx, conn, out)
		conn.Release()
		if ctx.Err() != nil {
			return
		}
		slog.WarnContext(ctx, "permission change listener disconnected", "error", err)

		conn, err = l.reconnect(ctx)
		if err != nil {
			return
		}
		if !send(ctx, out, types.Change{Kind: types.ChangeLevels}) {
			conn.Release()
			return
		}
	}
}

// receive forwards notifications until the connection fails.
func (l *Listener) receive(ctx context.Context, conn notificationConn, out chan<- types.Change) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		change, ok := ParseChange(n.Payload)
		if !ok {
			slog.WarnContext(ctx, "ignoring malformed permission change", "payload", n.Payload)
			continue
		}
		if !send(ctx, out, change) {
			return ctx.Err()
		}
	}
}

func (l *Listener) reconnect(ctx context.Context) (notificationConn, error) {
	backoff := retry.WithCappedDuration(l.reconnectMax, retry.NewExponential(l.reconnectInitial))
	var conn notificationConn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := l.subscribe(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			slog.WarnContext(ctx, "permission change listener reconnect failed", "error", err)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	return conn, err
}

func send(ctx context.Context, out chan<- types.Change, c types.Change) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
