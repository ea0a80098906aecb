// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bastionbot/bastion/internal/access/types"
)

// fakeConn delivers payloads from a channel; closing the channel simulates
// a dropped connection.
type fakeConn struct {
	payloads chan string
	listened []string
	released bool
	mu       sync.Mutex
}

func newFakeConn() *fakeConn { return &fakeConn{payloads: make(chan string, 8)} }

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listened = append(c.listened, sql)
	return pgconn.NewCommandTag("LISTEN"), nil
}

func (c *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case p, ok := <-c.payloads:
		if !ok {
			return nil, errors.New("connection reset")
		}
		return &pgconn.Notification{Channel: NotifyChannel, Payload: p}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
}

func (c *fakeConn) wasReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// dialer hands out conns in order, failing when it runs out.
func dialer(conns ...*fakeConn) func(context.Context) (notificationConn, error) {
	var mu sync.Mutex
	return func(context.Context) (notificationConn, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(conns) == 0 {
			return nil, errors.New("no database")
		}
		c := conns[0]
		conns = conns[1:]
		return c, nil
	}
}

func receive(t *testing.T, ch <-chan types.Change) types.Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "channel closed")
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return types.Change{}
	}
}

func TestParseChange(t *testing.T) {
	tests := []struct {
		payload string
		want    types.Change
		ok      bool
	}{
		{"levels:g1", types.Change{Kind: types.ChangeLevels, GuildID: "g1"}, true},
		{"profiles:0", types.Change{Kind: types.ChangeProfiles, GuildID: "0"}, true},
		{"profiles:", types.Change{Kind: types.ChangeProfiles}, true},
		{"policies:g1", types.Change{}, false},
		{"levels", types.Change{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseChange(tt.payload)
		assert.Equal(t, tt.ok, ok, tt.payload)
		assert.Equal(t, tt.want, got, tt.payload)
	}
}

func TestListenerForwardsChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn := newFakeConn()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := newListener(dialer(conn)).Listen(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"LISTEN " + NotifyChannel}, conn.listened)

	conn.payloads <- "garbage"
	conn.payloads <- "profiles:g1"
	assert.Equal(t, types.Change{Kind: types.ChangeProfiles, GuildID: "g1"}, receive(t, ch))

	cancel()
	for range ch {
	}
	assert.True(t, conn.wasReleased())
}

func TestListenerReconnects(t *testing.T) {
	defer goleak.VerifyNone(t)

	first, second := newFakeConn(), newFakeConn()
	l := newListener(dialer(first, second))
	l.reconnectInitial = time.Millisecond
	l.reconnectMax = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := l.Listen(ctx)
	require.NoError(t, err)

	close(first.payloads)
	assert.Equal(t, types.Change{Kind: types.ChangeLevels}, receive(t, ch), "resync after reconnect")

	second.payloads <- "levels:g2"
	assert.Equal(t, types.Change{Kind: types.ChangeLevels, GuildID: "g2"}, receive(t, ch))
	assert.True(t, first.wasReleased())

	cancel()
	for range ch {
	}
}

func TestListenerFailsFast(t *testing.T) {
	_, err := newListener(dialer()).Listen(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database")
}
