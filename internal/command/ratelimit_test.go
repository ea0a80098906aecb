// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package command

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newLimiter(t *testing.T, cfg RateLimiterConfig) (*RateLimiter, *fakeClock) {
	t.Helper()
	rl := NewRateLimiter(cfg, nil)
	t.Cleanup(rl.Close)
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl.now = clock.now
	return rl, clock
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := NewRateLimiter(RateLimiterConfig{BurstCapacity: -1}, nil)
	defer rl.Close()

	assert.Equal(t, DefaultBurstCapacity, rl.burstCapacity)
	assert.Equal(t, DefaultSustainedRate, rl.sustainedRate)
	assert.Equal(t, DefaultIdleTimeout, rl.idleTimeout)
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, clock := newLimiter(t, RateLimiterConfig{BurstCapacity: 3, SustainedRate: 2})

	for i := 0; i < 3; i++ {
		ok, cooldown := rl.Allow("u1")
		require.True(t, ok, "burst call %d", i)
		assert.Zero(t, cooldown)
	}

	ok, cooldown := rl.Allow("u1")
	assert.False(t, ok)
	assert.Equal(t, int64(500), cooldown)

	ok, _ = rl.Allow("u2")
	assert.True(t, ok, "users are independent")

	clock.advance(500 * time.Millisecond)
	ok, _ = rl.Allow("u1")
	assert.True(t, ok)
}

func TestRateLimiter_RefillCapsAtBurst(t *testing.T) {
	rl, clock := newLimiter(t, RateLimiterConfig{BurstCapacity: 2, SustainedRate: 1})

	rl.Allow("u1")
	clock.advance(time.Hour)
	for i := 0; i < 2; i++ {
		ok, _ := rl.Allow("u1")
		require.True(t, ok)
	}
	ok, _ := rl.Allow("u1")
	assert.False(t, ok)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl, clock := newLimiter(t, RateLimiterConfig{})

	rl.Allow("old")
	clock.advance(2 * time.Hour)
	rl.Allow("fresh")
	require.Equal(t, 2, rl.Len())

	rl.Cleanup(time.Hour)
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimiter_Gauge(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := prometheus.NewRegistry()
	rl := NewRateLimiter(RateLimiterConfig{}, reg)
	defer rl.Close()

	rl.Allow("a")
	rl.Allow("b")
	rl.Cleanup(time.Hour)
	assert.Equal(t, float64(2), testutil.ToFloat64(rl.gauge))
}
