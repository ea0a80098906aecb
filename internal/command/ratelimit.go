// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package command

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Rate limiting defaults.
const (
	DefaultBurstCapacity   = 5
	DefaultSustainedRate   = 1.0
	DefaultCleanupInterval = 5 * time.Minute
	DefaultIdleTimeout     = time.Hour

	// CapabilityRateLimitBypass exempts an actor from command rate limiting.
	CapabilityRateLimitBypass = "command.ratelimit.bypass"
)

// RateLimiterConfig configures the rate limiter. Zero values take the
// defaults.
type RateLimiterConfig struct {
	BurstCapacity   int
	SustainedRate   float64 // tokens per second
	CleanupInterval time.Duration
	IdleTimeout     time.Duration
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// RateLimiter is a per-user token bucket. It is safe for concurrent use.
//
// A background goroutine drops idle users; Close stops it.
type RateLimiter struct {
	mu            sync.Mutex
	users         map[string]*bucket
	burstCapacity int
	sustainedRate float64
	idleTimeout   time.Duration
	now           func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup

	gauge prometheus.Gauge
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
// When reg is non-nil a tracked-user gauge is registered with it.
func NewRateLimiter(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	if cfg.BurstCapacity <= 0 {
		cfg.BurstCapacity = DefaultBurstCapacity
	}
	if cfg.SustainedRate <= 0 {
		cfg.SustainedRate = DefaultSustainedRate
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	rl := &RateLimiter{
		users:         make(map[string]*bucket),
		burstCapacity: cfg.BurstCapacity,
		sustainedRate: cfg.SustainedRate,
		idleTimeout:   cfg.IdleTimeout,
		now:           time.Now,
		stop:          make(chan struct{}),
	}
	if reg != nil {
		rl.gauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bastion_ratelimiter_users",
			Help: "Current number of users tracked by the command rate limiter",
		})
		reg.MustRegister(rl.gauge)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(cfg.CleanupInterval)
	return rl
}

// Allow consumes a token for userID. When none is available it reports the
// milliseconds until the next one.
func (rl *RateLimiter) Allow(userID string) (allowed bool, cooldownMs int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.users[userID]
	if !ok {
		b = &bucket{tokens: float64(rl.burstCapacity), lastSeen: now}
		rl.users[userID] = b
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * rl.sustainedRate
	if b.tokens > float64(rl.burstCapacity) {
		b.tokens = float64(rl.burstCapacity)
	}
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	return false, int64((1 - b.tokens) / rl.sustainedRate * 1000)
}

// Len returns the number of tracked users.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.users)
}

// Cleanup drops users idle for longer than idle.
func (rl *RateLimiter) Cleanup(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-idle)
	for id, b := range rl.users {
		if b.lastSeen.Before(threshold) {
			delete(rl.users, id)
		}
	}
	if rl.gauge != nil {
		rl.gauge.Set(float64(len(rl.users)))
	}
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.Cleanup(rl.idleTimeout)
		}
	}
}

// Close stops the cleanup goroutine and waits for it to exit.
func (rl *RateLimiter) Close() {
	close(rl.stop)
	rl.wg.Wait()
}
