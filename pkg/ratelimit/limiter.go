// Package ratelimit bounds how often users may request synthesis, since
// every accepted job occupies the serial inference worker.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	Enabled              bool
	GenerationsPerMinute int
	PerUserLimit         bool
}

// DefaultConfig returns the default rate limiting configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		GenerationsPerMinute: 6,
		PerUserLimit:         true,
	}
}

// Limiter enforces a global budget plus an optional per-user budget on
// generation requests.
type Limiter struct {
	config Config
	global *rate.Limiter

	mu    sync.Mutex
	users map[string]*rate.Limiter
}

func NewLimiter(config Config) *Limiter {
	l := &Limiter{
		config: config,
		users:  make(map[string]*rate.Limiter),
	}
	if config.Enabled {
		l.global = newBucket(config.GenerationsPerMinute)
	}
	return l
}

func newBucket(perMinute int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
}

// AllowGeneration reports whether a generation request from userID may
// proceed right now. It never blocks; callers reject over-budget requests.
func (l *Limiter) AllowGeneration(userID string) bool {
	if !l.config.Enabled {
		return true
	}
	if !l.global.Allow() {
		return false
	}
	if l.config.PerUserLimit && userID != "" {
		return l.userBucket(userID).Allow()
	}
	return true
}

func (l *Limiter) userBucket(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.users[userID]
	if !ok {
		b = newBucket(l.config.GenerationsPerMinute)
		l.users[userID] = b
	}
	return b
}

// Reset drops all per-user state, mainly for tests.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.users = make(map[string]*rate.Limiter)
	l.mu.Unlock()
	if l.config.Enabled {
		l.global = newBucket(l.config.GenerationsPerMinute)
	}
}
