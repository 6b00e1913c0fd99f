// Package ratelimit implements per-key token buckets used to throttle
// repeated requests such as login attempts.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

const defaultMaxKeys = 10000

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained rate per key. Zero or negative disables limiting.
	RPS   float64
	Burst int
	// MaxKeys bounds the tracked keys; the table is reset when it fills.
	MaxKeys int
}

// Limiter manages per-key rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	maxKeys  int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
		maxKeys:  maxKeys,
	}
}

// Allow reports whether key may proceed now, consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	limiter, exists := l.limiters[key]
	if !exists {
		if len(l.limiters) >= l.maxKeys {
			l.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
