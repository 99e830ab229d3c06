package queue

import (
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Per-wallet rate limiting
// Token bucket per wallet id, refilled lazily on access. Correct under
// concurrent enqueue from all bots: all buckets share one mutex, and the
// hot path is a couple of float ops.
// ---------------------------------------------------------------------------

// RateLimitConfig configures the per-wallet throttle.
type RateLimitConfig struct {
	Burst        int     `yaml:"burst"`          // bucket capacity
	RefillPerSec float64 `yaml:"refill_per_sec"` // tokens restored per second
}

// DefaultRateLimitConfig returns production defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Burst:        5,
		RefillPerSec: 0.5, // one trade per wallet every 2s sustained
	}
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// walletLimiter throttles enqueues per wallet id.
type walletLimiter struct {
	config RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*bucket

	now func() time.Time
}

func newWalletLimiter(config RateLimitConfig) *walletLimiter {
	if config.Burst <= 0 {
		config.Burst = DefaultRateLimitConfig().Burst
	}
	if config.RefillPerSec <= 0 {
		config.RefillPerSec = DefaultRateLimitConfig().RefillPerSec
	}
	return &walletLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// allow consumes one token for the wallet if available. Returns the time
// until a token will be available when throttled.
func (l *walletLimiter) allow(walletID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[walletID]
	if !ok {
		b = &bucket{tokens: float64(l.config.Burst), lastRefill: now}
		l.buckets[walletID] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * l.config.RefillPerSec
		if b.tokens > float64(l.config.Burst) {
			b.tokens = float64(l.config.Burst)
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	deficit := 1 - b.tokens
	retryIn := time.Duration(deficit / l.config.RefillPerSec * float64(time.Second))
	return false, retryIn
}
