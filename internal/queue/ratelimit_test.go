package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWalletLimiter_BurstThenThrottle(t *testing.T) {
	l := newWalletLimiter(RateLimitConfig{Burst: 3, RefillPerSec: 1})

	for i := 0; i < 3; i++ {
		ok, _ := l.allow("w1")
		assert.True(t, ok, "burst allowance %d", i)
	}
	ok, retryIn := l.allow("w1")
	assert.False(t, ok)
	assert.Greater(t, retryIn, time.Duration(0))
}

func TestWalletLimiter_RefillOverTime(t *testing.T) {
	l := newWalletLimiter(RateLimitConfig{Burst: 1, RefillPerSec: 2})

	base := time.Now()
	l.now = func() time.Time { return base }

	ok, _ := l.allow("w1")
	assert.True(t, ok)
	ok, _ = l.allow("w1")
	assert.False(t, ok)

	// Half a second at 2 tokens/s restores one token.
	l.now = func() time.Time { return base.Add(500 * time.Millisecond) }
	ok, _ = l.allow("w1")
	assert.True(t, ok)
}

func TestWalletLimiter_IndependentWallets(t *testing.T) {
	l := newWalletLimiter(RateLimitConfig{Burst: 1, RefillPerSec: 0.1})

	ok, _ := l.allow("w1")
	assert.True(t, ok)
	ok, _ = l.allow("w2")
	assert.True(t, ok, "throttling w1 must not affect w2")
}

func TestWalletLimiter_CapAtBurst(t *testing.T) {
	l := newWalletLimiter(RateLimitConfig{Burst: 2, RefillPerSec: 100})

	base := time.Now()
	l.now = func() time.Time { return base }
	l.allow("w1")

	// A long idle period refills to capacity, never beyond.
	l.now = func() time.Time { return base.Add(time.Hour) }
	count := 0
	for i := 0; i < 10; i++ {
		if ok, _ := l.allow("w1"); ok {
			count++
		} else {
			break
		}
	}
	assert.Equal(t, 2, count)
}
