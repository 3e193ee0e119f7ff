package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limit int) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	rl := NewRateLimiter(limit, time.Minute)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiterAllow(t *testing.T) {
	rl, _ := newTestLimiter(5)
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d should be allowed", i+1)
	}
	assert.False(t, rl.Allow("10.0.0.1"), "6th request should be denied")
}

func TestRateLimiterMultipleClients(t *testing.T) {
	rl, _ := newTestLimiter(3)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("a"))
		assert.True(t, rl.Allow("b"))
	}

	assert.False(t, rl.Allow("a"))
	assert.False(t, rl.Allow("b"))
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl, clock := newTestLimiter(2)
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	clock.advance(30 * time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	// The first hit leaves the window; the second still counts.
	clock.advance(31 * time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
}

func TestRateLimiterRetryAfter(t *testing.T) {
	rl, clock := newTestLimiter(2)
	defer rl.Stop()

	assert.Equal(t, 0, rl.RetryAfter("a"), "no requests yet")

	rl.Allow("a")
	clock.advance(10 * time.Second)
	rl.Allow("a")
	assert.Equal(t, 50, rl.RetryAfter("a"))

	clock.advance(500 * time.Millisecond)
	assert.Equal(t, 50, rl.RetryAfter("a"), "rounds up")

	clock.advance(50 * time.Second)
	assert.Equal(t, 0, rl.RetryAfter("a"))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, clock := newTestLimiter(5)
	defer rl.Stop()

	rl.Allow("a")
	clock.advance(2 * time.Minute)
	rl.Allow("b")

	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.hits, "a")
	assert.Contains(t, rl.hits, "b")
}

func TestRateLimiterStopTwice(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}
