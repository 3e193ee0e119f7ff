package server

import (
	"math"
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter keyed by client address
type RateLimiter struct {
	hits            map[string][]time.Time
	limit           int
	window          time.Duration
	mu              sync.Mutex
	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
}

// NewRateLimiter allows limit requests per client within window
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		hits:            make(map[string][]time.Time),
		limit:           limit,
		window:          window,
		cleanupInterval: 5 * time.Minute,
		stop:            make(chan struct{}),
		now:             time.Now,
	}

	go rl.startCleanup()

	return rl
}

// Allow records a request from client and reports whether it is within the limit
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.prune(rl.hits[client], now)
	if len(recent) >= rl.limit {
		rl.hits[client] = recent
		return false
	}
	rl.hits[client] = append(recent, now)
	return true
}

// RetryAfter returns the whole seconds until client may send again
func (rl *RateLimiter) RetryAfter(client string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	recent := rl.prune(rl.hits[client], rl.now())
	if len(recent) < rl.limit || len(recent) == 0 {
		return 0
	}
	wait := recent[0].Add(rl.window).Sub(rl.now())
	return int(math.Ceil(wait.Seconds()))
}

// prune drops timestamps that fell out of the window; hits are kept in order.
func (rl *RateLimiter) prune(hits []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-rl.window)
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

// cleanup forgets clients with no requests inside the window
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for client, hits := range rl.hits {
		if recent := rl.prune(hits, now); len(recent) == 0 {
			delete(rl.hits, client)
		} else {
			rl.hits[client] = recent
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
