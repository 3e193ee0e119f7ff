package commandqueue

import (
	"sync"
	"time"
)

// DefaultDedupTTL is how long a completed result stays replayable.
const DefaultDedupTTL = 5 * time.Minute

// flight is one execution of a request ID. Duplicates that arrive while it
// runs wait on done and share its result.
type flight struct {
	done    chan struct{}
	result  taskResult
	expires time.Time
}

// replayCache maps request IDs to their running or finished flights.
// Expired entries are swept lazily, at most once per TTL.
type replayCache struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	flights   map[string]*flight
	lastSweep time.Time
}

func newReplayCache(ttl time.Duration) *replayCache {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &replayCache{
		ttl:     ttl,
		now:     time.Now,
		flights: make(map[string]*flight),
	}
}

// begin returns the flight for id. leader is true when the caller must run
// the task and report it through finish; otherwise the caller waits on the
// returned flight.
func (c *replayCache) begin(id string) (f *flight, leader bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) >= c.ttl {
		c.sweep(now)
	}

	if f, ok := c.flights[id]; ok && (f.expires.IsZero() || now.Before(f.expires)) {
		return f, false
	}
	f = &flight{done: make(chan struct{})}
	c.flights[id] = f
	return f, true
}

// finish publishes the leader's result to waiting duplicates. Results that
// should not be replayed release the ID at once.
func (c *replayCache) finish(id string, f *flight, result taskResult, keep bool) {
	c.mu.Lock()
	f.result = result
	if keep {
		f.expires = c.now().Add(c.ttl)
	} else if c.flights[id] == f {
		delete(c.flights, id)
	}
	c.mu.Unlock()

	close(f.done)
}

// sweep drops finished flights past their expiry. Callers hold c.mu.
func (c *replayCache) sweep(now time.Time) {
	for id, f := range c.flights {
		if !f.expires.IsZero() && !now.Before(f.expires) {
			delete(c.flights, id)
		}
	}
	c.lastSweep = now
}

func (c *replayCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flights)
}
