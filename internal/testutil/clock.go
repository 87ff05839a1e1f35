// Package testutil collects the C13 test doubles and wiring helpers
// shared across component test suites: a deterministic clock and a
// Harness that assembles the in-memory stack (metastore.Memory,
// snapstore.Memory, LRU caches, the allocator, and protection engine)
// the same way each component's own _test.go file already does by hand.
package testutil

import (
	"sync"
	"time"
)

// Clock is an injectable, advanceable time source for tests. The teacher
// has no single clock package, but the pattern recurs throughout its
// reconciliation-adjacent tests — deletions_test.go and compact_test.go
// both fix "now" to a literal timestamp rather than calling time.Now —
// generalized here into one reusable double instead of a fixed literal
// per test file.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts the clock at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fixed time. Matches the `func() time.Time`
// shape of writepipeline's WithClock, the only clock override a
// component accepts.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set pins the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
