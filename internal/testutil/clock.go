package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start of a DeterministicClock: the base date of the
// synthetic episodes.
var Epoch = time.Date(2026, 2, 19, 10, 0, 0, 0, time.UTC)

// DeterministicClock is a wall clock for tests that advances by a fixed step
// on every reading.
//
// Unlike clock.System, two runs of the same test observe identical
// timestamps, which keeps golden decision records byte-stable.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	step  time.Duration
}

// NewDeterministicClock creates a clock whose first reading is start.
// Each subsequent reading is step later. A zero start uses Epoch.
func NewDeterministicClock(start time.Time, step time.Duration) *DeterministicClock {
	if start.IsZero() {
		start = Epoch
	}
	return &DeterministicClock{start: start.UTC(), now: start.UTC(), step: step}
}

// Now returns the current reading and advances the clock.
//
// Implements clock.Clock.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the next reading without advancing.
func (c *DeterministicClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to its start.
//
// Used for test reuse. After Reset(), the next Now() returns start again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
