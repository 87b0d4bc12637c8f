package testutil

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// DeterministicClock is a thread-safe clock for tests that advances by a
// fixed step on every reading. It can be reset so the same scenario produces
// the same timestamps on every run.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	n     int64
}

// NewDeterministicClock creates a clock whose first reading is start.
func NewDeterministicClock(start time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{start: start, step: step}
}

// Now returns the next reading: start, start+step, start+2*step, ...
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.n) * c.step)
	c.n++
	return t
}

// Readings returns how many times Now has been called.
func (c *DeterministicClock) Readings() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset makes the next reading start again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}

// SequenceIDs generates "prefix-1", "prefix-2", ... in call order. It stands
// in for the UUIDv7 translation ID generator where output must be stable.
//
// Thread-safety: SequenceIDs is safe for concurrent use.
type SequenceIDs struct {
	prefix string
	n      atomic.Int64
}

// NewSequenceIDs creates a generator. An empty prefix defaults to "id".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceIDs{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequenceIDs) Generate() string {
	return g.prefix + "-" + strconv.FormatInt(g.n.Add(1), 10)
}
