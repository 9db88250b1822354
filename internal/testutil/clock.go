package testutil

import "sync"

// SequenceClock provides a thread-safe monotonic logical clock for tests.
//
// Unlike the engine's internal op clock, SequenceClock can be reset for
// test reuse. This enables the same test scenario to run multiple times
// with identical seq values.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequenceClock struct {
	mu  sync.Mutex
	seq int64
}

// NewSequenceClock creates a new clock starting at 0.
//
// The first call to Next() returns 1.
func NewSequenceClock() *SequenceClock {
	return &SequenceClock{seq: 0}
}

// Next increments and returns the next sequence number.
func (c *SequenceClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *SequenceClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset resets the clock to 0.
//
// After Reset(), the next call to Next() returns 1.
func (c *SequenceClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
