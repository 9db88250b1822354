package engine

import "sync/atomic"

// opClock issues the monotonically increasing sequence numbers that
// order journal records. One clock per engine; sequence numbers are
// never reused within a journal.
type opClock struct {
	seq atomic.Int64
}

func newOpClock() *opClock {
	return &opClock{}
}

// newOpClockAt returns a clock whose next value is start+1.
func newOpClockAt(start int64) *opClock {
	c := &opClock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *opClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number without advancing.
func (c *opClock) Current() int64 {
	return c.seq.Load()
}

// AdvanceTo moves the clock forward to at least seq. Used after
// rehydration so new ops sequence after everything already journaled.
func (c *opClock) AdvanceTo(seq int64) {
	for {
		cur := c.seq.Load()
		if cur >= seq {
			return
		}
		if c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}
