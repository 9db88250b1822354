package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpClock_NextIncrements(t *testing.T) {
	c := newOpClock()

	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(3), c.Next())
	assert.Equal(t, int64(3), c.Current())
}

func TestOpClock_CurrentDoesNotAdvance(t *testing.T) {
	c := newOpClock()

	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
}

func TestOpClock_StartsAfterSeed(t *testing.T) {
	c := newOpClockAt(41)

	assert.Equal(t, int64(41), c.Current())
	assert.Equal(t, int64(42), c.Next())
}

func TestOpClock_AdvanceToNeverMovesBackward(t *testing.T) {
	c := newOpClockAt(10)

	c.AdvanceTo(5)
	assert.Equal(t, int64(10), c.Current())

	c.AdvanceTo(25)
	assert.Equal(t, int64(25), c.Current())
	assert.Equal(t, int64(26), c.Next())
}

func TestOpClock_ConcurrentNextIsUnique(t *testing.T) {
	c := newOpClock()
	const n = 200

	var wg sync.WaitGroup
	seen := make(chan int64, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Next()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool, n)
	for seq := range seen {
		assert.False(t, unique[seq], "sequence %d issued twice", seq)
		unique[seq] = true
	}
	assert.Len(t, unique, n)
	assert.Equal(t, int64(n), c.Current())
}
