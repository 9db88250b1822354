package engine

import "sync"

// mutationQueue is an unbounded FIFO of pending mutations with a
// coalesced wake-up signal.
//
// The signal channel holds at most one token: however many mutations
// arrive while the engine is busy, one receive wakes it and it drains
// by TryDequeue until empty. This keeps Enqueue non-blocking without
// guessing a channel capacity.
type mutationQueue struct {
	mu        sync.Mutex
	mutations []*mutation
	closed    bool
	signal    chan struct{}
}

func newMutationQueue() *mutationQueue {
	return &mutationQueue{
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends a mutation and wakes the consumer. Returns false if
// the queue is closed.
func (q *mutationQueue) Enqueue(m *mutation) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.mutations = append(q.mutations, m)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the oldest mutation, nil when the queue is empty.
func (q *mutationQueue) TryDequeue() *mutation {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.mutations) == 0 {
		return nil
	}
	m := q.mutations[0]
	q.mutations[0] = nil
	q.mutations = q.mutations[1:]
	if len(q.mutations) == 0 {
		q.mutations = nil
	}
	return m
}

// Wait returns the wake-up channel. It is closed when the queue is
// closed, so receives never block forever.
func (q *mutationQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending mutations.
func (q *mutationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.mutations)
}

// Closed reports whether Close has been called. The consumer must
// check this together with Len: a drained signal token looks the same
// as a close, and only Closed distinguishes "nothing to do right now"
// from "nothing will ever arrive".
func (q *mutationQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further enqueues and releases waiting consumers.
// Idempotent.
func (q *mutationQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
