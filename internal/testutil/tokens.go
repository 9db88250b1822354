package testutil

import (
	"fmt"
	"sync"
)

// SequenceTokens generates deterministic op tokens for tests.
//
// Each call to Generate returns "<prefix>-000001", "<prefix>-000002", and
// so on. The same scenario with the same SequenceTokens produces
// byte-identical journal records and golden traces, unlike the
// production UUIDv7 generator.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceTokens struct {
	mu     sync.Mutex
	prefix string
	n      int64
}

// NewSequenceTokens creates a generator with the given token prefix.
//
// If prefix is empty, "op" is used so traces read "op-000001".
func NewSequenceTokens(prefix string) *SequenceTokens {
	if prefix == "" {
		prefix = "op"
	}
	return &SequenceTokens{prefix: prefix}
}

// Generate returns the next token in the sequence.
//
// Implements the engine's TokenGenerator interface.
func (g *SequenceTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%06d", g.prefix, g.n)
}

// Reset restarts the sequence. The next Generate returns "<prefix>-000001".
func (g *SequenceTokens) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
