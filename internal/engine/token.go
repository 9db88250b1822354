package engine

import "github.com/google/uuid"

// TokenGenerator issues the per-mutation op tokens that make journal
// ids content-addressed. Production uses UUIDTokens; tests substitute
// a deterministic generator.
type TokenGenerator interface {
	Generate() string
}

// UUIDTokens generates UUIDv7 tokens, time-ordered so journal rows
// sort roughly by wall clock even across restarts.
type UUIDTokens struct{}

func (UUIDTokens) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
