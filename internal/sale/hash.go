package sale

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainOp       = "salesync/op/v1"
	DomainSnapshot = "salesync/snapshot/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// OpID computes the content-addressed ID for a journaled engine operation.
// The ID is stable across restarts given the same token, op, args, and seq.
// Returns an error if args cannot be canonically marshaled.
func OpID(token, op string, args map[string]any, seq int64) (string, error) {
	obj := map[string]any{
		"token": token,
		"op":    op,
		"args":  args,
		"seq":   seq,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("OpID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainOp, canonical), nil
}

// SnapshotHash computes the content hash of a session snapshot's
// canonical form. Used to detect journal corruption on rehydrate.
func SnapshotHash(session map[string]any) (string, error) {
	canonical, err := MarshalCanonical(session)
	if err != nil {
		return "", fmt.Errorf("SnapshotHash: failed to marshal: %w", err)
	}

	return SnapshotHashBytes(canonical), nil
}

// SnapshotHashBytes hashes already-canonical snapshot bytes.
// Rehydration recomputes the hash over the stored bytes directly;
// decoding and re-marshaling would lose the no-float guarantee.
func SnapshotHashBytes(canonical []byte) string {
	return hashWithDomain(DomainSnapshot, canonical)
}

// MustOpID is like OpID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustOpID(token, op string, args map[string]any, seq int64) string {
	id, err := OpID(token, op, args, seq)
	if err != nil {
		panic(err)
	}
	return id
}

// MustSnapshotHash is like SnapshotHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustSnapshotHash(session map[string]any) string {
	h, err := SnapshotHash(session)
	if err != nil {
		panic(err)
	}
	return h
}
