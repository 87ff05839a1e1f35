package hashing

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// ContentHash canonicalizes v and returns its 64-bit xxh3 hash. Used for
// write-idempotency (§4.7 step 4) and history dedupe lookups. Not a
// cryptographic hash: a tradeoff of collision resistance for throughput.
// The write pipeline accepts a hash match as a replay only when the
// matching revision is the entity's current head; it does not compare
// the stored bytes (see Open Questions in SPEC_FULL.md).
func ContentHash(v any) (uint64, error) {
	canon, err := Canonicalize(v)
	if err != nil {
		return 0, fmt.Errorf("hashing: content hash: %w", err)
	}
	return xxh3.Hash(canon), nil
}

// MustContentHash panics on error; reserved for call sites that have
// already validated v serializes cleanly (e.g. internal test fixtures).
func MustContentHash(v any) uint64 {
	h, err := ContentHash(v)
	if err != nil {
		panic(err)
	}
	return h
}
