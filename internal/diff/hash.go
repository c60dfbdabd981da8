package diff

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"math"
	"sort"

	"github.com/xtxerr/nrcsync/internal/ingest"
)

// =============================================================================
// Hash Builder
// =============================================================================

// HashBuilder provides a fluent API for building content hashes.
//
// Usage:
//
//	hash := NewHashBuilder().
//	    String(part.Name).
//	    Bytes(part.Payload.Fingerprint()).
//	    Build()
//
// The hash is deterministic - same inputs always produce the same output.
// Order of operations matters.
type HashBuilder struct {
	h   hash.Hash64
	buf [8]byte
}

// NewHashBuilder creates a new hash builder.
func NewHashBuilder() *HashBuilder {
	return &HashBuilder{h: fnv.New64a()}
}

// String adds a string value to the hash.
func (b *HashBuilder) String(s string) *HashBuilder {
	b.h.Write([]byte(s))
	b.h.Write([]byte{0}) // Separator to avoid collisions
	return b
}

// Strings adds multiple strings to the hash, sorted.
func (b *HashBuilder) Strings(ss []string) *HashBuilder {
	sorted := make([]string, len(ss))
	copy(sorted, ss)
	sort.Strings(sorted)
	return b.OrderedStrings(sorted)
}

// OrderedStrings adds multiple strings in the given order.
func (b *HashBuilder) OrderedStrings(ss []string) *HashBuilder {
	b.Int(len(ss))
	for _, s := range ss {
		b.String(s)
	}
	return b
}

// Int adds an integer to the hash.
func (b *HashBuilder) Int(i int) *HashBuilder {
	return b.Uint64(uint64(i))
}

// Int64 adds an int64 to the hash.
func (b *HashBuilder) Int64(i int64) *HashBuilder {
	return b.Uint64(uint64(i))
}

// Uint64 adds a uint64 to the hash.
func (b *HashBuilder) Uint64(i uint64) *HashBuilder {
	binary.LittleEndian.PutUint64(b.buf[:], i)
	b.h.Write(b.buf[:])
	return b
}

// Float64 adds a float64 to the hash by its bit pattern.
func (b *HashBuilder) Float64(f float64) *HashBuilder {
	return b.Uint64(math.Float64bits(f))
}

// Bool adds a boolean to the hash.
func (b *HashBuilder) Bool(v bool) *HashBuilder {
	if v {
		b.h.Write([]byte{1})
	} else {
		b.h.Write([]byte{0})
	}
	return b
}

// Bytes adds raw bytes to the hash.
func (b *HashBuilder) Bytes(data []byte) *HashBuilder {
	b.Int(len(data))
	b.h.Write(data)
	return b
}

// Payload adds a payload, distinguishing unset from empty.
func (b *HashBuilder) Payload(p ingest.Payload) *HashBuilder {
	b.Bool(!p.IsZero())
	return b.Bytes(p.Fingerprint())
}

// Build returns the final hash value.
func (b *HashBuilder) Build() uint64 {
	return b.h.Sum64()
}

// =============================================================================
// Entity hashes
// =============================================================================

// HashPart hashes a part's own content including rank.
func HashPart(p *ingest.Part) uint64 {
	return NewHashBuilder().
		String(p.ExternalID).
		String(p.Name).
		Float64(p.Rank).
		Payload(p.Payload).
		Build()
}

// HashSegment hashes a segment without its parts.
func HashSegment(s *ingest.Segment) uint64 {
	return NewHashBuilder().
		String(s.ExternalID).
		String(s.Name).
		Float64(s.Rank).
		Payload(s.Payload).
		Build()
}

// HashRundown hashes a rundown without its segments.
func HashRundown(r *ingest.Rundown) uint64 {
	return NewHashBuilder().
		String(r.ExternalID).
		String(r.Name).
		String(r.Type).
		Payload(r.Payload).
		Build()
}

// TreeRevision hashes a whole tree. Modified timestamps are ignored, so a
// cached tree and the delivery it came from share a revision.
func TreeRevision(r *ingest.Rundown) uint64 {
	if r == nil {
		return 0
	}
	b := NewHashBuilder().Uint64(HashRundown(r)).Int(len(r.Segments))
	for _, s := range r.Segments {
		b.Uint64(HashSegment(s)).Int(len(s.Parts))
		for _, p := range s.Parts {
			b.Uint64(HashPart(p))
		}
	}
	return b.Build()
}
