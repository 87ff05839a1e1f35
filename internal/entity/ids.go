// Package entity holds the shared domain types for the entity-revision model:
// external/internal identifiers, the head pointer, revisions, redirects,
// delete audits, and the snapshot envelope. Nothing here talks to storage —
// these are the nouns the rest of the core operates on.
package entity

import (
	"regexp"
	"strings"
)

// Type is the kind of entity, encoded as the first letter of its external ID.
type Type string

const (
	TypeItem     Type = "item"
	TypeProperty Type = "property"
	TypeLexeme   Type = "lexeme"
)

// externalIDPattern matches Q123, P45, L7 — a type letter followed by digits.
var externalIDPattern = regexp.MustCompile(`^[QPL][1-9][0-9]*$`)

// ExternalID is the opaque, human-readable, permanent identifier exposed to callers.
type ExternalID string

// Valid reports whether id has the ASCII "letter + digits" shape required by §3.
func (id ExternalID) Valid() bool {
	return externalIDPattern.MatchString(string(id))
}

// Type derives the entity type from the external ID's leading letter.
func (id ExternalID) Type() (Type, bool) {
	if len(id) == 0 {
		return "", false
	}
	switch id[0] {
	case 'Q':
		return TypeItem, true
	case 'P':
		return TypeProperty, true
	case 'L':
		return TypeLexeme, true
	default:
		return "", false
	}
}

func (id ExternalID) String() string { return string(id) }

// InternalID is the 64-bit shard/join key assigned once at entity creation.
// Bit 63 is always 0 (see internal/idalloc for the bit layout).
type InternalID uint64

func (id InternalID) String() string {
	var b strings.Builder
	b.Grow(20)
	writeUint(&b, uint64(id))
	return b.String()
}

func writeUint(b *strings.Builder, v uint64) {
	if v == 0 {
		b.WriteByte('0')
		return
	}
	var digits [20]byte
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	b.Write(digits[i:])
}

// RevisionID is monotonic per entity, starting at 1.
type RevisionID uint64

// SnapshotURI derives the object-store key for a revision, per §6:
// "{external_id}/r{revision_id}.json".
func SnapshotURI(ext ExternalID, rev RevisionID) string {
	var b strings.Builder
	b.WriteString(string(ext))
	b.WriteString("/r")
	writeUint(&b, uint64(rev))
	b.WriteString(".json")
	return b.String()
}

// ParseSnapshotURI reverses SnapshotURI, used by the reconciler when all
// it has is an object key and needs back the external ID it belongs to.
func ParseSnapshotURI(uri string) (ExternalID, RevisionID, bool) {
	slash := strings.IndexByte(uri, '/')
	if slash < 0 || !strings.HasSuffix(uri, ".json") {
		return "", 0, false
	}
	ext := uri[:slash]
	rest := uri[slash+1:]
	rest = strings.TrimSuffix(rest, ".json")
	if !strings.HasPrefix(rest, "r") {
		return "", 0, false
	}
	digits := rest[1:]
	if digits == "" {
		return "", 0, false
	}
	var rev uint64
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", 0, false
		}
		rev = rev*10 + uint64(c-'0')
	}
	return ExternalID(ext), RevisionID(rev), true
}
