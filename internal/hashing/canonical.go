// Package hashing implements C6, the content hasher: deterministic
// canonical JSON serialization plus a 64-bit non-cryptographic content
// hash used for write-idempotency and dedupe lookups.
package hashing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize renders v as JSON with sorted object keys and normalized
// number formatting, so that semantically identical entity bodies hash
// identically regardless of field insertion order or which platform wrote
// them. It round-trips through encoding/json's generic representation
// rather than trying to canonicalize arbitrary structs directly.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("hashing: marshal: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("hashing: decode for canonicalization: %w", err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		return writeCanonicalObject(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case json.Number:
		buf.WriteString(normalizeNumber(val))
		return nil
	default:
		enc, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("hashing: marshal leaf: %w", err)
		}
		buf.Write(enc)
		return nil
	}
}

func writeCanonicalObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyEnc, err := json.Marshal(k)
		if err != nil {
			return fmt.Errorf("hashing: marshal key: %w", err)
		}
		buf.Write(keyEnc)
		buf.WriteByte(':')
		if err := writeCanonical(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// normalizeNumber strips an exponent-form or trailing-zero json.Number down
// to the shortest representation that round-trips, so "1.0" and "1" and
// "1e0" all canonicalize identically.
func normalizeNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return fmt.Sprintf("%d", i)
	}
	f, err := n.Float64()
	if err != nil {
		return n.String()
	}
	return fmt.Sprintf("%g", f)
}
