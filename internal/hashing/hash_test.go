package hashing_test

import (
	"testing"

	"github.com/entityledger/core/internal/hashing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2}
	b := map[string]any{"a": 2, "b": 1}

	ca, err := hashing.Canonicalize(a)
	require.NoError(t, err)
	cb, err := hashing.Canonicalize(b)
	require.NoError(t, err)

	assert.Equal(t, string(ca), string(cb))
	assert.Equal(t, `{"a":2,"b":1}`, string(ca))
}

func TestCanonicalizeNormalizesNumbers(t *testing.T) {
	a := map[string]any{"x": 1.0}
	b := map[string]any{"x": 1}

	ca, err := hashing.Canonicalize(a)
	require.NoError(t, err)
	cb, err := hashing.Canonicalize(b)
	require.NoError(t, err)

	assert.Equal(t, string(ca), string(cb))
}

func TestContentHashStableAcrossFieldOrder(t *testing.T) {
	h1, err := hashing.ContentHash(map[string]any{"label": "cat", "id": "Q1"})
	require.NoError(t, err)
	h2, err := hashing.ContentHash(map[string]any{"id": "Q1", "label": "cat"})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestContentHashDiffersOnContentChange(t *testing.T) {
	h1, err := hashing.ContentHash(map[string]any{"id": "Q1", "label": "cat"})
	require.NoError(t, err)
	h2, err := hashing.ContentHash(map[string]any{"id": "Q1", "label": "dog"})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}
