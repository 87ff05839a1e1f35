package snapstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/entityledger/core/internal/snapstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := snapstore.NewMemory()

	require.NoError(t, m.Put(ctx, "Q1/r1.json", []byte(`{"a":1}`), snapstore.TagPending))

	body, err := m.Get(ctx, "Q1/r1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(body))

	tag, err := m.GetTag(ctx, "Q1/r1.json")
	require.NoError(t, err)
	assert.Equal(t, snapstore.TagPending, tag)
}

func TestMemoryNeverOverwritesPublished(t *testing.T) {
	ctx := context.Background()
	m := snapstore.NewMemory()

	require.NoError(t, m.Put(ctx, "Q1/r1.json", []byte("v1"), snapstore.TagPending))
	require.NoError(t, m.SetTag(ctx, "Q1/r1.json", snapstore.TagPublished))

	err := m.Put(ctx, "Q1/r1.json", []byte("v2"), snapstore.TagPending)
	assert.ErrorIs(t, err, snapstore.ErrAlreadyPublished)

	err = m.SetTag(ctx, "Q1/r1.json", snapstore.TagPending)
	assert.ErrorIs(t, err, snapstore.ErrAlreadyPublished)
}

func TestMemoryGetMissing(t *testing.T) {
	ctx := context.Background()
	m := snapstore.NewMemory()

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, snapstore.ErrNotFound)
}

func TestMemoryListPendingOlderThan(t *testing.T) {
	ctx := context.Background()
	m := snapstore.NewMemory()

	require.NoError(t, m.Put(ctx, "Q1/r1.json", []byte("v1"), snapstore.TagPending))

	cutoff := time.Now().Add(time.Hour)
	pending, err := m.ListPendingOlderThan(ctx, "", cutoff, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Q1/r1.json", pending[0].URI)

	require.NoError(t, m.SetTag(ctx, "Q1/r1.json", snapstore.TagPublished))
	pending, err = m.ListPendingOlderThan(ctx, "", cutoff, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
