package cachelayer_test

import (
	"context"
	"testing"
	"time"

	"github.com/entityledger/core/internal/cachelayer"
	"github.com/entityledger/core/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUHeadCacheSetGet(t *testing.T) {
	c, err := cachelayer.NewLRUHeadCache(16, 5*time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	_, ok := c.Get(ctx, 1)
	assert.False(t, ok)

	c.Set(ctx, entity.Head{Internal: 1, External: "Q1", CurrentRevision: 3})
	head, ok := c.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, entity.RevisionID(3), head.CurrentRevision)

	c.Invalidate(ctx, 1)
	_, ok = c.Get(ctx, 1)
	assert.False(t, ok)
}

func TestLRUHeadCacheExpires(t *testing.T) {
	c, err := cachelayer.NewLRUHeadCache(16, time.Millisecond)
	require.NoError(t, err)

	ctx := context.Background()
	c.Set(ctx, entity.Head{Internal: 1, External: "Q1"})
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(ctx, 1)
	assert.False(t, ok)
}

func TestLRUIDMapCacheSetGet(t *testing.T) {
	c, err := cachelayer.NewLRUIDMapCache(16, time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	c.Set(ctx, "Q1", 42)

	got, ok := c.Get(ctx, "Q1")
	require.True(t, ok)
	assert.Equal(t, entity.InternalID(42), got)

	c.Invalidate(ctx, "Q1")
	_, ok = c.Get(ctx, "Q1")
	assert.False(t, ok)
}
