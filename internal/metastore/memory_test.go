package metastore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entityledger/core/internal/entity"
	"github.com/entityledger/core/internal/metastore"
)

func TestMemoryCreateMappingAndResolve(t *testing.T) {
	ctx := context.Background()
	m := metastore.NewMemory()

	require.NoError(t, m.CreateMapping(ctx, "Q1", 100, entity.TypeItem))

	head, err := m.ResolveExternal(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, entity.InternalID(100), head.Internal)
	assert.Equal(t, entity.RevisionID(0), head.CurrentRevision)

	err = m.CreateMapping(ctx, "Q1", 200, entity.TypeItem)
	assert.ErrorIs(t, err, metastore.ErrAlreadyExists)

	err = m.CreateMapping(ctx, "Q2", 100, entity.TypeItem)
	assert.ErrorIs(t, err, metastore.ErrInternalIDInUse)
}

func TestMemoryCASHead(t *testing.T) {
	ctx := context.Background()
	m := metastore.NewMemory()
	require.NoError(t, m.CreateMapping(ctx, "Q1", 100, entity.TypeItem))

	require.NoError(t, m.CASHead(ctx, 100, 0, 1, entity.ProtectionFlags{}, true))

	err := m.CASHead(ctx, 100, 0, 2, entity.ProtectionFlags{}, true)
	assert.ErrorIs(t, err, metastore.ErrCASConflict)

	require.NoError(t, m.CASHead(ctx, 100, 1, 2, entity.ProtectionFlags{}, true))
	head, err := m.GetHead(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, entity.RevisionID(2), head.CurrentRevision)
}

func TestMemoryRedirectLifecycle(t *testing.T) {
	ctx := context.Background()
	m := metastore.NewMemory()
	require.NoError(t, m.CreateMapping(ctx, "Q1", 100, entity.TypeItem))
	require.NoError(t, m.CreateMapping(ctx, "Q2", 200, entity.TypeItem))

	require.NoError(t, m.CreateRedirect(ctx, 100, "Q2", 1, uuid.New()))
	head, err := m.GetHead(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, entity.ExternalID("Q2"), head.RedirectTarget)

	incoming, err := m.GetIncomingRedirects(ctx, "Q2")
	require.NoError(t, err)
	assert.Equal(t, []entity.ExternalID{"Q1"}, incoming)

	require.NoError(t, m.RevertRedirect(ctx, 100))
	head, err = m.GetHead(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, head.RedirectTarget)
}

func TestMemoryListHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := metastore.NewMemory()
	require.NoError(t, m.CreateMapping(ctx, "Q1", 100, entity.TypeItem))

	base := time.Now().UTC()
	for i := 1; i <= 3; i++ {
		require.NoError(t, m.InsertRevisionMeta(ctx, entity.RevisionMeta{
			Internal: 100, External: "Q1", Revision: entity.RevisionID(i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	history, err := m.ListHistory(ctx, 100, 0, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, entity.RevisionID(3), history[0].Revision)
	assert.Equal(t, entity.RevisionID(1), history[2].Revision)
}

func TestMemoryFindByContentHash(t *testing.T) {
	ctx := context.Background()
	m := metastore.NewMemory()
	require.NoError(t, m.CreateMapping(ctx, "Q1", 100, entity.TypeItem))
	require.NoError(t, m.InsertRevisionMeta(ctx, entity.RevisionMeta{Internal: 100, Revision: 1, ContentSum: 42}))

	rev, found, err := m.FindByContentHash(ctx, 100, 42)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, entity.RevisionID(1), rev.Revision)

	_, found, err = m.FindByContentHash(ctx, 100, 99)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryMarkDeletedAndUndelete(t *testing.T) {
	ctx := context.Background()
	m := metastore.NewMemory()
	require.NoError(t, m.CreateMapping(ctx, "Q1", 100, entity.TypeItem))

	require.NoError(t, m.MarkDeleted(ctx, 100, false, "spam", "alice", uuid.New()))
	head, err := m.GetHead(ctx, 100)
	require.NoError(t, err)
	assert.False(t, head.Deleted)

	require.NoError(t, m.Undelete(ctx, 100, "bob"))

	require.NoError(t, m.MarkDeleted(ctx, 100, true, "legal", "alice", uuid.New()))
	head, err = m.GetHead(ctx, 100)
	require.NoError(t, err)
	assert.True(t, head.Deleted)

	err = m.Undelete(ctx, 100, "bob")
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}

func TestMemoryListChangedSincePagination(t *testing.T) {
	ctx := context.Background()
	m := metastore.NewMemory()
	base := time.Now().UTC()

	require.NoError(t, m.CreateMapping(ctx, "Q1", 100, entity.TypeItem))
	require.NoError(t, m.CASHead(ctx, 100, 0, 1, entity.ProtectionFlags{}, true))

	changes, err := m.ListChangedSince(ctx, base.Add(-time.Minute), 0, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, entity.InternalID(100), changes[0].Internal)
}
