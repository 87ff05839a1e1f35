package readpath_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entityledger/core/internal/cachelayer"
	"github.com/entityledger/core/internal/entity"
	"github.com/entityledger/core/internal/metastore"
	"github.com/entityledger/core/internal/readpath"
	"github.com/entityledger/core/internal/snapstore"
)

func seed(t *testing.T, meta *metastore.Memory, snaps *snapstore.Memory, ext entity.ExternalID, internal entity.InternalID, rev entity.RevisionID, labels map[string]string) {
	t.Helper()
	ctx := context.Background()
	if rev == 1 {
		require.NoError(t, meta.CreateMapping(ctx, ext, internal, entity.TypeItem))
	}
	uri := entity.SnapshotURI(ext, rev)
	snapshot := entity.Snapshot{
		SchemaVersion: entity.SchemaVersion,
		RevisionID:    rev,
		CreatedAt:     time.Now().UTC(),
		EntityType:    entity.TypeItem,
		Entity:        entity.Body{ID: ext, Type: entity.TypeItem, Labels: labels},
	}
	body, err := json.Marshal(snapshot)
	require.NoError(t, err)
	require.NoError(t, snaps.Put(ctx, uri, body, snapstore.TagPublished))
	require.NoError(t, meta.InsertRevisionMeta(ctx, entity.RevisionMeta{
		Internal: internal, External: ext, Revision: rev, ContentURI: uri, CreatedAt: snapshot.CreatedAt,
	}))
	require.NoError(t, meta.CASHead(ctx, internal, rev-1, rev, entity.ProtectionFlags{}, true))
}

func newReader(t *testing.T) (*readpath.Reader, *metastore.Memory, *snapstore.Memory) {
	t.Helper()
	meta := metastore.NewMemory()
	snaps := snapstore.NewMemory()
	heads, err := cachelayer.NewLRUHeadCache(128, time.Minute)
	require.NoError(t, err)
	return readpath.New(meta, snaps, heads), meta, snaps
}

func TestGetEntityReturnsCurrentSnapshot(t *testing.T) {
	r, meta, snaps := newReader(t)
	seed(t, meta, snaps, "Q1", 100, 1, map[string]string{"en": "first"})

	head, snapshot, err := r.GetEntity(context.Background(), "Q1", false)
	require.NoError(t, err)
	assert.Equal(t, entity.RevisionID(1), head.CurrentRevision)
	assert.Equal(t, "first", snapshot.Entity.Labels["en"])
}

func TestGetEntityGoneAfterHardDelete(t *testing.T) {
	ctx := context.Background()
	r, meta, snaps := newReader(t)
	seed(t, meta, snaps, "Q1", 100, 1, nil)

	require.NoError(t, meta.MarkDeleted(ctx, 100, true, "spam", "alice", uuid.New()))

	_, _, err := r.GetEntity(ctx, "Q1", false)
	assert.ErrorIs(t, err, entity.ErrGone)
}

func TestGetEntityRedirectWithoutFollow(t *testing.T) {
	ctx := context.Background()
	r, meta, snaps := newReader(t)
	seed(t, meta, snaps, "Q1", 100, 1, nil)
	seed(t, meta, snaps, "Q2", 200, 1, map[string]string{"en": "target"})
	require.NoError(t, meta.CreateRedirect(ctx, 100, "Q2", 2, uuid.New()))

	_, _, err := r.GetEntity(ctx, "Q1", false)
	assert.ErrorIs(t, err, entity.ErrRedirected)
}

func TestGetEntityRedirectFollowed(t *testing.T) {
	ctx := context.Background()
	r, meta, snaps := newReader(t)
	seed(t, meta, snaps, "Q1", 100, 1, nil)
	seed(t, meta, snaps, "Q2", 200, 1, map[string]string{"en": "target"})
	require.NoError(t, meta.CreateRedirect(ctx, 100, "Q2", 2, uuid.New()))

	head, snapshot, err := r.GetEntity(ctx, "Q1", true)
	require.NoError(t, err)
	assert.Equal(t, entity.ExternalID("Q2"), head.External)
	assert.Equal(t, "target", snapshot.Entity.Labels["en"])
}

func TestGetHistoryAscending(t *testing.T) {
	ctx := context.Background()
	r, meta, snaps := newReader(t)
	seed(t, meta, snaps, "Q1", 100, 1, map[string]string{"en": "v1"})
	seed(t, meta, snaps, "Q1", 100, 2, map[string]string{"en": "v2"})
	seed(t, meta, snaps, "Q1", 100, 3, map[string]string{"en": "v3"})

	history, err := r.GetHistory(ctx, "Q1", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, entity.RevisionID(1), history[0].Revision)
	assert.Equal(t, entity.RevisionID(3), history[2].Revision)
}

func TestGetRawRevisionReturnsUnwrappedBody(t *testing.T) {
	ctx := context.Background()
	r, meta, snaps := newReader(t)
	seed(t, meta, snaps, "Q1", 100, 1, map[string]string{"en": "first"})

	body, err := r.GetRawRevision(ctx, "Q1", 1)
	require.NoError(t, err)
	assert.Equal(t, "first", body.Labels["en"])
}

func TestGetRevisionMissingReturnsRevisionNotFound(t *testing.T) {
	ctx := context.Background()
	r, meta, snaps := newReader(t)
	seed(t, meta, snaps, "Q1", 100, 1, nil)

	_, err := r.GetRevision(ctx, "Q1", 99)
	assert.ErrorIs(t, err, entity.ErrRevisionNotFound)
}
