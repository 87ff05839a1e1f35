package reconciler_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/entityledger/core/internal/cachelayer"
	"github.com/entityledger/core/internal/entity"
	"github.com/entityledger/core/internal/reconciler"
	"github.com/entityledger/core/internal/metastore"
	"github.com/entityledger/core/internal/snapstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReconciler(t *testing.T, cfg reconciler.Config) (*reconciler.Reconciler, *metastore.Memory, *snapstore.Memory) {
	t.Helper()
	meta := metastore.NewMemory()
	snaps := snapstore.NewMemory()
	heads, err := cachelayer.NewLRUHeadCache(128, time.Minute)
	require.NoError(t, err)
	return reconciler.New(meta, snaps, heads, cfg), meta, snaps
}

func putSnapshot(t *testing.T, snaps *snapstore.Memory, ext entity.ExternalID, rev entity.RevisionID, tag snapstore.Tag) string {
	t.Helper()
	uri := entity.SnapshotURI(ext, rev)
	snapshot := entity.Snapshot{
		SchemaVersion: entity.SchemaVersion,
		RevisionID:    rev,
		CreatedAt:     time.Now().UTC(),
		EntityType:    entity.TypeItem,
		EditType:      "edit",
		Entity:        entity.Body{ID: ext, Type: entity.TypeItem},
	}
	body, err := json.Marshal(snapshot)
	require.NoError(t, err)
	require.NoError(t, snaps.Put(context.Background(), uri, body, tag))
	return uri
}

func TestSweepInsertsMissingMetadataAndPublishes(t *testing.T) {
	ctx := context.Background()
	rec, meta, snaps := newReconciler(t, reconciler.Config{AbandonmentTTL: time.Hour, SweepLimit: 100})

	require.NoError(t, meta.CreateMapping(ctx, "Q1", 100, entity.TypeItem))
	require.NoError(t, meta.CASHead(ctx, 100, 0, 1, entity.ProtectionFlags{}, true))
	putSnapshot(t, snaps, "Q1", 1, snapstore.TagPending)

	report, err := rec.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MetadataInserted)
	assert.Equal(t, 1, report.Published)

	_, err = meta.GetRevisionMeta(ctx, 100, 1)
	require.NoError(t, err)

	tag, err := snaps.GetTag(ctx, entity.SnapshotURI("Q1", 1))
	require.NoError(t, err)
	assert.Equal(t, snapstore.TagPublished, tag)
}

func TestSweepAdvancesLaggingHead(t *testing.T) {
	ctx := context.Background()
	rec, meta, snaps := newReconciler(t, reconciler.Config{AbandonmentTTL: time.Hour, SweepLimit: 100})

	require.NoError(t, meta.CreateMapping(ctx, "Q1", 100, entity.TypeItem))
	// head stays at 0 while a revision 1 metadata row + published snapshot exist
	require.NoError(t, meta.InsertRevisionMeta(ctx, entity.RevisionMeta{
		Internal: 100, External: "Q1", Revision: 1, ContentURI: entity.SnapshotURI("Q1", 1),
		CreatedAt: time.Now().UTC(),
	}))
	putSnapshot(t, snaps, "Q1", 1, snapstore.TagPublished)

	report, err := rec.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.HeadsAdvanced)

	head, err := meta.GetHead(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, entity.RevisionID(1), head.CurrentRevision)
}

func TestSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rec, meta, snaps := newReconciler(t, reconciler.Config{AbandonmentTTL: time.Hour, SweepLimit: 100})

	require.NoError(t, meta.CreateMapping(ctx, "Q1", 100, entity.TypeItem))
	require.NoError(t, meta.CASHead(ctx, 100, 0, 1, entity.ProtectionFlags{}, true))
	putSnapshot(t, snaps, "Q1", 1, snapstore.TagPending)

	_, err := rec.Sweep(ctx)
	require.NoError(t, err)

	second, err := rec.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.MetadataInserted)
	assert.Zero(t, second.HeadsAdvanced)
}
