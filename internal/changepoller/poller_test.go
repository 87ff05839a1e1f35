package changepoller_test

import (
	"context"
	"testing"
	"time"

	"github.com/entityledger/core/internal/changepoller"
	"github.com/entityledger/core/internal/entity"
	"github.com/entityledger/core/internal/eventsink/inproc"
	"github.com/entityledger/core/internal/metastore"
	"github.com/entityledger/core/internal/snapstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollOnceEmitsCreateForFirstRevision(t *testing.T) {
	ctx := context.Background()
	meta := metastore.NewMemory()
	snaps := snapstore.NewMemory()
	sink := inproc.New()
	checkpoint := changepoller.NewMemoryCheckpoint()
	poller := changepoller.New(meta, snaps, sink, checkpoint, changepoller.Config{Interval: time.Minute, BatchSize: 10}, nil)

	require.NoError(t, meta.CreateMapping(ctx, "Q1", 100, entity.TypeItem))
	require.NoError(t, meta.CASHead(ctx, 100, 0, 1, entity.ProtectionFlags{}, true))

	n, err := poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, entity.ChangeCreate, events[0].Kind)
	assert.Equal(t, entity.RevisionID(1), events[0].Revision)
}

func TestPollOnceEmitsEditWithPreviousRevision(t *testing.T) {
	ctx := context.Background()
	meta := metastore.NewMemory()
	snaps := snapstore.NewMemory()
	sink := inproc.New()
	checkpoint := changepoller.NewMemoryCheckpoint()
	poller := changepoller.New(meta, snaps, sink, checkpoint, changepoller.Config{Interval: time.Minute, BatchSize: 10}, nil)

	require.NoError(t, meta.CreateMapping(ctx, "Q1", 100, entity.TypeItem))
	require.NoError(t, meta.InsertRevisionMeta(ctx, entity.RevisionMeta{Internal: 100, External: "Q1", Revision: 1, CreatedAt: time.Now().UTC()}))
	require.NoError(t, meta.CASHead(ctx, 100, 0, 2, entity.ProtectionFlags{}, true))

	n, err := poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, entity.ChangeEdit, events[0].Kind)
	assert.Equal(t, entity.RevisionID(1), events[0].ParentRev)
}

func TestPollOnceAdvancesCheckpointAndDoesNotRepeat(t *testing.T) {
	ctx := context.Background()
	meta := metastore.NewMemory()
	snaps := snapstore.NewMemory()
	sink := inproc.New()
	checkpoint := changepoller.NewMemoryCheckpoint()
	poller := changepoller.New(meta, snaps, sink, checkpoint, changepoller.Config{Interval: time.Minute, BatchSize: 10}, nil)

	require.NoError(t, meta.CreateMapping(ctx, "Q1", 100, entity.TypeItem))
	require.NoError(t, meta.CASHead(ctx, 100, 0, 1, entity.ProtectionFlags{}, true))

	_, err := poller.PollOnce(ctx)
	require.NoError(t, err)

	n, err := poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "checkpoint should exclude already-seen changes on the next poll")
}
