package writepipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/entityledger/core/internal/cachelayer"
	"github.com/entityledger/core/internal/entity"
	"github.com/entityledger/core/internal/eventsink/inproc"
	"github.com/entityledger/core/internal/idalloc"
	"github.com/entityledger/core/internal/metastore"
	"github.com/entityledger/core/internal/protection"
	"github.com/entityledger/core/internal/snapstore"
	"github.com/entityledger/core/internal/writepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeline(t *testing.T) (*writepipeline.Pipeline, *metastore.Memory, *inproc.Sink) {
	t.Helper()
	meta := metastore.NewMemory()
	snaps := snapstore.NewMemory()
	heads, err := cachelayer.NewLRUHeadCache(128, time.Minute)
	require.NoError(t, err)
	idmap, err := cachelayer.NewLRUIDMapCache(128, time.Hour)
	require.NoError(t, err)
	sink := inproc.New()
	allocator := idalloc.New(meta)
	engine := protection.New()

	p := writepipeline.New(meta, snaps, heads, idmap, allocator, engine, sink)
	return p, meta, sink
}

func TestWriteCreatesFirstRevision(t *testing.T) {
	ctx := context.Background()
	p, _, sink := newPipeline(t)

	res, err := p.Write(ctx, writepipeline.Request{
		External:   "Q1",
		EntityType: entity.TypeItem,
		Body:       entity.Body{ID: "Q1", Type: entity.TypeItem, Labels: map[string]string{"en": "test"}},
		EditType:   "edit",
		Author:     "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.RevisionID(1), res.Revision)
	assert.False(t, res.Replayed)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, entity.ChangeCreate, events[0].Kind)
}

func TestWriteSecondEditBumpsRevision(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newPipeline(t)

	_, err := p.Write(ctx, writepipeline.Request{
		External: "Q1", EntityType: entity.TypeItem,
		Body: entity.Body{ID: "Q1", Labels: map[string]string{"en": "v1"}},
		EditType: "edit", Author: "alice",
	})
	require.NoError(t, err)

	res, err := p.Write(ctx, writepipeline.Request{
		External: "Q1", EntityType: entity.TypeItem,
		Body: entity.Body{ID: "Q1", Labels: map[string]string{"en": "v2"}},
		EditType: "edit", Author: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.RevisionID(2), res.Revision)
}

func TestWriteIdenticalContentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, _, sink := newPipeline(t)

	body := entity.Body{ID: "Q1", Labels: map[string]string{"en": "same"}}
	first, err := p.Write(ctx, writepipeline.Request{
		External: "Q1", EntityType: entity.TypeItem, Body: body, EditType: "edit", Author: "alice",
	})
	require.NoError(t, err)

	second, err := p.Write(ctx, writepipeline.Request{
		External: "Q1", EntityType: entity.TypeItem, Body: body, EditType: "edit", Author: "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, first.Revision, second.Revision)
	assert.True(t, second.Replayed)
	assert.Len(t, sink.Events(), 1, "no change event on idempotent replay")
}

func TestWriteRejectsLockedEntity(t *testing.T) {
	ctx := context.Background()
	p, meta, _ := newPipeline(t)

	_, err := p.Write(ctx, writepipeline.Request{
		External: "Q1", EntityType: entity.TypeItem,
		Body: entity.Body{ID: "Q1"}, EditType: "edit", Author: "alice",
	})
	require.NoError(t, err)

	head, err := meta.ResolveExternal(ctx, "Q1")
	require.NoError(t, err)
	require.NoError(t, meta.CASHead(ctx, head.Internal, head.CurrentRevision, head.CurrentRevision,
		entity.ProtectionFlags{Locked: true}, true))

	_, err = p.Write(ctx, writepipeline.Request{
		External: "Q1", EntityType: entity.TypeItem,
		Body: entity.Body{ID: "Q1", Labels: map[string]string{"en": "blocked"}}, EditType: "edit", Author: "bob",
	})
	assert.ErrorIs(t, err, entity.ErrProtectionDenied)
}

func TestWriteReusesExistingMapping(t *testing.T) {
	ctx := context.Background()
	p, meta, _ := newPipeline(t)

	res1, err := p.Write(ctx, writepipeline.Request{
		External: "Q1", EntityType: entity.TypeItem, Body: entity.Body{ID: "Q1"}, EditType: "edit", Author: "alice",
	})
	require.NoError(t, err)

	head, err := meta.ResolveExternal(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, res1.Internal, head.Internal)

	res2, err := p.Write(ctx, writepipeline.Request{
		External: "Q1", EntityType: entity.TypeItem,
		Body: entity.Body{ID: "Q1", Labels: map[string]string{"en": "again"}}, EditType: "edit", Author: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, res1.Internal, res2.Internal)
}
