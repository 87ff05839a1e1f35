package testutil

import (
	"time"

	"github.com/entityledger/core/internal/cachelayer"
	"github.com/entityledger/core/internal/changepoller"
	"github.com/entityledger/core/internal/editing"
	"github.com/entityledger/core/internal/eventsink/inproc"
	"github.com/entityledger/core/internal/idalloc"
	"github.com/entityledger/core/internal/metastore"
	"github.com/entityledger/core/internal/protection"
	"github.com/entityledger/core/internal/readpath"
	"github.com/entityledger/core/internal/reconciler"
	"github.com/entityledger/core/internal/snapstore"
	"github.com/entityledger/core/internal/writepipeline"
)

// Harness wires the full in-memory stack once, the way every component
// package's own newXxx(t) test helper otherwise repeats by hand
// (pipeline_test.go's newPipeline, readpath_test.go's newReader, and so
// on). Components still build their own narrower helpers when a test
// only needs one or two pieces; Harness is for tests that need the whole
// stack wired consistently.
type Harness struct {
	Meta      *metastore.Memory
	Snaps     *snapstore.Memory
	Heads     *cachelayer.LRUHeadCache
	IDMap     *cachelayer.LRUIDMapCache
	Allocator *idalloc.Allocator
	Engine    *protection.Engine
	Sink      *inproc.Sink

	Pipeline   *writepipeline.Pipeline
	Editing    *editing.Service
	Reader     *readpath.Reader
	Reconciler *reconciler.Reconciler
	Poller     *changepoller.Poller
	Checkpoint *changepoller.MemoryCheckpoint
}

// NewHarness assembles every in-memory double and wires the
// higher-level components on top of them. cacheSize and cacheTTL tune
// the LRU caches; callers with no preference can pass 128 and
// time.Minute.
func NewHarness(cacheSize int, cacheTTL time.Duration) (*Harness, error) {
	meta := metastore.NewMemory()
	snaps := snapstore.NewMemory()

	heads, err := cachelayer.NewLRUHeadCache(cacheSize, cacheTTL)
	if err != nil {
		return nil, err
	}
	idmap, err := cachelayer.NewLRUIDMapCache(cacheSize, cacheTTL)
	if err != nil {
		return nil, err
	}

	sink := inproc.New()
	allocator := idalloc.New(meta)
	engine := protection.New()
	checkpoint := changepoller.NewMemoryCheckpoint()

	return &Harness{
		Meta:      meta,
		Snaps:     snaps,
		Heads:     heads,
		IDMap:     idmap,
		Allocator: allocator,
		Engine:    engine,
		Sink:      sink,

		Pipeline:   writepipeline.New(meta, snaps, heads, idmap, allocator, engine, sink),
		Editing:    editing.New(meta, snaps, heads, sink),
		Reader:     readpath.New(meta, snaps, heads),
		Reconciler: reconciler.New(meta, snaps, heads, reconciler.DefaultConfig()),
		Poller:     changepoller.New(meta, snaps, sink, checkpoint, changepoller.DefaultConfig(), nil),
		Checkpoint: checkpoint,
	}, nil
}
