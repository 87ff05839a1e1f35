// Package writepipeline implements C7: the revision write pipeline
// orchestrating resolve-or-allocate, protection, content-hash dedupe, and
// the two-phase durable write across the snapshot and metadata stores.
package writepipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/entityledger/core/internal/cachelayer"
	"github.com/entityledger/core/internal/entity"
	"github.com/entityledger/core/internal/eventsink"
	"github.com/entityledger/core/internal/hashing"
	"github.com/entityledger/core/internal/idalloc"
	"github.com/entityledger/core/internal/metastore"
	"github.com/entityledger/core/internal/protection"
	"github.com/entityledger/core/internal/snapstore"
	"github.com/entityledger/core/internal/telemetry"
)

// Request is the caller-facing write request, per §4.7.
type Request struct {
	External   entity.ExternalID
	EntityType entity.Type
	Body       entity.Body
	EditType   string
	Comment    string
	Author     string
	IsMassEdit bool
	IsNotAutoconfirmed bool
	MinorEdit  bool
}

// Result is returned on successful commit (or idempotent replay).
type Result struct {
	Internal entity.InternalID
	Revision entity.RevisionID
	Replayed bool // true when step 4's dedupe short-circuited the write
}

// Pipeline wires together every collaborator the write path needs.
type Pipeline struct {
	meta      metastore.Gateway
	snaps     snapstore.Gateway
	heads     cachelayer.HeadCache
	idmap     cachelayer.IDMapCache
	allocator *idalloc.Allocator
	engine    *protection.Engine
	sink      eventsink.Sink

	maxRetries int
	ioTimeout  time.Duration
	clock      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxRetries bounds the CAS-retry loop (step 2 restarts).
func WithMaxRetries(n int) Option {
	return func(p *Pipeline) { p.maxRetries = n }
}

// WithIOTimeout sets the Pipeline's per-call storage timeout value. Write
// does not apply it: storage calls run under the deadline of the context
// passed to Write.
func WithIOTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.ioTimeout = d }
}

// WithClock overrides the time source; used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.clock = now }
}

// New builds a Pipeline.
func New(meta metastore.Gateway, snaps snapstore.Gateway, heads cachelayer.HeadCache,
	idmap cachelayer.IDMapCache, allocator *idalloc.Allocator, engine *protection.Engine,
	sink eventsink.Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		meta:       meta,
		snaps:      snaps,
		heads:      heads,
		idmap:      idmap,
		allocator:  allocator,
		engine:     engine,
		sink:       sink,
		maxRetries: 8,
		ioTimeout:  5 * time.Second,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Write runs the full pipeline for req, retrying the CAS loop up to
// maxRetries times before surfacing entity.ErrTransientUnavailable.
func (p *Pipeline) Write(ctx context.Context, req Request) (Result, error) {
	internal, err := p.resolveOrAllocate(ctx, req)
	if err != nil {
		return Result{}, err
	}

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		start := p.clock()
		result, retry, err := p.attempt(ctx, internal, req)
		if err != nil {
			return Result{}, err
		}
		if !retry {
			return result, nil
		}
		telemetry.CASWaitMillis.Record(ctx, p.clock().Sub(start).Milliseconds(),
			metric.WithAttributes(attribute.String("entity.type", string(req.EntityType))))
		telemetry.WriteRetryCount.Add(ctx, 1,
			metric.WithAttributes(attribute.String("entity.type", string(req.EntityType))))
		p.heads.Invalidate(ctx, internal)
	}
	return Result{}, fmt.Errorf("writepipeline: %w: cas retries exhausted for %s", entity.ErrTransientUnavailable, req.External)
}

// resolveOrAllocate implements step 1: look up the external ID, or
// allocate a fresh internal ID and create the mapping. A unique-
// constraint race on CreateMapping is resolved by re-reading.
func (p *Pipeline) resolveOrAllocate(ctx context.Context, req Request) (entity.InternalID, error) {
	if internal, ok := p.idmap.Get(ctx, req.External); ok {
		return internal, nil
	}

	head, err := p.meta.ResolveExternal(ctx, req.External)
	if err == nil {
		p.idmap.Set(ctx, req.External, head.Internal)
		return head.Internal, nil
	}
	if !errors.Is(err, metastore.ErrNotFound) {
		return 0, fmt.Errorf("writepipeline: resolve %s: %w", req.External, wrapTransient(err))
	}

	internal, err := p.allocator.Allocate(ctx)
	if err != nil {
		return 0, fmt.Errorf("writepipeline: allocate id for %s: %w", req.External, err)
	}

	if err := p.meta.CreateMapping(ctx, req.External, internal, req.EntityType); err != nil {
		if errors.Is(err, metastore.ErrAlreadyExists) {
			head, rerr := p.meta.ResolveExternal(ctx, req.External)
			if rerr != nil {
				return 0, fmt.Errorf("writepipeline: re-resolve %s after race: %w", req.External, rerr)
			}
			p.idmap.Set(ctx, req.External, head.Internal)
			return head.Internal, nil
		}
		return 0, fmt.Errorf("writepipeline: create mapping %s: %w", req.External, err)
	}

	p.idmap.Set(ctx, req.External, internal)
	return internal, nil
}

// attempt runs one pass of steps 2-10. retry=true means the caller
// should reload head and try again (step 7/8 failure per §5's
// re-entry rule: always at step 2, never later).
func (p *Pipeline) attempt(ctx context.Context, internal entity.InternalID, req Request) (Result, bool, error) {
	head, err := p.loadHead(ctx, internal)
	if err != nil {
		return Result{}, false, err
	}

	decision := p.engine.Evaluate(head, entity.EditDescriptor{
		IsMassEdit:         req.IsMassEdit,
		EditType:           req.EditType,
		IsNotAutoconfirmed: req.IsNotAutoconfirmed,
	})
	if !decision.Accepted {
		return Result{}, false, fmt.Errorf("writepipeline: %w: %s", entity.ErrProtectionDenied, decision.Reason)
	}

	contentHash, err := hashing.ContentHash(req.Body)
	if err != nil {
		return Result{}, false, fmt.Errorf("writepipeline: hash body for %s: %w", req.External, err)
	}

	if head.CurrentRevision != 0 && !isDeletionOrRedirect(req.EditType) {
		if existing, found, err := p.meta.FindByContentHash(ctx, internal, contentHash); err == nil && found && existing.Revision == head.CurrentRevision {
			return Result{Internal: internal, Revision: head.CurrentRevision, Replayed: true}, false, nil
		}
	}

	newRev := head.CurrentRevision + 1
	uri := entity.SnapshotURI(req.External, newRev)

	snapshot := entity.Snapshot{
		SchemaVersion: entity.SchemaVersion,
		RevisionID:    newRev,
		CreatedAt:     p.clock().UTC(),
		CreatedBy:     req.Author,
		EntityType:    req.EntityType,
		EditType:      req.EditType,
		ContentHash:   contentHash,
		Entity:        req.Body,
	}

	// Phase A: write snapshot pending.
	body, err := hashing.Canonicalize(snapshot)
	if err != nil {
		return Result{}, false, fmt.Errorf("writepipeline: serialize snapshot for %s: %w", req.External, err)
	}
	if err := p.snaps.Put(ctx, uri, body, snapstore.TagPending); err != nil {
		return Result{}, false, fmt.Errorf("writepipeline: %w: put snapshot %s", entity.ErrWriteFailed, uri)
	}

	// Phase B: insert metadata.
	meta := entity.RevisionMeta{
		Internal:   internal,
		External:   req.External,
		Revision:   newRev,
		ParentRev:  head.CurrentRevision,
		ContentURI: uri,
		ContentSum: contentHash,
		Comment:    req.Comment,
		Author:     req.Author,
		CreatedAt:  snapshot.CreatedAt,
		MinorEdit:  req.MinorEdit,
	}
	if err := p.meta.InsertRevisionMeta(ctx, meta); err != nil {
		// Another writer claimed this revision id; the pending snapshot
		// is left for the reconciler to clean up. Restart at step 2.
		return Result{}, true, nil
	}

	// Phase C: CAS head.
	if err := p.meta.CASHead(ctx, internal, head.CurrentRevision, newRev, head.Flags(), true); err != nil {
		if errors.Is(err, metastore.ErrCASConflict) {
			return Result{}, true, nil
		}
		return Result{}, false, fmt.Errorf("writepipeline: cas head for %s: %w", req.External, wrapTransient(err))
	}

	// Phase D: publish. A failure here leaves the snapshot pending but
	// the head already points at it; I2 is preserved and the
	// reconciler retags it published on the next sweep.
	_ = p.snaps.SetTag(ctx, uri, snapstore.TagPublished)

	// Phase E: cache update and best-effort event emission.
	newHead := head
	newHead.CurrentRevision = newRev
	newHead.UpdatedAt = snapshot.CreatedAt
	newHead.Deleted = false
	p.heads.Set(ctx, newHead)

	p.sink.Publish(ctx, entity.ChangeEvent{
		EventID:    uuid.New(),
		Internal:   internal,
		External:   req.External,
		Revision:   newRev,
		ParentRev:  head.CurrentRevision,
		Kind:       changeKindFor(req.EditType, head.CurrentRevision),
		OccurredAt: snapshot.CreatedAt,
	})

	return Result{Internal: internal, Revision: newRev}, false, nil
}

func (p *Pipeline) loadHead(ctx context.Context, internal entity.InternalID) (entity.Head, error) {
	if head, ok := p.heads.Get(ctx, internal); ok {
		return head, nil
	}
	head, err := p.meta.GetHead(ctx, internal)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			return entity.Head{Internal: internal}, nil
		}
		return entity.Head{}, fmt.Errorf("writepipeline: load head %d: %w", internal, wrapTransient(err))
	}
	p.heads.Set(ctx, head)
	return head, nil
}

func isDeletionOrRedirect(editType string) bool {
	return editType == string(entity.ChangeDelete) || editType == string(entity.ChangeRedirect)
}

func changeKindFor(editType string, prevRev entity.RevisionID) entity.ChangeKind {
	switch editType {
	case string(entity.ChangeRedirect):
		return entity.ChangeRedirect
	case string(entity.ChangeDelete):
		return entity.ChangeDelete
	case string(entity.ChangeUndelete):
		return entity.ChangeUndelete
	default:
		if prevRev == 0 {
			return entity.ChangeCreate
		}
		return entity.ChangeEdit
	}
}

// wrapTransient classifies storage errors the pipeline doesn't recognize
// as a more specific sentinel as entity.ErrTransientUnavailable, so
// callers never need to import metastore/snapstore error types.
func wrapTransient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", entity.ErrTransientUnavailable, err)
}
