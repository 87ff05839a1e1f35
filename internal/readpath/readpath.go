// Package readpath implements C11: the read-only query surface over the
// cache, metadata, and snapshot layers — get-entity, get-revision,
// history, and raw-revision, with gone/redirect semantics applied
// uniformly (§4.11).
package readpath

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/entityledger/core/internal/cachelayer"
	"github.com/entityledger/core/internal/entity"
	"github.com/entityledger/core/internal/metastore"
	"github.com/entityledger/core/internal/snapstore"
)

// Reader serves the read path.
type Reader struct {
	meta  metastore.Gateway
	snaps snapstore.Gateway
	heads cachelayer.HeadCache
}

// New builds a Reader.
func New(meta metastore.Gateway, snaps snapstore.Gateway, heads cachelayer.HeadCache) *Reader {
	return &Reader{meta: meta, snaps: snaps, heads: heads}
}

// GetEntity resolves external through the metadata gateway and returns
// its current snapshot; the head it loads is written to the head cache,
// but the cache is not consulted. Returns entity.ErrGone if hard-deleted. Returns
// entity.ErrRedirected with the target set on the returned Head if the
// entity currently redirects and followRedirect is false; if
// followRedirect is true, the target is resolved and its snapshot
// returned instead (single-hop only, per §4.8/I7).
func (r *Reader) GetEntity(ctx context.Context, external entity.ExternalID, followRedirect bool) (entity.Head, entity.Snapshot, error) {
	head, err := r.loadHead(ctx, external)
	if err != nil {
		return entity.Head{}, entity.Snapshot{}, err
	}

	if head.Deleted {
		return head, entity.Snapshot{}, fmt.Errorf("%w: %s", entity.ErrGone, external)
	}

	if head.IsRedirect() {
		if !followRedirect {
			return head, entity.Snapshot{}, fmt.Errorf("%w: %s -> %s", entity.ErrRedirected, external, head.RedirectTarget)
		}
		targetHead, snapshot, err := r.GetEntity(ctx, head.RedirectTarget, false)
		if err != nil {
			return head, entity.Snapshot{}, err
		}
		return targetHead, snapshot, nil
	}

	snapshot, err := r.fetchSnapshot(ctx, head.Internal, head.External, head.CurrentRevision)
	if err != nil {
		return head, entity.Snapshot{}, err
	}
	return head, snapshot, nil
}

// GetRevision returns the full envelope for a specific prior revision,
// regardless of the entity's current head state (a deleted or
// redirected entity's history remains readable).
func (r *Reader) GetRevision(ctx context.Context, external entity.ExternalID, rev entity.RevisionID) (entity.Snapshot, error) {
	head, err := r.meta.ResolveExternal(ctx, external)
	if err != nil {
		return entity.Snapshot{}, fmt.Errorf("readpath: resolve %s: %w", external, err)
	}
	return r.fetchSnapshot(ctx, head.Internal, external, rev)
}

// GetRawRevision is identical to GetRevision but returns only the
// unwrapped entity body, per §4.11's "raw revision" endpoint.
func (r *Reader) GetRawRevision(ctx context.Context, external entity.ExternalID, rev entity.RevisionID) (entity.Body, error) {
	snapshot, err := r.GetRevision(ctx, external, rev)
	if err != nil {
		return entity.Body{}, err
	}
	return snapshot.Entity, nil
}

// GetHistory lists revision metadata for external, ascending by
// revision id.
func (r *Reader) GetHistory(ctx context.Context, external entity.ExternalID, limit int) ([]entity.RevisionMeta, error) {
	head, err := r.meta.ResolveExternal(ctx, external)
	if err != nil {
		return nil, fmt.Errorf("readpath: resolve %s: %w", external, err)
	}

	// ListHistory returns newest-first (§4.11 wants ascending); reverse
	// after fetching rather than pushing the ordering concern into every
	// Gateway implementation.
	descending, err := r.meta.ListHistory(ctx, head.Internal, 0, limit)
	if err != nil {
		return nil, fmt.Errorf("readpath: list history for %s: %w", external, err)
	}
	ascending := make([]entity.RevisionMeta, len(descending))
	for i, rev := range descending {
		ascending[len(descending)-1-i] = rev
	}
	return ascending, nil
}

func (r *Reader) loadHead(ctx context.Context, external entity.ExternalID) (entity.Head, error) {
	head, err := r.meta.ResolveExternal(ctx, external)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			return entity.Head{}, fmt.Errorf("%w: %s", entity.ErrNotFound, external)
		}
		return entity.Head{}, fmt.Errorf("readpath: resolve %s: %w", external, err)
	}
	r.heads.Set(ctx, head)
	return head, nil
}

func (r *Reader) fetchSnapshot(ctx context.Context, internal entity.InternalID, external entity.ExternalID, rev entity.RevisionID) (entity.Snapshot, error) {
	if rev == 0 {
		return entity.Snapshot{}, fmt.Errorf("%w: %s has no revisions", entity.ErrNoRevisions, external)
	}

	meta, err := r.meta.GetRevisionMeta(ctx, internal, rev)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			return entity.Snapshot{}, fmt.Errorf("%w: %s rev %d", entity.ErrRevisionNotFound, external, rev)
		}
		return entity.Snapshot{}, fmt.Errorf("readpath: get revision meta for %s rev %d: %w", external, rev, err)
	}

	raw, err := r.snaps.Get(ctx, meta.ContentURI)
	if err != nil {
		if errors.Is(err, snapstore.ErrNotFound) {
			return entity.Snapshot{}, fmt.Errorf("%w: %s rev %d", entity.ErrRevisionNotFound, external, rev)
		}
		return entity.Snapshot{}, fmt.Errorf("readpath: get snapshot %s: %w", meta.ContentURI, err)
	}

	var snapshot entity.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return entity.Snapshot{}, fmt.Errorf("readpath: decode snapshot %s: %w", meta.ContentURI, err)
	}
	return snapshot, nil
}
