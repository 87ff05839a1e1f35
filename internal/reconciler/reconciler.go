// Package reconciler implements C9: the idempotent background sweep
// that repairs pending snapshots, missing metadata rows, and lagging
// head pointers left behind by partial write-pipeline failures (§4.9).
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/entityledger/core/internal/cachelayer"
	"github.com/entityledger/core/internal/entity"
	"github.com/entityledger/core/internal/metastore"
	"github.com/entityledger/core/internal/snapstore"
)

// Config holds the reconciler's tunables, read from configuration (§6).
type Config struct {
	// AbandonmentTTL is how long a pending snapshot may sit without a
	// metadata row before it's logged as abandoned (never deleted: I6
	// forbids deleting or overwriting a stored object either way).
	AbandonmentTTL time.Duration
	// SweepLimit bounds how many pending objects / lagging revisions a
	// single Sweep call inspects, so a pass over a large backlog can be
	// paginated across repeated calls.
	SweepLimit int
}

// DefaultConfig matches the spec's suggested defaults.
func DefaultConfig() Config {
	return Config{AbandonmentTTL: 10 * time.Minute, SweepLimit: 500}
}

// Report summarizes one Sweep call's effects, for logging and metrics.
type Report struct {
	MetadataInserted int
	Published        int
	HeadsAdvanced    int
	Abandoned        int
}

// Reconciler repairs the invariants the write pipeline normally
// maintains, after partial failures leave the metastore/snapstore out of
// sync. Every method is safe to call repeatedly and never moves a head
// backward (I4).
type Reconciler struct {
	meta  metastore.Gateway
	snaps snapstore.Gateway
	heads cachelayer.HeadCache
	cfg   Config
	clock func() time.Time
}

// New builds a Reconciler.
func New(meta metastore.Gateway, snaps snapstore.Gateway, heads cachelayer.HeadCache, cfg Config) *Reconciler {
	return &Reconciler{meta: meta, snaps: snaps, heads: heads, cfg: cfg, clock: time.Now}
}

// Sweep runs one full repair pass: pending-snapshot repair, then
// lagging-head repair.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	report := Report{}

	if err := r.repairPending(ctx, &report); err != nil {
		return report, fmt.Errorf("reconciler: repair pending snapshots: %w", err)
	}
	if err := r.repairLaggingHeads(ctx, &report); err != nil {
		return report, fmt.Errorf("reconciler: repair lagging heads: %w", err)
	}
	return report, nil
}

// repairPending scans pending snapshots: inserts a missing metadata row
// from the envelope, and republishes any snapshot the head has already
// caught up to.
func (r *Reconciler) repairPending(ctx context.Context, report *Report) error {
	cutoff := r.clock().UTC()
	pending, err := r.snaps.ListPendingOlderThan(ctx, "", cutoff, r.cfg.SweepLimit)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	for _, obj := range pending {
		ext, rev, ok := entity.ParseSnapshotURI(obj.URI)
		if !ok {
			log.Printf("reconciler: skipping unparseable pending object %q", obj.URI)
			continue
		}

		head, err := r.meta.ResolveExternal(ctx, ext)
		if err != nil {
			if errors.Is(err, metastore.ErrNotFound) {
				r.logAbandonedIfStale(ctx, obj)
				continue
			}
			return fmt.Errorf("resolve %s: %w", ext, err)
		}

		if _, err := r.meta.GetRevisionMeta(ctx, head.Internal, rev); errors.Is(err, metastore.ErrNotFound) {
			if err := r.insertMetaFromSnapshot(ctx, head.Internal, ext, rev, obj.URI); err != nil {
				if r.isStale(obj) {
					r.logAbandonedIfStale(ctx, obj)
					continue
				}
				return fmt.Errorf("insert metadata for %s rev %d: %w", ext, rev, err)
			}
			report.MetadataInserted++
		} else if err != nil {
			return fmt.Errorf("get revision meta for %s rev %d: %w", ext, rev, err)
		}

		if head.CurrentRevision >= rev {
			if err := r.snaps.SetTag(ctx, obj.URI, snapstore.TagPublished); err != nil && !errors.Is(err, snapstore.ErrAlreadyPublished) {
				return fmt.Errorf("publish %s: %w", obj.URI, err)
			}
			report.Published++
		}
	}
	return nil
}

// repairLaggingHeads advances any head that a published revision row
// numbered above head_revision_id has overtaken. It keeps the head's
// current protection flags and derives only whether the revision is a
// normal one (not a deletion or redirect) from the snapshot envelope.
func (r *Reconciler) repairLaggingHeads(ctx context.Context, report *Report) error {
	cutoff := r.clock().UTC()
	lagging, err := r.meta.ListOrphanPending(ctx, cutoff, r.cfg.SweepLimit)
	if err != nil {
		return fmt.Errorf("list lagging revisions: %w", err)
	}

	for _, rev := range lagging {
		tag, err := r.snaps.GetTag(ctx, rev.ContentURI)
		if err != nil {
			if errors.Is(err, snapstore.ErrNotFound) {
				continue
			}
			return fmt.Errorf("get tag for %s: %w", rev.ContentURI, err)
		}
		if tag != snapstore.TagPublished {
			continue
		}

		head, err := r.meta.GetHead(ctx, rev.Internal)
		if err != nil {
			return fmt.Errorf("get head %d: %w", rev.Internal, err)
		}
		if head.CurrentRevision >= rev.Revision {
			continue // another sweep (or the original writer) already advanced it
		}

		body, err := r.snaps.Get(ctx, rev.ContentURI)
		if err != nil {
			return fmt.Errorf("get snapshot %s: %w", rev.ContentURI, err)
		}
		var snapshot entity.Snapshot
		if err := json.Unmarshal(body, &snapshot); err != nil {
			return fmt.Errorf("decode snapshot %s: %w", rev.ContentURI, err)
		}

		isNormal := !snapshot.IsDeleted && snapshot.RedirectsTo == nil
		if err := r.meta.CASHead(ctx, rev.Internal, head.CurrentRevision, rev.Revision, head.Flags(), isNormal); err != nil {
			if errors.Is(err, metastore.ErrCASConflict) {
				continue // a live writer got there first; not our problem
			}
			return fmt.Errorf("cas head %d: %w", rev.Internal, err)
		}
		r.heads.Invalidate(ctx, rev.Internal)
		report.HeadsAdvanced++
	}
	return nil
}

func (r *Reconciler) insertMetaFromSnapshot(ctx context.Context, internal entity.InternalID, ext entity.ExternalID, rev entity.RevisionID, uri string) error {
	body, err := r.snaps.Get(ctx, uri)
	if err != nil {
		return fmt.Errorf("get snapshot body: %w", err)
	}
	var snapshot entity.Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	var parent entity.RevisionID
	if rev > 0 {
		parent = rev - 1
	}

	return r.meta.InsertRevisionMeta(ctx, entity.RevisionMeta{
		Internal:   internal,
		External:   ext,
		Revision:   rev,
		ParentRev:  parent,
		ContentURI: uri,
		ContentSum: snapshot.ContentHash,
		Comment:    "reconciler repair",
		Author:     snapshot.CreatedBy,
		CreatedAt:  snapshot.CreatedAt,
	})
}

func (r *Reconciler) isStale(obj snapstore.PendingObject) bool {
	return r.clock().UTC().Sub(obj.CreatedAt) > r.cfg.AbandonmentTTL
}

// logAbandonedIfStale logs (never deletes, per I6) a pending object that
// has outlived the abandonment TTL without ever getting a metadata row.
// Its revision id may be reused by a future writer only if no metadata
// row for it ever appears.
func (r *Reconciler) logAbandonedIfStale(_ context.Context, obj snapstore.PendingObject) {
	if r.isStale(obj) {
		log.Printf("reconciler: abandoned pending snapshot %q created_at=%s", obj.URI, obj.CreatedAt)
	}
}
