// Package editing implements C8: the specialized write paths for
// redirects and deletion, layered on the same snapshot/metadata
// primitives the write pipeline uses but with their own validation and
// head-mutation rules (§4.8).
package editing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/entityledger/core/internal/cachelayer"
	"github.com/entityledger/core/internal/entity"
	"github.com/entityledger/core/internal/eventsink"
	"github.com/entityledger/core/internal/hashing"
	"github.com/entityledger/core/internal/metastore"
	"github.com/entityledger/core/internal/snapstore"
)

// Service implements the redirect and deletion write paths.
type Service struct {
	meta  metastore.Gateway
	snaps snapstore.Gateway
	heads cachelayer.HeadCache
	sink  eventsink.Sink
	clock func() time.Time
}

// New builds an editing Service.
func New(meta metastore.Gateway, snaps snapstore.Gateway, heads cachelayer.HeadCache, sink eventsink.Sink) *Service {
	return &Service{meta: meta, snaps: snaps, heads: heads, sink: sink, clock: time.Now}
}

// Result mirrors writepipeline.Result for the specialized paths.
type Result struct {
	Internal entity.InternalID
	Revision entity.RevisionID
}

// CreateRedirect writes a tombstone revision on from pointing at to.
// Rejects self-redirects, multi-hop targets, and edits against
// archived/hard-deleted/locked sources.
func (s *Service) CreateRedirect(ctx context.Context, from, to entity.ExternalID, author, comment string) (Result, error) {
	if from == to {
		return Result{}, fmt.Errorf("%w: %s redirects to itself", entity.ErrInvalidRedirect, from)
	}

	head, err := s.meta.ResolveExternal(ctx, from)
	if err != nil {
		return Result{}, fmt.Errorf("editing: resolve redirect source %s: %w", from, err)
	}
	if head.Archived || head.Deleted || head.Locked {
		return Result{}, fmt.Errorf("%w: source %s is protected", entity.ErrProtectionDenied, from)
	}

	targetHead, err := s.meta.ResolveExternal(ctx, to)
	if err != nil {
		return Result{}, fmt.Errorf("editing: resolve redirect target %s: %w", to, err)
	}
	if targetHead.IsRedirect() {
		return Result{}, fmt.Errorf("%w: %s already redirects to %s", entity.ErrInvalidRedirect, to, targetHead.RedirectTarget)
	}

	newRev := head.CurrentRevision + 1
	snapshot := entity.Snapshot{
		SchemaVersion: entity.SchemaVersion,
		RevisionID:    newRev,
		CreatedAt:     s.clock().UTC(),
		CreatedBy:     author,
		EntityType:    head.Type,
		EditType:      string(entity.ChangeRedirect),
		RedirectsTo:   &to,
		Entity:        entity.Body{ID: from, Type: head.Type},
	}
	snapshot.ContentHash, err = hashing.ContentHash(snapshot.Entity)
	if err != nil {
		return Result{}, fmt.Errorf("editing: hash redirect tombstone for %s: %w", from, err)
	}

	if err := s.writeSnapshot(ctx, from, newRev, snapshot, head.Internal, head.CurrentRevision, comment, author); err != nil {
		return Result{}, err
	}

	if err := s.meta.CreateRedirect(ctx, head.Internal, to, newRev, uuid.New()); err != nil {
		return Result{}, fmt.Errorf("editing: create redirect %s -> %s: %w", from, to, err)
	}

	s.publish(ctx, head.Internal, from, newRev, head.CurrentRevision, entity.ChangeRedirect)
	return Result{Internal: head.Internal, Revision: newRev}, nil
}

// RevertRedirect clears a tombstone, restoring normal resolution with the
// body taken from priorRevision.
func (s *Service) RevertRedirect(ctx context.Context, external entity.ExternalID, priorRevision entity.RevisionID, author, comment string) (Result, error) {
	head, err := s.meta.ResolveExternal(ctx, external)
	if err != nil {
		return Result{}, fmt.Errorf("editing: resolve %s for redirect revert: %w", external, err)
	}
	if !head.IsRedirect() {
		return Result{}, fmt.Errorf("editing: %s is not currently a redirect", external)
	}

	prior, err := s.meta.GetRevisionMeta(ctx, head.Internal, priorRevision)
	if err != nil {
		return Result{}, fmt.Errorf("editing: load prior revision %d for %s: %w", priorRevision, external, err)
	}
	body, err := s.snaps.Get(ctx, prior.ContentURI)
	if err != nil {
		return Result{}, fmt.Errorf("editing: load snapshot body for %s rev %d: %w", external, priorRevision, err)
	}
	var priorSnapshot entity.Snapshot
	if err := json.Unmarshal(body, &priorSnapshot); err != nil {
		return Result{}, fmt.Errorf("editing: decode snapshot for %s rev %d: %w", external, priorRevision, err)
	}

	newRev := head.CurrentRevision + 1
	snapshot := entity.Snapshot{
		SchemaVersion: entity.SchemaVersion,
		RevisionID:    newRev,
		CreatedAt:     s.clock().UTC(),
		CreatedBy:     author,
		EntityType:    head.Type,
		EditType:      "edit",
		Entity:        priorSnapshot.Entity,
	}
	snapshot.ContentHash, err = hashing.ContentHash(snapshot.Entity)
	if err != nil {
		return Result{}, fmt.Errorf("editing: hash reverted body for %s: %w", external, err)
	}

	if err := s.writeSnapshot(ctx, external, newRev, snapshot, head.Internal, head.CurrentRevision, comment, author); err != nil {
		return Result{}, err
	}
	if err := s.meta.RevertRedirect(ctx, head.Internal); err != nil {
		return Result{}, fmt.Errorf("editing: revert redirect %s: %w", external, err)
	}

	s.publish(ctx, head.Internal, external, newRev, head.CurrentRevision, entity.ChangeEdit)
	return Result{Internal: head.Internal, Revision: newRev}, nil
}

// SoftDelete writes a deletion-marked revision but leaves head.Deleted
// false, recording a "soft" audit row.
func (s *Service) SoftDelete(ctx context.Context, external entity.ExternalID, reason, actor string) (Result, error) {
	return s.delete(ctx, external, false, reason, actor)
}

// HardDelete writes a deletion-marked revision and sets head.Deleted
// true, making the entity gone for reads and writes alike.
func (s *Service) HardDelete(ctx context.Context, external entity.ExternalID, reason, actor string) (Result, error) {
	return s.delete(ctx, external, true, reason, actor)
}

func (s *Service) delete(ctx context.Context, external entity.ExternalID, hard bool, reason, actor string) (Result, error) {
	head, err := s.meta.ResolveExternal(ctx, external)
	if err != nil {
		return Result{}, fmt.Errorf("editing: resolve %s for delete: %w", external, err)
	}
	if head.Deleted {
		return Result{}, fmt.Errorf("%w: %s", entity.ErrGone, external)
	}

	_, priorBody, err := s.loadHeadBody(ctx, head)
	if err != nil {
		return Result{}, err
	}

	now := s.clock().UTC()
	newRev := head.CurrentRevision + 1
	snapshot := entity.Snapshot{
		SchemaVersion:  entity.SchemaVersion,
		RevisionID:     newRev,
		CreatedAt:      now,
		CreatedBy:      actor,
		EntityType:     head.Type,
		EditType:       string(entity.ChangeDelete),
		IsDeleted:      true,
		DeletionReason: reason,
		DeletedAt:      &now,
		DeletedBy:      actor,
		Entity:         priorBody,
	}
	snapshot.ContentHash, err = hashing.ContentHash(snapshot.Entity)
	if err != nil {
		return Result{}, fmt.Errorf("editing: hash delete tombstone for %s: %w", external, err)
	}

	if err := s.writeSnapshot(ctx, external, newRev, snapshot, head.Internal, head.CurrentRevision, reason, actor); err != nil {
		return Result{}, err
	}
	if err := s.meta.MarkDeleted(ctx, head.Internal, hard, reason, actor, uuid.New()); err != nil {
		return Result{}, fmt.Errorf("editing: mark deleted %s: %w", external, err)
	}

	s.publish(ctx, head.Internal, external, newRev, head.CurrentRevision, entity.ChangeDelete)
	return Result{Internal: head.Internal, Revision: newRev}, nil
}

// Undelete reverses a soft delete. Returns metastore.ErrNotFound if the
// entity is hard-deleted (§4.8: hard deletes cannot be undone here).
func (s *Service) Undelete(ctx context.Context, external entity.ExternalID, actor string) (Result, error) {
	head, err := s.meta.ResolveExternal(ctx, external)
	if err != nil {
		return Result{}, fmt.Errorf("editing: resolve %s for undelete: %w", external, err)
	}

	if err := s.meta.Undelete(ctx, head.Internal, actor); err != nil {
		return Result{}, fmt.Errorf("editing: undelete %s: %w", external, err)
	}
	return Result{Internal: head.Internal, Revision: head.CurrentRevision}, nil
}

func (s *Service) loadHeadBody(ctx context.Context, head entity.Head) (entity.RevisionMeta, entity.Body, error) {
	if head.CurrentRevision == 0 {
		return entity.RevisionMeta{}, entity.Body{ID: head.External, Type: head.Type}, nil
	}
	meta, err := s.meta.GetRevisionMeta(ctx, head.Internal, head.CurrentRevision)
	if err != nil {
		return entity.RevisionMeta{}, entity.Body{}, fmt.Errorf("load head revision meta: %w", err)
	}
	raw, err := s.snaps.Get(ctx, meta.ContentURI)
	if err != nil {
		return entity.RevisionMeta{}, entity.Body{}, fmt.Errorf("load head snapshot body: %w", err)
	}
	var snap entity.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return entity.RevisionMeta{}, entity.Body{}, fmt.Errorf("decode head snapshot: %w", err)
	}
	return meta, snap.Entity, nil
}

// writeSnapshot performs the shared Phase A/B/D steps: serialize,
// put-pending, insert metadata, publish. Head mutation itself is left to
// the caller's specific gateway call (CreateRedirect/MarkDeleted/etc.),
// which each apply their own CAS-equivalent atomic update.
func (s *Service) writeSnapshot(ctx context.Context, external entity.ExternalID, newRev entity.RevisionID, snapshot entity.Snapshot, internal entity.InternalID, parentRev entity.RevisionID, comment, author string) error {
	uri := entity.SnapshotURI(external, newRev)
	body, err := hashing.Canonicalize(snapshot)
	if err != nil {
		return fmt.Errorf("editing: serialize snapshot for %s: %w", external, err)
	}
	if err := s.snaps.Put(ctx, uri, body, snapstore.TagPending); err != nil {
		return fmt.Errorf("editing: %w: put snapshot %s", entity.ErrWriteFailed, uri)
	}
	if err := s.meta.InsertRevisionMeta(ctx, entity.RevisionMeta{
		Internal:   internal,
		External:   external,
		Revision:   newRev,
		ParentRev:  parentRev,
		ContentURI: uri,
		ContentSum: snapshot.ContentHash,
		Comment:    comment,
		Author:     author,
		CreatedAt:  snapshot.CreatedAt,
	}); err != nil {
		return fmt.Errorf("editing: insert revision meta for %s: %w", external, err)
	}
	_ = s.snaps.SetTag(ctx, uri, snapstore.TagPublished)
	return nil
}

func (s *Service) publish(ctx context.Context, internal entity.InternalID, external entity.ExternalID, newRev, parentRev entity.RevisionID, kind entity.ChangeKind) {
	s.heads.Invalidate(ctx, internal)
	s.sink.Publish(ctx, entity.ChangeEvent{
		EventID:    uuid.New(),
		Internal:   internal,
		External:   external,
		Revision:   newRev,
		ParentRev:  parentRev,
		Kind:       kind,
		OccurredAt: s.clock().UTC(),
	})
}
