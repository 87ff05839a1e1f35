package metastore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/entityledger/core/internal/entity"
)

// Gateway is C2, the metadata store gateway: every sharded-relational
// operation the rest of the core needs, independent of backend. Postgres
// is the production implementation (postgres.go); Memory (memory.go) is
// the in-process test double used by unit tests and by local development
// without a database.
type Gateway interface {
	// ResolveExternal maps an external ID to its head row. Returns
	// ErrNotFound if no mapping exists.
	ResolveExternal(ctx context.Context, id entity.ExternalID) (entity.Head, error)

	// GetHead loads the head row by internal ID.
	GetHead(ctx context.Context, id entity.InternalID) (entity.Head, error)

	// InternalIDExists reports whether id has already been allocated.
	// Satisfies idalloc.CollisionChecker.
	InternalIDExists(ctx context.Context, id entity.InternalID) (bool, error)

	// CreateMapping allocates the external<->internal mapping for a brand
	// new entity. Returns ErrAlreadyExists if the external ID is taken,
	// ErrInternalIDInUse if the internal ID collides.
	CreateMapping(ctx context.Context, ext entity.ExternalID, internal entity.InternalID, typ entity.Type) error

	// InsertRevisionMeta records a committed revision's pointer row.
	InsertRevisionMeta(ctx context.Context, rev entity.RevisionMeta) error

	// FindByContentHash looks up the most recent revision of an entity
	// whose content hash matches, for write-idempotency (§4.7 step 4).
	FindByContentHash(ctx context.Context, internal entity.InternalID, hash uint64) (entity.RevisionMeta, bool, error)

	// CASHead advances the head pointer from expectedPrev to newRev and
	// atomically applies flags, clearing Deleted when isNormalRevision is
	// true (a delete revision sets Deleted via MarkDeleted instead, not
	// through this call). Returns ErrCASConflict if the current value
	// does not match expectedPrev.
	CASHead(ctx context.Context, internal entity.InternalID, expectedPrev, newRev entity.RevisionID, flags entity.ProtectionFlags, isNormalRevision bool) error

	// ListHistory returns revision metadata rows for an entity, newest
	// first, up to limit rows starting after the given revision (0 for
	// the most recent page).
	ListHistory(ctx context.Context, internal entity.InternalID, before entity.RevisionID, limit int) ([]entity.RevisionMeta, error)

	// GetRevisionMeta loads a single revision's pointer row.
	GetRevisionMeta(ctx context.Context, internal entity.InternalID, rev entity.RevisionID) (entity.RevisionMeta, error)

	// CreateRedirect marks head as a tombstone pointing at target,
	// recording an audit row tagged with auditID (minted by the caller
	// via uuid.New()). It does not check target or from==to; the
	// single-hop checks are made by editing.Service before calling it.
	CreateRedirect(ctx context.Context, from entity.InternalID, to entity.ExternalID, rev entity.RevisionID, auditID uuid.UUID) error

	// RevertRedirect clears a tombstone, restoring normal resolution.
	RevertRedirect(ctx context.Context, internal entity.InternalID) error

	// GetIncomingRedirects lists external IDs that currently redirect to
	// target.
	GetIncomingRedirects(ctx context.Context, target entity.ExternalID) ([]entity.ExternalID, error)

	// MarkDeleted performs a soft or hard delete, recording a DeleteAudit
	// tagged with auditID (minted by the caller via uuid.New()).
	MarkDeleted(ctx context.Context, internal entity.InternalID, hard bool, reason, actor string, auditID uuid.UUID) error

	// Undelete reverses a soft delete. Hard deletes cannot be undone
	// through this call (§4.8).
	Undelete(ctx context.Context, internal entity.InternalID, actor string) error

	// ListChangedSince returns heads whose UpdatedAt is at or after
	// since, ordered by (updated_at, internal_id) for stable pagination,
	// used by the change poller (C10).
	ListChangedSince(ctx context.Context, since time.Time, afterInternal entity.InternalID, limit int) ([]entity.Head, error)

	// ListOrphanPending returns revision metadata rows numbered above
	// their entity's head revision and created before olderThan, used by
	// the reconciler (C9). It does not look at snapshot tags.
	ListOrphanPending(ctx context.Context, olderThan time.Time, limit int) ([]entity.RevisionMeta, error)
}
