// Package snapstore implements C3, the snapshot store gateway: immutable
// per-revision JSON blobs in an object store, addressed by
// {external_id}/r{revision_id}.json and tagged pending/published.
package snapstore

import (
	"context"
	"errors"
	"time"

	"github.com/entityledger/core/internal/entity"
)

// Tag is the publication-state object tag described in §6.
type Tag string

const (
	TagPending   Tag = "pending"
	TagPublished Tag = "published"
)

var (
	// ErrNotFound means no object exists at the given key.
	ErrNotFound = errors.New("snapstore: not found")

	// ErrAlreadyPublished guards the never-overwrite-published invariant
	// (I6): a Put or SetTag must never mutate a published object.
	ErrAlreadyPublished = errors.New("snapstore: already published")
)

// PendingObject describes a snapshot still tagged pending, as returned by
// ListPendingOlderThan for the reconciler.
type PendingObject struct {
	URI       string
	Revision  entity.RevisionID
	CreatedAt time.Time
}

// Gateway is the storage-agnostic interface the write pipeline and
// reconciler depend on. S3 (s3.go) is the production implementation;
// Memory (memory.go) is the C13 test double.
type Gateway interface {
	// Put writes the snapshot body at uri with the given tag. Writing to
	// an existing published object is rejected with ErrAlreadyPublished.
	Put(ctx context.Context, uri string, body []byte, tag Tag) error

	// Get retrieves the object body at uri, regardless of tag.
	Get(ctx context.Context, uri string) ([]byte, error)

	// SetTag transitions an object's tag, e.g. pending -> published. It
	// never allows published -> pending.
	SetTag(ctx context.Context, uri string, tag Tag) error

	// GetTag reports the current tag of an object.
	GetTag(ctx context.Context, uri string) (Tag, error)

	// ListPendingOlderThan returns objects still tagged pending whose
	// creation time precedes the cutoff, for reconciler sweeps (§4.9).
	ListPendingOlderThan(ctx context.Context, prefix string, cutoff time.Time, limit int) ([]PendingObject, error)
}
