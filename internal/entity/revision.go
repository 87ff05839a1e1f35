package entity

import (
	"time"

	"github.com/google/uuid"
)

// Head is the current-pointer row tracked per entity in the metadata store.
// It is the only mutable row in the system: every advance is a CAS on
// CurrentRevision guarded by the previous value.
type Head struct {
	Internal        InternalID
	External        ExternalID
	Type            Type
	CurrentRevision RevisionID
	UpdatedAt       time.Time

	// RedirectTarget is set when this entity is a tombstone pointing at
	// another external ID. Empty otherwise.
	RedirectTarget ExternalID

	// Deleted marks a hard delete; the row is retained for audit but must
	// never resolve or serve content.
	Deleted bool

	// Protection flags evaluated by the protection engine (C5), in strict
	// priority order: Archived, then Deleted (above), then Locked, then
	// MassEditProtected, then SemiProtected.
	Archived          bool
	Locked            bool
	MassEditProtected bool
	SemiProtected     bool
}

// IsRedirect reports whether the head is a tombstone.
func (h Head) IsRedirect() bool { return h.RedirectTarget != "" }

// Flags extracts the protection substate of a head, for passing to
// CASHead alongside a new revision (§4.7 Phase C atomically updates both).
func (h Head) Flags() ProtectionFlags {
	return ProtectionFlags{
		Archived:          h.Archived,
		Locked:            h.Locked,
		MassEditProtected: h.MassEditProtected,
		SemiProtected:     h.SemiProtected,
	}
}

// ProtectionFlags is the mutable protection substate of a head row,
// updated atomically alongside a revision CAS.
type ProtectionFlags struct {
	Archived          bool
	Locked            bool
	MassEditProtected bool
	SemiProtected     bool
}

// RevisionMeta is the sharded-relational row recorded for every committed
// revision: a pointer into the snapshot store plus the fields needed to
// answer history queries without touching the object store.
type RevisionMeta struct {
	Internal   InternalID
	External   ExternalID
	Revision   RevisionID
	ParentRev  RevisionID // 0 for the first revision
	ContentURI string     // snapshot store key
	ContentSum uint64     // content hash, for idempotency lookups
	Comment    string
	Author     string
	CreatedAt  time.Time
	MinorEdit  bool
}

// RedirectAudit records the creation or reversal of a redirect tombstone.
// ID is minted by the caller (editing.Service) with uuid.New() so the
// audit row's identity survives retried writes without depending on a
// database-assigned sequence.
type RedirectAudit struct {
	ID        uuid.UUID
	From      ExternalID
	To        ExternalID
	Revision  RevisionID
	CreatedAt time.Time
	Reverted  bool
}

// DeleteAudit records a soft or hard delete action for compliance review.
// ID is minted the same way as RedirectAudit.ID.
type DeleteAudit struct {
	ID        uuid.UUID
	External  ExternalID
	Hard      bool
	Reason    string
	Actor     string
	CreatedAt time.Time
	Undeleted bool
}

// EditDescriptor is the incoming-edit half of the protection decision in
// §4.5: the head row alone is not enough, the engine also needs to know
// what kind of edit is being attempted.
type EditDescriptor struct {
	IsMassEdit          bool
	EditType            string
	IsNotAutoconfirmed  bool
}

// RejectReason names which protection rule rejected an edit, in the
// strict priority order the engine evaluates them.
type RejectReason string

const (
	RejectArchived          RejectReason = "archived"
	RejectHardDeleted       RejectReason = "hard_deleted"
	RejectLocked            RejectReason = "locked"
	RejectMassEditProtected RejectReason = "mass_edit_protected"
	RejectSemiProtected     RejectReason = "semi_protected"
)

// ChangeEvent is the ordered change-stream record emitted by the change
// poller and published through the event sink.
type ChangeEvent struct {
	// EventID identifies this outbox entry, minted once with uuid.New()
	// by the publisher so at-least-once delivery is de-dupable downstream.
	EventID    uuid.UUID
	Internal   InternalID
	External   ExternalID
	Revision   RevisionID
	ParentRev  RevisionID
	Kind       ChangeKind
	OccurredAt time.Time
	// SequenceToken is an opaque checkpoint cursor field. No producer in
	// this module sets it, so emitted events carry it empty.
	SequenceToken string
}

// ChangeKind classifies a ChangeEvent for consumers that only care about
// certain mutation types.
type ChangeKind string

const (
	ChangeEdit     ChangeKind = "edit"
	ChangeCreate   ChangeKind = "create"
	ChangeRedirect ChangeKind = "redirect"
	ChangeDelete   ChangeKind = "delete"
	ChangeUndelete ChangeKind = "undelete"
)
