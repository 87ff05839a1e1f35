package metastore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entityledger/core/internal/entity"
)

// Memory is an in-process Gateway implementation backed by plain maps and
// a mutex. It is part of C13 (test doubles): used by unit tests across the
// core and by local development without a database. Ordering guarantees
// that matter to callers (history newest-first, change-stream stable
// pagination) are honored so tests exercise real semantics, not a stub.
type Memory struct {
	mu sync.Mutex

	heads      map[entity.InternalID]entity.Head
	extToInt   map[entity.ExternalID]entity.InternalID
	revisions  map[entity.InternalID][]entity.RevisionMeta
	redirects  map[entity.InternalID][]entity.RedirectAudit
	deletes    map[entity.InternalID][]entity.DeleteAudit
	nextExtNum map[entity.Type]int
}

// NewMemory builds an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{
		heads:      make(map[entity.InternalID]entity.Head),
		extToInt:   make(map[entity.ExternalID]entity.InternalID),
		revisions:  make(map[entity.InternalID][]entity.RevisionMeta),
		redirects:  make(map[entity.InternalID][]entity.RedirectAudit),
		deletes:    make(map[entity.InternalID][]entity.DeleteAudit),
		nextExtNum: make(map[entity.Type]int),
	}
}

var _ Gateway = (*Memory)(nil)

func (m *Memory) ResolveExternal(_ context.Context, id entity.ExternalID) (entity.Head, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	internal, ok := m.extToInt[id]
	if !ok {
		return entity.Head{}, ErrNotFound
	}
	return m.heads[internal], nil
}

func (m *Memory) GetHead(_ context.Context, id entity.InternalID) (entity.Head, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	head, ok := m.heads[id]
	if !ok {
		return entity.Head{}, ErrNotFound
	}
	return head, nil
}

func (m *Memory) InternalIDExists(_ context.Context, id entity.InternalID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.heads[id]
	return ok, nil
}

func (m *Memory) CreateMapping(_ context.Context, ext entity.ExternalID, internal entity.InternalID, typ entity.Type) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.extToInt[ext]; ok {
		return ErrAlreadyExists
	}
	if _, ok := m.heads[internal]; ok {
		return ErrInternalIDInUse
	}

	m.extToInt[ext] = internal
	m.heads[internal] = entity.Head{
		Internal:  internal,
		External:  ext,
		Type:      typ,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (m *Memory) InsertRevisionMeta(_ context.Context, rev entity.RevisionMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.revisions[rev.Internal] = append(m.revisions[rev.Internal], rev)
	return nil
}

func (m *Memory) FindByContentHash(_ context.Context, internal entity.InternalID, hash uint64) (entity.RevisionMeta, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	revs := m.revisions[internal]
	for i := len(revs) - 1; i >= 0; i-- {
		if revs[i].ContentSum == hash {
			return revs[i], true, nil
		}
	}
	return entity.RevisionMeta{}, false, nil
}

func (m *Memory) CASHead(_ context.Context, internal entity.InternalID, expectedPrev, newRev entity.RevisionID, flags entity.ProtectionFlags, isNormalRevision bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	head, ok := m.heads[internal]
	if !ok {
		return ErrNotFound
	}
	if head.CurrentRevision != expectedPrev {
		return ErrCASConflict
	}
	head.CurrentRevision = newRev
	head.UpdatedAt = time.Now().UTC()
	head.Archived = flags.Archived
	head.Locked = flags.Locked
	head.MassEditProtected = flags.MassEditProtected
	head.SemiProtected = flags.SemiProtected
	if isNormalRevision {
		head.Deleted = false
	}
	m.heads[internal] = head
	return nil
}

func (m *Memory) ListHistory(_ context.Context, internal entity.InternalID, before entity.RevisionID, limit int) ([]entity.RevisionMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := append([]entity.RevisionMeta(nil), m.revisions[internal]...)
	sort.Slice(all, func(i, j int) bool { return all[i].Revision > all[j].Revision })

	var out []entity.RevisionMeta
	for _, r := range all {
		if before != 0 && r.Revision >= before {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) GetRevisionMeta(_ context.Context, internal entity.InternalID, rev entity.RevisionID) (entity.RevisionMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.revisions[internal] {
		if r.Revision == rev {
			return r, nil
		}
	}
	return entity.RevisionMeta{}, ErrNotFound
}

func (m *Memory) CreateRedirect(_ context.Context, from entity.InternalID, to entity.ExternalID, rev entity.RevisionID, auditID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	head, ok := m.heads[from]
	if !ok {
		return ErrNotFound
	}
	head.RedirectTarget = to
	head.CurrentRevision = rev
	head.UpdatedAt = time.Now().UTC()
	m.heads[from] = head

	m.redirects[from] = append(m.redirects[from], entity.RedirectAudit{
		ID:        auditID,
		From:      head.External,
		To:        to,
		Revision:  rev,
		CreatedAt: head.UpdatedAt,
	})
	return nil
}

func (m *Memory) RevertRedirect(_ context.Context, internal entity.InternalID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	head, ok := m.heads[internal]
	if !ok {
		return ErrNotFound
	}
	head.RedirectTarget = ""
	head.UpdatedAt = time.Now().UTC()
	m.heads[internal] = head

	audits := m.redirects[internal]
	if len(audits) > 0 {
		audits[len(audits)-1].Reverted = true
	}
	return nil
}

func (m *Memory) GetIncomingRedirects(_ context.Context, target entity.ExternalID) ([]entity.ExternalID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []entity.ExternalID
	for internal, head := range m.heads {
		if head.RedirectTarget == target {
			out = append(out, m.heads[internal].External)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) MarkDeleted(_ context.Context, internal entity.InternalID, hard bool, reason, actor string, auditID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	head, ok := m.heads[internal]
	if !ok {
		return ErrNotFound
	}
	head.Deleted = hard
	head.UpdatedAt = time.Now().UTC()
	m.heads[internal] = head

	m.deletes[internal] = append(m.deletes[internal], entity.DeleteAudit{
		ID:        auditID,
		External:  head.External,
		Hard:      hard,
		Reason:    reason,
		Actor:     actor,
		CreatedAt: head.UpdatedAt,
	})
	return nil
}

func (m *Memory) Undelete(_ context.Context, internal entity.InternalID, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	head, ok := m.heads[internal]
	if !ok {
		return ErrNotFound
	}
	if head.Deleted {
		// Hard deletes cannot be reversed through this path; see §4.8.
		return ErrNotFound
	}
	audits := m.deletes[internal]
	if len(audits) > 0 {
		audits[len(audits)-1].Undeleted = true
	}
	return nil
}

func (m *Memory) ListChangedSince(_ context.Context, since time.Time, afterInternal entity.InternalID, limit int) ([]entity.Head, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []entity.Head
	for _, h := range m.heads {
		if h.UpdatedAt.After(since) || h.UpdatedAt.Equal(since) {
			all = append(all, h)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.Before(all[j].UpdatedAt)
		}
		return all[i].Internal < all[j].Internal
	})

	var out []entity.Head
	for _, h := range all {
		if h.UpdatedAt.Equal(since) && h.Internal <= afterInternal {
			continue
		}
		out = append(out, h)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListOrphanPending(_ context.Context, olderThan time.Time, limit int) ([]entity.RevisionMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []entity.RevisionMeta
	for internal, revs := range m.revisions {
		head := m.heads[internal]
		for _, r := range revs {
			if r.Revision > head.CurrentRevision && r.CreatedAt.Before(olderThan) {
				out = append(out, r)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}
