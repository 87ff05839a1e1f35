package snapstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/entityledger/core/internal/entity"
)

type object struct {
	body      []byte
	tag       Tag
	createdAt time.Time
}

// Memory is an in-process Gateway, part of C13. Behaves like a real
// object store with respect to the published-is-immutable invariant so
// tests exercise the real contract.
type Memory struct {
	mu      sync.Mutex
	objects map[string]object
	now     func() time.Time
}

// NewMemory builds an empty in-memory snapshot store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]object), now: time.Now}
}

var _ Gateway = (*Memory)(nil)

func (m *Memory) Put(_ context.Context, uri string, body []byte, tag Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.objects[uri]; ok && existing.tag == TagPublished {
		return ErrAlreadyPublished
	}

	cp := append([]byte(nil), body...)
	m.objects[uri] = object{body: cp, tag: tag, createdAt: m.now().UTC()}
	return nil
}

func (m *Memory) Get(_ context.Context, uri string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[uri]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), obj.body...), nil
}

func (m *Memory) SetTag(_ context.Context, uri string, tag Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[uri]
	if !ok {
		return ErrNotFound
	}
	if obj.tag == TagPublished && tag == TagPending {
		return ErrAlreadyPublished
	}
	obj.tag = tag
	m.objects[uri] = obj
	return nil
}

func (m *Memory) GetTag(_ context.Context, uri string) (Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[uri]
	if !ok {
		return "", ErrNotFound
	}
	return obj.tag, nil
}

func (m *Memory) ListPendingOlderThan(_ context.Context, prefix string, cutoff time.Time, limit int) ([]PendingObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []PendingObject
	for uri, obj := range m.objects {
		if obj.tag != TagPending {
			continue
		}
		if prefix != "" && !hasPrefix(uri, prefix) {
			continue
		}
		if !obj.createdAt.Before(cutoff) {
			continue
		}
		_, rev, _ := entity.ParseSnapshotURI(uri)
		out = append(out, PendingObject{URI: uri, Revision: rev, CreatedAt: obj.createdAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
