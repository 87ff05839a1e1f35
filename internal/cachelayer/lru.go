package cachelayer

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/entityledger/core/internal/entity"
)

type headEntry struct {
	head    entity.Head
	expires time.Time
}

// LRUHeadCache is a process-local HeadCache, used when no Redis address
// is configured. It is an alternative to the shared Redis cache (see
// redis.go), not a layer in front of it.
type LRUHeadCache struct {
	cache *lru.Cache[entity.InternalID, headEntry]
	ttl   time.Duration
	now   func() time.Time
}

// NewLRUHeadCache builds a bounded process-local head cache holding up
// to size entries.
func NewLRUHeadCache(size int, ttl time.Duration) (*LRUHeadCache, error) {
	c, err := lru.New[entity.InternalID, headEntry](size)
	if err != nil {
		return nil, err
	}
	return &LRUHeadCache{cache: c, ttl: ttl, now: time.Now}, nil
}

var _ HeadCache = (*LRUHeadCache)(nil)

func (c *LRUHeadCache) Get(_ context.Context, id entity.InternalID) (entity.Head, bool) {
	e, ok := c.cache.Get(id)
	if !ok {
		return entity.Head{}, false
	}
	if c.now().After(e.expires) {
		c.cache.Remove(id)
		return entity.Head{}, false
	}
	return e.head, true
}

func (c *LRUHeadCache) Set(_ context.Context, head entity.Head) {
	c.cache.Add(head.Internal, headEntry{head: head, expires: c.now().Add(c.ttl)})
}

func (c *LRUHeadCache) Invalidate(_ context.Context, id entity.InternalID) {
	c.cache.Remove(id)
}

type idMapEntry struct {
	internal entity.InternalID
	expires  time.Time
}

// LRUIDMapCache is a process-local IDMapCache.
type LRUIDMapCache struct {
	cache *lru.Cache[entity.ExternalID, idMapEntry]
	ttl   time.Duration
	now   func() time.Time
}

// NewLRUIDMapCache builds a bounded process-local ID-map cache.
func NewLRUIDMapCache(size int, ttl time.Duration) (*LRUIDMapCache, error) {
	c, err := lru.New[entity.ExternalID, idMapEntry](size)
	if err != nil {
		return nil, err
	}
	return &LRUIDMapCache{cache: c, ttl: ttl, now: time.Now}, nil
}

var _ IDMapCache = (*LRUIDMapCache)(nil)

func (c *LRUIDMapCache) Get(_ context.Context, ext entity.ExternalID) (entity.InternalID, bool) {
	e, ok := c.cache.Get(ext)
	if !ok {
		return 0, false
	}
	if c.now().After(e.expires) {
		c.cache.Remove(ext)
		return 0, false
	}
	return e.internal, true
}

func (c *LRUIDMapCache) Set(_ context.Context, ext entity.ExternalID, internal entity.InternalID) {
	c.cache.Add(ext, idMapEntry{internal: internal, expires: c.now().Add(c.ttl)})
}

func (c *LRUIDMapCache) Invalidate(_ context.Context, ext entity.ExternalID) {
	c.cache.Remove(ext)
}
