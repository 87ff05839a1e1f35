package cachelayer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/entityledger/core/internal/entity"
)

const defaultNamespace = "entityledger"

// RedisOption configures a Redis-backed cache.
type RedisOption func(*redisOpts)

type redisOpts struct {
	namespace string
}

// WithNamespace sets the Redis key prefix.
func WithNamespace(ns string) RedisOption {
	return func(o *redisOpts) {
		if ns != "" {
			o.namespace = ns
		}
	}
}

func applyOpts(opts []RedisOption) redisOpts {
	o := redisOpts{namespace: defaultNamespace}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RedisHeadCache is a shared HeadCache backed by Redis, used when
// multiple API processes must observe each other's writes within the
// head_cache_ttl window. A single-key SET with EX provides atomic
// per-entity writes per the concurrency model in §5.
type RedisHeadCache struct {
	client *redis.Client
	ttl    time.Duration
	ns     string
}

// NewRedisHeadCache builds a RedisHeadCache from a parsed client.
func NewRedisHeadCache(client *redis.Client, ttl time.Duration, opts ...RedisOption) *RedisHeadCache {
	o := applyOpts(opts)
	return &RedisHeadCache{client: client, ttl: ttl, ns: o.namespace}
}

var _ HeadCache = (*RedisHeadCache)(nil)

func (c *RedisHeadCache) key(id entity.InternalID) string {
	return fmt.Sprintf("%s:head:%d", c.ns, id)
}

func (c *RedisHeadCache) Get(ctx context.Context, id entity.InternalID) (entity.Head, bool) {
	raw, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		return entity.Head{}, false
	}
	var head entity.Head
	if err := json.Unmarshal(raw, &head); err != nil {
		return entity.Head{}, false
	}
	return head, true
}

func (c *RedisHeadCache) Set(ctx context.Context, head entity.Head) {
	raw, err := json.Marshal(head)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.key(head.Internal), raw, c.ttl)
}

func (c *RedisHeadCache) Invalidate(ctx context.Context, id entity.InternalID) {
	c.client.Del(ctx, c.key(id))
}

// RedisIDMapCache is a shared IDMapCache backed by Redis.
type RedisIDMapCache struct {
	client *redis.Client
	ttl    time.Duration
	ns     string
}

// NewRedisIDMapCache builds a RedisIDMapCache from a parsed client.
func NewRedisIDMapCache(client *redis.Client, ttl time.Duration, opts ...RedisOption) *RedisIDMapCache {
	o := applyOpts(opts)
	return &RedisIDMapCache{client: client, ttl: ttl, ns: o.namespace}
}

var _ IDMapCache = (*RedisIDMapCache)(nil)

func (c *RedisIDMapCache) key(ext entity.ExternalID) string {
	return fmt.Sprintf("%s:idmap:%s", c.ns, ext)
}

func (c *RedisIDMapCache) Get(ctx context.Context, ext entity.ExternalID) (entity.InternalID, bool) {
	val, err := c.client.Get(ctx, c.key(ext)).Uint64()
	if err != nil {
		return 0, false
	}
	return entity.InternalID(val), true
}

func (c *RedisIDMapCache) Set(ctx context.Context, ext entity.ExternalID, internal entity.InternalID) {
	c.client.Set(ctx, c.key(ext), uint64(internal), c.ttl)
}

func (c *RedisIDMapCache) Invalidate(ctx context.Context, ext entity.ExternalID) {
	c.client.Del(ctx, c.key(ext))
}
