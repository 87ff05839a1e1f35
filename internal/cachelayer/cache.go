// Package cachelayer implements C4: the write-through head cache and the
// immutable ID-map cache sitting in front of the metadata gateway.
package cachelayer

import (
	"context"
	"time"

	"github.com/entityledger/core/internal/entity"
)

// HeadCache fronts metastore.Gateway.GetHead/ResolveExternal with a
// short-TTL cache (§6 head_cache_ttl, default ~5m). Entries are
// invalidated on every successful CAS so readers never observe a head
// more stale than the configured TTL even without invalidation.
type HeadCache interface {
	Get(ctx context.Context, id entity.InternalID) (entity.Head, bool)
	Set(ctx context.Context, head entity.Head)
	Invalidate(ctx context.Context, id entity.InternalID)
}

// IDMapCache fronts external->internal ID resolution with a long-TTL
// cache (§6 id_map_cache_ttl, default ~1h): the mapping never changes
// once an entity is created, so the only invalidation trigger is a hard
// delete retiring the external ID.
type IDMapCache interface {
	Get(ctx context.Context, ext entity.ExternalID) (entity.InternalID, bool)
	Set(ctx context.Context, ext entity.ExternalID, internal entity.InternalID)
	Invalidate(ctx context.Context, ext entity.ExternalID)
}

// Config holds the TTLs read from configuration (§6).
type Config struct {
	HeadTTL   time.Duration
	IDMapTTL  time.Duration
}

// DefaultConfig matches the spec's suggested defaults.
func DefaultConfig() Config {
	return Config{
		HeadTTL:  5 * time.Minute,
		IDMapTTL: time.Hour,
	}
}
