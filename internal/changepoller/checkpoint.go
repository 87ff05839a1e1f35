package changepoller

import (
	"context"
	"sync"
	"time"

	"github.com/entityledger/core/internal/entity"
)

// MemoryCheckpoint is an in-process Checkpoint, part of C13. Daemons on
// the Postgres dialect persist the checkpoint in the metadata store
// itself (PostgresCheckpoint, a single-row table) so it survives a
// process restart; this double is used by tests, local development, and
// daemons on the MySQL dialect, where a restart starts from the zero time.
type MemoryCheckpoint struct {
	mu   sync.Mutex
	time time.Time
	last entity.InternalID
}

// NewMemoryCheckpoint starts the checkpoint at the zero time, meaning
// the first poll observes every entity ever changed.
func NewMemoryCheckpoint() *MemoryCheckpoint {
	return &MemoryCheckpoint{}
}

func (c *MemoryCheckpoint) Load(_ context.Context) (time.Time, entity.InternalID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time, c.last, nil
}

func (c *MemoryCheckpoint) Save(_ context.Context, since time.Time, afterInternal entity.InternalID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = since
	c.last = afterInternal
	return nil
}

var _ Checkpoint = (*MemoryCheckpoint)(nil)
