package changepoller

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/entityledger/core/internal/entity"
)

// PostgresCheckpoint persists the poller's position in the single-row
// change_poller_checkpoint table (internal/dbmigrate migration 00004) so
// it survives a process restart, unlike MemoryCheckpoint. Grounded on
// internal/metastore/postgres.go's plain pgxpool query style; it does
// not need that gateway's circuit breaker since a checkpoint write
// failure is retried on the next poll tick rather than surfaced to a
// caller waiting on a response.
type PostgresCheckpoint struct {
	pool *pgxpool.Pool
}

// NewPostgresCheckpoint wraps an existing pool.
func NewPostgresCheckpoint(pool *pgxpool.Pool) *PostgresCheckpoint {
	return &PostgresCheckpoint{pool: pool}
}

func (c *PostgresCheckpoint) Load(ctx context.Context) (time.Time, entity.InternalID, error) {
	var since time.Time
	var after int64
	err := c.pool.QueryRow(ctx,
		`SELECT since, after_internal_id FROM change_poller_checkpoint WHERE id = 1`).
		Scan(&since, &after)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("changepoller: load checkpoint: %w", err)
	}
	return since, entity.InternalID(after), nil
}

func (c *PostgresCheckpoint) Save(ctx context.Context, since time.Time, afterInternal entity.InternalID) error {
	_, err := c.pool.Exec(ctx,
		`UPDATE change_poller_checkpoint SET since = $1, after_internal_id = $2 WHERE id = 1`,
		since, int64(afterInternal))
	if err != nil {
		return fmt.Errorf("changepoller: save checkpoint: %w", err)
	}
	return nil
}

var _ Checkpoint = (*PostgresCheckpoint)(nil)
