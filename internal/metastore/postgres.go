package metastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/entityledger/core/internal/entity"
)

// pgTracer is the OTel tracer for metadata-store spans. It uses the global
// provider, which is a no-op until telemetry.Setup runs.
var pgTracer = otel.Tracer("github.com/entityledger/core/metastore")

// Postgres is the production Gateway, backed by a pgx connection pool. A
// gobreaker.CircuitBreaker shields the pool from pile-ups during outages;
// withRetry backs off and retries only while the breaker rejects calls,
// and returns any other error, including a failed connection, after the
// first attempt, wrapped with the operation name. The write pipeline
// maps errors it does not recognise to entity.ErrTransientUnavailable.
type Postgres struct {
	pool    *pgxpool.Pool
	breaker *gobreaker.CircuitBreaker
}

// PostgresConfig configures the circuit breaker guarding the pool.
type PostgresConfig struct {
	BreakerMaxRequests   uint32
	BreakerInterval      time.Duration
	BreakerTimeout       time.Duration
	BreakerTripThreshold uint32
	RetryMaxElapsed       time.Duration
}

func defaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		BreakerMaxRequests:   4,
		BreakerInterval:      10 * time.Second,
		BreakerTimeout:       30 * time.Second,
		BreakerTripThreshold: 5,
		RetryMaxElapsed:      5 * time.Second,
	}
}

// NewPostgres wraps an existing pool. Pool construction (DSN parsing, pool
// sizing) is left to the caller / cmd/entityledgerd so tests can substitute
// a pool pointed at a throwaway database.
func NewPostgres(pool *pgxpool.Pool, cfg *PostgresConfig) *Postgres {
	c := defaultPostgresConfig()
	if cfg != nil {
		c = *cfg
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "metastore.postgres",
		MaxRequests: c.BreakerMaxRequests,
		Interval:    c.BreakerInterval,
		Timeout:     c.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.BreakerTripThreshold
		},
	})
	return &Postgres{pool: pool, breaker: breaker}
}

var _ Gateway = (*Postgres)(nil)

// withRetry runs fn through the circuit breaker, retrying transient
// errors with bounded exponential backoff. Non-retryable errors (CAS
// conflicts, not-found, constraint violations) pass straight through.
func (p *Postgres) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	bo := backoff.WithContext(newRetryBackoff(), ctx)
	attempt := func() error {
		_, err := p.breaker.Execute(func() (any, error) {
			return nil, fn(ctx)
		})
		return err
	}
	err := backoff.Retry(func() error {
		err := attempt()
		if err == nil || !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
	if err != nil {
		return fmt.Errorf("metastore.postgres: %s: %w", op, err)
	}
	return nil
}

func newRetryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 5 * time.Second
	return bo
}

func isRetryable(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}

func (p *Postgres) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{attribute.String("db.system", "postgresql")}, attrs...)
	return pgTracer.Start(ctx, "metastore."+op, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(all...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (p *Postgres) ResolveExternal(ctx context.Context, id entity.ExternalID) (entity.Head, error) {
	ctx, span := p.startSpan(ctx, "ResolveExternal", attribute.String("entity.external_id", string(id)))
	defer func() { endSpan(span, nil) }()

	var head entity.Head
	err := p.withRetry(ctx, "ResolveExternal", func(ctx context.Context) error {
		row := p.pool.QueryRow(ctx, `
			SELECT m.internal_id, m.external_id, m.entity_type, h.current_revision,
			       h.updated_at, h.redirect_target, h.deleted,
			       h.is_archived, h.is_locked, h.is_mass_edit_protected, h.is_semi_protected
			FROM id_mapping m
			JOIN head h ON h.internal_id = m.internal_id
			WHERE m.external_id = $1`, id)
		return scanHead(row, &head)
	})
	if err != nil {
		return entity.Head{}, wrapErr("ResolveExternal", err)
	}
	return head, nil
}

func (p *Postgres) GetHead(ctx context.Context, id entity.InternalID) (entity.Head, error) {
	var head entity.Head
	err := p.withRetry(ctx, "GetHead", func(ctx context.Context) error {
		row := p.pool.QueryRow(ctx, `
			SELECT m.internal_id, m.external_id, m.entity_type, h.current_revision,
			       h.updated_at, h.redirect_target, h.deleted,
			       h.is_archived, h.is_locked, h.is_mass_edit_protected, h.is_semi_protected
			FROM head h
			JOIN id_mapping m ON m.internal_id = h.internal_id
			WHERE h.internal_id = $1`, id)
		return scanHead(row, &head)
	})
	if err != nil {
		return entity.Head{}, wrapErr("GetHead", err)
	}
	return head, nil
}

func scanHead(row pgx.Row, head *entity.Head) error {
	var redirect *string
	if err := row.Scan(&head.Internal, &head.External, &head.Type, &head.CurrentRevision,
		&head.UpdatedAt, &redirect, &head.Deleted,
		&head.Archived, &head.Locked, &head.MassEditProtected, &head.SemiProtected); err != nil {
		return err
	}
	if redirect != nil {
		head.RedirectTarget = entity.ExternalID(*redirect)
	}
	return nil
}

func (p *Postgres) InternalIDExists(ctx context.Context, id entity.InternalID) (bool, error) {
	var exists bool
	err := p.withRetry(ctx, "InternalIDExists", func(ctx context.Context) error {
		return p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM id_mapping WHERE internal_id = $1)`, id).Scan(&exists)
	})
	if err != nil {
		return false, wrapErr("InternalIDExists", err)
	}
	return exists, nil
}

func (p *Postgres) CreateMapping(ctx context.Context, ext entity.ExternalID, internal entity.InternalID, typ entity.Type) error {
	return p.withRetry(ctx, "CreateMapping", func(ctx context.Context) error {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx,
			`INSERT INTO id_mapping (internal_id, external_id, entity_type) VALUES ($1, $2, $3)`,
			internal, ext, typ); err != nil {
			return classifyUniqueViolation(err, ErrAlreadyExists)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO head (internal_id, current_revision, updated_at) VALUES ($1, 0, now())`,
			internal); err != nil {
			return classifyUniqueViolation(err, ErrInternalIDInUse)
		}
		return tx.Commit(ctx)
	})
}

// classifyUniqueViolation maps a unique-constraint violation to sentinel;
// any other error passes through unchanged.
func classifyUniqueViolation(err error, sentinel error) error {
	// pgx reports unique violations as *pgconn.PgError with code 23505;
	// go-sql-driver/mysql (shared by mysql.go) as error number 1062.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", err.Error(), sentinel)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return fmt.Errorf("%s: %w", err.Error(), sentinel)
	}
	return err
}

func (p *Postgres) InsertRevisionMeta(ctx context.Context, rev entity.RevisionMeta) error {
	return p.withRetry(ctx, "InsertRevisionMeta", func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx, `
			INSERT INTO revision_meta
				(internal_id, external_id, revision_id, parent_revision_id, content_uri, content_hash, comment, author, created_at, minor_edit)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rev.Internal, rev.External, rev.Revision, rev.ParentRev, rev.ContentURI, rev.ContentSum,
			rev.Comment, rev.Author, rev.CreatedAt, rev.MinorEdit)
		return err
	})
}

func (p *Postgres) FindByContentHash(ctx context.Context, internal entity.InternalID, hash uint64) (entity.RevisionMeta, bool, error) {
	var rev entity.RevisionMeta
	err := p.withRetry(ctx, "FindByContentHash", func(ctx context.Context) error {
		row := p.pool.QueryRow(ctx, `
			SELECT internal_id, external_id, revision_id, parent_revision_id, content_uri, content_hash, comment, author, created_at, minor_edit
			FROM revision_meta
			WHERE internal_id = $1 AND content_hash = $2
			ORDER BY revision_id DESC
			LIMIT 1`, internal, hash)
		return scanRevisionMeta(row, &rev)
	})
	if err != nil {
		if isNotFoundErr(err) {
			return entity.RevisionMeta{}, false, nil
		}
		return entity.RevisionMeta{}, false, wrapErr("FindByContentHash", err)
	}
	return rev, true, nil
}

func scanRevisionMeta(row pgx.Row, rev *entity.RevisionMeta) error {
	return row.Scan(&rev.Internal, &rev.External, &rev.Revision, &rev.ParentRev,
		&rev.ContentURI, &rev.ContentSum, &rev.Comment, &rev.Author, &rev.CreatedAt, &rev.MinorEdit)
}

func isNotFoundErr(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (p *Postgres) CASHead(ctx context.Context, internal entity.InternalID, expectedPrev, newRev entity.RevisionID, flags entity.ProtectionFlags, isNormalRevision bool) error {
	return p.withRetry(ctx, "CASHead", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `
			UPDATE head SET current_revision = $1, updated_at = now(),
			       is_archived = $2, is_locked = $3, is_mass_edit_protected = $4, is_semi_protected = $5,
			       deleted = CASE WHEN $6 THEN false ELSE deleted END
			WHERE internal_id = $7 AND current_revision = $8`,
			newRev, flags.Archived, flags.Locked, flags.MassEditProtected, flags.SemiProtected,
			isNormalRevision, internal, expectedPrev)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrCASConflict
		}
		return nil
	})
}

func (p *Postgres) ListHistory(ctx context.Context, internal entity.InternalID, before entity.RevisionID, limit int) ([]entity.RevisionMeta, error) {
	var out []entity.RevisionMeta
	err := p.withRetry(ctx, "ListHistory", func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx, `
			SELECT internal_id, external_id, revision_id, parent_revision_id, content_uri, content_hash, comment, author, created_at, minor_edit
			FROM revision_meta
			WHERE internal_id = $1 AND ($2 = 0 OR revision_id < $2)
			ORDER BY revision_id DESC
			LIMIT $3`, internal, before, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rev entity.RevisionMeta
			if err := scanRevisionMeta(rows, &rev); err != nil {
				return err
			}
			out = append(out, rev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapErr("ListHistory", err)
	}
	return out, nil
}

func (p *Postgres) GetRevisionMeta(ctx context.Context, internal entity.InternalID, rev entity.RevisionID) (entity.RevisionMeta, error) {
	var out entity.RevisionMeta
	err := p.withRetry(ctx, "GetRevisionMeta", func(ctx context.Context) error {
		row := p.pool.QueryRow(ctx, `
			SELECT internal_id, external_id, revision_id, parent_revision_id, content_uri, content_hash, comment, author, created_at, minor_edit
			FROM revision_meta WHERE internal_id = $1 AND revision_id = $2`, internal, rev)
		return scanRevisionMeta(row, &out)
	})
	if err != nil {
		return entity.RevisionMeta{}, wrapErr("GetRevisionMeta", err)
	}
	return out, nil
}

func (p *Postgres) CreateRedirect(ctx context.Context, from entity.InternalID, to entity.ExternalID, rev entity.RevisionID, auditID uuid.UUID) error {
	return p.withRetry(ctx, "CreateRedirect", func(ctx context.Context) error {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		var fromExternal entity.ExternalID
		if err := tx.QueryRow(ctx, `SELECT external_id FROM id_mapping WHERE internal_id = $1`, from).Scan(&fromExternal); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE head SET redirect_target = $1, current_revision = $2, updated_at = now() WHERE internal_id = $3`,
			to, rev, from); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO redirect_audit (audit_id, from_external_id, to_external_id, revision_id, created_at) VALUES ($1, $2, $3, $4, now())`,
			auditID.String(), fromExternal, to, rev); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (p *Postgres) RevertRedirect(ctx context.Context, internal entity.InternalID) error {
	return p.withRetry(ctx, "RevertRedirect", func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx, `UPDATE head SET redirect_target = NULL, updated_at = now() WHERE internal_id = $1`, internal)
		return err
	})
}

func (p *Postgres) GetIncomingRedirects(ctx context.Context, target entity.ExternalID) ([]entity.ExternalID, error) {
	var out []entity.ExternalID
	err := p.withRetry(ctx, "GetIncomingRedirects", func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx, `
			SELECT m.external_id FROM head h
			JOIN id_mapping m ON m.internal_id = h.internal_id
			WHERE h.redirect_target = $1`, target)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var ext entity.ExternalID
			if err := rows.Scan(&ext); err != nil {
				return err
			}
			out = append(out, ext)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapErr("GetIncomingRedirects", err)
	}
	return out, nil
}

func (p *Postgres) MarkDeleted(ctx context.Context, internal entity.InternalID, hard bool, reason, actor string, auditID uuid.UUID) error {
	return p.withRetry(ctx, "MarkDeleted", func(ctx context.Context) error {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `UPDATE head SET deleted = $1, updated_at = now() WHERE internal_id = $2`, hard, internal); err != nil {
			return err
		}
		var ext entity.ExternalID
		if err := tx.QueryRow(ctx, `SELECT external_id FROM id_mapping WHERE internal_id = $1`, internal).Scan(&ext); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO delete_audit (audit_id, external_id, hard, reason, actor, created_at) VALUES ($1, $2, $3, $4, $5, now())`,
			auditID.String(), ext, hard, reason, actor); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (p *Postgres) Undelete(ctx context.Context, internal entity.InternalID, actor string) error {
	return p.withRetry(ctx, "Undelete", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `UPDATE head SET deleted = false, updated_at = now() WHERE internal_id = $1 AND deleted = false`, internal)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = p.pool.Exec(ctx,
			`INSERT INTO delete_audit (audit_id, external_id, hard, reason, actor, created_at, undeleted)
			 SELECT $3, external_id, false, 'undelete', $2, now(), true FROM id_mapping WHERE internal_id = $1`,
			internal, actor, uuid.New().String())
		return err
	})
}

func (p *Postgres) ListChangedSince(ctx context.Context, since time.Time, afterInternal entity.InternalID, limit int) ([]entity.Head, error) {
	var out []entity.Head
	err := p.withRetry(ctx, "ListChangedSince", func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx, `
			SELECT m.internal_id, m.external_id, m.entity_type, h.current_revision, h.updated_at, h.redirect_target, h.deleted,
			       h.is_archived, h.is_locked, h.is_mass_edit_protected, h.is_semi_protected
			FROM head h
			JOIN id_mapping m ON m.internal_id = h.internal_id
			WHERE (h.updated_at > $1) OR (h.updated_at = $1 AND h.internal_id > $2)
			ORDER BY h.updated_at ASC, h.internal_id ASC
			LIMIT $3`, since, afterInternal, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var head entity.Head
			if err := scanHead(rows, &head); err != nil {
				return err
			}
			out = append(out, head)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapErr("ListChangedSince", err)
	}
	return out, nil
}

func (p *Postgres) ListOrphanPending(ctx context.Context, olderThan time.Time, limit int) ([]entity.RevisionMeta, error) {
	var out []entity.RevisionMeta
	err := p.withRetry(ctx, "ListOrphanPending", func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx, `
			SELECT r.internal_id, r.external_id, r.revision_id, r.parent_revision_id, r.content_uri, r.content_hash, r.comment, r.author, r.created_at, r.minor_edit
			FROM revision_meta r
			JOIN head h ON h.internal_id = r.internal_id
			WHERE r.revision_id > h.current_revision AND r.created_at < $1
			LIMIT $2`, olderThan, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rev entity.RevisionMeta
			if err := scanRevisionMeta(rows, &rev); err != nil {
				return err
			}
			out = append(out, rev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapErr("ListOrphanPending", err)
	}
	return out, nil
}
