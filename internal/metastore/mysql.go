package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/entityledger/core/internal/entity"
)

// mysqlTracer is the OTel tracer for the MySQL-dialect gateway, kept
// separate from pgTracer so spans carry the right db.system attribute.
var mysqlTracer = otel.Tracer("github.com/entityledger/core/metastore/mysql")

// MySQL is the alternative Gateway implementation for deployments
// standardized on a MySQL-protocol store (plain MySQL, or Dolt/Vitess in
// server mode), grounded on the teacher's internal/storage/dolt/store.go
// server-mode path, which opens database/sql against
// go-sql-driver/mysql rather than embedding. Schema layout mirrors
// dbmigrate's Postgres migrations (BIGINT ids, DATETIME(6) timestamps,
// CHAR(36) audit ids in place of a native uuid column); provisioning the
// MySQL schema is left to the operator the same way the teacher leaves
// server-mode schema init outside DoltStore.
type MySQL struct {
	db      *sql.DB
	breaker *gobreaker.CircuitBreaker
}

// MySQLConfig configures the circuit breaker guarding the pool.
type MySQLConfig struct {
	BreakerMaxRequests   uint32
	BreakerInterval      time.Duration
	BreakerTimeout       time.Duration
	BreakerTripThreshold uint32
	RetryMaxElapsed      time.Duration
}

func defaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		BreakerMaxRequests:   4,
		BreakerInterval:      10 * time.Second,
		BreakerTimeout:       30 * time.Second,
		BreakerTripThreshold: 5,
		RetryMaxElapsed:      5 * time.Second,
	}
}

// NewMySQL wraps an already-opened *sql.DB (opened with driver name
// "mysql" against a go-sql-driver/mysql DSN). Pool construction is left
// to the caller, matching NewPostgres's split.
func NewMySQL(db *sql.DB, cfg *MySQLConfig) *MySQL {
	c := defaultMySQLConfig()
	if cfg != nil {
		c = *cfg
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "metastore.mysql",
		MaxRequests: c.BreakerMaxRequests,
		Interval:    c.BreakerInterval,
		Timeout:     c.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.BreakerTripThreshold
		},
	})
	return &MySQL{db: db, breaker: breaker}
}

var _ Gateway = (*MySQL)(nil)

func (m *MySQL) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	bo := backoff.WithContext(newRetryBackoff(), ctx)
	attempt := func() error {
		_, err := m.breaker.Execute(func() (any, error) {
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
		return fmt.Errorf("metastore.mysql: %s: %w", op, err)
	}
	return nil
}

func (m *MySQL) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{attribute.String("db.system", "mysql")}, attrs...)
	return mysqlTracer.Start(ctx, "metastore."+op, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(all...))
}

func (m *MySQL) ResolveExternal(ctx context.Context, id entity.ExternalID) (entity.Head, error) {
	ctx, span := m.startSpan(ctx, "ResolveExternal", attribute.String("entity.external_id", string(id)))
	defer func() { endSpan(span, nil) }()

	var head entity.Head
	err := m.withRetry(ctx, "ResolveExternal", func(ctx context.Context) error {
		row := m.db.QueryRowContext(ctx, `
			SELECT m.internal_id, m.external_id, m.entity_type, h.current_revision,
			       h.updated_at, h.redirect_target, h.deleted,
			       h.is_archived, h.is_locked, h.is_mass_edit_protected, h.is_semi_protected
			FROM id_mapping m
			JOIN head h ON h.internal_id = m.internal_id
			WHERE m.external_id = ?`, id)
		return scanHeadRow(row, &head)
	})
	if err != nil {
		return entity.Head{}, wrapErr("ResolveExternal", err)
	}
	return head, nil
}

func (m *MySQL) GetHead(ctx context.Context, id entity.InternalID) (entity.Head, error) {
	var head entity.Head
	err := m.withRetry(ctx, "GetHead", func(ctx context.Context) error {
		row := m.db.QueryRowContext(ctx, `
			SELECT m.internal_id, m.external_id, m.entity_type, h.current_revision,
			       h.updated_at, h.redirect_target, h.deleted,
			       h.is_archived, h.is_locked, h.is_mass_edit_protected, h.is_semi_protected
			FROM head h
			JOIN id_mapping m ON m.internal_id = h.internal_id
			WHERE h.internal_id = ?`, id)
		return scanHeadRow(row, &head)
	})
	if err != nil {
		return entity.Head{}, wrapErr("GetHead", err)
	}
	return head, nil
}

// scanRow is the subset of *sql.Row/*sql.Rows scanHeadRow and
// scanRevisionMetaRow need.
type scanRow interface {
	Scan(dest ...any) error
}

func scanHeadRow(row scanRow, head *entity.Head) error {
	var redirect sql.NullString
	if err := row.Scan(&head.Internal, &head.External, &head.Type, &head.CurrentRevision,
		&head.UpdatedAt, &redirect, &head.Deleted,
		&head.Archived, &head.Locked, &head.MassEditProtected, &head.SemiProtected); err != nil {
		return err
	}
	if redirect.Valid {
		head.RedirectTarget = entity.ExternalID(redirect.String)
	}
	return nil
}

func (m *MySQL) InternalIDExists(ctx context.Context, id entity.InternalID) (bool, error) {
	var exists bool
	err := m.withRetry(ctx, "InternalIDExists", func(ctx context.Context) error {
		return m.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM id_mapping WHERE internal_id = ?)`, id).Scan(&exists)
	})
	if err != nil {
		return false, wrapErr("InternalIDExists", err)
	}
	return exists, nil
}

func (m *MySQL) CreateMapping(ctx context.Context, ext entity.ExternalID, internal entity.InternalID, typ entity.Type) error {
	return m.withRetry(ctx, "CreateMapping", func(ctx context.Context) error {
		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO id_mapping (internal_id, external_id, entity_type) VALUES (?, ?, ?)`,
			internal, ext, typ); err != nil {
			return classifyUniqueViolation(err, ErrAlreadyExists)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO head (internal_id, current_revision, updated_at) VALUES (?, 0, NOW(6))`,
			internal); err != nil {
			return classifyUniqueViolation(err, ErrInternalIDInUse)
		}
		return tx.Commit()
	})
}

func (m *MySQL) InsertRevisionMeta(ctx context.Context, rev entity.RevisionMeta) error {
	return m.withRetry(ctx, "InsertRevisionMeta", func(ctx context.Context) error {
		_, err := m.db.ExecContext(ctx, `
			INSERT INTO revision_meta
				(internal_id, external_id, revision_id, parent_revision_id, content_uri, content_hash, comment, author, created_at, minor_edit)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rev.Internal, rev.External, rev.Revision, rev.ParentRev, rev.ContentURI, rev.ContentSum,
			rev.Comment, rev.Author, rev.CreatedAt, rev.MinorEdit)
		return err
	})
}

func (m *MySQL) FindByContentHash(ctx context.Context, internal entity.InternalID, hash uint64) (entity.RevisionMeta, bool, error) {
	var rev entity.RevisionMeta
	err := m.withRetry(ctx, "FindByContentHash", func(ctx context.Context) error {
		row := m.db.QueryRowContext(ctx, `
			SELECT internal_id, external_id, revision_id, parent_revision_id, content_uri, content_hash, comment, author, created_at, minor_edit
			FROM revision_meta
			WHERE internal_id = ? AND content_hash = ?
			ORDER BY revision_id DESC
			LIMIT 1`, internal, hash)
		return scanRevisionMetaRow(row, &rev)
	})
	if err != nil {
		if isNotFoundErr(err) {
			return entity.RevisionMeta{}, false, nil
		}
		return entity.RevisionMeta{}, false, wrapErr("FindByContentHash", err)
	}
	return rev, true, nil
}

func scanRevisionMetaRow(row scanRow, rev *entity.RevisionMeta) error {
	return row.Scan(&rev.Internal, &rev.External, &rev.Revision, &rev.ParentRev,
		&rev.ContentURI, &rev.ContentSum, &rev.Comment, &rev.Author, &rev.CreatedAt, &rev.MinorEdit)
}

func (m *MySQL) CASHead(ctx context.Context, internal entity.InternalID, expectedPrev, newRev entity.RevisionID, flags entity.ProtectionFlags, isNormalRevision bool) error {
	return m.withRetry(ctx, "CASHead", func(ctx context.Context) error {
		res, err := m.db.ExecContext(ctx, `
			UPDATE head SET current_revision = ?, updated_at = NOW(6),
			       is_archived = ?, is_locked = ?, is_mass_edit_protected = ?, is_semi_protected = ?,
			       deleted = CASE WHEN ? THEN false ELSE deleted END
			WHERE internal_id = ? AND current_revision = ?`,
			newRev, flags.Archived, flags.Locked, flags.MassEditProtected, flags.SemiProtected,
			isNormalRevision, internal, expectedPrev)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrCASConflict
		}
		return nil
	})
}

func (m *MySQL) ListHistory(ctx context.Context, internal entity.InternalID, before entity.RevisionID, limit int) ([]entity.RevisionMeta, error) {
	var out []entity.RevisionMeta
	err := m.withRetry(ctx, "ListHistory", func(ctx context.Context) error {
		rows, err := m.db.QueryContext(ctx, `
			SELECT internal_id, external_id, revision_id, parent_revision_id, content_uri, content_hash, comment, author, created_at, minor_edit
			FROM revision_meta
			WHERE internal_id = ? AND (? = 0 OR revision_id < ?)
			ORDER BY revision_id DESC
			LIMIT ?`, internal, before, before, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rev entity.RevisionMeta
			if err := scanRevisionMetaRow(rows, &rev); err != nil {
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

func (m *MySQL) GetRevisionMeta(ctx context.Context, internal entity.InternalID, rev entity.RevisionID) (entity.RevisionMeta, error) {
	var out entity.RevisionMeta
	err := m.withRetry(ctx, "GetRevisionMeta", func(ctx context.Context) error {
		row := m.db.QueryRowContext(ctx, `
			SELECT internal_id, external_id, revision_id, parent_revision_id, content_uri, content_hash, comment, author, created_at, minor_edit
			FROM revision_meta WHERE internal_id = ? AND revision_id = ?`, internal, rev)
		return scanRevisionMetaRow(row, &out)
	})
	if err != nil {
		return entity.RevisionMeta{}, wrapErr("GetRevisionMeta", err)
	}
	return out, nil
}

func (m *MySQL) CreateRedirect(ctx context.Context, from entity.InternalID, to entity.ExternalID, rev entity.RevisionID, auditID uuid.UUID) error {
	return m.withRetry(ctx, "CreateRedirect", func(ctx context.Context) error {
		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var fromExternal entity.ExternalID
		if err := tx.QueryRowContext(ctx, `SELECT external_id FROM id_mapping WHERE internal_id = ?`, from).Scan(&fromExternal); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE head SET redirect_target = ?, current_revision = ?, updated_at = NOW(6) WHERE internal_id = ?`,
			to, rev, from); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO redirect_audit (audit_id, from_external_id, to_external_id, revision_id, created_at) VALUES (?, ?, ?, ?, NOW(6))`,
			auditID.String(), fromExternal, to, rev); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (m *MySQL) RevertRedirect(ctx context.Context, internal entity.InternalID) error {
	return m.withRetry(ctx, "RevertRedirect", func(ctx context.Context) error {
		_, err := m.db.ExecContext(ctx, `UPDATE head SET redirect_target = NULL, updated_at = NOW(6) WHERE internal_id = ?`, internal)
		return err
	})
}

func (m *MySQL) GetIncomingRedirects(ctx context.Context, target entity.ExternalID) ([]entity.ExternalID, error) {
	var out []entity.ExternalID
	err := m.withRetry(ctx, "GetIncomingRedirects", func(ctx context.Context) error {
		rows, err := m.db.QueryContext(ctx, `
			SELECT m.external_id FROM head h
			JOIN id_mapping m ON m.internal_id = h.internal_id
			WHERE h.redirect_target = ?`, target)
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

func (m *MySQL) MarkDeleted(ctx context.Context, internal entity.InternalID, hard bool, reason, actor string, auditID uuid.UUID) error {
	return m.withRetry(ctx, "MarkDeleted", func(ctx context.Context) error {
		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `UPDATE head SET deleted = ?, updated_at = NOW(6) WHERE internal_id = ?`, hard, internal); err != nil {
			return err
		}
		var ext entity.ExternalID
		if err := tx.QueryRowContext(ctx, `SELECT external_id FROM id_mapping WHERE internal_id = ?`, internal).Scan(&ext); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO delete_audit (audit_id, external_id, hard, reason, actor, created_at) VALUES (?, ?, ?, ?, ?, NOW(6))`,
			auditID.String(), ext, hard, reason, actor); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (m *MySQL) Undelete(ctx context.Context, internal entity.InternalID, actor string) error {
	return m.withRetry(ctx, "Undelete", func(ctx context.Context) error {
		res, err := m.db.ExecContext(ctx, `UPDATE head SET deleted = false, updated_at = NOW(6) WHERE internal_id = ? AND deleted = false`, internal)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		_, err = m.db.ExecContext(ctx,
			`INSERT INTO delete_audit (audit_id, external_id, hard, reason, actor, created_at, undeleted)
			 SELECT ?, external_id, false, 'undelete', ?, NOW(6), true FROM id_mapping WHERE internal_id = ?`,
			uuid.New().String(), actor, internal)
		return err
	})
}

func (m *MySQL) ListChangedSince(ctx context.Context, since time.Time, afterInternal entity.InternalID, limit int) ([]entity.Head, error) {
	var out []entity.Head
	err := m.withRetry(ctx, "ListChangedSince", func(ctx context.Context) error {
		rows, err := m.db.QueryContext(ctx, `
			SELECT m.internal_id, m.external_id, m.entity_type, h.current_revision, h.updated_at, h.redirect_target, h.deleted,
			       h.is_archived, h.is_locked, h.is_mass_edit_protected, h.is_semi_protected
			FROM head h
			JOIN id_mapping m ON m.internal_id = h.internal_id
			WHERE (h.updated_at > ?) OR (h.updated_at = ? AND h.internal_id > ?)
			ORDER BY h.updated_at ASC, h.internal_id ASC
			LIMIT ?`, since, since, afterInternal, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var head entity.Head
			if err := scanHeadRow(rows, &head); err != nil {
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

func (m *MySQL) ListOrphanPending(ctx context.Context, olderThan time.Time, limit int) ([]entity.RevisionMeta, error) {
	var out []entity.RevisionMeta
	err := m.withRetry(ctx, "ListOrphanPending", func(ctx context.Context) error {
		rows, err := m.db.QueryContext(ctx, `
			SELECT r.internal_id, r.external_id, r.revision_id, r.parent_revision_id, r.content_uri, r.content_hash, r.comment, r.author, r.created_at, r.minor_edit
			FROM revision_meta r
			JOIN head h ON h.internal_id = r.internal_id
			WHERE r.revision_id > h.current_revision AND r.created_at < ?
			LIMIT ?`, olderThan, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rev entity.RevisionMeta
			if err := scanRevisionMetaRow(rows, &rev); err != nil {
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
