package metastore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Sentinel errors for metadata gateway operations. Gateways translate
// driver-specific not-found conditions (sql.ErrNoRows, pgx.ErrNoRows) into
// ErrNotFound so callers never import a driver package to check errors.
var (
	ErrNotFound        = errors.New("metastore: not found")
	ErrCASConflict     = errors.New("metastore: cas conflict")
	ErrAlreadyExists   = errors.New("metastore: already exists")
	ErrInternalIDInUse = errors.New("metastore: internal id in use")
)

// wrapErr normalizes a driver error with operation context, converting the
// various "no rows" sentinels into ErrNotFound.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
