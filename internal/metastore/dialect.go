package metastore

import "fmt"

// Dialect selects the SQL engine backing a Gateway. Postgres is the
// default production dialect (pgx); MySQL is kept as an alternative for
// deployments already standardized on a MySQL-protocol store, grounded
// on the teacher's dolt store.go server mode, which speaks the same
// wire protocol through go-sql-driver/mysql.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Valid reports whether d is a known dialect.
func (d Dialect) Valid() bool {
	switch d {
	case DialectPostgres, DialectMySQL:
		return true
	default:
		return false
	}
}

// ParseDialect validates a dialect string read from configuration,
// defaulting to DialectPostgres when s is empty.
func ParseDialect(s string) (Dialect, error) {
	if s == "" {
		return DialectPostgres, nil
	}
	d := Dialect(s)
	if !d.Valid() {
		return "", fmt.Errorf("metastore: unknown dialect %q", s)
	}
	return d, nil
}
