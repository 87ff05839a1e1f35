// Package dbmigrate applies the metadata schema migrations goose-style,
// one numbered SQL file per change, mirroring the teacher's per-version
// migration files under internal/storage/sqlite/migrations and
// internal/storage/dolt/migrations — those are hand-rolled Go functions
// run against database/sql, applied here as goose's SQL-file convention
// instead since the metadata gateway is a plain Postgres schema with no
// need for Go-level conditional logic per migration.
package dbmigrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var Migrations embed.FS

// migrationFiles is the migrations/ subdirectory of Migrations, which
// puts the SQL files at the root where goose's provider looks for them;
// the exported Migrations keeps the full embedded tree for tests to
// inspect without depending on goose's provider construction.
var migrationFiles, _ = fs.Sub(Migrations, "migrations")

// Up applies every pending migration against dsn, opening and closing
// its own *sql.DB via the pgx stdlib driver (the production Gateway
// keeps its own pgxpool.Pool for queries; migrations run once at
// startup and don't need to share that pool).
func Up(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("dbmigrate: open: %w", err)
	}
	defer db.Close()

	p, err := goose.NewProvider(goose.DialectPostgres, db, migrationFiles)
	if err != nil {
		return fmt.Errorf("dbmigrate: provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("dbmigrate: up: %w", err)
	}
	return nil
}

// Status returns the applied/pending state of every known migration,
// used by entityledgerd's `migrate status` subcommand.
func Status(ctx context.Context, dsn string) ([]*goose.MigrationStatus, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbmigrate: open: %w", err)
	}
	defer db.Close()

	p, err := goose.NewProvider(goose.DialectPostgres, db, migrationFiles)
	if err != nil {
		return nil, fmt.Errorf("dbmigrate: provider: %w", err)
	}
	return p.Status(ctx)
}

// Down rolls back the single most recent migration, used for local
// development and schema-change rehearsal — never exposed as a
// destructive production default.
func Down(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("dbmigrate: open: %w", err)
	}
	defer db.Close()

	p, err := goose.NewProvider(goose.DialectPostgres, db, migrationFiles)
	if err != nil {
		return fmt.Errorf("dbmigrate: provider: %w", err)
	}
	if _, err := p.Down(ctx); err != nil {
		return fmt.Errorf("dbmigrate: down: %w", err)
	}
	return nil
}
