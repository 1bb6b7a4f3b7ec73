package db

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DB is the keyed-record store. Queries are written with '?' placeholders
// and rebound for the active driver.
type DB struct {
	*sqlx.DB
	driver string
}

// New opens a store for driver "pgx" (PostgreSQL) or "sqlite" and applies
// pending migrations.
func New(driver, dsn string) (*DB, error) {
	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// A single connection keeps ":memory:" databases coherent and
		// serialises writers.
		conn.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := conn.Exec(pragma); err != nil {
				conn.Close()
				return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
			}
		}
	}

	if err := conn.PingContext(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}

	d := &DB{DB: conn, driver: driver}
	if err := d.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return d, nil
}

// Close closes the underlying pool.
func (d *DB) Close() error {
	return d.DB.Close()
}

// q rebinds a '?' query for the active driver.
func (d *DB) q(query string) string {
	return d.Rebind(query)
}

func (d *DB) migrate(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	var current int
	if err := d.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		for _, stmt := range strings.Split(d.dialect(m.sql), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := d.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply migration v%d: %w", m.version, err)
			}
		}
		if _, err := d.ExecContext(ctx, d.q(`INSERT INTO schema_version (version) VALUES (?)`), m.version); err != nil {
			return fmt.Errorf("failed to record migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func (d *DB) dialect(sql string) string {
	if d.driver == "sqlite" {
		return strings.NewReplacer(
			"{{ts}}", "DATETIME",
			"{{blob}}", "BLOB",
			"{{autoid}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		).Replace(sql)
	}
	return strings.NewReplacer(
		"{{ts}}", "TIMESTAMPTZ",
		"{{blob}}", "BYTEA",
		"{{autoid}}", "BIGSERIAL PRIMARY KEY",
	).Replace(sql)
}
