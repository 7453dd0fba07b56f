// Package sqlitestore is the embedded, file-backed inventory.Store:
// raw SQL over database/sql with the pure-Go sqlite driver. It serves
// single-host deployments and the test suite; MySQL deployments use
// storage/gormstore instead.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) the sqlite database at path and
// applies the schema. Pass ":memory:" for an in-memory database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := "file::memory:?cache=shared"
	if path != ":memory:" && path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
		// Per-connection PRAGMAs: foreign keys on, WAL for concurrency,
		// busy_timeout to reduce SQLITE_BUSY under load.
		dsn = fmt.Sprintf(
			"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
			path,
		)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// Single connection: serializes writers, which is the safe default
	// for sqlite in a server process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS cards (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	number        TEXT NOT NULL,
	titular       TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'Pending',
	last_scan_at  TIMESTAMP,
	last_operator TEXT NOT NULL DEFAULT '',
	site          TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_card_number_site ON cards (number, site);

CREATE TABLE IF NOT EXISTS inventory_cycles (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	status     TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	ended_at   TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
-- exactly-one-active-cycle, enforced by the database
CREATE UNIQUE INDEX IF NOT EXISTS idx_cycle_single_active
	ON inventory_cycles (status) WHERE status = 'Active';

CREATE TABLE IF NOT EXISTS scan_records (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	card_id    INTEGER NOT NULL REFERENCES cards (id),
	number     TEXT NOT NULL,
	status     TEXT NOT NULL,
	operator   TEXT NOT NULL,
	scanned_at TIMESTAMP NOT NULL,
	month      TEXT NOT NULL,
	cycle_id   INTEGER NOT NULL REFERENCES inventory_cycles (id),
	site       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_scan_card_cycle ON scan_records (card_id, cycle_id);
CREATE INDEX IF NOT EXISTS idx_scan_site_month ON scan_records (site, month);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
