// Package store provides SQLite-backed persistence for solve runs.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'created',
	gamma           REAL NOT NULL DEFAULT 1.0,
	time_steps      INTEGER NOT NULL DEFAULT 0,
	params_json     TEXT NOT NULL DEFAULT '{}',
	optimal_value   REAL NOT NULL DEFAULT 0.0,
	failure_reason  TEXT NOT NULL DEFAULT '',
	state_version   INTEGER NOT NULL DEFAULT 1,
	last_event_seq  INTEGER NOT NULL DEFAULT 0,
	created_at_unix INTEGER NOT NULL DEFAULT 0,
	updated_at_unix INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at_unix);

CREATE TABLE IF NOT EXISTS run_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	seq_no       INTEGER NOT NULL,
	event_type   TEXT NOT NULL,
	payload_json TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL,
	UNIQUE(run_id, seq_no)
);
CREATE INDEX IF NOT EXISTS idx_events_run_seq ON run_events(run_id, seq_no);

CREATE TABLE IF NOT EXISTS policy_entries (
	run_id    TEXT NOT NULL,
	step      INTEGER NOT NULL,
	state_key TEXT NOT NULL,
	value     REAL NOT NULL,
	action    INTEGER NOT NULL,
	PRIMARY KEY (run_id, step, state_key)
);

CREATE TABLE IF NOT EXISTS performance (
	run_id         TEXT PRIMARY KEY,
	traces         INTEGER NOT NULL DEFAULT 0,
	optimal_value  REAL NOT NULL DEFAULT 0.0,
	total_value    REAL NOT NULL DEFAULT 0.0,
	revenue        REAL NOT NULL DEFAULT 0.0,
	markdown       REAL NOT NULL DEFAULT 0.0,
	salvage        REAL NOT NULL DEFAULT 0.0,
	remaining_json TEXT NOT NULL DEFAULT '[]',
	actions_json   TEXT NOT NULL DEFAULT '[]',
	created_at     INTEGER NOT NULL DEFAULT 0
);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
