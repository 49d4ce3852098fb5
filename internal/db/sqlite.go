// Package db provides SQLite-backed persistence for the autopilot.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema. Money columns are TEXT so
// decimal values round-trip exactly.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS cycle_config (
	user_id                     TEXT PRIMARY KEY,
	enabled                     INTEGER NOT NULL DEFAULT 0,
	cycle_interval_minutes      INTEGER NOT NULL DEFAULT 60,
	publication_mode            TEXT NOT NULL DEFAULT 'manual',
	target_marketplace          TEXT NOT NULL DEFAULT '',
	max_opportunities_per_cycle INTEGER NOT NULL DEFAULT 10,
	working_capital             TEXT NOT NULL DEFAULT '0',
	min_profit_usd              TEXT NOT NULL DEFAULT '0',
	min_roi_pct                 TEXT NOT NULL DEFAULT '0',
	search_queries_json         TEXT NOT NULL DEFAULT '[]',
	updated_at                  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cycle_results (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id                 TEXT NOT NULL,
	success                 INTEGER NOT NULL,
	category                TEXT NOT NULL,
	query                   TEXT NOT NULL DEFAULT '',
	opportunities_found     INTEGER NOT NULL DEFAULT 0,
	opportunities_processed INTEGER NOT NULL DEFAULT 0,
	products_published      INTEGER NOT NULL DEFAULT 0,
	products_queued         INTEGER NOT NULL DEFAULT 0,
	capital_used            TEXT NOT NULL DEFAULT '0',
	errors_json             TEXT NOT NULL DEFAULT '[]',
	warnings_json           TEXT NOT NULL DEFAULT '[]',
	message                 TEXT NOT NULL DEFAULT '',
	started_at              INTEGER NOT NULL,
	finished_at             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycle_results_user ON cycle_results(user_id, id);

CREATE TABLE IF NOT EXISTS pending_approvals (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	opportunity_json TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	queued_at        INTEGER NOT NULL,
	resolved_at      INTEGER
);
CREATE INDEX IF NOT EXISTS idx_approvals_user_status ON pending_approvals(user_id, status);

CREATE TABLE IF NOT EXISTS pending_purchases (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	opportunity_id TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	cost_usd       TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'PENDING',
	listing_id     TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_purchases_user_status ON pending_purchases(user_id, status);

CREATE TABLE IF NOT EXISTS credentials (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id          TEXT NOT NULL,
	marketplace      TEXT NOT NULL,
	environment      TEXT NOT NULL,
	scope            TEXT NOT NULL DEFAULT 'user',
	is_active        INTEGER NOT NULL DEFAULT 1,
	credentials_json TEXT NOT NULL DEFAULT '{}',
	UNIQUE(user_id, marketplace, environment, scope)
);

CREATE TABLE IF NOT EXISTS publish_attempts (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id        TEXT NOT NULL,
	opportunity_id TEXT NOT NULL,
	marketplace    TEXT NOT NULL,
	environment    TEXT NOT NULL,
	success        INTEGER NOT NULL,
	listing_id     TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_user ON publish_attempts(user_id, created_at);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL allows concurrent reads but a single writer.
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
