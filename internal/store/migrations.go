package store

import (
	"database/sql"
	"fmt"
)

// migration is one ordered schema step. Shaped after
// other_examples/…-davidtorcivia-schedlock__internal-database-migrations.go:
// a migrations table tracking the highest applied version, each migration
// run in its own transaction and recorded on success.
type migration struct {
	version int
	sql     string
}

func allMigrations() []migration {
	return []migration{
		{version: 1, sql: migration001InitialSchema},
	}
}

// migrate creates the migrations bookkeeping table if needed and applies
// every migration whose version exceeds the current one, in order.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read current migration version: %w", err)
	}

	for _, m := range allMigrations() {
		if m.version <= current {
			continue
		}
		if err := runMigration(db, m); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return fmt.Errorf("execute migration SQL: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

const migration001InitialSchema = `
CREATE TABLE IF NOT EXISTS origins (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	domain          TEXT NOT NULL UNIQUE,
	origin_uri      TEXT NOT NULL,
	timeout_ms      INTEGER NOT NULL,
	alert_threshold INTEGER NOT NULL DEFAULT 0,
	alert_email     TEXT NOT NULL DEFAULT '',
	smtp_host       TEXT NOT NULL DEFAULT '',
	smtp_port       INTEGER NOT NULL DEFAULT 0,
	smtp_username   TEXT NOT NULL DEFAULT '',
	smtp_password   TEXT NOT NULL DEFAULT '',
	smtp_tls        INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS requests (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	method            TEXT NOT NULL,
	uri               TEXT NOT NULL,
	headers           TEXT NOT NULL,
	body              BLOB,
	state             TEXT NOT NULL,
	created_at        INTEGER NOT NULL,
	retry_ms_at       INTEGER NOT NULL DEFAULT 0,
	from_request_id   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_requests_retry
	ON requests (state, retry_ms_at);

CREATE TABLE IF NOT EXISTS attempts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id      INTEGER NOT NULL REFERENCES requests(id),
	response_status INTEGER NOT NULL,
	response_body   BLOB,
	created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_request
	ON attempts (request_id);
`
