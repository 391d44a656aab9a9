// Package sqlite is the development and single-node store driver.
//
// SQLite is supported on a best-effort basis for development and testing.
// Production deployments should use the postgres driver; SQLite's single
// writer makes it unsuitable for multi-worker webhook ingestion.
package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/vaanihq/vaani/internal/profile"
	"github.com/vaanihq/vaani/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database named by profile.DSN.
//
// Pragmas: WAL journal mode avoids reader/writer lockups, busy_timeout
// keeps concurrent test runs from failing fast. With the modernc driver
// each pragma must be prefixed with `_pragma=`.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// Single connection is optimal with WAL for a local file.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the schema when missing.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply schema")
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS flow (
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		module TEXT NOT NULL DEFAULT '',
		trigger_intent TEXT NOT NULL DEFAULT '',
		states TEXT NOT NULL DEFAULT '{}',
		initial_state TEXT NOT NULL DEFAULT '',
		final_states TEXT NOT NULL DEFAULT '[]',
		enabled INTEGER NOT NULL DEFAULT 1,
		updated_ts INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (id, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_flow_trigger ON flow (trigger_intent)`,
	`CREATE TABLE IF NOT EXISTS flow_run (
		run_id TEXT PRIMARY KEY,
		flow_id TEXT NOT NULL,
		flow_version INTEGER NOT NULL DEFAULT 0,
		session_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		current_state TEXT NOT NULL DEFAULT '',
		context TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'running',
		started_ts INTEGER NOT NULL DEFAULT 0,
		updated_ts INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_flow_run_session ON flow_run (session_id, status)`,
	`CREATE TABLE IF NOT EXISTS conversation_message (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL DEFAULT '',
		recipient_id TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		intent TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		entities TEXT NOT NULL DEFAULT 'null',
		turn_number INTEGER NOT NULL DEFAULT 0,
		routing_decision TEXT NOT NULL DEFAULT '',
		processing_ms INTEGER NOT NULL DEFAULT 0,
		created_ts INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_message_session ON conversation_message (session_id, id)`,
	`CREATE TABLE IF NOT EXISTS training_sample (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT NOT NULL DEFAULT '',
		intent TEXT NOT NULL DEFAULT '',
		entities TEXT NOT NULL DEFAULT 'null',
		language TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT '',
		review_status TEXT NOT NULL DEFAULT 'pending',
		created_ts INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS user_profile (
		user_id TEXT PRIMARY KEY,
		attrs TEXT NOT NULL DEFAULT '{}',
		completeness REAL NOT NULL DEFAULT 0,
		updated_ts INTEGER NOT NULL DEFAULT 0
	)`,
}

func placeholder(int) string {
	return "?"
}

func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = "?"
	}
	return strings.Join(list, ", ")
}
