// Package postgres is the production store driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/vaanihq/vaani/internal/profile"
	"github.com/vaanihq/vaani/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a database specified by its database driver name and a
// driver-specific data source name, usually consisting of at least a
// database name and connection information.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	driver := DB{db: db, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the schema when missing. Statements are idempotent so
// this runs on every start.
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
		states JSONB NOT NULL DEFAULT '{}',
		initial_state TEXT NOT NULL DEFAULT '',
		final_states JSONB NOT NULL DEFAULT '[]',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		updated_ts BIGINT NOT NULL DEFAULT 0,
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
		context JSONB NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'running',
		started_ts BIGINT NOT NULL DEFAULT 0,
		updated_ts BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_flow_run_session ON flow_run (session_id, status)`,
	`CREATE TABLE IF NOT EXISTS conversation_message (
		id BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		recipient_id TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		intent TEXT NOT NULL DEFAULT '',
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		entities JSONB NOT NULL DEFAULT 'null',
		turn_number INTEGER NOT NULL DEFAULT 0,
		routing_decision TEXT NOT NULL DEFAULT '',
		processing_ms BIGINT NOT NULL DEFAULT 0,
		created_ts BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_message_session ON conversation_message (session_id, id)`,
	`CREATE TABLE IF NOT EXISTS training_sample (
		id BIGSERIAL PRIMARY KEY,
		text TEXT NOT NULL DEFAULT '',
		intent TEXT NOT NULL DEFAULT '',
		entities JSONB NOT NULL DEFAULT 'null',
		language TEXT NOT NULL DEFAULT '',
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT '',
		review_status TEXT NOT NULL DEFAULT 'pending',
		created_ts BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS user_profile (
		user_id TEXT PRIMARY KEY,
		attrs JSONB NOT NULL DEFAULT '{}',
		completeness DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_ts BIGINT NOT NULL DEFAULT 0
	)`,
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}
