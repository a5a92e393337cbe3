// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store implements the central control plane's persisted state: a
// single DuckDB file with one table per domain entity, matching the
// Users/Enrollments/Policies/RuleGroups/Rules/Actions/Sessions/Challenges/
// AgentRegistrations/LeaderLease/AuditLog model one-to-one. It satisfies
// the Store/PolicySource/EnrollmentLookup/StateStore interfaces the
// policy, challenge, session, and leader-lease packages already define,
// backing every domain package off a single embedded DuckDB file.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"
)

// Config configures Open.
type Config struct {
	Path    string
	Threads int
	Log     zerolog.Logger
}

// Store wraps the DuckDB connection backing the center.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates the database file (and its parent directory) if absent and
// applies the schema.
func Open(cfg Config) (*Store, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("store: create data directory: %w", err)
		}
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d", cfg.Path, threads)
	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // DuckDB's single-writer file model; serialize through one *sql.DB connection

	s := &Store{db: db, log: cfg.Log}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is alive, for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	directory_object_id TEXT NOT NULL,
	sam TEXT NOT NULL,
	upn TEXT NOT NULL,
	display TEXT NOT NULL,
	email TEXT,
	phone TEXT,
	dn TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT true,
	mfa_enabled BOOLEAN NOT NULL DEFAULT false,
	last_sync TIMESTAMP NOT NULL,
	last_auth TIMESTAMP
);

CREATE TABLE IF NOT EXISTS enrollments (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	method TEXT NOT NULL,
	status TEXT NOT NULL,
	encrypted_secret BLOB,
	secret_nonce BLOB,
	device_identifier TEXT,
	friendly_name TEXT,
	created TIMESTAMP NOT NULL,
	activated TIMESTAMP,
	last_used TIMESTAMP
);

CREATE TABLE IF NOT EXISTS policies (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	enabled BOOLEAN NOT NULL DEFAULT true,
	priority INTEGER NOT NULL DEFAULT 0,
	failover_mode TEXT NOT NULL,
	updated TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS rule_groups (
	id TEXT PRIMARY KEY,
	policy_id TEXT NOT NULL,
	"order" INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS rules (
	id TEXT PRIMARY KEY,
	group_id TEXT NOT NULL,
	rule_type TEXT NOT NULL,
	operator TEXT NOT NULL,
	value TEXT NOT NULL,
	negate BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS actions (
	id TEXT PRIMARY KEY,
	policy_id TEXT NOT NULL,
	"order" INTEGER NOT NULL DEFAULT 0,
	action_type TEXT NOT NULL,
	required_method TEXT
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	token_hash BLOB NOT NULL,
	source_ip TEXT NOT NULL,
	target_resource TEXT,
	verified_method TEXT NOT NULL,
	status TEXT NOT NULL,
	created TIMESTAMP NOT NULL,
	expires TIMESTAMP NOT NULL,
	dc_hint TEXT
);

CREATE TABLE IF NOT EXISTS challenges (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	enrollment_id TEXT NOT NULL,
	method TEXT NOT NULL,
	status TEXT NOT NULL,
	source_ip TEXT,
	target TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	created TIMESTAMP NOT NULL,
	expires TIMESTAMP NOT NULL,
	responded TIMESTAMP,
	lease_holder TEXT,
	lease_expiry TIMESTAMP
);

CREATE TABLE IF NOT EXISTS agent_registrations (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	hostname TEXT NOT NULL,
	ip TEXT,
	status TEXT NOT NULL,
	cert_thumbprint TEXT,
	version TEXT,
	registered TIMESTAMP NOT NULL,
	last_heartbeat TIMESTAMP
);

CREATE TABLE IF NOT EXISTS leader_lease (
	key TEXT PRIMARY KEY,
	holder_id TEXT NOT NULL,
	acquired TIMESTAMP NOT NULL,
	expires TIMESTAMP NOT NULL,
	renewed TIMESTAMP NOT NULL
);

CREATE SEQUENCE IF NOT EXISTS audit_log_seq;
CREATE TABLE IF NOT EXISTS audit_log (
	seq BIGINT PRIMARY KEY DEFAULT nextval('audit_log_seq'),
	ts TIMESTAMP NOT NULL,
	event_type TEXT NOT NULL,
	user_id TEXT,
	user_name TEXT,
	source_ip TEXT,
	target TEXT,
	success BOOLEAN NOT NULL,
	details TEXT,
	agent_id TEXT
);

CREATE TABLE IF NOT EXISTS restore_tokens (
	token TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	expires TIMESTAMP NOT NULL
);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// ErrConflict is returned by optimistic-concurrency writers when a row
// changed between read and write.
var ErrConflict = fmt.Errorf("store: concurrent modification, retry")

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = fmt.Errorf("store: not found")

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(ns sql.NullTime) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := ns.Time
	return &t
}
