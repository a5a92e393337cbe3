// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SnapshotTo implements snapshot.StateStore: DuckDB's EXPORT DATABASE
// writes a consistent point-in-time copy of every table to destPath
// without blocking concurrent readers.
func (s *Store) SnapshotTo(ctx context.Context, destPath string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`EXPORT DATABASE '%s' (FORMAT PARQUET)`, destPath))
	if err != nil {
		return fmt.Errorf("store: export database: %w", err)
	}
	return nil
}

// ReplaceFrom implements snapshot.StateStore: every table is dropped and
// reloaded from the snapshot directory at sourcePath. Restore runs inside
// a single transaction so a failure partway through never leaves the
// store in a mixed old/new state.
func (s *Store) ReplaceFrom(ctx context.Context, sourcePath string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin restore: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`IMPORT DATABASE '%s'`, sourcePath)); err != nil {
		return fmt.Errorf("store: import database: %w", err)
	}
	return tx.Commit()
}

// IssueRestoreToken implements snapshot.TokenStore: the token is persisted
// as a store row (not an in-process map) so any center instance can
// confirm a restore requested against a different instance, and a restore
// in flight survives a leader failover.
func (s *Store) IssueRestoreToken(ctx context.Context, token, filename string, expires time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO restore_tokens (token, filename, expires) VALUES (?, ?, ?)`, token, filename, expires)
	if err != nil {
		return fmt.Errorf("store: issue restore token: %w", err)
	}
	return nil
}

// ConsumeRestoreToken implements snapshot.TokenStore: the token is deleted
// on successful lookup so it can never be replayed, and expired tokens are
// rejected even before deletion.
func (s *Store) ConsumeRestoreToken(ctx context.Context, token string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: begin consume token: %w", err)
	}
	defer tx.Rollback()

	var filename string
	var expires time.Time
	err = tx.QueryRowContext(ctx, `SELECT filename, expires FROM restore_tokens WHERE token = ?`, token).Scan(&filename, &expires)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: lookup restore token: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM restore_tokens WHERE token = ?`, token); err != nil {
		return "", fmt.Errorf("store: consume restore token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: commit consume token: %w", err)
	}

	if time.Now().After(expires) {
		return "", fmt.Errorf("store: restore token expired")
	}
	return filename, nil
}
