// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/guardctl/guardctl/internal/models"
)

// Insert implements session.Store.
func (s *Store) Insert(ctx context.Context, sess *models.Session) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (id, user_id, token_hash, source_ip, target_resource, verified_method, status, created, expires, dc_hint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.TokenHash[:], sess.SourceIP, nullString(sess.TargetResource), sess.VerifiedMethod,
		sess.Status, sess.Created, sess.Expires, nullString(sess.DCHint))
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}
	return nil
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	return s.scanSession(s.db.QueryRowContext(ctx, sessionSelect+` WHERE id = ?`, id))
}

// FindActiveByUser implements session.Store.
func (s *Store) FindActiveByUser(ctx context.Context, userID, sourceIP string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, sessionSelect+` WHERE user_id = ? AND source_ip = ? AND status = ? ORDER BY created DESC LIMIT 1`,
		userID, sourceIP, models.SessionActive)
	sess, err := s.scanSession(row)
	if err == ErrNotFound {
		return nil, nil
	}
	return sess, err
}

// Revoke implements session.Store.
func (s *Store) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, models.SessionRevoked, id)
	if err != nil {
		return fmt.Errorf("store: revoke session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredBefore implements session.Store.
func (s *Store) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListActiveSessions returns every currently-active session for the admin
// surface's sessions-list endpoint.
func (s *Store) ListActiveSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, sessionSelect+` WHERE status = ? ORDER BY created DESC`, models.SessionActive)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		sess, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

const sessionSelect = `SELECT id, user_id, token_hash, source_ip, target_resource, verified_method, status, created, expires, dc_hint FROM sessions`

type sessionScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSession(row sessionScanner) (*models.Session, error) {
	sess, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sess, err
}

func scanSessionRow(row sessionScanner) (*models.Session, error) {
	var sess models.Session
	var target, dcHint sql.NullString
	var tokenHash []byte
	if err := row.Scan(&sess.ID, &sess.UserID, &tokenHash, &sess.SourceIP, &target, &sess.VerifiedMethod,
		&sess.Status, &sess.Created, &sess.Expires, &dcHint); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan session: %w", err)
	}
	copy(sess.TokenHash[:], tokenHash)
	sess.TargetResource = target.String
	sess.DCHint = dcHint.String
	return &sess, nil
}
