// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/guardctl/guardctl/internal/challenge"
	"github.com/guardctl/guardctl/internal/models"
)

// ChallengeStore implements challenge.Store against the shared Store.
type ChallengeStore struct {
	*Store
}

// NewChallengeStore wraps s for challenge.Orchestrator's Store dependency.
func NewChallengeStore(s *Store) *ChallengeStore { return &ChallengeStore{Store: s} }

const challengeSelect = `SELECT id, user_id, enrollment_id, method, status, source_ip, target, attempts, max_attempts, created, expires, responded, lease_holder, lease_expiry FROM challenges`

// Insert implements challenge.Store.
func (c *ChallengeStore) Insert(ctx context.Context, ch *models.Challenge) error {
	_, err := c.db.ExecContext(ctx, `INSERT INTO challenges (id, user_id, enrollment_id, method, status, source_ip, target, attempts, max_attempts, created, expires, responded, lease_holder, lease_expiry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.UserID, ch.EnrollmentID, ch.Method, ch.Status, nullString(ch.SourceIP), nullString(ch.Target),
		ch.Attempts, ch.MaxAttempts, ch.Created, ch.Expires, nullTime(ch.Responded), nullString(ch.LeaseHolder), ch.LeaseExpiry)
	if err != nil {
		return fmt.Errorf("store: insert challenge: %w", err)
	}
	return nil
}

// Get implements challenge.Store.
func (c *ChallengeStore) Get(ctx context.Context, id string) (*models.Challenge, error) {
	return scanChallenge(c.db.QueryRowContext(ctx, challengeSelect+` WHERE id = ?`, id))
}

// Update implements challenge.Store's optimistic-concurrency contract: it
// reads the row, applies mutate, and writes it back only if attempts and
// status are unchanged since the read — the pair together serve as the
// row's implicit version, since every mutate call advances at least one
// of them.
func (c *ChallengeStore) Update(ctx context.Context, id string, mutate func(*models.Challenge) error) (*models.Challenge, error) {
	current, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	beforeAttempts, beforeStatus := current.Attempts, current.Status

	if err := mutate(current); err != nil {
		return nil, err
	}

	res, err := c.db.ExecContext(ctx, `UPDATE challenges SET status = ?, attempts = ?, responded = ?, lease_holder = ?, lease_expiry = ?
		WHERE id = ? AND attempts = ? AND status = ?`,
		current.Status, current.Attempts, nullTime(current.Responded), nullString(current.LeaseHolder), current.LeaseExpiry,
		id, beforeAttempts, beforeStatus)
	if err != nil {
		return nil, fmt.Errorf("store: update challenge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, challenge.ErrConflict
	}
	return current, nil
}

func scanChallenge(row sessionScanner) (*models.Challenge, error) {
	var ch models.Challenge
	var sourceIP, target, leaseHolder sql.NullString
	var responded, leaseExpiry sql.NullTime
	err := row.Scan(&ch.ID, &ch.UserID, &ch.EnrollmentID, &ch.Method, &ch.Status, &sourceIP, &target,
		&ch.Attempts, &ch.MaxAttempts, &ch.Created, &ch.Expires, &responded, &leaseHolder, &leaseExpiry)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan challenge: %w", err)
	}
	ch.SourceIP = sourceIP.String
	ch.Target = target.String
	ch.Responded = timePtr(responded)
	ch.LeaseHolder = leaseHolder.String
	if leaseExpiry.Valid {
		ch.LeaseExpiry = leaseExpiry.Time
	}
	return &ch, nil
}
