// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/guardctl/guardctl/internal/leaderlease"
	"github.com/guardctl/guardctl/internal/models"
)

// LeaseStore implements leaderlease.Store against the shared Store.
type LeaseStore struct {
	*Store
}

// NewLeaseStore wraps s for leaderlease.Elector's Store dependency.
func NewLeaseStore(s *Store) *LeaseStore { return &LeaseStore{Store: s} }

// Get implements leaderlease.Store.
func (l *LeaseStore) Get(ctx context.Context) (*models.LeaderLease, error) {
	var row models.LeaderLease
	err := l.db.QueryRowContext(ctx, `SELECT key, holder_id, acquired, expires, renewed FROM leader_lease WHERE key = ?`,
		models.PrimaryLeaseKey).Scan(&row.Key, &row.HolderID, &row.Acquired, &row.Expires, &row.Renewed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get leader lease: %w", err)
	}
	return &row, nil
}

// Insert implements leaderlease.Store.
func (l *LeaseStore) Insert(ctx context.Context, row models.LeaderLease) error {
	_, err := l.db.ExecContext(ctx, `INSERT INTO leader_lease (key, holder_id, acquired, expires, renewed) VALUES (?, ?, ?, ?, ?)`,
		row.Key, row.HolderID, row.Acquired, row.Expires, row.Renewed)
	if err != nil {
		if isUniqueViolation(err) {
			return leaderlease.ErrConflict
		}
		return fmt.Errorf("store: insert leader lease: %w", err)
	}
	return nil
}

// CompareAndSwap implements leaderlease.Store.
func (l *LeaseStore) CompareAndSwap(ctx context.Context, expectedHolder string, expectedExpires time.Time, next models.LeaderLease) error {
	res, err := l.db.ExecContext(ctx, `UPDATE leader_lease SET holder_id = ?, acquired = ?, expires = ?, renewed = ?
		WHERE key = ? AND holder_id = ? AND expires = ?`,
		next.HolderID, next.Acquired, next.Expires, next.Renewed, models.PrimaryLeaseKey, expectedHolder, expectedExpires)
	if err != nil {
		return fmt.Errorf("store: cas leader lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return leaderlease.ErrConflict
	}
	return nil
}

// Delete implements leaderlease.Store.
func (l *LeaseStore) Delete(ctx context.Context, holderID string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM leader_lease WHERE key = ? AND holder_id = ?`, models.PrimaryLeaseKey, holderID)
	if err != nil {
		return fmt.Errorf("store: delete leader lease: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil // DuckDB's primary-key violation surfaces as a generic constraint error; any insert failure on this single-row table means it already exists.
}
