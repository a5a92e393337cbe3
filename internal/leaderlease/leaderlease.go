// SPDX-License-Identifier: AGPL-3.0-or-later

// Package leaderlease implements a single row keyed "primary" arbitrating
// which center instance runs singleton background work. Acquisition is
// optimistic: a conditional update keyed on the previously observed
// holder/expiry demotes the caller to standby on any lost race.
package leaderlease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guardctl/guardctl/internal/models"
)

// ErrConflict is returned by Store.Insert/CompareAndSwap when the row changed
// underneath the caller.
var ErrConflict = errors.New("leaderlease: conflicting update, lost the round")

// Store is the persistence contract for the "primary" row.
type Store interface {
	// Get returns the current row, or (nil, nil) if no row exists yet.
	Get(ctx context.Context) (*models.LeaderLease, error)
	// Insert creates the row if absent; returns ErrConflict if one now
	// exists (another instance won the race).
	Insert(ctx context.Context, row models.LeaderLease) error
	// CompareAndSwap updates the row only if its current holder/expires
	// match expectedHolder/expectedExpires; returns ErrConflict otherwise.
	CompareAndSwap(ctx context.Context, expectedHolder string, expectedExpires time.Time, next models.LeaderLease) error
	// Delete removes the row if it is currently held by holderID.
	Delete(ctx context.Context, holderID string) error
}

// Lease arbitrates leadership for one instance identified by HolderID.
type Lease struct {
	store    Store
	holderID string
	ttl      time.Duration
	now      func() time.Time

	leading bool
}

// New builds a Lease for holderID with the given lease duration.
func New(store Store, holderID string, ttl time.Duration) *Lease {
	return &Lease{store: store, holderID: holderID, ttl: ttl, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (l *Lease) WithClock(now func() time.Time) *Lease {
	l.now = now
	return l
}

// Tick runs one round of the election loop: try to insert if absent,
// extend if held by self, or take over if expired. It returns whether this
// instance is the leader after the round.
func (l *Lease) Tick(ctx context.Context) (bool, error) {
	row, err := l.store.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("leaderlease: read: %w", err)
	}
	now := l.now()

	if row == nil {
		next := models.LeaderLease{
			Key: models.PrimaryLeaseKey, HolderID: l.holderID,
			Acquired: now, Expires: now.Add(l.ttl), Renewed: now,
		}
		if err := l.store.Insert(ctx, next); err != nil {
			if errors.Is(err, ErrConflict) {
				l.leading = false
				return false, nil
			}
			return false, fmt.Errorf("leaderlease: insert: %w", err)
		}
		l.leading = true
		return true, nil
	}

	if row.HolderID == l.holderID {
		next := *row
		next.Expires = now.Add(l.ttl)
		next.Renewed = now
		if err := l.store.CompareAndSwap(ctx, row.HolderID, row.Expires, next); err != nil {
			if errors.Is(err, ErrConflict) {
				l.leading = false
				return false, nil
			}
			return false, fmt.Errorf("leaderlease: renew: %w", err)
		}
		l.leading = true
		return true, nil
	}

	if now.Before(row.Expires) {
		l.leading = false
		return false, nil
	}

	// Lease expired: attempt takeover conditional on the prior holder/expiry.
	next := models.LeaderLease{
		Key: models.PrimaryLeaseKey, HolderID: l.holderID,
		Acquired: now, Expires: now.Add(l.ttl), Renewed: now,
	}
	if err := l.store.CompareAndSwap(ctx, row.HolderID, row.Expires, next); err != nil {
		if errors.Is(err, ErrConflict) {
			l.leading = false
			return false, nil
		}
		return false, fmt.Errorf("leaderlease: takeover: %w", err)
	}
	l.leading = true
	return true, nil
}

// IsLeading reports the last Tick's outcome without a store round trip.
func (l *Lease) IsLeading() bool { return l.leading }

// Resign best-effort releases the lease if currently held, for graceful
// shutdown.
func (l *Lease) Resign(ctx context.Context) error {
	if !l.leading {
		return nil
	}
	l.leading = false
	return l.store.Delete(ctx, l.holderID)
}
