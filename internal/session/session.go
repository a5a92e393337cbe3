// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session implements creation, validation, revocation, and expiry
// of bearer sessions backed by the compact signed token of
// internal/tokencodec. The Store interface (Insert/Get/FindActiveByUser/
// Revoke/DeleteExpiredBefore) is backed by the central relational store.
package session

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guardctl/guardctl/internal/models"
	"github.com/guardctl/guardctl/internal/tokencodec"
)

// ErrSessionNotFound is returned by Store lookups that miss.
var ErrSessionNotFound = errors.New("session: not found")

const defaultTTL = 8 * time.Hour

// Store is the persistence contract the Manager needs from the central
// store. Sessions are looked up by id, never by token hash; Manager
// compares the stored hash with the presented token's hash in constant
// time, whatever the backing implementation.
type Store interface {
	Insert(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	FindActiveByUser(ctx context.Context, userID, sourceIP string) (*models.Session, error)
	Revoke(ctx context.Context, id string) error
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Manager issues, validates, and revokes bearer sessions.
type Manager struct {
	store Store
	codec *tokencodec.Codec
	now   func() time.Time
}

// New builds a Manager.
func New(store Store, codec *tokencodec.Codec) *Manager {
	return &Manager{store: store, codec: codec, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Create mints a fresh session and its signed token. ttl of zero uses the
// spec default of 8 hours.
func (m *Manager) Create(ctx context.Context, userID, sourceIP, targetResource, verifiedMethod string, ttl time.Duration) (token string, sess *models.Session, err error) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := m.now()
	expires := now.Add(ttl)
	sessionID := uuid.New()

	rawToken, err := m.codec.Encode(sessionID, userID, expires)
	if err != nil {
		return "", nil, fmt.Errorf("session: encode token: %w", err)
	}

	row := &models.Session{
		ID:             sessionID.String(),
		UserID:         userID,
		TokenHash:      sha256.Sum256([]byte(rawToken)),
		SourceIP:       sourceIP,
		TargetResource: targetResource,
		VerifiedMethod: verifiedMethod,
		Status:         models.SessionActive,
		Created:        now,
		Expires:        expires,
	}
	if err := m.store.Insert(ctx, row); err != nil {
		return "", nil, fmt.Errorf("session: persist: %w", err)
	}
	return rawToken, row, nil
}

// Validate decodes and verifies a token, then confirms the referenced
// session is active and unexpired, and that the stored hash matches the
// presented token under a constant-time comparison. Every failure mode —
// bad integrity, not-found, revoked, expired, hash mismatch — returns
// (nil, nil): callers receive a single "no session" signal and may not
// branch on which check failed.
func (m *Manager) Validate(ctx context.Context, token string) (*models.Session, error) {
	claims, err := m.codec.Decode(token)
	if err != nil {
		return nil, nil //nolint:nilerr // uniform "no session" result, not a transport error
	}

	row, err := m.store.Get(ctx, claims.SessionID.String())
	if err != nil {
		return nil, nil //nolint:nilerr
	}
	if row.Status != models.SessionActive {
		return nil, nil
	}
	now := m.now()
	if !now.Before(row.Expires) {
		return nil, nil
	}

	computed := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(computed[:], row.TokenHash[:]) != 1 {
		return nil, nil
	}
	return row, nil
}

// FindActive returns the most recently created active, unexpired session
// for (userID, sourceIP), or nil if none exists.
func (m *Manager) FindActive(ctx context.Context, userID, sourceIP string) (*models.Session, error) {
	row, err := m.store.FindActiveByUser(ctx, userID, sourceIP)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	return row, err
}

// Revoke marks a session revoked. Revocation is monotonic: revoking an
// already-revoked or expired session is a no-op success.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	return m.store.Revoke(ctx, sessionID)
}

// CleanupExpired deletes sessions whose Expires is before now, returning
// the count removed.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	return m.store.DeleteExpiredBefore(ctx, m.now())
}
