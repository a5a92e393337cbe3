// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guardctl/guardctl/internal/models"
	"github.com/guardctl/guardctl/internal/secretbox"
)

// Sealer is the subset of secretbox.Sealer the store needs to unseal an
// enrollment's secret at read time.
type Sealer interface {
	Open(box secretbox.Box) ([]byte, error)
}

// EnrollmentStore wraps Store with the secretbox.Sealer needed to decrypt
// enrollment secrets on read, satisfying challenge.EnrollmentLookup.
type EnrollmentStore struct {
	*Store
	sealer Sealer
}

// NewEnrollmentStore binds a Sealer to the store for enrollment secret
// decryption.
func NewEnrollmentStore(s *Store, sealer Sealer) *EnrollmentStore {
	return &EnrollmentStore{Store: s, sealer: sealer}
}

// ActiveEnrollment implements challenge.EnrollmentLookup: the single
// active enrollment for (userID, method), with its secret decrypted.
func (e *EnrollmentStore) ActiveEnrollment(ctx context.Context, userID, method string) (*models.Enrollment, []byte, error) {
	var en models.Enrollment
	var device, friendly sql.NullString
	var activated, lastUsed sql.NullTime
	err := e.db.QueryRowContext(ctx, `SELECT id, user_id, method, status, encrypted_secret, secret_nonce,
		device_identifier, friendly_name, created, activated, last_used
		FROM enrollments WHERE user_id = ? AND method = ? AND status = ?`,
		userID, method, models.EnrollmentActive).Scan(
		&en.ID, &en.UserID, &en.Method, &en.Status, &en.EncryptedSecret, &en.SecretNonce,
		&device, &friendly, &en.Created, &activated, &lastUsed)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("store: active enrollment: %w", err)
	}
	en.DeviceIdentifier = device.String
	en.FriendlyName = friendly.String
	en.Activated = timePtr(activated)
	en.LastUsed = timePtr(lastUsed)

	secret, err := e.sealer.Open(secretbox.Box{Ciphertext: en.EncryptedSecret, Nonce: en.SecretNonce})
	if err != nil {
		return nil, nil, fmt.Errorf("store: decrypt enrollment secret: %w", err)
	}
	return &en, secret, nil
}

// GetByID loads one enrollment by id with its secret decrypted, for the
// admin activation flow.
func (e *EnrollmentStore) GetByID(ctx context.Context, id string) (*models.Enrollment, []byte, error) {
	var en models.Enrollment
	var device, friendly sql.NullString
	var activated, lastUsed sql.NullTime
	err := e.db.QueryRowContext(ctx, `SELECT id, user_id, method, status, encrypted_secret, secret_nonce,
		device_identifier, friendly_name, created, activated, last_used
		FROM enrollments WHERE id = ?`, id).Scan(
		&en.ID, &en.UserID, &en.Method, &en.Status, &en.EncryptedSecret, &en.SecretNonce,
		&device, &friendly, &en.Created, &activated, &lastUsed)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("store: get enrollment: %w", err)
	}
	en.DeviceIdentifier = device.String
	en.FriendlyName = friendly.String
	en.Activated = timePtr(activated)
	en.LastUsed = timePtr(lastUsed)

	secret, err := e.sealer.Open(secretbox.Box{Ciphertext: en.EncryptedSecret, Nonce: en.SecretNonce})
	if err != nil {
		return nil, nil, fmt.Errorf("store: decrypt enrollment secret: %w", err)
	}
	return &en, secret, nil
}

// TouchLastUsed implements challenge.EnrollmentLookup.
func (e *EnrollmentStore) TouchLastUsed(ctx context.Context, enrollmentID string, at time.Time) error {
	res, err := e.db.ExecContext(ctx, `UPDATE enrollments SET last_used = ? WHERE id = ?`, at, enrollmentID)
	if err != nil {
		return fmt.Errorf("store: touch enrollment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateEnrollment inserts a new enrollment row with an already-sealed
// secret (sealing happens at the admin/enrollment API boundary, not here).
func (s *Store) CreateEnrollment(ctx context.Context, en *models.Enrollment) error {
	if en.ID == "" {
		en.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO enrollments (id, user_id, method, status, encrypted_secret, secret_nonce,
		device_identifier, friendly_name, created, activated, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		en.ID, en.UserID, en.Method, en.Status, en.EncryptedSecret, en.SecretNonce,
		nullString(en.DeviceIdentifier), nullString(en.FriendlyName), en.Created, nullTime(en.Activated), nullTime(en.LastUsed))
	if err != nil {
		return fmt.Errorf("store: create enrollment: %w", err)
	}
	return nil
}

// ListEnrollmentsByUser returns every enrollment for one user, regardless
// of status, for the admin surface.
func (s *Store) ListEnrollmentsByUser(ctx context.Context, userID string) ([]models.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, method, status, device_identifier, friendly_name, created, activated, last_used
		FROM enrollments WHERE user_id = ? ORDER BY created DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list enrollments: %w", err)
	}
	defer rows.Close()

	var out []models.Enrollment
	for rows.Next() {
		var en models.Enrollment
		var device, friendly sql.NullString
		var activated, lastUsed sql.NullTime
		if err := rows.Scan(&en.ID, &en.UserID, &en.Method, &en.Status, &device, &friendly, &en.Created, &activated, &lastUsed); err != nil {
			return nil, fmt.Errorf("store: scan enrollment: %w", err)
		}
		en.DeviceIdentifier = device.String
		en.FriendlyName = friendly.String
		en.Activated = timePtr(activated)
		en.LastUsed = timePtr(lastUsed)
		out = append(out, en)
	}
	return out, rows.Err()
}

// SetEnrollmentStatus updates an enrollment's lifecycle status.
func (s *Store) SetEnrollmentStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE enrollments SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("store: set enrollment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEnrollment removes an enrollment row.
func (s *Store) DeleteEnrollment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM enrollments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete enrollment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
