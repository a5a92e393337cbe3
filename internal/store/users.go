// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/guardctl/guardctl/internal/models"
)

const userSelect = `SELECT id, directory_object_id, sam, upn, display, email, phone, dn, enabled, mfa_enabled, last_sync, last_auth FROM users`

// ListUsers returns every user row for the read-only admin surface. The
// LDAP importer (out of scope here) is the only writer of this table.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, userSelect+` ORDER BY sam ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// GetUser returns one user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE id = ?`, id))
}

// FindUserBySAM resolves a user by their SAM account name, the identifier
// carried in an AuthQuery from the host interception shim.
func (s *Store) FindUserBySAM(ctx context.Context, sam string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE sam = ?`, sam))
}

func scanUser(row sessionScanner) (*models.User, error) {
	var u models.User
	var email, phone sql.NullString
	var lastAuth sql.NullTime
	err := row.Scan(&u.ID, &u.DirectoryObjectID, &u.SAM, &u.UPN, &u.Display, &email, &phone, &u.DN, &u.Enabled, &u.MFAEnabled, &u.LastSync, &lastAuth)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan user: %w", err)
	}
	u.Email = email.String
	u.Phone = phone.String
	u.LastAuth = timePtr(lastAuth)
	return &u, nil
}
