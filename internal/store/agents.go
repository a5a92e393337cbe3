// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/guardctl/guardctl/internal/models"
)

// RegisterAgent inserts a new agent registration row.
func (s *Store) RegisterAgent(ctx context.Context, a *models.AgentRegistration) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO agent_registrations (id, type, hostname, ip, status, cert_thumbprint, version, registered, last_heartbeat)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.Hostname, nullString(a.IP), a.Status, nullString(a.CertThumbprint), nullString(a.Version), a.Registered, nullTime(a.LastHeartbeat))
	if err != nil {
		return fmt.Errorf("store: register agent: %w", err)
	}
	return nil
}

// RecordHeartbeat updates an agent's last-heartbeat timestamp.
func (s *Store) RecordHeartbeat(ctx context.Context, agentID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agent_registrations SET last_heartbeat = ?, status = ? WHERE id = ?`,
		at, models.AgentOnline, agentID)
	if err != nil {
		return fmt.Errorf("store: record heartbeat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAgent returns one agent registration by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*models.AgentRegistration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, hostname, ip, status, cert_thumbprint, version, registered, last_heartbeat
		FROM agent_registrations WHERE id = ?`, id)

	var a models.AgentRegistration
	var ip, thumb, ver sql.NullString
	var hb sql.NullTime
	err := row.Scan(&a.ID, &a.Type, &a.Hostname, &ip, &a.Status, &thumb, &ver, &a.Registered, &hb)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get agent: %w", err)
	}
	a.IP = ip.String
	a.CertThumbprint = thumb.String
	a.Version = ver.String
	a.LastHeartbeat = timePtr(hb)
	return &a, nil
}

// UpdateCertThumbprint records the thumbprint of the certificate most
// recently signed for an agent's enrollment.
func (s *Store) UpdateCertThumbprint(ctx context.Context, id, thumbprint string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agent_registrations SET cert_thumbprint = ? WHERE id = ?`, thumbprint, id)
	if err != nil {
		return fmt.Errorf("store: update cert thumbprint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAgents returns every registered agent for the admin surface.
func (s *Store) ListAgents(ctx context.Context) ([]models.AgentRegistration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, hostname, ip, status, cert_thumbprint, version, registered, last_heartbeat
		FROM agent_registrations ORDER BY registered DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer rows.Close()

	var out []models.AgentRegistration
	for rows.Next() {
		var a models.AgentRegistration
		var ip, thumb, ver sql.NullString
		var hb sql.NullTime
		if err := rows.Scan(&a.ID, &a.Type, &a.Hostname, &ip, &a.Status, &thumb, &ver, &a.Registered, &hb); err != nil {
			return nil, fmt.Errorf("store: scan agent: %w", err)
		}
		a.IP = ip.String
		a.CertThumbprint = thumb.String
		a.Version = ver.String
		a.LastHeartbeat = timePtr(hb)
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeregisterAgent removes an agent's registration row.
func (s *Store) DeregisterAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_registrations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: deregister agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
