// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/guardctl/guardctl/internal/models"
)

// AppendAudit inserts one audit log row, leaving Seq to the database's
// sequence default.
func (s *Store) AppendAudit(ctx context.Context, e models.AuditLogEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log (ts, event_type, user_id, user_name, source_ip, target, success, details, agent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TS, e.EventType, nullString(e.UserID), nullString(e.UserName), nullString(e.SourceIP),
		nullString(e.Target), e.Success, nullString(e.Details), nullString(e.AgentID))
	if err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}
	return nil
}

// AuditQuery filters the audit log query, matching the admin surface's
// documented filter set.
type AuditQuery struct {
	UserID    string
	EventType string
	From      time.Time
	To        time.Time
	Page      int
	PageSize  int
}

// QueryAudit returns the page of matching rows and the total match count.
func (s *Store) QueryAudit(ctx context.Context, q AuditQuery) ([]models.AuditLogEntry, int64, error) {
	where, args := auditWhere(q)

	var total int64
	countSQL := "SELECT count(*) FROM audit_log" + where
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count audit: %w", err)
	}

	page, pageSize := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	listSQL := `SELECT seq, ts, event_type, user_id, user_name, source_ip, target, success, details, agent_id FROM audit_log` +
		where + ` ORDER BY seq DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, listSQL, append(append([]any{}, args...), pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: query audit: %w", err)
	}
	defer rows.Close()

	var out []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		var userID, userName, sourceIP, target, details, agentID sql.NullString
		if err := rows.Scan(&e.Seq, &e.TS, &e.EventType, &userID, &userName, &sourceIP, &target, &e.Success, &details, &agentID); err != nil {
			return nil, 0, fmt.Errorf("store: scan audit: %w", err)
		}
		e.UserID, e.UserName, e.SourceIP, e.Target, e.Details, e.AgentID = userID.String, userName.String, sourceIP.String, target.String, details.String, agentID.String
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func auditWhere(q AuditQuery) (string, []any) {
	var clauses []string
	var args []any
	if q.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, q.EventType)
	}
	if !q.From.IsZero() {
		clauses = append(clauses, "ts >= ?")
		args = append(args, q.From)
	}
	if !q.To.IsZero() {
		clauses = append(clauses, "ts <= ?")
		args = append(args, q.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// HourlyBucket is one full hour-since-epoch bucket of audit activity. The
// bucketing key is epoch_seconds / 3600, not hour-of-day, so consecutive
// days never collapse into the same bucket.
type HourlyBucket struct {
	BucketStart time.Time
	Count       int64
}

// AuditHourlyCounts aggregates matching rows into HourlyBucket rows
// ordered oldest first.
func (s *Store) AuditHourlyCounts(ctx context.Context, q AuditQuery) ([]HourlyBucket, error) {
	where, args := auditWhere(q)
	querySQL := `SELECT CAST(epoch(ts) AS BIGINT) / 3600 AS bucket, count(*) FROM audit_log` + where + ` GROUP BY bucket ORDER BY bucket ASC`
	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("store: audit hourly counts: %w", err)
	}
	defer rows.Close()

	var out []HourlyBucket
	for rows.Next() {
		var bucket, count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("store: scan audit bucket: %w", err)
		}
		out = append(out, HourlyBucket{BucketStart: time.Unix(bucket*3600, 0).UTC(), Count: count})
	}
	return out, rows.Err()
}
