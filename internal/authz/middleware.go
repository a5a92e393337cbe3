// SPDX-License-Identifier: AGPL-3.0-or-later

// Package authz provides authorization middleware using Casbin.
// ADR-0015: Zero Trust Authentication & Authorization
package authz

import (
	"net/http"
	"time"

	"github.com/guardctl/guardctl/internal/auth"
	"github.com/guardctl/guardctl/internal/logging"
)

// Middleware enforces the admin/operator/auditor/viewer RBAC model defined
// in model.conf and policy.csv for every request reaching the admin REST
// API. Every decision is recorded to Prometheus and to the audit log so a
// denied request is traceable back to the actor, role, and path involved.
type Middleware struct {
	enforcer    *Enforcer
	auditLogger *AuditLogger
}

// NewMiddleware creates a new authorization middleware with audit logging
// enabled at its default sampling rate (DefaultAuditLoggerConfig).
func NewMiddleware(enforcer *Enforcer) *Middleware {
	return &Middleware{
		enforcer:    enforcer,
		auditLogger: NewAuditLogger(DefaultAuditLoggerConfig()),
	}
}

// AuthorizeRequest is middleware that determines the action from the HTTP method
// and authorizes based on the request path.
func (m *Middleware) AuthorizeRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := auth.GetAuthSubject(r.Context())
		if subject == nil {
			http.Error(w, "Forbidden: no authentication context", http.StatusForbidden)
			return
		}

		// The embedded policy (policy.csv) grants per HTTP-method actions
		// directly (GET/POST/PUT/DELETE), matched against the object via
		// keyMatch2 path patterns.
		action := r.Method
		object := r.URL.Path

		start := time.Now()
		allowed, cacheHit, err := m.enforcer.EnforceWithRolesCacheInfo(subject.ID, subject.Roles, object, action)
		duration := time.Since(start)
		if err != nil {
			RecordAuthzError("enforcer_error")
			logging.Error().Err(err).Msg("Authorization error")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		role := effectiveRole(subject.Roles)
		RecordAuthzDecision(role, object, action, allowed, duration, cacheHit)

		reason := ""
		if !allowed {
			reason = "insufficient permissions for role"
		}
		m.auditLogger.LogDecisionContext(r.Context(), subject.ID, subject.Username, subject.Roles, object, action, allowed, reason, duration, cacheHit)
		RecordAuditEvent(allowed)

		if !allowed {
			http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
			return
		}

		next(w, r)
	}
}

// Close flushes and stops the middleware's audit logger. Call during
// shutdown after the server has stopped accepting new requests.
func (m *Middleware) Close() {
	m.auditLogger.Close()
}

// effectiveRole picks the label used for metrics and audit entries when a
// subject carries more than one role. The first role is used as a stable,
// low-cardinality representative; the full set still reaches the audit log.
func effectiveRole(roles []string) string {
	if len(roles) == 0 {
		return "none"
	}
	return roles[0]
}

