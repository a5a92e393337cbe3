// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/guardctl/guardctl/internal/auth"
	"github.com/guardctl/guardctl/internal/authz"
	"github.com/guardctl/guardctl/internal/challenge"
	"github.com/guardctl/guardctl/internal/config"
	"github.com/guardctl/guardctl/internal/middleware"
	"github.com/guardctl/guardctl/internal/policystream"
	"github.com/guardctl/guardctl/internal/provider"
	"github.com/guardctl/guardctl/internal/secretbox"
	"github.com/guardctl/guardctl/internal/session"
	"github.com/guardctl/guardctl/internal/snapshot"
	"github.com/guardctl/guardctl/internal/store"
)

// Deps are the components the Admin REST surface composes. All fields are
// required. NewRouter does not check them: a nil dependency surfaces as a
// nil-pointer panic where it is first used.
type Deps struct {
	Store       *store.Store
	Enrollments *store.EnrollmentStore
	Sealer      *secretbox.Sealer
	Providers   *provider.Registry
	Sessions    *session.Manager
	Challenges  *challenge.Orchestrator
	Snapshots   *snapshot.Manager
	PolicyFeed  *policystream.Broadcaster
	Enforcer    *authz.Enforcer
	AuthChain   *auth.Chain
	Config      *config.Config
}

// NewRouter builds the chi mux serving the center's Admin REST API,
// layering authentication, Casbin authorization, and the request-scoped
// middleware stack (compression, request id, Prometheus) ahead of the
// resource handlers.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httprate.LimitByIP(d.Config.Security.RateLimitReqs, d.Config.Security.RateLimitWindow))
	r.Use(asStdMiddleware(middleware.RequestID))
	r.Use(asStdMiddleware(middleware.Compression))
	r.Use(asStdMiddleware(middleware.PrometheusMetrics))

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(d.Store))

	authzMiddleware := authz.NewMiddleware(d.Enforcer)
	authenticate := d.AuthChain.Middleware

	h := &handlers{deps: d}

	r.Route("/api/v1/admin", func(admin chi.Router) {
		admin.Use(authenticate)
		admin.Use(asStdMiddleware(authzMiddleware.AuthorizeRequest))

		admin.Route("/policies", func(rt chi.Router) {
			rt.Get("/", h.listPolicies)
			rt.Post("/", h.createPolicy)
			rt.Get("/stream", h.streamPolicyFeed)
			rt.Get("/{id}", h.getPolicy)
			rt.Put("/{id}", h.updatePolicy)
			rt.Delete("/{id}", h.deletePolicy)
			rt.Post("/{id}/toggle", h.togglePolicy)
		})

		admin.Route("/enrollments", func(rt chi.Router) {
			rt.Get("/", h.listEnrollments)
			rt.Post("/", h.createEnrollment)
			rt.Put("/{id}", h.updateEnrollment)
			rt.Delete("/{id}", h.deleteEnrollment)
		})

		admin.Get("/users", h.listUsers)

		admin.Route("/sessions", func(rt chi.Router) {
			rt.Get("/", h.listSessions)
			rt.Delete("/{id}", h.revokeSession)
		})

		admin.Route("/agents", func(rt chi.Router) {
			rt.Get("/", h.listAgents)
			rt.Delete("/{id}", h.deregisterAgent)
		})

		admin.Get("/audit", h.queryAudit)

		admin.Route("/backups", func(rt chi.Router) {
			rt.Get("/", h.listBackups)
			rt.Post("/", h.createBackup)
			rt.Get("/{filename}", h.downloadBackup)
			rt.Post("/restore", h.requestRestore)
			rt.Post("/restore/confirm", h.confirmRestore)
		})
	})

	return r
}

// asStdMiddleware adapts this codebase's http.HandlerFunc-chaining
// middleware style to chi's func(http.Handler) http.Handler signature.
func asStdMiddleware(mw func(next http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// timeoutDefault bounds handlers that fan out to the central store.
const timeoutDefault = 10 * time.Second
