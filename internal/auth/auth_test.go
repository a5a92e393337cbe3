// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/guardctl/guardctl/internal/config"
)

func TestAuthSubjectHasRole(t *testing.T) {
	s := &AuthSubject{Roles: []string{"operator", "viewer"}}
	if !s.HasRole("operator") {
		t.Fatal("expected HasRole(operator) to be true")
	}
	if s.HasRole("admin") {
		t.Fatal("expected HasRole(admin) to be false")
	}
	var nilSubject *AuthSubject
	if nilSubject.HasRole("anything") {
		t.Fatal("expected HasRole on nil subject to be false")
	}
}

func TestContextRoundTrip(t *testing.T) {
	subject := &AuthSubject{ID: "alice", Username: "alice", Roles: []string{"admin"}}
	ctx := WithAuthSubject(context.Background(), subject)
	got := GetAuthSubject(ctx)
	if got != subject {
		t.Fatalf("expected round-tripped subject to match, got %+v", got)
	}
	if GetAuthSubject(context.Background()) != nil {
		t.Fatal("expected bare context to carry no subject")
	}
}

func TestJWTAuthenticatorRoundTrip(t *testing.T) {
	manager, err := NewJWTManager(&config.SecurityConfig{
		JWTSecret: "a-32-byte-or-longer-test-secret!",
		JWTExpiry: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}

	token, err := manager.GenerateToken("alice", "operator")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	authenticator := NewJWTAuthenticator(manager)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/policies", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	subject, err := authenticator.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if subject.Username != "alice" || !subject.HasRole("operator") {
		t.Fatalf("unexpected subject: %+v", subject)
	}
}

func TestJWTAuthenticatorNoCredentials(t *testing.T) {
	manager, _ := NewJWTManager(&config.SecurityConfig{JWTSecret: "a-32-byte-or-longer-test-secret!"})
	authenticator := NewJWTAuthenticator(manager)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/policies", nil)

	if _, err := authenticator.Authenticate(req.Context(), req); err != ErrNoCredentials {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestBasicAuthenticatorAdminElevation(t *testing.T) {
	manager, err := NewBasicAuthManager("admin", "supersecretpw")
	if err != nil {
		t.Fatalf("NewBasicAuthManager: %v", err)
	}
	authenticator := NewBasicAuthenticator(manager, &BasicAuthenticatorConfig{AdminUsername: "admin"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/policies", nil)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:supersecretpw")))

	subject, err := authenticator.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !subject.HasRole("admin") {
		t.Fatalf("expected admin role for configured admin username, got %+v", subject)
	}
}

func TestBasicAuthenticatorDefaultRole(t *testing.T) {
	manager, err := NewBasicAuthManager("bob", "supersecretpw")
	if err != nil {
		t.Fatalf("NewBasicAuthManager: %v", err)
	}
	authenticator := NewBasicAuthenticator(manager, &BasicAuthenticatorConfig{AdminUsername: "admin"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/policies", nil)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("bob:supersecretpw")))

	subject, err := authenticator.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if subject.HasRole("admin") || !subject.HasRole("viewer") {
		t.Fatalf("expected default viewer role for non-admin user, got %+v", subject)
	}
}

func TestChainFallsThroughToUnauthenticated(t *testing.T) {
	manager, _ := NewJWTManager(&config.SecurityConfig{JWTSecret: "a-32-byte-or-longer-test-secret!"})
	chain := NewChain(NewJWTAuthenticator(manager))

	var sawSubject *AuthSubject
	handler := chain.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawSubject = GetAuthSubject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/policies", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected request with no credentials to fall through, got status %d", rec.Code)
	}
	if sawSubject != nil {
		t.Fatalf("expected no subject attached, got %+v", sawSubject)
	}
}

func TestChainRejectsInvalidCredentials(t *testing.T) {
	manager, _ := NewJWTManager(&config.SecurityConfig{JWTSecret: "a-32-byte-or-longer-test-secret!"})
	chain := NewChain(NewJWTAuthenticator(manager))

	handler := chain.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/policies", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rec.Code)
	}
}
