// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"net/http"
	"strings"
)

// JWTAuthenticator implements Authenticator over a bearer token in the
// Authorization header, issued by the Admin REST login endpoint.
type JWTAuthenticator struct {
	manager *JWTManager
}

// NewJWTAuthenticator wraps manager as an Authenticator.
func NewJWTAuthenticator(manager *JWTManager) *JWTAuthenticator {
	return &JWTAuthenticator{manager: manager}
}

// Authenticate validates a "Bearer <token>" Authorization header.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*AuthSubject, error) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, ErrNoCredentials
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	claims, err := a.manager.ValidateToken(tokenString)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	return &AuthSubject{
		ID:         claims.Username,
		Username:   claims.Username,
		AuthMethod: AuthModeJWT,
		Issuer:     "guardctl",
		Roles:      []string{claims.Role},
	}, nil
}

// Name returns the authenticator name.
func (a *JWTAuthenticator) Name() string { return string(AuthModeJWT) }

// Priority returns the authenticator priority; JWT is tried before Basic.
func (a *JWTAuthenticator) Priority() int { return 20 }
