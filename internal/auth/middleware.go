// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"errors"
	"net/http"
	"sort"

	"github.com/guardctl/guardctl/internal/logging"
)

// Chain tries each Authenticator in ascending Priority order and attaches
// the first successful AuthSubject to the request context. A request that
// matches no authenticator's credential form falls through unauthenticated;
// one that presents credentials that fail validation is rejected outright.
type Chain struct {
	authenticators []Authenticator
	securityLog    *logging.SecurityLogger
}

// NewChain builds a Chain, sorting authenticators by Priority.
func NewChain(authenticators ...Authenticator) *Chain {
	sorted := make([]Authenticator, len(authenticators))
	copy(sorted, authenticators)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })
	return &Chain{authenticators: sorted, securityLog: logging.NewSecurityLogger()}
}

// Middleware returns an http middleware authenticating each request and
// storing the resulting AuthSubject (if any) in its context. Every rejected
// credential is logged through SecurityLogger so a brute-force attempt
// against the admin REST API shows up in the security event stream
// alongside centersvc's domain audit trail.
func (c *Chain) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, a := range c.authenticators {
			subject, err := a.Authenticate(r.Context(), r)
			switch {
			case err == nil:
				c.securityLog.LogLoginSuccess(subject.ID, subject.Username, string(subject.AuthMethod), r.RemoteAddr, r.UserAgent())
				next.ServeHTTP(w, r.WithContext(WithAuthSubject(r.Context(), subject)))
				return
			case errors.Is(err, ErrNoCredentials):
				continue
			default:
				logging.Error().Err(err).Str("authenticator", a.Name()).Msg("authentication failed")
				c.securityLog.LogLoginFailure("", a.Name(), r.RemoteAddr, r.UserAgent(), err.Error())
				w.Header().Set("WWW-Authenticate", `Bearer realm="guardctl"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
