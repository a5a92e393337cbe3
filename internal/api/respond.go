// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the center's Admin REST surface: CRUD over
// policies and enrollments, read-only user and agent listing, session
// revocation, paginated audit search, and backup management. Only the
// audit search is paginated; the other list routes return the full set
// in one response. Routing
// follows a plain chi-based handler style; authorization is layered
// on via internal/authz's Casbin middleware against the same
// /api/v1/admin/* policy already embedded in that package.
package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/guardctl/guardctl/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("api: failed to encode response")
	}
}

type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

type page struct {
	Page      int `json:"page"`
	PageSize  int `json:"page_size"`
	TotalRows int `json:"total_rows"`
}

func parsePage(r *http.Request) (pageNum, pageSize int) {
	pageNum = 1
	pageSize = 50
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			pageNum = n
		}
	}
	if v := q.Get("page_size"); v != "" {
		if n, err := parsePositiveInt(v); err == nil && n <= 500 {
			pageSize = n
		}
	}
	return pageNum, pageSize
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errNotANumber
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return 0, errNotANumber
	}
	return n, nil
}

var errNotANumber = &notANumberError{}

type notANumberError struct{}

func (*notANumberError) Error() string { return "api: not a positive integer" }
