// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/guardctl/guardctl/internal/logging"
	"github.com/guardctl/guardctl/internal/store"
)

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()

	sessions, err := h.deps.Store.ListActiveSessions(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("api: list sessions")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *handlers) revokeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()
	if err := h.deps.Sessions.Revoke(ctx, id); err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
			return
		}
		logging.Error().Err(err).Msg("api: revoke session")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to revoke session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
