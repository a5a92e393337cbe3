// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/guardctl/guardctl/internal/logging"
	"github.com/guardctl/guardctl/internal/store"
)

func (h *handlers) listAgents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()

	agents, err := h.deps.Store.ListAgents(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("api: list agents")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list agents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": agents})
}

func (h *handlers) deregisterAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()
	if err := h.deps.Store.DeregisterAgent(ctx, id); err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "agent not found")
			return
		}
		logging.Error().Err(err).Msg("api: deregister agent")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to deregister agent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
