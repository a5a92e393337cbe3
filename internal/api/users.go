// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"

	"github.com/guardctl/guardctl/internal/logging"
)

func (h *handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()

	users, err := h.deps.Store.ListUsers(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("api: list users")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}
