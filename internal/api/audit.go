// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/guardctl/guardctl/internal/logging"
	"github.com/guardctl/guardctl/internal/store"
)

func (h *handlers) queryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageNum, pageSize := parsePage(r)

	auditQuery := store.AuditQuery{
		UserID:    q.Get("user_id"),
		EventType: q.Get("event_type"),
		Page:      pageNum,
		PageSize:  pageSize,
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAM", "from must be RFC3339")
			return
		}
		auditQuery.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAM", "to must be RFC3339")
			return
		}
		auditQuery.To = t
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()

	entries, total, err := h.deps.Store.QueryAudit(ctx, auditQuery)
	if err != nil {
		logging.Error().Err(err).Msg("api: query audit")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to query audit log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"page":    page{Page: pageNum, PageSize: pageSize, TotalRows: int(total)},
	})
}
