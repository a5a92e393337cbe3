// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/guardctl/guardctl/internal/logging"
	"github.com/guardctl/guardctl/internal/snapshot"
)

func (h *handlers) listBackups(w http.ResponseWriter, r *http.Request) {
	names, err := h.deps.Snapshots.List()
	if err != nil {
		logging.Error().Err(err).Msg("api: list backups")
		writeError(w, http.StatusInternalServerError, "SNAPSHOT_ERROR", "failed to list backups")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"backups": names})
}

func (h *handlers) createBackup(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*timeoutDefault)
	defer cancel()

	name, err := h.deps.Snapshots.Snapshot(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("api: create backup")
		writeError(w, http.StatusInternalServerError, "SNAPSHOT_ERROR", "failed to take backup")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"filename": name})
}

func (h *handlers) downloadBackup(w http.ResponseWriter, r *http.Request) {
	name, err := snapshot.ValidateFilename(chi.URLParam(r, "filename"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILENAME", "filename does not match the backup pattern")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, filepath.Join(h.deps.Snapshots.BackupRoot(), name))
}

type restoreRequest struct {
	Filename string `json:"filename" validate:"required"`
}

func (h *handlers) requestRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if apiErr := decodeAndValidate(r, &req); apiErr != nil {
		writeError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()
	token, err := h.deps.Snapshots.RequestRestore(ctx, req.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, "RESTORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"restore_token": token})
}

type confirmRestoreRequest struct {
	Token string `json:"restore_token" validate:"required"`
}

func (h *handlers) confirmRestore(w http.ResponseWriter, r *http.Request) {
	var req confirmRestoreRequest
	if apiErr := decodeAndValidate(r, &req); apiErr != nil {
		writeError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*timeoutDefault)
	defer cancel()
	if err := h.deps.Snapshots.ConfirmRestore(ctx, req.Token); err != nil {
		writeError(w, http.StatusBadRequest, "RESTORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}
