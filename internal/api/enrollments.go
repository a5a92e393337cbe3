// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/guardctl/guardctl/internal/logging"
	"github.com/guardctl/guardctl/internal/models"
	"github.com/guardctl/guardctl/internal/provider"
	"github.com/guardctl/guardctl/internal/store"
)

func (h *handlers) listEnrollments(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAM", "user_id query parameter is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()
	enrollments, err := h.deps.Store.ListEnrollmentsByUser(ctx, userID)
	if err != nil {
		logging.Error().Err(err).Msg("api: list enrollments")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list enrollments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"enrollments": enrollments})
}

type createEnrollmentRequest struct {
	UserID       string `json:"user_id" validate:"required"`
	Method       string `json:"method" validate:"required"`
	FriendlyName string `json:"friendly_name" validate:"max=200"`
}

// createEnrollmentResponse carries the provisioning material (e.g. a TOTP
// otpauth:// URI) the admin surface needs to hand to the end user; it is
// never persisted.
type createEnrollmentResponse struct {
	models.Enrollment
	ProvisioningURI string            `json:"provisioning_uri,omitempty"`
	PromptData      map[string]string `json:"prompt_data,omitempty"`
}

func (h *handlers) createEnrollment(w http.ResponseWriter, r *http.Request) {
	var req createEnrollmentRequest
	if apiErr := decodeAndValidate(r, &req); apiErr != nil {
		writeError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message)
		return
	}

	method := provider.Normalize(req.Method)
	m, err := h.deps.Providers.Get(method)
	if err != nil {
		writeError(w, http.StatusBadRequest, "UNKNOWN_METHOD", "method_id is not registered")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()

	result, err := m.BeginEnrollment(ctx, req.UserID, req.FriendlyName)
	if err != nil {
		logging.Error().Err(err).Msg("api: begin enrollment")
		writeError(w, http.StatusInternalServerError, "ENROLLMENT_ERROR", "failed to begin enrollment")
		return
	}

	box, err := h.deps.Sealer.Seal(result.Secret)
	if err != nil {
		logging.Error().Err(err).Msg("api: seal enrollment secret")
		writeError(w, http.StatusInternalServerError, "ENROLLMENT_ERROR", "failed to seal enrollment secret")
		return
	}

	en := &models.Enrollment{
		UserID:           req.UserID,
		Method:           method,
		Status:           models.EnrollmentPending,
		EncryptedSecret:  box.Ciphertext,
		SecretNonce:      box.Nonce,
		FriendlyName:     req.FriendlyName,
		Created:          time.Now().UTC(),
	}
	if err := h.deps.Store.CreateEnrollment(ctx, en); err != nil {
		logging.Error().Err(err).Msg("api: create enrollment")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to persist enrollment")
		return
	}

	writeJSON(w, http.StatusCreated, createEnrollmentResponse{
		Enrollment:      *en,
		ProvisioningURI: result.ProvisioningURI,
		PromptData:      result.PromptData,
	})
}

type updateEnrollmentRequest struct {
	// Status transitions a pending enrollment to active (via a captured
	// activation response) or to disabled/revoked directly.
	Status     models.EnrollmentStatus `json:"status" validate:"required,oneof=pending active disabled revoked"`
	Activation string                  `json:"activation,omitempty"`
}

func (h *handlers) updateEnrollment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateEnrollmentRequest
	if apiErr := decodeAndValidate(r, &req); apiErr != nil {
		writeError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()

	if req.Status == models.EnrollmentActive {
		if req.Activation == "" {
			writeError(w, http.StatusBadRequest, "ACTIVATION_REQUIRED", "an activation response is required to activate an enrollment")
			return
		}
		if err := h.completeActivation(ctx, id, req.Activation); err != nil {
			writeError(w, http.StatusBadRequest, "ACTIVATION_FAILED", err.Error())
			return
		}
	}

	if err := h.deps.Store.SetEnrollmentStatus(ctx, id, req.Status); err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "enrollment not found")
			return
		}
		logging.Error().Err(err).Msg("api: update enrollment")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to update enrollment")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(req.Status)})
}

// completeActivation verifies the enrollee's activation response against
// the provider before the enrollment is flipped to active.
func (h *handlers) completeActivation(ctx context.Context, enrollmentID, activation string) error {
	en, secret, err := h.deps.Enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		return err
	}
	m, err := h.deps.Providers.Get(en.Method)
	if err != nil {
		return err
	}
	return m.CompleteEnrollment(ctx, secret, activation)
}

func (h *handlers) deleteEnrollment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()
	if err := h.deps.Store.DeleteEnrollment(ctx, id); err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "enrollment not found")
			return
		}
		logging.Error().Err(err).Msg("api: delete enrollment")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to delete enrollment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
