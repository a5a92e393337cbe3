// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/guardctl/guardctl/internal/logging"
	"github.com/guardctl/guardctl/internal/models"
	"github.com/guardctl/guardctl/internal/store"
	"github.com/guardctl/guardctl/internal/validation"
)

type handlers struct {
	deps Deps
}

func (h *handlers) listPolicies(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()

	policies, err := h.deps.Store.ListPolicies(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("api: list policies")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list policies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"policies": policies})
}

func (h *handlers) getPolicy(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()

	p, err := h.deps.Store.GetPolicy(ctx, chi.URLParam(r, "id"))
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "policy not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("api: get policy")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to load policy")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// policyRequest is the admin-editable subset of models.Policy; id and
// updated are server-assigned.
type policyRequest struct {
	Name         string              `json:"name" validate:"required,min=1,max=200"`
	Description  string              `json:"description" validate:"max=1000"`
	Enabled      bool                `json:"enabled"`
	Priority     int                 `json:"priority" validate:"min=0"`
	FailoverMode models.FailoverMode `json:"failover_mode" validate:"required,oneof=fail_open fail_close cached_only"`
	RuleGroups   []models.RuleGroup  `json:"rule_groups"`
	Actions      []models.Action     `json:"actions" validate:"required,min=1"`
}

func decodeAndValidate(r *http.Request, dst interface{}) *validation.APIError {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &validation.APIError{Code: "INVALID_BODY", Message: "request body is not valid JSON"}
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		return verr.ToAPIError()
	}
	return nil
}

func (h *handlers) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if apiErr := decodeAndValidate(r, &req); apiErr != nil {
		writeError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message)
		return
	}

	p := &models.Policy{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Description:  req.Description,
		Enabled:      req.Enabled,
		Priority:     req.Priority,
		FailoverMode: req.FailoverMode,
		RuleGroups:   req.RuleGroups,
		Actions:      req.Actions,
		Updated:      time.Now().UTC(),
	}
	assignChildIDs(p)

	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()
	if err := h.deps.Store.CreatePolicy(ctx, p); err != nil {
		logging.Error().Err(err).Msg("api: create policy")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to create policy")
		return
	}

	h.publishPolicyChange(*p, false)
	writeJSON(w, http.StatusCreated, p)
}

func (h *handlers) updatePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req policyRequest
	if apiErr := decodeAndValidate(r, &req); apiErr != nil {
		writeError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message)
		return
	}

	p := &models.Policy{
		ID:           id,
		Name:         req.Name,
		Description:  req.Description,
		Enabled:      req.Enabled,
		Priority:     req.Priority,
		FailoverMode: req.FailoverMode,
		RuleGroups:   req.RuleGroups,
		Actions:      req.Actions,
		Updated:      time.Now().UTC(),
	}
	assignChildIDs(p)

	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()
	if err := h.deps.Store.UpdatePolicy(ctx, p); err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "policy not found")
			return
		}
		logging.Error().Err(err).Msg("api: update policy")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to update policy")
		return
	}

	h.publishPolicyChange(*p, false)
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) togglePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()
	if err := h.deps.Store.SetPolicyEnabled(ctx, id, req.Enabled); err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "policy not found")
			return
		}
		logging.Error().Err(err).Msg("api: toggle policy")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to toggle policy")
		return
	}

	if p, err := h.deps.Store.GetPolicy(ctx, id); err == nil {
		h.publishPolicyChange(*p, false)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (h *handlers) deletePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), timeoutDefault)
	defer cancel()
	if err := h.deps.Store.DeletePolicy(ctx, id); err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "policy not found")
			return
		}
		logging.Error().Err(err).Msg("api: delete policy")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to delete policy")
		return
	}

	h.publishPolicyChange(models.Policy{ID: id}, true)
	w.WriteHeader(http.StatusNoContent)
}

func assignChildIDs(p *models.Policy) {
	for i := range p.RuleGroups {
		if p.RuleGroups[i].ID == "" {
			p.RuleGroups[i].ID = uuid.NewString()
		}
		p.RuleGroups[i].PolicyID = p.ID
		for j := range p.RuleGroups[i].Rules {
			if p.RuleGroups[i].Rules[j].ID == "" {
				p.RuleGroups[i].Rules[j].ID = uuid.NewString()
			}
			p.RuleGroups[i].Rules[j].GroupID = p.RuleGroups[i].ID
		}
	}
	for i := range p.Actions {
		if p.Actions[i].ID == "" {
			p.Actions[i].ID = uuid.NewString()
		}
		p.Actions[i].PolicyID = p.ID
	}
}

func (h *handlers) publishPolicyChange(p models.Policy, deleted bool) {
	if h.deps.PolicyFeed == nil {
		return
	}
	body, err := json.Marshal(p)
	if err != nil {
		logging.Error().Err(err).Msg("api: marshal policy change notification")
		return
	}
	h.deps.PolicyFeed.Publish(models.PolicyChangeNotification{
		PolicyID:   p.ID,
		PolicyJSON: string(body),
		Deleted:    deleted,
		UpdatedAt:  time.Now().UTC(),
	})
}
