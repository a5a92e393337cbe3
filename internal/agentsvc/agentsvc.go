// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agentsvc implements the ipc.Handler the agent's Unix domain
// socket listener dispatches to: the host interception shim's preauth,
// submit-MFA, and check-status requests, translated into calls against
// the Agent Decision Service and the central RPC client.
package agentsvc

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/guardctl/guardctl/internal/decision"
	"github.com/guardctl/guardctl/internal/ipc"
	"github.com/guardctl/guardctl/internal/rpc"
	"github.com/guardctl/guardctl/internal/rpcclient"
)

// ErrUnsupportedKind is returned for a request kind this agent build does
// not implement.
var ErrUnsupportedKind = errors.New("agentsvc: unsupported request kind")

// Central is the subset of the agent's RPC client this package needs;
// *rpcclient.Client satisfies it. Narrowing to an interface here keeps
// submitMFA's post-verification caching step testable without a live mTLS
// connection.
type Central interface {
	VerifyChallenge(ctx context.Context, req rpc.VerifyChallengeRequest) (rpc.VerifyChallengeResponse, error)
	CheckChallengeStatus(ctx context.Context, req rpc.CheckChallengeStatusRequest) (rpc.CheckChallengeStatusResponse, error)
}

// Handler composes the decision service and the central RPC client into
// one ipc.Handler.
type Handler struct {
	decisions *decision.Service
	central   Central
}

// New builds a Handler.
func New(decisions *decision.Service, central Central) *Handler {
	return &Handler{decisions: decisions, central: central}
}

// Handle implements ipc.Handler.
func (h *Handler) Handle(ctx context.Context, kind ipc.Kind, payload json.RawMessage) (json.RawMessage, error) {
	switch kind {
	case ipc.KindPreauth:
		return h.preauth(ctx, payload)
	case ipc.KindSubmitMFA:
		return h.submitMFA(ctx, payload)
	case ipc.KindCheckStatus:
		return h.checkStatus(ctx, payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
}

type preauthRequest struct {
	UserName string `json:"user_name"`
	Domain   string `json:"domain"`
	SourceIP string `json:"source_ip"`
	Protocol string `json:"protocol"`
}

type preauthResponse struct {
	Decision          string `json:"decision"`
	Reason            string `json:"reason,omitempty"`
	ChallengeID       string `json:"challenge_id,omitempty"`
	SessionToken      string `json:"session_token,omitempty"`
	TimeoutMS         int64  `json:"timeout_ms,omitempty"`
	RequiredMethod    string `json:"required_method,omitempty"`
	ChallengeMetadata string `json:"challenge_metadata,omitempty"`
}

func (h *Handler) preauth(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var req preauthRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("agentsvc: decode preauth request: %w", err)
	}

	result, err := h.decisions.Evaluate(ctx, decision.AuthQuery{
		UserName: req.UserName, Domain: req.Domain, SourceIP: req.SourceIP, Protocol: req.Protocol,
	})
	if err != nil {
		return nil, err
	}

	return json.Marshal(preauthResponse{
		Decision: string(result.Decision), Reason: result.Reason, ChallengeID: result.ChallengeID,
		SessionToken: result.SessionToken, TimeoutMS: result.TimeoutMS, RequiredMethod: result.RequiredMethod,
	})
}

type submitMFARequest struct {
	ChallengeID string `json:"challenge_id"`
	Response    string `json:"response"`
}

type submitMFAResponse struct {
	Success      bool   `json:"success"`
	SessionToken string `json:"session_token,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (h *Handler) submitMFA(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var req submitMFARequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("agentsvc: decode submit_mfa request: %w", err)
	}

	resp, err := h.central.VerifyChallenge(ctx, rpc.VerifyChallengeRequest{ChallengeID: req.ChallengeID, Response: req.Response})
	if err != nil {
		return nil, err
	}
	if resp.Success {
		// The shim's repeated-logon-within-TTL scenario only works if this
		// DC's own cache (and its peers, via gossip) know about the session
		// an MFA verification just created, not only the central store.
		h.decisions.CacheVerifiedSession(decision.AuthQuery{
			UserName: resp.UserName, SourceIP: resp.SourceIP,
		}, resp.SessionID, resp.VerifiedMethod, resp.TimeoutMS)
	}
	return json.Marshal(submitMFAResponse{Success: resp.Success, SessionToken: resp.SessionToken, Error: resp.Error})
}

type checkStatusRequest struct {
	ChallengeID string `json:"challenge_id"`
}

type checkStatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) checkStatus(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var req checkStatusRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("agentsvc: decode check_status request: %w", err)
	}

	resp, err := h.central.CheckChallengeStatus(ctx, rpc.CheckChallengeStatusRequest{ChallengeID: req.ChallengeID})
	if err != nil {
		return nil, err
	}
	return json.Marshal(checkStatusResponse{Status: resp.Status, Error: resp.Error})
}
