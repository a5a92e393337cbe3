// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rpc defines the wire contract shared by the center's RPC server
// and the agent's RPC client: one JSON request/response DTO pair per
// method, carried over HTTP/2 with mutual TLS at a fixed set of routes
// under /rpc/v1/. There is no code generation step — the DTOs are plain
// structs and every route is registered by hand, the same direct style
// the chi router handlers in this codebase already use for REST.
package rpc

import "time"

// Route is the fixed path each method is served at, relative to the RPC
// mux's root.
const (
	RouteEvaluateAuthentication = "/rpc/v1/EvaluateAuthentication"
	RouteVerifyChallenge        = "/rpc/v1/VerifyChallenge"
	RouteCheckChallengeStatus   = "/rpc/v1/CheckChallengeStatus"
	RouteRegisterAgent          = "/rpc/v1/RegisterAgent"
	RouteHeartbeat              = "/rpc/v1/Heartbeat"
	RouteEnrollCertificate      = "/rpc/v1/EnrollCertificate"
	RouteSyncPolicies           = "/rpc/v1/SyncPolicies"
	RouteGossipSession          = "/rpc/v1/GossipSession"
	RouteAck                    = "/rpc/v1/Ack"
)

// EvaluateAuthenticationRequest is the agent's ask for a central decision.
type EvaluateAuthenticationRequest struct {
	UserName string `json:"user_name"`
	Domain   string `json:"domain"`
	SourceIP string `json:"source_ip,omitempty"`
	Protocol string `json:"protocol"`
	AgentID  string `json:"agent_id"`
}

// EvaluateAuthenticationResponse carries the central's decision.
type EvaluateAuthenticationResponse struct {
	Decision          string `json:"decision"`
	SessionID         string `json:"session_id,omitempty"`
	SessionToken      string `json:"session_token,omitempty"`
	ChallengeID       string `json:"challenge_id,omitempty"`
	Reason            string `json:"reason"`
	TimeoutMS         int64  `json:"timeout_ms"`
	RequiredMethod    string `json:"required_method,omitempty"`
	ChallengeMetadata string `json:"challenge_metadata,omitempty"`
}

// VerifyChallengeRequest submits a challenge-response pair.
type VerifyChallengeRequest struct {
	ChallengeID string `json:"challenge_id"`
	Response    string `json:"response"`
}

// VerifyChallengeResponse reports the verification outcome. On success it
// carries everything the agent needs to cache and gossip the session it
// just minted, without a second round trip to look any of it up.
type VerifyChallengeResponse struct {
	Success        bool   `json:"success"`
	SessionID      string `json:"session_id,omitempty"`
	SessionToken   string `json:"session_token,omitempty"`
	UserName       string `json:"user_name,omitempty"`
	SourceIP       string `json:"source_ip,omitempty"`
	VerifiedMethod string `json:"verified_method,omitempty"`
	TimeoutMS      int64  `json:"timeout_ms,omitempty"`
	Error          string `json:"error,omitempty"`
}

// CheckChallengeStatusRequest polls an async-capable challenge.
type CheckChallengeStatusRequest struct {
	ChallengeID string `json:"challenge_id"`
}

// CheckChallengeStatusResponse is the polled status.
type CheckChallengeStatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RegisterAgentRequest is sent once at agent startup.
type RegisterAgentRequest struct {
	Hostname  string `json:"hostname"`
	AgentType string `json:"agent_type"`
	IP        string `json:"ip,omitempty"`
	Version   string `json:"version,omitempty"`
}

// RegisterAgentResponse confirms registration and assigns an agent id.
type RegisterAgentResponse struct {
	Success bool   `json:"success"`
	AgentID string `json:"agent_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HeartbeatRequest is periodic agent liveness and load reporting.
type HeartbeatRequest struct {
	AgentID       string `json:"agent_id"`
	ActiveSessions int   `json:"active_sessions"`
}

// HeartbeatResponse may instruct the agent to resync policies immediately.
type HeartbeatResponse struct {
	Ack             bool `json:"ack"`
	ForcePolicySync bool `json:"force_policy_sync"`
}

// EnrollCertificateRequest carries a PEM CSR for a registered agent.
type EnrollCertificateRequest struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
	CSRPEM    string `json:"csr_pem"`
}

// EnrollCertificateResponse carries the signed certificate, if issued.
type EnrollCertificateResponse struct {
	Success       bool   `json:"success"`
	SignedCertPEM string `json:"signed_cert_pem,omitempty"`
	Error         string `json:"error,omitempty"`
}

// SyncPoliciesRequest opens a streamed policy sync from a high-watermark.
type SyncPoliciesRequest struct {
	AgentID  string    `json:"agent_id"`
	LastSync time.Time `json:"last_sync"`
}

// PolicyUpdate is one line of the SyncPolicies NDJSON stream.
type PolicyUpdate struct {
	PolicyID   string    `json:"policy_id"`
	PolicyJSON string    `json:"policy_json"`
	Deleted    bool      `json:"deleted"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// GossipSessionRequest is a DC-to-DC session replication event.
type GossipSessionRequest struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	UserName       string    `json:"user_name"`
	SourceIP       string    `json:"source_ip"`
	VerifiedMethod string    `json:"verified_method"`
	Expires        time.Time `json:"expires"`
	Revoked        bool      `json:"revoked"`
	OriginID       string    `json:"origin_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// GossipSessionResponse returns the receiving peer's ack sequence.
type GossipSessionResponse struct {
	Sequence int64 `json:"sequence"`
}

// AckRequest confirms delivery of a gossiped session event up to Sequence.
type AckRequest struct {
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"sequence"`
}

// AckResponse is intentionally empty; presence of the struct keeps every
// route's (request, response) pair symmetric for the client helper.
type AckResponse struct{}

// ErrorResponse is returned (with a non-2xx status) when a route can't
// produce its normal response type — most routes instead embed Error in
// their own response struct so a single malformed body always decodes.
type ErrorResponse struct {
	Error string `json:"error"`
}
