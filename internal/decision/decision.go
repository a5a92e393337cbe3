// SPDX-License-Identifier: AGPL-3.0-or-later

// Package decision implements the on-DC Agent Decision Service: for each
// intercepted logon, check the local session cache, fall back to a
// central mTLS call, and apply the configured failover mode if the
// central call itself fails. This three-step shape — fast local path,
// remote call guarded by a circuit breaker, degraded fallback on the
// remote call's own failure — mirrors the resilient-reader composition
// used elsewhere in this codebase to wrap an external collaborator call.
package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/guardctl/guardctl/internal/agentcache"
	"github.com/guardctl/guardctl/internal/models"
	"github.com/guardctl/guardctl/internal/rpc"
)

// FailoverMode controls the decision made when the central call fails.
type FailoverMode = models.FailoverMode

// AuthQuery is the input from the host interception shim via the IPC
// Endpoint.
type AuthQuery struct {
	UserName string
	Domain   string
	SourceIP string
	Protocol string
}

// Result is the decision returned to the shim.
type Result struct {
	Decision       models.Decision
	Reason         string
	ChallengeID    string
	SessionToken   string
	TimeoutMS      int64
	RequiredMethod string
}

// CentralClient is the subset of the agent's RPC client the Service needs.
type CentralClient interface {
	EvaluateAuthentication(ctx context.Context, req rpc.EvaluateAuthenticationRequest) (rpc.EvaluateAuthenticationResponse, error)
}

// Broadcaster is the subset of gossip.Node the Service needs to replicate a
// freshly cached session to peer agents in the same DC.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev rpc.GossipSessionRequest)
}

// Service implements the on-DC decision pipeline.
type Service struct {
	cache        *agentcache.Cache
	central      CentralClient
	agentID      string
	failoverMode FailoverMode
	gossip       Broadcaster
	log          zerolog.Logger
	now          func() time.Time
}

// New builds a Service. WithGossip attaches a Broadcaster after
// construction; without one, cached sessions stay local to this agent.
func New(cache *agentcache.Cache, central CentralClient, agentID string, failoverMode FailoverMode, log zerolog.Logger) *Service {
	return &Service{cache: cache, central: central, agentID: agentID, failoverMode: failoverMode, log: log, now: time.Now}
}

// WithGossip attaches the DC-to-DC gossip broadcaster, returning the same
// Service for chaining at construction time.
func (s *Service) WithGossip(g Broadcaster) *Service {
	s.gossip = g
	return s
}

// Evaluate runs the three-step pipeline described in the package doc.
func (s *Service) Evaluate(ctx context.Context, q AuthQuery) (Result, error) {
	if cached, err := s.cache.FindActiveSession(q.UserName, q.SourceIP, s.now()); err != nil {
		s.log.Warn().Err(err).Msg("local session cache lookup failed; continuing to central evaluation")
	} else if cached != nil {
		return Result{Decision: models.DecisionAllow, Reason: "cached session"}, nil
	}

	resp, err := s.central.EvaluateAuthentication(ctx, rpc.EvaluateAuthenticationRequest{
		UserName: q.UserName, Domain: q.Domain, SourceIP: q.SourceIP, Protocol: q.Protocol, AgentID: s.agentID,
	})
	if err != nil {
		return s.degraded(q, err)
	}

	if resp.SessionToken != "" {
		s.cacheSessionFireAndForget(q, resp)
	}
	return Result{
		Decision:       models.Decision(resp.Decision),
		Reason:         resp.Reason,
		ChallengeID:    resp.ChallengeID,
		SessionToken:   resp.SessionToken,
		TimeoutMS:      resp.TimeoutMS,
		RequiredMethod: resp.RequiredMethod,
	}, nil
}

// degraded applies the configured failover_mode when the central call
// itself failed (transport error, timeout, or an open circuit breaker).
func (s *Service) degraded(q AuthQuery, cause error) (Result, error) {
	s.log.Warn().Err(cause).Str("user_name", q.UserName).Msg("central evaluation unavailable; applying failover mode")

	switch s.failoverMode {
	case models.FailoverFailOpen:
		return Result{Decision: models.DecisionAllow, Reason: "fail-open: central unavailable"}, nil
	case models.FailoverFailClose:
		return Result{Decision: models.DecisionDeny, Reason: "fail-close: central unavailable"}, nil
	case models.FailoverCachedOnly:
		cached, err := s.cache.FindActiveSession(q.UserName, q.SourceIP, s.now())
		if err != nil || cached == nil {
			return Result{Decision: models.DecisionDeny, Reason: "cached-only: no cached session and central unavailable"}, nil
		}
		return Result{Decision: models.DecisionAllow, Reason: "cached-only: cached session found"}, nil
	default:
		return Result{}, fmt.Errorf("decision: unknown failover mode %q", s.failoverMode)
	}
}

// CacheVerifiedSession performs the same cache-then-gossip step Evaluate
// runs for a direct-allow decision, for a session minted out-of-band by a
// successful MFA verification against the central Challenge Orchestrator.
func (s *Service) CacheVerifiedSession(q AuthQuery, sessionID, verifiedMethod string, timeoutMS int64) {
	s.cacheSessionFireAndForget(q, rpc.EvaluateAuthenticationResponse{
		SessionID: sessionID, RequiredMethod: verifiedMethod, TimeoutMS: timeoutMS,
	})
}

func (s *Service) cacheSessionFireAndForget(q AuthQuery, resp rpc.EvaluateAuthenticationResponse) {
	now := s.now()
	expires := now.Add(time.Duration(resp.TimeoutMS) * time.Millisecond)
	session := models.Session{
		ID: resp.SessionID, SourceIP: q.SourceIP, VerifiedMethod: resp.RequiredMethod,
		Status: models.SessionActive, Expires: expires,
	}
	if err := s.cache.UpsertSession(session, q.UserName, now); err != nil {
		s.log.Warn().Err(err).Msg("session cache persistence failed; continuing with in-memory decision")
		return
	}
	if s.gossip != nil {
		s.gossip.Broadcast(context.Background(), rpc.GossipSessionRequest{
			SessionID: resp.SessionID, UserName: q.UserName, SourceIP: q.SourceIP,
			VerifiedMethod: resp.RequiredMethod, Expires: expires, Timestamp: now,
		})
	}
}

// IsTransient reports whether err is the kind of failure that should fold
// into the degraded path rather than surface to the caller, including an
// open circuit breaker.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	return strings.Contains(err.Error(), "context deadline exceeded")
}
