// SPDX-License-Identifier: AGPL-3.0-or-later

// Package centersvc composes the Policy Engine, Challenge Orchestrator,
// Session Manager, Certificate Authority, and Policy Stream into the
// center's rpc.Handler implementation: the one type an agent's mTLS RPC
// connection actually talks to. Each method is a thin translation between
// the wire DTOs of internal/rpc and the richer domain types the composed
// packages already operate on.
package centersvc

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/guardctl/guardctl/internal/ca"
	"github.com/guardctl/guardctl/internal/challenge"
	"github.com/guardctl/guardctl/internal/logging"
	"github.com/guardctl/guardctl/internal/models"
	"github.com/guardctl/guardctl/internal/policyengine"
	"github.com/guardctl/guardctl/internal/policystream"
	"github.com/guardctl/guardctl/internal/rpc"
	"github.com/guardctl/guardctl/internal/session"
)

// Store is the subset of the central store this service needs beyond what
// the composed packages already wrap.
type Store interface {
	FindUserBySAM(ctx context.Context, sam string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	RegisterAgent(ctx context.Context, a *models.AgentRegistration) error
	GetAgent(ctx context.Context, id string) (*models.AgentRegistration, error)
	UpdateCertThumbprint(ctx context.Context, id, thumbprint string) error
	RecordHeartbeat(ctx context.Context, agentID string, at time.Time) error
	ListPolicies(ctx context.Context) ([]models.Policy, error)
	AppendAudit(ctx context.Context, e models.AuditLogEntry) error
}

// ChallengeReader is the lookup VerifyChallenge needs once the Challenge
// Orchestrator itself has already confirmed a successful verification; it
// is satisfied directly by *store.ChallengeStore, without this package
// importing internal/store for the one method it actually calls.
type ChallengeReader interface {
	Get(ctx context.Context, id string) (*models.Challenge, error)
}

// Service implements rpc.Handler for the center process.
type Service struct {
	policies    *policyengine.Engine
	challenges  *challenge.Orchestrator
	challengeDB ChallengeReader
	sessions    *session.Manager
	authority   *ca.Authority
	stream      *policystream.Broadcaster
	store       Store
	log         zerolog.Logger
	now         func() time.Time
}

// New builds a Service from its already-constructed dependencies.
func New(
	policies *policyengine.Engine,
	challenges *challenge.Orchestrator,
	challengeDB ChallengeReader,
	sessions *session.Manager,
	authority *ca.Authority,
	stream *policystream.Broadcaster,
	st Store,
	log zerolog.Logger,
) *Service {
	return &Service{
		policies: policies, challenges: challenges, challengeDB: challengeDB,
		sessions: sessions, authority: authority, stream: stream, store: st,
		log: log, now: time.Now,
	}
}

var _ rpc.Handler = (*Service)(nil)

// EvaluateAuthentication is the agent-facing entry point: it resolves the
// user, runs the Policy Engine, and either mints a session token, issues
// an MFA challenge, or denies outright.
func (s *Service) EvaluateAuthentication(ctx context.Context, req rpc.EvaluateAuthenticationRequest) (rpc.EvaluateAuthenticationResponse, error) {
	user, err := s.store.FindUserBySAM(ctx, req.UserName)
	if err != nil {
		s.audit(ctx, "auth.evaluate", "", req.UserName, req.SourceIP, req.Domain, false, err.Error(), req.AgentID)
		return rpc.EvaluateAuthenticationResponse{Decision: string(models.DecisionDeny), Reason: "unknown user"}, nil
	}

	actx := models.AuthenticationContext{
		UserName:       req.UserName,
		SourceIP:       req.SourceIP,
		TargetResource: req.Domain,
		Protocol:       req.Protocol,
		Timestamp:      s.now(),
	}
	result, err := s.policies.Evaluate(ctx, actx)
	if err != nil {
		return rpc.EvaluateAuthenticationResponse{}, err
	}

	switch result.Decision {
	case models.DecisionDeny:
		s.audit(ctx, "auth.deny", user.ID, user.SAM, req.SourceIP, req.Domain, false, result.Reason, req.AgentID)
		return rpc.EvaluateAuthenticationResponse{Decision: string(models.DecisionDeny), Reason: result.Reason}, nil

	case models.DecisionRequireMFA:
		issued, err := s.challenges.Issue(ctx, user.ID, result.RequiredMethod, challenge.IssueContext{
			SourceIP: req.SourceIP, Target: req.Domain,
		})
		if err != nil {
			if errors.Is(err, challenge.ErrNoActiveEnrollment) {
				return rpc.EvaluateAuthenticationResponse{Decision: string(models.DecisionDeny), Reason: "no active enrollment for required method"}, nil
			}
			return rpc.EvaluateAuthenticationResponse{}, err
		}
		if !issued.Success {
			return rpc.EvaluateAuthenticationResponse{Decision: string(models.DecisionDeny), Reason: issued.Error}, nil
		}
		s.audit(ctx, "auth.challenge", user.ID, user.SAM, req.SourceIP, req.Domain, true, result.Reason, req.AgentID)
		return rpc.EvaluateAuthenticationResponse{
			Decision:          string(models.DecisionRequireMFA),
			ChallengeID:       issued.ChallengeID,
			Reason:            result.Reason,
			TimeoutMS:         time.Until(issued.ExpiresAt).Milliseconds(),
			RequiredMethod:    result.RequiredMethod,
			ChallengeMetadata: issued.UserPrompt,
		}, nil

	default: // models.DecisionAllow
		token, sess, err := s.sessions.Create(ctx, user.ID, req.SourceIP, req.Domain, "password", 0)
		if err != nil {
			return rpc.EvaluateAuthenticationResponse{}, err
		}
		s.audit(ctx, "auth.allow", user.ID, user.SAM, req.SourceIP, req.Domain, true, result.Reason, req.AgentID)
		return rpc.EvaluateAuthenticationResponse{Decision: string(models.DecisionAllow), SessionID: sess.ID, SessionToken: token, Reason: result.Reason}, nil
	}
}

// VerifyChallenge applies a challenge response and, on success, mints the
// session the original EvaluateAuthentication call deferred.
func (s *Service) VerifyChallenge(ctx context.Context, req rpc.VerifyChallengeRequest) (rpc.VerifyChallengeResponse, error) {
	outcome, err := s.challenges.Verify(ctx, req.ChallengeID, req.Response)
	if err != nil {
		switch {
		case errors.Is(err, challenge.ErrChallengeNotFound), errors.Is(err, challenge.ErrTerminalState):
			return rpc.VerifyChallengeResponse{Success: false, Error: "challenge not available"}, nil
		default:
			return rpc.VerifyChallengeResponse{}, err
		}
	}
	if !outcome.Success {
		return rpc.VerifyChallengeResponse{Success: false, Error: outcome.Error}, nil
	}

	row, err := s.challengeDB.Get(ctx, req.ChallengeID)
	if err != nil {
		return rpc.VerifyChallengeResponse{}, err
	}
	token, sess, err := s.sessions.Create(ctx, row.UserID, row.SourceIP, row.Target, row.Method, 0)
	if err != nil {
		return rpc.VerifyChallengeResponse{}, err
	}

	userName := ""
	if user, err := s.store.GetUser(ctx, row.UserID); err != nil {
		logging.Error().Err(err).Str("user_id", row.UserID).Msg("centersvc: resolve user name for verified session")
	} else {
		userName = user.SAM
	}

	s.audit(ctx, "auth.mfa_verified", row.UserID, userName, row.SourceIP, row.Target, true, "", "")
	return rpc.VerifyChallengeResponse{
		Success: true, SessionID: sess.ID, SessionToken: token,
		UserName: userName, SourceIP: row.SourceIP, VerifiedMethod: row.Method,
		TimeoutMS: time.Until(sess.Expires).Milliseconds(),
	}, nil
}

// CheckChallengeStatus polls an async-capable challenge for a terminal
// outcome.
func (s *Service) CheckChallengeStatus(ctx context.Context, req rpc.CheckChallengeStatusRequest) (rpc.CheckChallengeStatusResponse, error) {
	status, err := s.challenges.Status(ctx, req.ChallengeID)
	if err != nil {
		if errors.Is(err, challenge.ErrChallengeNotFound) {
			return rpc.CheckChallengeStatusResponse{Error: "not found"}, nil
		}
		return rpc.CheckChallengeStatusResponse{}, err
	}
	return rpc.CheckChallengeStatusResponse{Status: string(status.Status), Error: status.Error}, nil
}

// RegisterAgent persists a new agent registration and assigns it an id.
func (s *Service) RegisterAgent(ctx context.Context, req rpc.RegisterAgentRequest) (rpc.RegisterAgentResponse, error) {
	agentID := uuid.New().String()
	row := &models.AgentRegistration{
		ID:         agentID,
		Type:       models.AgentType(req.AgentType),
		Hostname:   req.Hostname,
		IP:         req.IP,
		Status:     models.AgentOnline,
		Version:    req.Version,
		Registered: s.now(),
	}
	if err := s.store.RegisterAgent(ctx, row); err != nil {
		return rpc.RegisterAgentResponse{Success: false, Error: err.Error()}, nil
	}
	s.audit(ctx, "agent.register", "", "", req.IP, req.Hostname, true, req.AgentType, agentID)
	return rpc.RegisterAgentResponse{Success: true, AgentID: agentID}, nil
}

// Heartbeat records agent liveness and acks it. ForcePolicySync is never
// set, so the reply never asks the agent to resync policies early.
func (s *Service) Heartbeat(ctx context.Context, req rpc.HeartbeatRequest) (rpc.HeartbeatResponse, error) {
	if err := s.store.RecordHeartbeat(ctx, req.AgentID, s.now()); err != nil {
		logging.Error().Err(err).Str("agent_id", req.AgentID).Msg("centersvc: record heartbeat")
		return rpc.HeartbeatResponse{Ack: false}, nil
	}
	return rpc.HeartbeatResponse{Ack: true}, nil
}

// EnrollCertificate signs a registered agent's CSR against the root CA.
// The caller must already hold a registration matching both AgentID and
// AgentType; otherwise an unregistered or misdeclared caller could mint a
// trusted mTLS agent certificate for itself.
func (s *Service) EnrollCertificate(ctx context.Context, req rpc.EnrollCertificateRequest) (rpc.EnrollCertificateResponse, error) {
	agent, err := s.store.GetAgent(ctx, req.AgentID)
	if err != nil {
		s.audit(ctx, "agent.cert_enrolled", "", "", "", "", false, "unregistered agent", req.AgentID)
		return rpc.EnrollCertificateResponse{Success: false, Error: "agent not registered"}, nil
	}
	if string(agent.Type) != req.AgentType {
		s.audit(ctx, "agent.cert_enrolled", "", "", "", "", false, "agent type mismatch", req.AgentID)
		return rpc.EnrollCertificateResponse{Success: false, Error: "agent type mismatch"}, nil
	}

	certPEM, thumbprint, err := s.authority.SignCSR([]byte(req.CSRPEM))
	if err != nil {
		return rpc.EnrollCertificateResponse{Success: false, Error: err.Error()}, nil
	}
	if err := s.store.UpdateCertThumbprint(ctx, req.AgentID, thumbprint); err != nil {
		logging.Error().Err(err).Str("agent_id", req.AgentID).Msg("centersvc: record cert thumbprint")
	}
	s.audit(ctx, "agent.cert_enrolled", "", "", "", thumbprint, true, req.AgentType, req.AgentID)
	return rpc.EnrollCertificateResponse{Success: true, SignedCertPEM: string(certPEM)}, nil
}

// PolicyUpdates streams every policy, enabled or not, updated since
// req.LastSync (each carries its own Enabled flag),
// then blocks forwarding live policy-stream notifications for this agent
// until the context is canceled (the agent's connection closes).
func (s *Service) PolicyUpdates(ctx context.Context, req rpc.SyncPoliciesRequest, emit func(rpc.PolicyUpdate) error) error {
	policies, err := s.store.ListPolicies(ctx)
	if err != nil {
		return err
	}
	for _, p := range policies {
		if !p.Updated.After(req.LastSync) {
			continue
		}
		payload, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if err := emit(rpc.PolicyUpdate{PolicyID: p.ID, PolicyJSON: string(payload), UpdatedAt: p.Updated}); err != nil {
			return err
		}
	}

	sub := s.stream.Subscribe(req.AgentID)
	defer s.stream.Unsubscribe(req.AgentID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case notif, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := emit(rpc.PolicyUpdate{
				PolicyID: notif.PolicyID, PolicyJSON: notif.PolicyJSON,
				Deleted: notif.Deleted, UpdatedAt: notif.UpdatedAt,
			}); err != nil {
				return err
			}
		}
	}
}

// GossipSession is presently unused on the center: session replication is
// agent-to-agent (see internal/gossip), not agent-to-center. It is
// implemented defensively so a misconfigured agent peer list pointed at
// the center still gets a clean rejection rather than a 404.
func (s *Service) GossipSession(_ context.Context, _ rpc.GossipSessionRequest) (rpc.GossipSessionResponse, error) {
	return rpc.GossipSessionResponse{}, errors.New("centersvc: gossip is agent-to-agent, not routed through the center")
}

// Ack is likewise an agent-to-agent gossip concern; see GossipSession.
func (s *Service) Ack(_ context.Context, _ rpc.AckRequest) (rpc.AckResponse, error) {
	return rpc.AckResponse{}, nil
}

func (s *Service) audit(ctx context.Context, eventType, userID, userName, sourceIP, target string, success bool, details, agentID string) {
	err := s.store.AppendAudit(ctx, models.AuditLogEntry{
		TS: s.now(), EventType: eventType, UserID: userID, UserName: userName,
		SourceIP: sourceIP, Target: target, Success: success, Details: details, AgentID: agentID,
	})
	if err != nil {
		logging.Error().Err(err).Str("event_type", eventType).Msg("centersvc: append audit")
	}
}
