// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gossipsvc exposes an agent's gossip.Node as an rpc.Handler so it
// can be served behind the same mTLS mux and TLS config the center uses:
// peer agents dial an agent's GossipBindAddr the same way an agent dials
// the center. Only GossipSession does real work and Ack is a no-op; the
// other seven routes exist solely because rpc.Handler is one interface and
// an agent's gossip listener is never addressed by anything but another
// agent.
package gossipsvc

import (
	"context"
	"errors"

	"github.com/guardctl/guardctl/internal/rpc"
)

// ErrNotServed is returned by every route this listener does not
// implement for real.
var ErrNotServed = errors.New("gossipsvc: not served by the gossip listener")

// Receiver is the subset of gossip.Node this service needs.
type Receiver interface {
	Receive(ev rpc.GossipSessionRequest) error
}

// Service adapts a Receiver to rpc.Handler.
type Service struct {
	node Receiver
}

// New builds a Service.
func New(node Receiver) *Service {
	return &Service{node: node}
}

var _ rpc.Handler = (*Service)(nil)

// GossipSession applies an inbound session-replication event from a peer
// agent.
func (s *Service) GossipSession(_ context.Context, req rpc.GossipSessionRequest) (rpc.GossipSessionResponse, error) {
	if err := s.node.Receive(req); err != nil {
		return rpc.GossipSessionResponse{}, err
	}
	return rpc.GossipSessionResponse{}, nil
}

// Ack is a no-op: this gossip protocol is fire-and-forget, so a peer's ack
// of a previously sent event carries nothing this listener needs to act
// on.
func (s *Service) Ack(_ context.Context, _ rpc.AckRequest) (rpc.AckResponse, error) {
	return rpc.AckResponse{}, nil
}

func (s *Service) EvaluateAuthentication(_ context.Context, _ rpc.EvaluateAuthenticationRequest) (rpc.EvaluateAuthenticationResponse, error) {
	return rpc.EvaluateAuthenticationResponse{}, ErrNotServed
}

func (s *Service) VerifyChallenge(_ context.Context, _ rpc.VerifyChallengeRequest) (rpc.VerifyChallengeResponse, error) {
	return rpc.VerifyChallengeResponse{}, ErrNotServed
}

func (s *Service) CheckChallengeStatus(_ context.Context, _ rpc.CheckChallengeStatusRequest) (rpc.CheckChallengeStatusResponse, error) {
	return rpc.CheckChallengeStatusResponse{}, ErrNotServed
}

func (s *Service) RegisterAgent(_ context.Context, _ rpc.RegisterAgentRequest) (rpc.RegisterAgentResponse, error) {
	return rpc.RegisterAgentResponse{}, ErrNotServed
}

func (s *Service) Heartbeat(_ context.Context, _ rpc.HeartbeatRequest) (rpc.HeartbeatResponse, error) {
	return rpc.HeartbeatResponse{}, ErrNotServed
}

func (s *Service) EnrollCertificate(_ context.Context, _ rpc.EnrollCertificateRequest) (rpc.EnrollCertificateResponse, error) {
	return rpc.EnrollCertificateResponse{}, ErrNotServed
}

func (s *Service) PolicyUpdates(_ context.Context, _ rpc.SyncPoliciesRequest, _ func(rpc.PolicyUpdate) error) error {
	return ErrNotServed
}
