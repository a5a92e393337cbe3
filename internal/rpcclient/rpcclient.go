// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rpcclient implements the agent-side HTTP/2+mTLS client for every
// method in internal/rpc. Every request/response call is wrapped in a
// circuit breaker so a central outage degrades quickly instead of piling
// up blocked calls; the streamed SyncPolicies call does not go through
// the breaker. The breaker
// settings mirror the consecutive-failure/cool-down shape used elsewhere
// in this codebase for protecting calls to an external collaborator.
package rpcclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/guardctl/guardctl/internal/rpc"
)

// Client is the agent's handle to one central endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// Config configures a Client.
type Config struct {
	BaseURL   string
	TLSConfig *tls.Config
	Timeout   time.Duration

	// Breaker tuning; zero values fall back to the defaults below.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

const (
	defaultTimeout          = 10 * time.Second
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 30 * time.Second
)

// New builds a Client for one central base URL.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	failureThreshold := cfg.FailureThreshold
	if failureThreshold == 0 {
		failureThreshold = defaultFailureThreshold
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = defaultOpenTimeout
	}

	transport := &http.Transport{TLSClientConfig: cfg.TLSConfig, ForceAttemptHTTP2: true}
	settings := gobreaker.Settings{
		Name:        "rpcclient:" + cfg.BaseURL,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout, Transport: transport},
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

// ErrBreakerOpen is returned when the circuit breaker is rejecting calls.
var ErrBreakerOpen = gobreaker.ErrOpenState

func call[Req any, Resp any](ctx context.Context, c *Client, route string, req Req) (Resp, error) {
	var zero Resp
	body, err := json.Marshal(req)
	if err != nil {
		return zero, fmt.Errorf("rpcclient: marshal request: %w", err)
	}

	raw, err := c.breaker.Execute(func() ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, strings.NewReader(string(body)))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		buf, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("rpcclient: read response: %w", err)
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("rpcclient: %s returned %d", route, resp.StatusCode)
		}
		return buf, nil
	})
	if err != nil {
		return zero, err
	}

	if err := json.Unmarshal(raw, &zero); err != nil {
		return zero, fmt.Errorf("rpcclient: decode response: %w", err)
	}
	return zero, nil
}

// EvaluateAuthentication asks the center for an authentication decision.
func (c *Client) EvaluateAuthentication(ctx context.Context, req rpc.EvaluateAuthenticationRequest) (rpc.EvaluateAuthenticationResponse, error) {
	return call[rpc.EvaluateAuthenticationRequest, rpc.EvaluateAuthenticationResponse](ctx, c, rpc.RouteEvaluateAuthentication, req)
}

// VerifyChallenge submits a challenge response.
func (c *Client) VerifyChallenge(ctx context.Context, req rpc.VerifyChallengeRequest) (rpc.VerifyChallengeResponse, error) {
	return call[rpc.VerifyChallengeRequest, rpc.VerifyChallengeResponse](ctx, c, rpc.RouteVerifyChallenge, req)
}

// CheckChallengeStatus polls an async challenge.
func (c *Client) CheckChallengeStatus(ctx context.Context, req rpc.CheckChallengeStatusRequest) (rpc.CheckChallengeStatusResponse, error) {
	return call[rpc.CheckChallengeStatusRequest, rpc.CheckChallengeStatusResponse](ctx, c, rpc.RouteCheckChallengeStatus, req)
}

// RegisterAgent registers this agent with the center at startup.
func (c *Client) RegisterAgent(ctx context.Context, req rpc.RegisterAgentRequest) (rpc.RegisterAgentResponse, error) {
	return call[rpc.RegisterAgentRequest, rpc.RegisterAgentResponse](ctx, c, rpc.RouteRegisterAgent, req)
}

// Heartbeat reports liveness and load.
func (c *Client) Heartbeat(ctx context.Context, req rpc.HeartbeatRequest) (rpc.HeartbeatResponse, error) {
	return call[rpc.HeartbeatRequest, rpc.HeartbeatResponse](ctx, c, rpc.RouteHeartbeat, req)
}

// EnrollCertificate submits a CSR for signing.
func (c *Client) EnrollCertificate(ctx context.Context, req rpc.EnrollCertificateRequest) (rpc.EnrollCertificateResponse, error) {
	return call[rpc.EnrollCertificateRequest, rpc.EnrollCertificateResponse](ctx, c, rpc.RouteEnrollCertificate, req)
}

// GossipSession replicates a session event to a DC-to-DC peer.
func (c *Client) GossipSession(ctx context.Context, req rpc.GossipSessionRequest) (rpc.GossipSessionResponse, error) {
	return call[rpc.GossipSessionRequest, rpc.GossipSessionResponse](ctx, c, rpc.RouteGossipSession, req)
}

// Ack confirms delivery of a gossiped event.
func (c *Client) Ack(ctx context.Context, req rpc.AckRequest) (rpc.AckResponse, error) {
	return call[rpc.AckRequest, rpc.AckResponse](ctx, c, rpc.RouteAck, req)
}

// SyncPolicies opens the streamed policy feed and invokes onUpdate for
// each line until ctx is canceled or the stream ends.
func (c *Client) SyncPolicies(ctx context.Context, req rpc.SyncPoliciesRequest, onUpdate func(rpc.PolicyUpdate) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rpcclient: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+rpc.RouteSyncPolicies, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpcclient: SyncPolicies: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpcclient: SyncPolicies returned %d", resp.StatusCode)
	}

	decoder := json.NewDecoder(resp.Body)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		var update rpc.PolicyUpdate
		if err := decoder.Decode(&update); err != nil {
			return err
		}
		if err := onUpdate(update); err != nil {
			return err
		}
	}
}
