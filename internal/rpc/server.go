// SPDX-License-Identifier: AGPL-3.0-or-later

package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Handler is implemented by the center-side services this mux dispatches
// to. Each method owns exactly one route; PolicyUpdates streams its
// results as newline-delimited JSON until ctx is canceled by the client
// disconnecting.
type Handler interface {
	EvaluateAuthentication(ctx context.Context, req EvaluateAuthenticationRequest) (EvaluateAuthenticationResponse, error)
	VerifyChallenge(ctx context.Context, req VerifyChallengeRequest) (VerifyChallengeResponse, error)
	CheckChallengeStatus(ctx context.Context, req CheckChallengeStatusRequest) (CheckChallengeStatusResponse, error)
	RegisterAgent(ctx context.Context, req RegisterAgentRequest) (RegisterAgentResponse, error)
	Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error)
	EnrollCertificate(ctx context.Context, req EnrollCertificateRequest) (EnrollCertificateResponse, error)
	PolicyUpdates(ctx context.Context, req SyncPoliciesRequest, emit func(PolicyUpdate) error) error
	GossipSession(ctx context.Context, req GossipSessionRequest) (GossipSessionResponse, error)
	Ack(ctx context.Context, req AckRequest) (AckResponse, error)
}

// NewMux builds the chi router serving every route in this package against
// h. It is meant to be wrapped in an *http.Server configured for mTLS
// (see ServerTLSConfig) and HTTP/2.
func NewMux(h Handler, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Post(RouteEvaluateAuthentication, jsonHandler(log, h.EvaluateAuthentication))
	r.Post(RouteVerifyChallenge, jsonHandler(log, h.VerifyChallenge))
	r.Post(RouteCheckChallengeStatus, jsonHandler(log, h.CheckChallengeStatus))
	r.Post(RouteRegisterAgent, jsonHandler(log, h.RegisterAgent))
	r.Post(RouteHeartbeat, jsonHandler(log, h.Heartbeat))
	r.Post(RouteEnrollCertificate, jsonHandler(log, h.EnrollCertificate))
	r.Post(RouteGossipSession, jsonHandler(log, h.GossipSession))
	r.Post(RouteAck, jsonHandler(log, h.Ack))
	r.Post(RouteSyncPolicies, streamHandler(log, h.PolicyUpdates))

	return r
}

// jsonHandler adapts a (ctx, Req) -> (Resp, error) method into a
// request/response JSON handler: decode body, call, encode result.
// Domain-level failures travel with a 200 in the response type's own
// Success/Error fields. A malformed body is answered with 400, and an
// error returned by the method is logged and answered with 500; both
// carry an ErrorResponse.
func jsonHandler[Req any, Resp any](log zerolog.Logger, fn func(context.Context, Req) (Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "malformed request body"})
			return
		}
		resp, err := fn(r.Context(), req)
		if err != nil {
			log.Error().Err(err).Str("route", r.URL.Path).Msg("rpc handler error")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "internal error"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// streamHandler serves SyncPolicies as NDJSON: one PolicyUpdate object per
// line, flushed as each is produced, until the handler returns or the
// client disconnects.
func streamHandler(log zerolog.Logger, fn func(context.Context, SyncPoliciesRequest, func(PolicyUpdate) error) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SyncPoliciesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		enc := json.NewEncoder(w)

		err := fn(r.Context(), req, func(update PolicyUpdate) error {
			if err := enc.Encode(update); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
			return nil
		})
		if err != nil && r.Context().Err() == nil {
			log.Warn().Err(err).Msg("SyncPolicies stream ended with error")
		}
	}
}

// ServerTLSConfig builds a tls.Config that requires and verifies a peer
// certificate chained to trustedCAs, suitable for the center's RPC
// listener and the DC-to-DC gossip listener alike.
func ServerTLSConfig(cert tls.Certificate, trustedCAs *x509.CertPool) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    trustedCAs,
		MinVersion:   tls.VersionTLS12,
	}
}
