// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ipc implements the local request-response boundary the host
// interception shim talks to: a Unix domain socket, owner-only file
// permissions plus a peer-credential check restricting callers to
// privileged local accounts, a hard per-request deadline, and fail-open
// on any handler panic, error, or timeout — the surrounding logon flow
// must never be blocked by a faulty MFA layer.
package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const requestDeadline = 3 * time.Second

// defaultRequestsPerSecond/defaultBurst bound how fast a single shim
// process may hammer the socket; a runaway or compromised caller loops
// without ever blocking a legitimate logon, since a throttled request
// still fails open like any other rejected request.
const (
	defaultRequestsPerSecond = 50
	defaultBurst             = 100
)

// Kind is the typed message discriminator carried by every request.
type Kind string

const (
	KindPreauth         Kind = "preauth"
	KindSubmitMFA       Kind = "submit_mfa"
	KindCheckStatus     Kind = "check_status"
	KindFIDO2Begin      Kind = "fido2_begin"
	KindFIDO2Complete   Kind = "fido2_complete"
)

// Envelope is the framing every request and response shares.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Handler processes one decoded request payload and returns a response
// payload. A non-nil error, a timeout, or a recovered panic all resolve
// to the same fail-open fallback at the transport layer — Handler
// implementations should not rely on being given unlimited time or a
// live connection.
type Handler func(ctx context.Context, kind Kind, payload json.RawMessage) (json.RawMessage, error)

// FailOpenPayload is the response substituted for any handler failure: a
// preauth/submit_mfa/check_status caller fails open (allow), matching the
// never-block-the-logon-flow requirement. It deliberately carries no
// per-kind distinction, so a caller cannot infer why the MFA layer
// degraded.
var FailOpenPayload = json.RawMessage(`{"decision":"allow","reason":"mfa layer unavailable, failing open"}`)

// Server serves the socket. Its allowedUID set (from Config.AllowedUID)
// restricts which local UIDs may call the socket, checked via the kernel's
// peer credentials after accept. A nil/empty set means "file permissions
// only" (owner-only socket mode is still enforced).
type Server struct {
	socketPath string
	listener   net.Listener
	handler    Handler
	log        zerolog.Logger
	allowedUID map[uint32]struct{}
	limiter    *rate.Limiter
}

// Config configures a Server.
type Config struct {
	SocketPath string
	Handler    Handler
	Log        zerolog.Logger
	AllowedUID []uint32

	// RequestsPerSecond/Burst bound the token bucket guarding dispatch; zero
	// values fall back to defaultRequestsPerSecond/defaultBurst.
	RequestsPerSecond float64
	Burst             int
}

// Listen creates (or replaces) the Unix domain socket at cfg.SocketPath
// with owner-only permissions.
func Listen(cfg Config) (*Server, error) {
	if err := os.Remove(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("ipc: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen: %w", err)
	}
	if err := os.Chmod(cfg.SocketPath, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("ipc: chmod socket: %w", err)
	}

	allowed := make(map[uint32]struct{}, len(cfg.AllowedUID))
	for _, uid := range cfg.AllowedUID {
		allowed[uid] = struct{}{}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	return &Server{
		socketPath: cfg.SocketPath, listener: ln, handler: cfg.Handler, log: cfg.Log, allowedUID: allowed,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

// Close closes the listener and removes the socket file.
func (s *Server) Close() error {
	err := s.listener.Close()
	_ = os.Remove(s.socketPath)
	return err
}

// Serve accepts connections until ctx is canceled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ipc: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(parent context.Context, conn net.Conn) {
	defer conn.Close()

	if len(s.allowedUID) > 0 {
		if err := s.checkPeerAllowed(conn); err != nil {
			s.log.Warn().Err(err).Msg("ipc: rejecting connection from disallowed peer")
			return
		}
	}

	ctx, cancel := context.WithTimeout(parent, requestDeadline)
	defer cancel()

	var req Envelope
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.writeFailOpen(conn, "")
		return
	}

	if !s.limiter.Allow() {
		s.log.Warn().Str("kind", string(req.Kind)).Msg("ipc: request rate limit exceeded; failing open")
		s.writeFailOpen(conn, req.Kind)
		return
	}

	resp := s.dispatch(ctx, req)
	_ = json.NewEncoder(conn).Encode(resp)
}

// dispatch invokes the handler, recovering from a panic and collapsing
// every failure mode — error, timeout, panic — to the same fail-open
// response.
func (s *Server) dispatch(ctx context.Context, req Envelope) (resp Envelope) {
	done := make(chan Envelope, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Interface("panic", r).Str("kind", string(req.Kind)).Msg("ipc: handler panicked; failing open")
				done <- Envelope{Kind: req.Kind, Payload: FailOpenPayload}
			}
		}()
		payload, err := s.handler(ctx, req.Kind, req.Payload)
		if err != nil {
			s.log.Warn().Err(err).Str("kind", string(req.Kind)).Msg("ipc: handler error; failing open")
			done <- Envelope{Kind: req.Kind, Payload: FailOpenPayload}
			return
		}
		done <- Envelope{Kind: req.Kind, Payload: payload}
	}()

	select {
	case resp = <-done:
		return resp
	case <-ctx.Done():
		s.log.Warn().Str("kind", string(req.Kind)).Msg("ipc: handler exceeded deadline; failing open")
		return Envelope{Kind: req.Kind, Payload: FailOpenPayload}
	}
}

func (s *Server) writeFailOpen(conn net.Conn, kind Kind) {
	_ = json.NewEncoder(conn).Encode(Envelope{Kind: kind, Payload: FailOpenPayload})
}
