// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPServer matches *http.Server's lifecycle methods, letting
// HTTPServerService wrap either a plain or TLS-configured server without a
// direct net/http dependency in its field type.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService adapts an HTTPServer's blocking ListenAndServe to
// suture's context-aware Serve: it runs ListenAndServe in a goroutine and,
// on context cancellation, calls Shutdown with the configured timeout.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	name            string
}

// NewHTTPServerService wraps server as a supervised service named name. A
// non-positive shutdownTimeout falls back to 10 seconds.
func NewHTTPServerService(name string, server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout, name: name}
}

// Serve implements suture.Service.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s: %w", h.name, err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s: shutdown: %w", h.name, err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for suture's log output.
func (h *HTTPServerService) String() string { return h.name }

// TLSServer wraps an *http.Server whose TLSConfig is already populated
// with a server certificate and client-CA pool, adapting it to the plain
// HTTPServer interface by calling ListenAndServeTLS with no file paths
// (the certificate is taken entirely from TLSConfig.Certificates).
type TLSServer struct {
	*http.Server
}

// ListenAndServe implements HTTPServer by serving TLS from the server's
// already-configured TLSConfig.
func (t TLSServer) ListenAndServe() error {
	return t.Server.ListenAndServeTLS("", "")
}
