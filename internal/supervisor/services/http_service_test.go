package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHTTPServer struct {
	serveCh   chan error
	shutdownN int
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{serveCh: make(chan error, 1)}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	return <-f.serveCh
}

func (f *fakeHTTPServer) Shutdown(ctx context.Context) error {
	f.shutdownN++
	f.serveCh <- http.ErrServerClosed
	return nil
}

func TestHTTPServerServiceShutsDownOnContextCancel(t *testing.T) {
	fake := newFakeHTTPServer()
	svc := NewHTTPServerService("test-server", fake, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fake.shutdownN)
}

func TestHTTPServerServiceSurfacesListenError(t *testing.T) {
	fake := newFakeHTTPServer()
	fake.serveCh <- assert.AnError
	svc := NewHTTPServerService("test-server", fake, time.Second)

	err := svc.Serve(t.Context())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestNewHTTPServerServiceDefaultsShutdownTimeout(t *testing.T) {
	svc := NewHTTPServerService("test-server", newFakeHTTPServer(), 0)
	assert.Equal(t, 10*time.Second, svc.shutdownTimeout)
}
