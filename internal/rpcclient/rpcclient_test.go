package rpcclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardctl/guardctl/internal/rpc"
)

func TestEvaluateAuthenticationRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, rpc.RouteEvaluateAuthentication, r.URL.Path)
		var req rpc.EvaluateAuthenticationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alice", req.UserName)
		_ = json.NewEncoder(w).Encode(rpc.EvaluateAuthenticationResponse{Decision: "allow", Reason: "cached session"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	resp, err := c.EvaluateAuthentication(t.Context(), rpc.EvaluateAuthenticationRequest{UserName: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "allow", resp.Decision)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, FailureThreshold: 2})
	for i := 0; i < 2; i++ {
		_, err := c.EvaluateAuthentication(t.Context(), rpc.EvaluateAuthenticationRequest{})
		assert.Error(t, err)
	}

	_, err := c.EvaluateAuthentication(t.Context(), rpc.EvaluateAuthenticationRequest{})
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestSyncPoliciesStreamsUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		_ = enc.Encode(rpc.PolicyUpdate{PolicyID: "p1"})
		_ = enc.Encode(rpc.PolicyUpdate{PolicyID: "p2"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	var ids []string
	err := c.SyncPolicies(t.Context(), rpc.SyncPoliciesRequest{AgentID: "a1"}, func(u rpc.PolicyUpdate) error {
		ids = append(ids, u.PolicyID)
		return nil
	})
	require.Error(t, err) // EOF once the server closes the stream
	assert.Equal(t, []string{"p1", "p2"}, ids)
}
