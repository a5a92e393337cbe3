package decision

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardctl/guardctl/internal/agentcache"
	"github.com/guardctl/guardctl/internal/models"
	"github.com/guardctl/guardctl/internal/rpc"
)

type fakeCentral struct {
	resp rpc.EvaluateAuthenticationResponse
	err  error
}

func (f *fakeCentral) EvaluateAuthentication(context.Context, rpc.EvaluateAuthenticationRequest) (rpc.EvaluateAuthenticationResponse, error) {
	return f.resp, f.err
}

func openTestCache(t *testing.T) *agentcache.Cache {
	t.Helper()
	c, err := agentcache.Open(filepath.Join(t.TempDir(), "agent.badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCachedSessionShortCircuitsCentralCall(t *testing.T) {
	cache := openTestCache(t)
	require.NoError(t, cache.UpsertSession(models.Session{ID: "s1", Expires: time.Now().Add(time.Hour)}, "alice", time.Now()))

	central := &fakeCentral{err: errors.New("should never be called")}
	svc := New(cache, central, "agent-1", models.FailoverFailClose, zerolog.Nop())

	result, err := svc.Evaluate(t.Context(), AuthQuery{UserName: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAllow, result.Decision)
	assert.Equal(t, "cached session", result.Reason)
}

func TestCentralDecisionAdoptedOnSuccess(t *testing.T) {
	cache := openTestCache(t)
	central := &fakeCentral{resp: rpc.EvaluateAuthenticationResponse{Decision: "require_mfa", Reason: "policy match", ChallengeID: "c1"}}
	svc := New(cache, central, "agent-1", models.FailoverFailClose, zerolog.Nop())

	result, err := svc.Evaluate(t.Context(), AuthQuery{UserName: "bob"})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRequireMFA, result.Decision)
	assert.Equal(t, "c1", result.ChallengeID)
}

func TestAllowDecisionCachesUnderCentralAssignedSessionID(t *testing.T) {
	cache := openTestCache(t)
	central := &fakeCentral{resp: rpc.EvaluateAuthenticationResponse{
		Decision: "allow", Reason: "policy allow", SessionToken: "tok-1", SessionID: "sess-1", TimeoutMS: int64(time.Hour / time.Millisecond),
	}}
	svc := New(cache, central, "agent-1", models.FailoverFailClose, zerolog.Nop())

	_, err := svc.Evaluate(t.Context(), AuthQuery{UserName: "gina", SourceIP: "10.0.0.9"})
	require.NoError(t, err)

	cached, err := cache.FindActiveSession("gina", "10.0.0.9", time.Now())
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "sess-1", cached.ID)
}

func TestFailOpenOnCentralFailure(t *testing.T) {
	cache := openTestCache(t)
	central := &fakeCentral{err: errors.New("connection refused")}
	svc := New(cache, central, "agent-1", models.FailoverFailOpen, zerolog.Nop())

	result, err := svc.Evaluate(t.Context(), AuthQuery{UserName: "carol"})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAllow, result.Decision)
}

func TestFailCloseOnCentralFailure(t *testing.T) {
	cache := openTestCache(t)
	central := &fakeCentral{err: errors.New("connection refused")}
	svc := New(cache, central, "agent-1", models.FailoverFailClose, zerolog.Nop())

	result, err := svc.Evaluate(t.Context(), AuthQuery{UserName: "dave"})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionDeny, result.Decision)
}

func TestCachedOnlyAllowsWithSessionDeniesWithout(t *testing.T) {
	cache := openTestCache(t)
	require.NoError(t, cache.UpsertSession(models.Session{ID: "s1", Expires: time.Now().Add(time.Hour)}, "erin", time.Now()))
	central := &fakeCentral{err: errors.New("connection refused")}
	svc := New(cache, central, "agent-1", models.FailoverCachedOnly, zerolog.Nop())

	withSession, err := svc.Evaluate(t.Context(), AuthQuery{UserName: "erin"})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAllow, withSession.Decision)

	withoutSession, err := svc.Evaluate(t.Context(), AuthQuery{UserName: "frank"})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionDeny, withoutSession.Decision)
}
