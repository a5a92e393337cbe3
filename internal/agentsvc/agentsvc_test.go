package agentsvc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardctl/guardctl/internal/agentcache"
	"github.com/guardctl/guardctl/internal/decision"
	"github.com/guardctl/guardctl/internal/ipc"
	"github.com/guardctl/guardctl/internal/models"
	"github.com/guardctl/guardctl/internal/rpc"
)

func TestHandleRejectsUnsupportedKind(t *testing.T) {
	h := New(nil, nil)
	_, err := h.Handle(t.Context(), ipc.KindFIDO2Begin, json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestPreauthRejectsMalformedPayload(t *testing.T) {
	h := New(nil, nil)
	_, err := h.Handle(t.Context(), ipc.KindPreauth, json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestSubmitMFARejectsMalformedPayload(t *testing.T) {
	h := New(nil, nil)
	_, err := h.Handle(t.Context(), ipc.KindSubmitMFA, json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestCheckStatusRejectsMalformedPayload(t *testing.T) {
	h := New(nil, nil)
	_, err := h.Handle(t.Context(), ipc.KindCheckStatus, json.RawMessage(`not json`))
	assert.Error(t, err)
}

// fakeCentral stands in for the agent's RPC client for the one call
// submitMFA actually drives.
type fakeCentral struct {
	verifyResp rpc.VerifyChallengeResponse
}

func (f *fakeCentral) VerifyChallenge(context.Context, rpc.VerifyChallengeRequest) (rpc.VerifyChallengeResponse, error) {
	return f.verifyResp, nil
}

func (f *fakeCentral) CheckChallengeStatus(context.Context, rpc.CheckChallengeStatusRequest) (rpc.CheckChallengeStatusResponse, error) {
	return rpc.CheckChallengeStatusResponse{}, nil
}

// noopEvaluator satisfies decision.CentralClient without ever being called:
// submitMFA never reaches the preauth path.
type noopEvaluator struct{}

func (noopEvaluator) EvaluateAuthentication(context.Context, rpc.EvaluateAuthenticationRequest) (rpc.EvaluateAuthenticationResponse, error) {
	return rpc.EvaluateAuthenticationResponse{}, nil
}

func TestSubmitMFACachesSessionOnSuccess(t *testing.T) {
	cache, err := agentcache.Open(filepath.Join(t.TempDir(), "agent.badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	decisions := decision.New(cache, noopEvaluator{}, "agent-1", models.FailoverFailClose, zerolog.Nop())
	central := &fakeCentral{verifyResp: rpc.VerifyChallengeResponse{
		Success: true, SessionID: "sess-1", SessionToken: "tok-1",
		UserName: "alice", SourceIP: "10.0.0.5", VerifiedMethod: "totp", TimeoutMS: int64(time.Hour / time.Millisecond),
	}}
	h := New(decisions, central)

	payload, err := json.Marshal(submitMFARequest{ChallengeID: "c1", Response: "123456"})
	require.NoError(t, err)
	raw, err := h.Handle(t.Context(), ipc.KindSubmitMFA, payload)
	require.NoError(t, err)

	var resp submitMFAResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "tok-1", resp.SessionToken)

	cached, err := cache.FindActiveSession("alice", "10.0.0.5", time.Now())
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "sess-1", cached.ID)
}

func TestSubmitMFADoesNotCacheOnFailure(t *testing.T) {
	cache, err := agentcache.Open(filepath.Join(t.TempDir(), "agent.badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	decisions := decision.New(cache, noopEvaluator{}, "agent-1", models.FailoverFailClose, zerolog.Nop())
	central := &fakeCentral{verifyResp: rpc.VerifyChallengeResponse{Success: false, Error: "bad code"}}
	h := New(decisions, central)

	payload, err := json.Marshal(submitMFARequest{ChallengeID: "c1", Response: "000000"})
	require.NoError(t, err)
	raw, err := h.Handle(t.Context(), ipc.KindSubmitMFA, payload)
	require.NoError(t, err)

	var resp submitMFAResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.False(t, resp.Success)

	cached, err := cache.FindActiveSession("alice", "10.0.0.5", time.Now())
	require.NoError(t, err)
	assert.Nil(t, cached)
}
