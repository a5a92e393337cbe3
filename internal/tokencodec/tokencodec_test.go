package tokencodec

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key32(b byte) []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c, err := New(key32(0x11))
	require.NoError(t, err)

	sid := uuid.New()
	expires := time.Now().Add(8 * time.Hour).Truncate(time.Millisecond).UTC()

	tok, err := c.Encode(sid, "S-1-5-21-alice", expires)
	require.NoError(t, err)

	claims, err := c.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, sid, claims.SessionID)
	assert.Equal(t, "S-1-5-21-alice", claims.UserID)
	assert.True(t, claims.Expires.Equal(expires))
}

func TestDecodeRejectsTamperedByte(t *testing.T) {
	c, err := New(key32(0x22))
	require.NoError(t, err)

	tok, err := c.Encode(uuid.New(), "bob", time.Now().Add(time.Hour))
	require.NoError(t, err)

	raw, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(tok)
	require.NoError(t, err)
	raw[0] ^= 0xFF

	_, err = c.DecodeBytes(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeWrongKeyFails(t *testing.T) {
	c1, _ := New(key32(0x33))
	c2, _ := New(key32(0x44))

	tok, err := c1.Encode(uuid.New(), "carol", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = c2.Decode(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeGarbageIsUniformError(t *testing.T) {
	c, _ := New(key32(0x55))
	_, err := c.Decode("not-a-real-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewRejectsBadKeyLength(t *testing.T) {
	_, err := New([]byte("too-short"))
	assert.Error(t, err)
}
