package secretbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSealer(t *testing.T) *Sealer {
	t.Helper()
	key, err := GenerateMasterKey()
	require.NoError(t, err)
	s, err := New(Config{MasterKey: key})
	require.NoError(t, err)
	return s
}

func TestSealOpenRoundTrip(t *testing.T) {
	s := testSealer(t)
	box, err := s.Seal([]byte("totp-secret-bytes"))
	require.NoError(t, err)

	pt, err := s.Open(box)
	require.NoError(t, err)
	assert.Equal(t, "totp-secret-bytes", string(pt))
}

func TestOpenTamperedCiphertextFails(t *testing.T) {
	s := testSealer(t)
	box, err := s.Seal([]byte("secret"))
	require.NoError(t, err)
	box.Ciphertext[0] ^= 0xFF

	_, err = s.Open(box)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestOpenWrongKeyFails(t *testing.T) {
	s1 := testSealer(t)
	s2 := testSealer(t)

	box, err := s1.Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = s2.Open(box)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestNewRequiresMasterKey(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrKeyMissing)
}
