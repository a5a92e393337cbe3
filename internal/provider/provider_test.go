package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTOTPEnrollAndVerify(t *testing.T) {
	totp := NewTOTP("guardctl")
	ctx := context.Background()

	enroll, err := totp.BeginEnrollment(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, enroll.Secret, totpSecretLen)
	assert.Contains(t, enroll.ProvisioningURI, "otpauth://totp/")

	now := time.Now()
	totp.Clock = func() time.Time { return now }
	counter := uint64(now.Unix()) / 30
	code := generateHOTP(enroll.Secret, counter, totpDigits)

	require.NoError(t, totp.CompleteEnrollment(ctx, enroll.Secret, code))

	vr, err := totp.Verify(ctx, enroll.Secret, "", code)
	require.NoError(t, err)
	assert.True(t, vr.Success)
}

func TestTOTPRejectsWrongCode(t *testing.T) {
	totp := NewTOTP("guardctl")
	vr, err := totp.Verify(context.Background(), []byte("0123456789012345678901234567890123456789"), "", "000000")
	require.NoError(t, err)
	assert.False(t, vr.Success)
}

func TestTOTPWindowToleratesClockSkew(t *testing.T) {
	totp := NewTOTP("guardctl")
	enroll, err := totp.BeginEnrollment(context.Background(), "bob", "")
	require.NoError(t, err)

	base := time.Unix(1_700_000_000, 0)
	counter := uint64(base.Unix()) / 30
	code := generateHOTP(enroll.Secret, counter, totpDigits)

	totp.Clock = func() time.Time { return base.Add(30 * time.Second) }
	vr, err := totp.Verify(context.Background(), enroll.Secret, "", code)
	require.NoError(t, err)
	assert.True(t, vr.Success, "one step of skew must still verify")

	totp.Clock = func() time.Time { return base.Add(90 * time.Second) }
	vr, err = totp.Verify(context.Background(), enroll.Secret, "", code)
	require.NoError(t, err)
	assert.False(t, vr.Success, "three steps of skew must not verify")
}

func TestOTPIssueVerifySpendsCodeOnce(t *testing.T) {
	var sent string
	transport := TransportFunc(func(_ context.Context, _ string, code string) error {
		sent = code
		return nil
	})
	otp := NewOTP("SMS", "SMS code", transport, func(userID string) (string, error) {
		return "+15555550100", nil
	})

	ctx := context.Background()
	issued, err := otp.Issue(ctx, "carol", []byte("carol"), nil)
	require.NoError(t, err)
	require.NotEmpty(t, sent)

	vr, err := otp.Verify(ctx, nil, issued.ChallengeRef, sent)
	require.NoError(t, err)
	assert.True(t, vr.Success)

	vr, err = otp.Verify(ctx, nil, issued.ChallengeRef, sent)
	require.NoError(t, err)
	assert.False(t, vr.Success, "a code must not verify twice")
}

func TestRegistryNormalizesMethodID(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewTOTP("guardctl"))

	m, err := reg.Get("totp")
	require.NoError(t, err)
	assert.Equal(t, "TOTP", m.MethodID())

	_, err = reg.Get("nonexistent")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}
