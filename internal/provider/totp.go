// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // RFC 6238 mandates SHA-1 for the default TOTP algorithm.
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"
)

const (
	totpSecretLen = 20 // 160 bits, per RFC 4226 recommendation.
	totpPeriod    = 30 * time.Second
	totpDigits    = 6
	totpWindow    = 1 // accept steps {-1, 0, +1}
)

// TOTP implements the Method contract for RFC 6238 time-based one-time
// passwords over a SHA-1 HMAC, the default algorithm advertised in the
// provisioning URI.
type TOTP struct {
	Issuer string
	Clock  func() time.Time
}

// NewTOTP returns a TOTP provider for the given issuer label.
func NewTOTP(issuer string) *TOTP {
	return &TOTP{Issuer: issuer, Clock: time.Now}
}

func (t *TOTP) MethodID() string             { return "TOTP" }
func (t *TOTP) DisplayName() string          { return "Authenticator App (TOTP)" }
func (t *TOTP) SupportsSync() bool           { return true }
func (t *TOTP) SupportsAsync() bool          { return false }
func (t *TOTP) RequiresEndpointAgent() bool  { return false }

func (t *TOTP) now() time.Time {
	if t.Clock != nil {
		return t.Clock()
	}
	return time.Now()
}

// BeginEnrollment generates a fresh random secret and its otpauth:// URI.
// The enrollment is not activated until CompleteEnrollment succeeds once.
func (t *TOTP) BeginEnrollment(_ context.Context, userID, friendlyName string) (EnrollmentResult, error) {
	secret := make([]byte, totpSecretLen)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return EnrollmentResult{}, fmt.Errorf("totp: generate secret: %w", err)
	}
	label := userID
	if friendlyName != "" {
		label = friendlyName
	}
	uri := fmt.Sprintf(
		"otpauth://totp/%s:%s?secret=%s&issuer=%s&period=30&digits=6&algorithm=SHA1",
		url.PathEscape(t.Issuer), url.PathEscape(label),
		base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret),
		url.QueryEscape(t.Issuer),
	)
	return EnrollmentResult{Secret: secret, ProvisioningURI: uri}, nil
}

// CompleteEnrollment requires one successful code to activate the
// enrollment.
func (t *TOTP) CompleteEnrollment(_ context.Context, secret []byte, response string) error {
	if !t.checkCode(secret, response, t.now()) {
		return errors.New("totp: invalid verification code")
	}
	return nil
}

// Issue is a no-op for TOTP: the code is generated on the authenticator
// device, not dispatched by the server. It still returns a user-facing
// prompt for the orchestrator to surface.
func (t *TOTP) Issue(_ context.Context, _ string, _ []byte, _ map[string]string) (IssueResult, error) {
	return IssueResult{UserPrompt: "Enter the 6-digit code from your authenticator app"}, nil
}

// Verify checks response against the current 30-second step and its
// immediate neighbors, using a constant-time digit comparison.
func (t *TOTP) Verify(_ context.Context, secret []byte, _ string, response string) (VerifyResult, error) {
	if t.checkCode(secret, response, t.now()) {
		return VerifyResult{Success: true}, nil
	}
	return VerifyResult{Success: false, Error: "invalid code"}, nil
}

// CheckAsyncStatus is unreachable for TOTP (SupportsAsync is false).
func (t *TOTP) CheckAsyncStatus(_ context.Context, _ string) (AsyncStatus, error) {
	return AsyncStatus{}, errors.New("totp: method does not support async status")
}

func (t *TOTP) checkCode(secret []byte, response string, at time.Time) bool {
	if len(response) != totpDigits {
		return false
	}
	counter := uint64(at.Unix()) / uint64(totpPeriod.Seconds())
	for delta := -totpWindow; delta <= totpWindow; delta++ {
		candidate := generateHOTP(secret, counter+uint64(delta), totpDigits)
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(response)) == 1 {
			return true
		}
	}
	return false
}

// generateHOTP implements RFC 4226's HOTP over SHA-1, truncated to digits.
func generateHOTP(secret []byte, counter uint64, digits int) string {
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(counterBytes[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	code := truncated % mod
	return fmt.Sprintf("%0*d", digits, code)
}
