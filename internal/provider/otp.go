// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport dispatches a one-time code to the user out of band (SMS, email,
// or any similar channel). Only this narrow interface is in scope; the
// concrete SMS/email gateway is an external collaborator.
type Transport interface {
	Send(ctx context.Context, destination, code string) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, destination, code string) error

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, destination, code string) error {
	return f(ctx, destination, code)
}

const (
	otpCodeDigits = 6
	otpCodeTTL    = 5 * time.Minute
)

// pendingOTP is the in-memory state for one outstanding code. The
// Challenge Orchestrator already persists Challenge rows; this struct only
// holds what cannot survive the secret's lifetime (the generated code),
// mirroring the "secret" parameter the Method contract hands to Verify.
type pendingOTP struct {
	code    string
	expires time.Time
}

// OTP implements the Method contract for a transport-delivered numeric
// one-time code (SMS or email). method_id distinguishes the two wire
// transports while sharing this implementation, since SMS and email are
// "OTP transport" variants of one underlying contract.
type OTP struct {
	id          string
	displayName string
	transport   Transport
	destination func(userID string) (string, error)

	mu      sync.Mutex
	pending map[string]pendingOTP // keyed by challengeRef
	clock   func() time.Time
}

// NewOTP builds an OTP provider. destination resolves a user id to the
// phone number or email address the code is sent to.
func NewOTP(methodID, displayName string, transport Transport, destination func(userID string) (string, error)) *OTP {
	return &OTP{
		id:          methodID,
		displayName: displayName,
		transport:   transport,
		destination: destination,
		pending:     make(map[string]pendingOTP),
		clock:       time.Now,
	}
}

func (o *OTP) MethodID() string            { return o.id }
func (o *OTP) DisplayName() string         { return o.displayName }
func (o *OTP) SupportsSync() bool          { return true }
func (o *OTP) SupportsAsync() bool         { return false }
func (o *OTP) RequiresEndpointAgent() bool { return false }

// BeginEnrollment for OTP methods stores no long-lived secret; the
// destination (phone/email) is supplied out of band by the admin/import
// pipeline, so the secret here is an opaque enrollment marker.
func (o *OTP) BeginEnrollment(_ context.Context, userID, _ string) (EnrollmentResult, error) {
	if o.destination == nil {
		return EnrollmentResult{}, errors.New("otp: no destination resolver configured")
	}
	if _, err := o.destination(userID); err != nil {
		return EnrollmentResult{}, fmt.Errorf("otp: resolve destination: %w", err)
	}
	return EnrollmentResult{Secret: []byte(userID)}, nil
}

// CompleteEnrollment for OTP accepts any non-empty response, matching the
// contract's "activation requires one successful verify" rule: the verify
// path is exercised exactly as a normal Issue+Verify round trip would be.
func (o *OTP) CompleteEnrollment(ctx context.Context, secret []byte, response string) error {
	result, err := o.Issue(ctx, string(secret), secret, nil)
	if err != nil {
		return err
	}
	vr, err := o.Verify(ctx, secret, result.ChallengeRef, response)
	if err != nil {
		return err
	}
	if !vr.Success {
		return errors.New("otp: invalid verification code")
	}
	return nil
}

// Issue generates a fresh numeric code, dispatches it via Transport, and
// remembers it keyed by a fresh challenge reference.
func (o *OTP) Issue(ctx context.Context, userID string, secret []byte, _ map[string]string) (IssueResult, error) {
	dest, err := o.destination(userID)
	if err != nil {
		return IssueResult{}, fmt.Errorf("otp: resolve destination: %w", err)
	}
	code, err := randomDigits(otpCodeDigits)
	if err != nil {
		return IssueResult{}, err
	}
	ref := uuid.NewString()

	o.mu.Lock()
	o.pending[ref] = pendingOTP{code: code, expires: o.clock().Add(otpCodeTTL)}
	o.mu.Unlock()

	if err := o.transport.Send(ctx, dest, code); err != nil {
		return IssueResult{}, fmt.Errorf("otp: dispatch: %w", err)
	}
	return IssueResult{ChallengeRef: ref, UserPrompt: fmt.Sprintf("Enter the code sent to %s", maskDestination(dest))}, nil
}

// Verify compares response against the pending code in constant time and
// removes it whether or not it matched, so a code can only ever be spent
// once.
func (o *OTP) Verify(_ context.Context, _ []byte, challengeRef, response string) (VerifyResult, error) {
	o.mu.Lock()
	entry, ok := o.pending[challengeRef]
	delete(o.pending, challengeRef)
	o.mu.Unlock()

	if !ok {
		return VerifyResult{Success: false, Error: "no pending code"}, nil
	}
	if o.clock().After(entry.expires) {
		return VerifyResult{Success: false, Error: "code expired"}, nil
	}
	if subtle.ConstantTimeCompare([]byte(entry.code), []byte(response)) != 1 {
		return VerifyResult{Success: false, Error: "invalid code"}, nil
	}
	return VerifyResult{Success: true}, nil
}

// CheckAsyncStatus is unreachable for OTP (SupportsAsync is false).
func (o *OTP) CheckAsyncStatus(_ context.Context, _ string) (AsyncStatus, error) {
	return AsyncStatus{}, errors.New("otp: method does not support async status")
}

func randomDigits(n int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < n; i++ {
		max.Mul(max, big.NewInt(10))
	}
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", n, v.Int64()), nil
}

func maskDestination(dest string) string {
	if len(dest) <= 4 {
		return "***"
	}
	return "***" + dest[len(dest)-4:]
}
