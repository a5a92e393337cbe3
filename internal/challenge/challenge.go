// SPDX-License-Identifier: AGPL-3.0-or-later

// Package challenge implements the Challenge Orchestrator: issue, verify,
// and poll MFA challenges against the Provider Registry, with
// per-challenge atomicity modeled on a durable lease-claim idiom — a
// transition is only applied if the row's generation is unchanged since it
// was read, and the caller retries on conflict.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guardctl/guardctl/internal/models"
	"github.com/guardctl/guardctl/internal/provider"
)

// Sentinel errors returned by Verify/Status; callers distinguish only a
// deliberately narrow set of outcomes so a failed lookup never reveals
// which precondition failed.
var (
	ErrNoActiveEnrollment = errors.New("challenge: no active enrollment for method")
	ErrChallengeNotFound  = errors.New("challenge: not found")
	ErrTerminalState      = errors.New("challenge: already in a terminal state")
	ErrConflict           = errors.New("challenge: concurrent modification, retry")
)

// EnrollmentLookup resolves the active enrollment and its decrypted secret
// for a (userID, method) pair.
type EnrollmentLookup interface {
	ActiveEnrollment(ctx context.Context, userID, method string) (*models.Enrollment, []byte, error)
	TouchLastUsed(ctx context.Context, enrollmentID string, at time.Time) error
}

// Store persists Challenge rows with optimistic concurrency: Update must
// fail with ErrConflict if the row changed between Get and Update.
type Store interface {
	Insert(ctx context.Context, c *models.Challenge) error
	Get(ctx context.Context, id string) (*models.Challenge, error)
	// Update applies mutate to the current row and persists it only if the
	// row is unchanged since Get — implementations use a version column or
	// equivalent compare-and-swap. Returns ErrConflict on a lost race.
	Update(ctx context.Context, id string, mutate func(*models.Challenge) error) (*models.Challenge, error)
}

// Orchestrator drives the Challenge state machine described above.
type Orchestrator struct {
	store      Store
	enrollments EnrollmentLookup
	registry   *provider.Registry
	now        func() time.Time
	defaultTTL time.Duration
	maxRetries int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithDefaultTTL overrides the default 5-minute challenge validity.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.defaultTTL = ttl }
}

// New builds an Orchestrator.
func New(store Store, enrollments EnrollmentLookup, registry *provider.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		enrollments: enrollments,
		registry:    registry,
		now:         time.Now,
		defaultTTL:  5 * time.Minute,
		maxRetries:  5,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// IssueContext is the ambient request context threaded into a method's
// Issue call.
type IssueContext struct {
	SourceIP string
	Target   string
}

// ChallengeResult is returned by Issue.
type ChallengeResult struct {
	Success     bool
	ChallengeID string
	UserPrompt  string
	ExpiresAt   time.Time
	Status      models.ChallengeStatus
	Error       string
}

// Issue creates and dispatches a challenge for (userID, method).
func (o *Orchestrator) Issue(ctx context.Context, userID, method string, ictx IssueContext) (ChallengeResult, error) {
	enrollment, secret, err := o.enrollments.ActiveEnrollment(ctx, userID, method)
	if err != nil {
		return ChallengeResult{}, ErrNoActiveEnrollment
	}

	m, err := o.registry.Get(method)
	if err != nil {
		return ChallengeResult{}, fmt.Errorf("challenge: %w", err)
	}

	issued, err := m.Issue(ctx, userID, secret, nil)
	if err != nil {
		return ChallengeResult{Success: false, Error: "issue failed"}, nil //nolint:nilerr // translated to a client-facing result, not a transport error
	}

	now := o.now()
	id := issued.ChallengeRef
	if id == "" {
		id = uuid.NewString()
	}
	row := &models.Challenge{
		ID:           id,
		UserID:       userID,
		EnrollmentID: enrollment.ID,
		Method:       provider.Normalize(method),
		Status:       models.ChallengeIssued,
		SourceIP:     ictx.SourceIP,
		Target:       ictx.Target,
		MaxAttempts:  3,
		Created:      now,
		Expires:      now.Add(o.defaultTTL),
	}
	if err := o.store.Insert(ctx, row); err != nil {
		return ChallengeResult{}, fmt.Errorf("challenge: persist: %w", err)
	}

	return ChallengeResult{
		Success:     true,
		ChallengeID: row.ID,
		UserPrompt:  issued.UserPrompt,
		ExpiresAt:   row.Expires,
		Status:      row.Status,
	}, nil
}

// VerificationResult is returned by Verify.
type VerificationResult struct {
	Success       bool
	Error         string
	ShouldLockout bool
}

// Verify applies a response to a challenge. The attempts increment and any
// terminal transition are applied through Store.Update, and Verify retries
// the whole read-modify-write when Update returns ErrConflict — the equivalent of the WAL's
// durable lease claim, but expressed as optimistic concurrency on the row
// itself since a challenge is a single short-lived record, not a queue
// entry that needs a standing lease.
func (o *Orchestrator) Verify(ctx context.Context, challengeID, response string) (VerificationResult, error) {
	var outcome VerificationResult

	for attempt := 0; attempt < o.maxRetries; attempt++ {
		row, err := o.store.Get(ctx, challengeID)
		if err != nil {
			return VerificationResult{}, ErrChallengeNotFound
		}

		now := o.now()
		if row.Status == models.ChallengeIssued && now.After(row.Expires) {
			_, _ = o.store.Update(ctx, challengeID, func(c *models.Challenge) error {
				if c.Status == models.ChallengeIssued {
					c.Status = models.ChallengeExpired
				}
				return nil
			})
			return VerificationResult{Success: false, Error: "challenge expired"}, nil
		}
		if row.Status.IsTerminal() {
			return VerificationResult{}, ErrTerminalState
		}
		if row.Attempts >= row.MaxAttempts {
			return VerificationResult{Success: false, Error: "attempts exhausted", ShouldLockout: true}, nil
		}

		m, err := o.registry.Get(row.Method)
		if err != nil {
			return VerificationResult{}, fmt.Errorf("challenge: %w", err)
		}
		_, secret, err := o.enrollments.ActiveEnrollment(ctx, row.UserID, row.Method)
		if err != nil {
			return VerificationResult{}, ErrNoActiveEnrollment
		}

		vr, verr := m.Verify(ctx, secret, row.ID, response)
		success := verr == nil && vr.Success

		updated, err := o.store.Update(ctx, challengeID, func(c *models.Challenge) error {
			if c.Status.IsTerminal() {
				return ErrTerminalState
			}
			c.Attempts++
			nowResp := now
			c.Responded = &nowResp
			if success {
				c.Status = models.ChallengeApproved
			} else if c.Attempts >= c.MaxAttempts {
				c.Status = models.ChallengeFailed
			}
			return nil
		})
		if errors.Is(err, ErrConflict) {
			continue // lost the race; re-read and retry
		}
		if err != nil {
			return VerificationResult{}, err
		}

		if success {
			_ = o.enrollments.TouchLastUsed(ctx, row.EnrollmentID, now)
			return VerificationResult{Success: true}, nil
		}
		outcome = VerificationResult{
			Success:       false,
			Error:         "invalid response",
			ShouldLockout: updated.Status == models.ChallengeFailed,
		}
		return outcome, nil
	}
	return VerificationResult{}, ErrConflict
}

// AsyncVerificationStatus is returned by Status.
type AsyncVerificationStatus struct {
	Status models.ChallengeStatus
	Error  string
}

// Status reports a challenge's current status, lazily applying expiry and,
// for async-capable methods, polling the provider for a terminal result.
func (o *Orchestrator) Status(ctx context.Context, challengeID string) (AsyncVerificationStatus, error) {
	row, err := o.store.Get(ctx, challengeID)
	if err != nil {
		return AsyncVerificationStatus{}, ErrChallengeNotFound
	}

	now := o.now()
	if row.Status == models.ChallengeIssued && now.After(row.Expires) {
		row, err = o.store.Update(ctx, challengeID, func(c *models.Challenge) error {
			if c.Status == models.ChallengeIssued {
				c.Status = models.ChallengeExpired
			}
			return nil
		})
		if err != nil {
			return AsyncVerificationStatus{}, err
		}
		return AsyncVerificationStatus{Status: row.Status}, nil
	}
	if row.Status.IsTerminal() {
		return AsyncVerificationStatus{Status: row.Status}, nil
	}

	m, err := o.registry.Get(row.Method)
	if err != nil || !m.SupportsAsync() {
		return AsyncVerificationStatus{Status: row.Status}, nil
	}

	async, err := m.CheckAsyncStatus(ctx, row.ID)
	if err != nil || !async.Terminal {
		return AsyncVerificationStatus{Status: row.Status}, nil
	}

	terminal := models.ChallengeStatus(async.Status)
	updated, err := o.store.Update(ctx, challengeID, func(c *models.Challenge) error {
		if !c.Status.IsTerminal() {
			c.Status = terminal
		}
		return nil
	})
	if err != nil {
		return AsyncVerificationStatus{Status: row.Status}, nil
	}
	return AsyncVerificationStatus{Status: updated.Status}, nil
}
