package session

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardctl/guardctl/internal/models"
	"github.com/guardctl/guardctl/internal/tokencodec"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]*models.Session
}

func newMemStore() *memStore { return &memStore{rows: map[string]*models.Session{}} }

func (s *memStore) Insert(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.rows[sess.ID] = &cp
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *memStore) FindActiveByUser(_ context.Context, userID, sourceIP string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []*models.Session
	for _, row := range s.rows {
		if row.UserID == userID && row.SourceIP == sourceIP && row.Status == models.SessionActive {
			candidates = append(candidates, row)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrSessionNotFound
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Created.After(candidates[j].Created) })
	cp := *candidates[0]
	return &cp, nil
}

func (s *memStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.Status = models.SessionRevoked
	}
	return nil
}

func (s *memStore) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, row := range s.rows {
		if row.Expires.Before(cutoff) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	key := make([]byte, 32)
	codec, err := tokencodec.New(key)
	require.NoError(t, err)
	return New(newMemStore(), codec)
}

func TestCreateAndValidateRoundTrip(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	token, row, err := m.Create(ctx, "alice", "10.0.0.7", "", "TOTP", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := m.Validate(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, row.ID, got.ID)
}

func TestValidateFailsAfterRevoke(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	token, row, err := m.Create(ctx, "bob", "10.0.0.1", "", "TOTP", time.Hour)
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, row.ID))

	got, err := m.Validate(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestValidateFailsAfterExpiry(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	start := time.Now()
	m.WithClock(func() time.Time { return start })

	token, _, err := m.Create(ctx, "carol", "10.0.0.2", "", "TOTP", time.Minute)
	require.NoError(t, err)

	m.WithClock(func() time.Time { return start.Add(2 * time.Minute) })
	got, err := m.Validate(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	token, _, err := m.Create(ctx, "dave", "10.0.0.3", "", "TOTP", time.Hour)
	require.NoError(t, err)

	tampered := token[:len(token)-1] + "x"
	got, err := m.Validate(ctx, tampered)
	require.NoError(t, err)
	assert.Nil(t, got)
}
