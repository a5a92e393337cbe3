package leaderlease

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardctl/guardctl/internal/models"
)

type memStore struct {
	mu  sync.Mutex
	row *models.LeaderLease
}

func (s *memStore) Get(context.Context) (*models.LeaderLease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.row == nil {
		return nil, nil
	}
	cp := *s.row
	return &cp, nil
}

func (s *memStore) Insert(_ context.Context, row models.LeaderLease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.row != nil {
		return ErrConflict
	}
	s.row = &row
	return nil
}

func (s *memStore) CompareAndSwap(_ context.Context, expectedHolder string, expectedExpires time.Time, next models.LeaderLease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.row == nil || s.row.HolderID != expectedHolder || !s.row.Expires.Equal(expectedExpires) {
		return ErrConflict
	}
	s.row = &next
	return nil
}

func (s *memStore) Delete(_ context.Context, holderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.row != nil && s.row.HolderID == holderID {
		s.row = nil
	}
	return nil
}

func TestFirstInstanceAcquiresLease(t *testing.T) {
	store := &memStore{}
	l := New(store, "instance-1", time.Minute)

	leading, err := l.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, leading)
}

func TestSecondInstanceDoesNotAcquireWhileHeld(t *testing.T) {
	store := &memStore{}
	l1 := New(store, "instance-1", time.Minute)
	l2 := New(store, "instance-2", time.Minute)

	_, err := l1.Tick(context.Background())
	require.NoError(t, err)

	leading, err := l2.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, leading)
}

func TestTakeoverAfterExpiry(t *testing.T) {
	store := &memStore{}
	start := time.Now()

	l1 := New(store, "instance-1", time.Minute).WithClock(func() time.Time { return start })
	_, err := l1.Tick(context.Background())
	require.NoError(t, err)

	l2 := New(store, "instance-2", time.Minute).WithClock(func() time.Time { return start.Add(2 * time.Minute) })
	leading, err := l2.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, leading, "instance-2 must take over an expired lease")

	l1Again := New(store, "instance-1", time.Minute).WithClock(func() time.Time { return start.Add(2 * time.Minute) })
	leading, err = l1Again.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, leading)
}

func TestOnlyOneLeaderAtATime(t *testing.T) {
	store := &memStore{}
	instances := make([]*Lease, 5)
	for i := range instances {
		instances[i] = New(store, string(rune('a'+i)), time.Minute)
	}

	leaders := 0
	for _, inst := range instances {
		leading, err := inst.Tick(context.Background())
		require.NoError(t, err)
		if leading {
			leaders++
		}
	}
	assert.Equal(t, 1, leaders)
}
