package idalloc_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/entityledger/core/internal/entity"
	"github.com/entityledger/core/internal/idalloc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	mu   sync.Mutex
	seen map[entity.InternalID]bool
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{seen: make(map[entity.InternalID]bool)}
}

func (f *fakeChecker) InternalIDExists(_ context.Context, id entity.InternalID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exists := f.seen[id]
	f.seen[id] = true
	return exists, nil
}

func TestAllocateProducesDistinctIDs(t *testing.T) {
	checker := newFakeChecker()
	a := idalloc.New(checker)

	seen := make(map[entity.InternalID]bool)
	for i := 0; i < 500; i++ {
		id, err := a.Allocate(context.Background())
		require.NoError(t, err)
		assert.False(t, seen[id], "allocator returned duplicate id %d", id)
		seen[id] = true
		assert.Equal(t, uint64(0), uint64(id)>>63, "sign bit must be zero")
	}
}

func TestAllocateRetriesOnCollision(t *testing.T) {
	checker := newFakeChecker()
	calls := 0
	a := idalloc.New(stubChecker{fn: func(id entity.InternalID) (bool, error) {
		calls++
		return calls <= 2, nil // first two draws "collide"
	}})
	_ = checker

	id, err := a.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.NotZero(t, id)
}

func TestAllocateExhaustsRetryBudget(t *testing.T) {
	a := idalloc.New(stubChecker{fn: func(entity.InternalID) (bool, error) {
		return true, nil // always collides
	}}, idalloc.WithRetryBudget(2))

	_, err := a.Allocate(context.Background())
	assert.ErrorIs(t, err, idalloc.ErrRetryBudgetExhausted)
}

func TestTimestampRoundTrips(t *testing.T) {
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fixed := epoch.Add(90 * time.Second)
	a := idalloc.New(newFakeChecker(), idalloc.WithEpoch(epoch), idalloc.WithClock(func() time.Time { return fixed }))

	id, err := a.Allocate(context.Background())
	require.NoError(t, err)

	got := idalloc.Timestamp(id, epoch)
	assert.WithinDuration(t, fixed, got, time.Millisecond)
}

type stubChecker struct {
	fn func(entity.InternalID) (bool, error)
}

func (s stubChecker) InternalIDExists(_ context.Context, id entity.InternalID) (bool, error) {
	return s.fn(id)
}
