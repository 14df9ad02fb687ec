package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	keys    map[string]time.Duration
	setErr  error
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{keys: make(map[string]time.Duration)}
}

func (f *fakeStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return false, f.setErr
	}
	if _, ok := f.keys[key]; ok {
		return false, nil
	}
	f.keys[key] = ttl
	return true, nil
}

func (f *fakeStore) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func TestCheckAndMark(t *testing.T) {
	store := newFakeStore()
	guard, err := NewGuard(store, 48*time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, "runner", "rp-1:COMPLETED")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.Equal(t, 48*time.Hour, store.keys["cw:idempotency:runner:rp-1:COMPLETED"])

	seen, err = guard.CheckAndMark(ctx, "runner", "rp-1:COMPLETED")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = guard.CheckAndMark(ctx, "runner", "rp-1:FAILED")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestReleaseAllowsRetry(t *testing.T) {
	store := newFakeStore()
	guard, err := NewGuard(store, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = guard.CheckAndMark(ctx, "runner", "rp-2")
	require.NoError(t, err)
	require.NoError(t, guard.Release(ctx, "runner", "rp-2"))
	assert.Equal(t, []string{"cw:idempotency:runner:rp-2"}, store.deleted)

	seen, err := guard.CheckAndMark(ctx, "runner", "rp-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestGuardValidation(t *testing.T) {
	_, err := NewGuard(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewGuard(newFakeStore(), -time.Second)
	assert.Error(t, err)

	guard, err := NewGuard(newFakeStore(), time.Hour)
	require.NoError(t, err)
	_, err = guard.CheckAndMark(context.Background(), "", "x")
	assert.Error(t, err)
	_, err = guard.CheckAndMark(context.Background(), "runner", "")
	assert.Error(t, err)
}

func TestStoreErrorsPropagate(t *testing.T) {
	store := newFakeStore()
	store.setErr = errors.New("connection refused")
	guard, err := NewGuard(store, time.Hour)
	require.NoError(t, err)

	_, err = guard.CheckAndMark(context.Background(), "runner", "rp-3")
	assert.ErrorContains(t, err, "connection refused")
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not-a-redis-url")
	assert.ErrorContains(t, err, "parse redis url")
}
