package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	claimed     map[string]bool
	values      map[string]any
	setNXError  error
	lastTTL     time.Duration
	lastDeleted string
}

func newFakeStore() *fakeStore {
	return &fakeStore{claimed: map[string]bool{}, values: map[string]any{}}
}

func (f *fakeStore) Get(context.Context, string) (string, error) { return "", nil }

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.claimed[key] = true
	f.values[key] = value
	f.lastTTL = ttl
	return nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.setNXError != nil {
		return false, f.setNXError
	}
	f.lastTTL = ttl
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	f.values[key] = value
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "escrow:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.claimed, key)
		f.lastDeleted = key
	}
	return nil
}

func TestClaimOnlyOnce(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, 24*time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	first, err := manager.Claim(context.Background(), "notifications-worker", eventID)
	require.NoError(t, err)
	require.True(t, first)
	require.Equal(t, pendingTTL, store.lastTTL)

	second, err := manager.Claim(context.Background(), "notifications-worker", eventID)
	require.NoError(t, err)
	require.False(t, second)
}

func TestReleaseAllowsReclaim(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	_, err = manager.Claim(context.Background(), "notifications-worker", eventID)
	require.NoError(t, err)
	require.NoError(t, manager.Release(context.Background(), "notifications-worker", eventID))
	require.Equal(t, "escrow:idempotency:evt:processed:notifications-worker:"+eventID.String(), store.lastDeleted)

	again, err := manager.Claim(context.Background(), "notifications-worker", eventID)
	require.NoError(t, err)
	require.True(t, again)
}

func TestClaimPropagatesStoreError(t *testing.T) {
	store := newFakeStore()
	store.setNXError = errors.New("boom")
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	_, err = manager.Claim(context.Background(), "notifications-worker", uuid.New())
	require.Error(t, err)
}

func TestClaimRequiresConsumerAndEvent(t *testing.T) {
	manager, err := NewManager(newFakeStore(), time.Hour)
	require.NoError(t, err)

	_, err = manager.Claim(context.Background(), "", uuid.New())
	require.Error(t, err)
	_, err = manager.Claim(context.Background(), "notifications-worker", uuid.Nil)
	require.Error(t, err)
}

func TestCompletePinsClaimForFullTTL(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, 24*time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	key := "escrow:idempotency:evt:processed:notifications-worker:" + eventID.String()
	_, err = manager.Claim(context.Background(), "notifications-worker", eventID)
	require.NoError(t, err)
	require.Equal(t, statePending, store.values[key])

	require.NoError(t, manager.Complete(context.Background(), "notifications-worker", eventID))
	require.Equal(t, stateDone, store.values[key])
	require.Equal(t, 24*time.Hour, store.lastTTL)

	again, err := manager.Claim(context.Background(), "notifications-worker", eventID)
	require.NoError(t, err)
	require.False(t, again)
}

func TestShortTTLCapsPendingClaim(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, time.Minute)
	require.NoError(t, err)

	_, err = manager.Claim(context.Background(), "notifications-worker", uuid.New())
	require.NoError(t, err)
	require.Equal(t, time.Minute, store.lastTTL)
}
