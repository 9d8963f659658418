package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/escrow-backend/internal/actors"
)

type counterStore struct {
	counts map[string]int64
	err    error
}

func (c *counterStore) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.counts[key]++
	return c.counts[key], nil
}

func (c *counterStore) RateLimitKey(policy, subject string) string {
	return policy + ":" + subject
}

func limitedHandler(store RateLimitStore, limit int) http.Handler {
	policy := RateLimitPolicy{Name: "mutations", Window: time.Minute, Limit: limit}
	return RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestRateLimitBlocksPerActor(t *testing.T) {
	store := &counterStore{counts: map[string]int64{}}
	h := limitedHandler(store, 2)
	buyer, other := uuid.New(), uuid.New()

	post := func(id uuid.UUID) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases/x/cancel", nil)
		req = req.WithContext(actors.WithActor(req.Context(), actors.User(id)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusNoContent, post(buyer).Code)
	require.Equal(t, http.StatusNoContent, post(buyer).Code)
	blocked := post(buyer)
	require.Equal(t, http.StatusTooManyRequests, blocked.Code)
	require.Equal(t, "60", blocked.Header().Get("Retry-After"))
	require.Equal(t, http.StatusNoContent, post(other).Code)
}

func TestRateLimitSkipsReadsAndFailsOpen(t *testing.T) {
	store := &counterStore{counts: map[string]int64{}}
	h := limitedHandler(store, 1)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/purchases/x", nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	require.Empty(t, store.counts)

	down := limitedHandler(&counterStore{err: errors.New("redis down")}, 1)
	rec := httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/purchases/x/cancel", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimitAnonymousUsesForwardedAddress(t *testing.T) {
	store := &counterStore{counts: map[string]int64{}}
	h := limitedHandler(store, 5)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, int64(1), store.counts["mutations:ip:203.0.113.9"])
}
