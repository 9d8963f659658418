package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/escrow-backend/internal/actors"
	pkgerrors "github.com/angelmondragon/escrow-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value.(string)
	return true, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.data[key] = value.(string)
	return nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

var purchasePath = "/api/v1/purchases/" + uuid.NewString() + "/cancel"

func newRequest(path, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req.WithContext(actors.WithActor(req.Context(), actors.User(uuid.MustParse("7d6c1f8e-4a55-4bb8-9f0d-1b2c3d4e5f60"))))
}

func TestRouteTTLSelection(t *testing.T) {
	id := uuid.NewString()
	tests := []struct {
		name string
		path string
		want time.Duration
		ok   bool
	}{
		{"confirm payment", "/api/v1/purchases/" + id + "/confirm-payment", criticalIdempotencyTTL, true},
		{"cancel", "/api/v1/purchases/" + id + "/cancel", criticalIdempotencyTTL, true},
		{"confirm receipt", "/api/v1/returns/" + id + "/confirm-receipt", criticalIdempotencyTTL, true},
		{"admin refund", "/api/admin/v1/purchases/" + id + "/refund", criticalIdempotencyTTL, true},
		{"ship", "/api/v1/shipments/" + id + "/ship", defaultIdempotencyTTL, true},
		{"return respond", "/api/v1/returns/" + id + "/respond", defaultIdempotencyTTL, true},
		{"read all", "/api/v1/notifications/read-all", defaultIdempotencyTTL, true},
		{"unknown", "/api/v1/unknown", 0, false},
	}
	for _, tt := range tests {
		ttl, ok := routeTTL(http.MethodPost, tt.path)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if ok && ttl != tt.want {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, tt.want, ttl)
		}
	}
	if _, ok := routeTTL(http.MethodGet, "/api/v1/shipments/"+id); ok {
		t.Fatalf("reads are never idempotency-gated")
	}
}

func TestIdempotencyMiddlewareRequiresHeader(t *testing.T) {
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	})
	resp := httptest.NewRecorder()
	Idempotency(newFakeStore(), nil)(handler).ServeHTTP(resp, newRequest(purchasePath, "", `{}`))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if handlerCalled {
		t.Fatalf("handler should not run without idempotency key")
	}
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, newRequest(purchasePath, "abc", `{"a":1}`))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected first response 202 got %d", resp.Code)
	}

	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, newRequest(purchasePath, "abc", `{"a":1}`))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected replay status 202 got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" || rec.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay headers, got %v", rec.Header())
	}
	if strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Fatalf("expected stored body got %s", rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw(handler).ServeHTTP(httptest.NewRecorder(), newRequest(purchasePath, "xyz", `{"a":1}`))
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, newRequest(purchasePath, "xyz", `{"a":2}`))

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, payload.Error.Code)
	}
}

func TestIdempotencyMiddlewareRejectsInFlightDuplicate(t *testing.T) {
	store := newFakeStore()
	req := newRequest(purchasePath, "k1", `{}`)
	key := store.IdempotencyKey(buildScope(req), "k1")
	store.data[key] = inFlightMarker

	called := false
	resp := httptest.NewRecorder()
	Idempotency(store, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).ServeHTTP(resp, req)
	if resp.Code != http.StatusConflict || called {
		t.Fatalf("expected 409 without running handler, got %d called=%v", resp.Code, called)
	}
}

func TestIdempotencyMiddlewareReleasesKeyOnServerError(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	first := httptest.NewRecorder()
	mw(handler).ServeHTTP(first, newRequest(purchasePath, "retry-me", `{}`))
	second := httptest.NewRecorder()
	mw(handler).ServeHTTP(second, newRequest(purchasePath, "retry-me", `{}`))

	if first.Code != http.StatusBadGateway || second.Code != http.StatusOK || calls != 2 {
		t.Fatalf("expected retry after 502, got %d then %d (calls=%d)", first.Code, second.Code, calls)
	}
}

func TestIdempotencySkipsUngatedRoutes(t *testing.T) {
	called := false
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	Idempotency(newFakeStore(), nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatalf("expected pass-through")
	}
}
