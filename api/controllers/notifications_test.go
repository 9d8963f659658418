package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/escrow-backend/internal/notifications"
	"github.com/angelmondragon/escrow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/escrow-backend/pkg/errors"
)

type testNotificationsService struct {
	listFn        func(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error)
	markReadFn    func(ctx context.Context, recipientID, notificationID uuid.UUID) error
	markAllReadFn func(ctx context.Context, recipientID uuid.UUID) (int64, error)
}

func (s *testNotificationsService) List(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	return s.listFn(ctx, params)
}

func (s *testNotificationsService) MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error {
	return s.markReadFn(ctx, recipientID, notificationID)
}

func (s *testNotificationsService) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	return s.markAllReadFn(ctx, recipientID)
}

func TestListNotificationsScopesToCaller(t *testing.T) {
	var got notifications.ListParams
	svc := &testNotificationsService{listFn: func(_ context.Context, p notifications.ListParams) (*notifications.ListResult, error) {
		got = p
		return &notifications.ListResult{Cursor: "next"}, nil
	}}
	req := httptest.NewRequest(http.MethodGet, "/?limit=5&unreadOnly=true&cursor=abc", nil)
	req = withActorAndParams(req, buyer, nil)
	resp := httptest.NewRecorder()
	ListNotifications(svc, testLogger)(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, buyer.UserID, got.RecipientID)
	require.Equal(t, 5, got.Limit)
	require.True(t, got.UnreadOnly)
	require.Equal(t, "abc", got.Cursor)

	req = withActorAndParams(httptest.NewRequest(http.MethodGet, "/?limit=1000", nil), buyer, nil)
	resp = httptest.NewRecorder()
	ListNotifications(svc, testLogger)(resp, req)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestMarkNotificationReadNotFound(t *testing.T) {
	notificationID := uuid.New()
	svc := &testNotificationsService{markReadFn: func(_ context.Context, rid, nid uuid.UUID) error {
		require.Equal(t, buyer.UserID, rid)
		require.Equal(t, notificationID, nid)
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}}
	req := withActorAndParams(httptest.NewRequest(http.MethodPost, "/", nil), buyer, map[string]string{"notificationId": notificationID.String()})
	resp := httptest.NewRecorder()
	MarkNotificationRead(svc, testLogger)(resp, req)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	up := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("refused") })

	resp := httptest.NewRecorder()
	HealthReady(cfg, testLogger, map[string]Pinger{"db": up, "redis": up})(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	HealthReady(cfg, testLogger, map[string]Pinger{"db": up, "redis": down})(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	require.Equal(t, "test", resp.Header().Get("X-Escrow-Env"))
}
