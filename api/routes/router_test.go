package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/escrow-backend/api/controllers"
	"github.com/angelmondragon/escrow-backend/internal/actors"
	"github.com/angelmondragon/escrow-backend/internal/notifications"
	"github.com/angelmondragon/escrow-backend/internal/purchases"
	"github.com/angelmondragon/escrow-backend/pkg/auth"
	"github.com/angelmondragon/escrow-backend/pkg/config"
	"github.com/angelmondragon/escrow-backend/pkg/db/models"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubPurchases struct {
	controllers.PurchaseService
	released []uuid.UUID
}

func (s *stubPurchases) Get(_ context.Context, _ actors.Actor, id uuid.UUID) (*models.Purchase, error) {
	return &models.Purchase{ID: id, Status: enums.PurchaseStatusPaid, Currency: "EUR"}, nil
}

func (s *stubPurchases) AdminRelease(_ context.Context, _ actors.Actor, id uuid.UUID) (*models.Purchase, error) {
	s.released = append(s.released, id)
	return &models.Purchase{ID: id, Status: enums.PurchaseStatusCompleted}, nil
}

func (s *stubPurchases) ConfirmPayment(context.Context, actors.Actor, purchases.ConfirmPaymentInput) (*models.Purchase, error) {
	panic("not used")
}

type stubNotifications struct {
	notifications.Service
}

func (stubNotifications) List(context.Context, notifications.ListParams) (*notifications.ListResult, error) {
	return &notifications.ListResult{Items: []models.Notification{}}, nil
}

func newTestRouter(t *testing.T) (http.Handler, *stubPurchases, config.JWTConfig) {
	t.Helper()
	jwtCfg := config.JWTConfig{Secret: "router-secret", Issuer: "escrow-identity"}
	cfg := &config.Config{App: config.AppConfig{Env: "test"}, JWT: jwtCfg}
	purchasesSvc := &stubPurchases{}
	router := NewRouter(Params{
		Config:        cfg,
		Logger:        logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard}),
		Readiness:     map[string]controllers.Pinger{"db": stubPinger{}},
		Purchases:     purchasesSvc,
		Notifications: stubNotifications{},
	})
	return router, purchasesSvc, jwtCfg
}

func bearer(t *testing.T, cfg config.JWTConfig, role auth.Role) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg, time.Now(), time.Hour, uuid.New(), role)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealthRoutesArePublic(t *testing.T) {
	router, _, _ := newTestRouter(t)
	for _, path := range []string{"/health/live", "/health/ready"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, resp.Code, path)
	}
}

func TestAPIRequiresBearer(t *testing.T) {
	router, _, jwtCfg := newTestRouter(t)
	path := "/api/v1/purchases/" + uuid.NewString()

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", bearer(t, jwtCfg, auth.RoleUser))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set("Authorization", bearer(t, jwtCfg, auth.RoleUser))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	router, purchasesSvc, jwtCfg := newTestRouter(t)
	purchaseID := uuid.New()
	path := "/api/admin/v1/purchases/" + purchaseID.String() + "/release"

	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Authorization", bearer(t, jwtCfg, auth.RoleUser))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusForbidden, resp.Code)
	require.Empty(t, purchasesSvc.released)

	req = httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Authorization", bearer(t, jwtCfg, auth.RoleAdmin))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, []uuid.UUID{purchaseID}, purchasesSvc.released)
}

func TestUnknownRouteIs404(t *testing.T) {
	router, _, jwtCfg := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", bearer(t, jwtCfg, auth.RoleUser))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestMetricsEndpointIsExposed(t *testing.T) {
	router, _, _ := newTestRouter(t)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
}
