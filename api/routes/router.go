package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/escrow-backend/api/controllers"
	"github.com/angelmondragon/escrow-backend/api/middleware"
	"github.com/angelmondragon/escrow-backend/internal/notifications"
	"github.com/angelmondragon/escrow-backend/pkg/config"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/escrow-backend/pkg/redis"
)

// Params carries everything the HTTP surface depends on.
type Params struct {
	Config        *config.Config
	Logger        *logger.Logger
	Idempotency   pkgredis.IdempotencyStore
	RateLimiter   middleware.RateLimitStore
	Readiness     map[string]controllers.Pinger
	Purchases     controllers.PurchaseService
	Shipments     controllers.ShipmentService
	Returns       controllers.ReturnService
	Notifications notifications.Service
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Readiness))
	})
	r.Handle("/metrics", promhttp.Handler())

	mutations := middleware.RateLimitPolicy{
		Name:   "mutations",
		Window: cfg.RateLimit.Window,
		Limit:  cfg.RateLimit.Mutations,
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(mutations, p.RateLimiter, logg))
		r.Use(middleware.Idempotency(p.Idempotency, logg))

		r.Route("/purchases/{purchaseId}", func(r chi.Router) {
			r.Get("/", controllers.GetPurchase(p.Purchases, logg))
			r.Post("/confirm-payment", controllers.ConfirmPayment(p.Purchases, logg))
			r.Post("/cancel", controllers.CancelPurchase(p.Purchases, logg))
			r.Get("/return", controllers.GetPurchaseReturn(p.Returns, logg))
			r.Post("/returns", controllers.RequestReturn(p.Returns, evidenceBodyLimit(cfg), logg))
		})

		r.Get("/sellers/{sellerId}/reputation", controllers.GetSellerReputation(p.Purchases, logg))

		r.Route("/shipments/{shipmentId}", func(r chi.Router) {
			r.Get("/", controllers.GetShipment(p.Shipments, logg))
			r.Post("/ship", controllers.MarkShipped(p.Shipments, logg))
			r.Post("/in-transit", controllers.MarkInTransit(p.Shipments, logg))
			r.Post("/confirm-delivery", controllers.ConfirmDelivery(p.Shipments, logg))
			r.Post("/confirm-in-person", controllers.ConfirmInPersonDelivery(p.Shipments, logg))
			r.Post("/dispute", controllers.OpenDispute(p.Shipments, logg))
		})

		r.Route("/returns/{returnId}", func(r chi.Router) {
			r.Get("/", controllers.GetReturn(p.Returns, logg))
			r.Post("/respond", controllers.RespondReturn(p.Returns, logg))
			r.Post("/ship", controllers.MarkReturnShipped(p.Returns, logg))
			r.Post("/confirm-receipt", controllers.ConfirmReturnReceipt(p.Returns, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(p.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(p.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(p.Notifications, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireAdmin(logg))
		r.Use(middleware.Idempotency(p.Idempotency, logg))
		r.Post("/purchases/{purchaseId}/refund", controllers.AdminRefund(p.Purchases, logg))
		r.Post("/purchases/{purchaseId}/release", controllers.AdminRelease(p.Purchases, logg))
	})

	return r
}

// evidenceBodyLimit allows every photo at the per-file cap plus form fields.
func evidenceBodyLimit(cfg *config.Config) int64 {
	perFile := int64(cfg.GCS.MaxUploadMB) << 20
	if perFile <= 0 {
		perFile = 10 << 20
	}
	return perFile*6 + 1<<20
}
