package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/escrow-backend/api/controllers"
	"github.com/angelmondragon/escrow-backend/api/routes"
	"github.com/angelmondragon/escrow-backend/internal/ledger"
	"github.com/angelmondragon/escrow-backend/internal/notifications"
	"github.com/angelmondragon/escrow-backend/internal/payments"
	"github.com/angelmondragon/escrow-backend/internal/purchases"
	"github.com/angelmondragon/escrow-backend/internal/returns"
	"github.com/angelmondragon/escrow-backend/internal/shipments"
	"github.com/angelmondragon/escrow-backend/pkg/config"
	"github.com/angelmondragon/escrow-backend/pkg/db"
	"github.com/angelmondragon/escrow-backend/pkg/env"
	"github.com/angelmondragon/escrow-backend/pkg/instance"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
	"github.com/angelmondragon/escrow-backend/pkg/metrics"
	"github.com/angelmondragon/escrow-backend/pkg/migrate"
	"github.com/angelmondragon/escrow-backend/pkg/outbox"
	"github.com/angelmondragon/escrow-backend/pkg/redis"
	"github.com/angelmondragon/escrow-backend/pkg/square"
	"github.com/angelmondragon/escrow-backend/pkg/storage/gcs"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(env.Get("ESCROW_ENV_FILE", ".env")); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	bootCtx := context.Background()
	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	if err != nil {
		logg.Error(bootCtx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		logg.Error(bootCtx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	if err != nil {
		logg.Error(bootCtx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	squareClient, err := square.NewClient(bootCtx, cfg.Square, logg)
	if err != nil {
		logg.Error(bootCtx, "failed to bootstrap square", err)
		os.Exit(1)
	}

	gcsClient, err := gcs.NewClient(bootCtx, cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(bootCtx, "failed to bootstrap gcs", err)
		os.Exit(1)
	}
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing gcs client", err)
		}
	}()

	gateway, err := payments.NewRetryingGateway(payments.RetryingGatewayParams{
		Next:    payments.NewSquareGateway(squareClient),
		Config:  cfg.Gateway,
		Metrics: metrics.NewGatewayMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
	})
	exitOnErr(bootCtx, logg, "failed to create payment gateway", err)

	notifier, err := notifications.NewOutboxNotifier(notifications.OutboxNotifierParams{
		Outbox: outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger: logg,
	})
	exitOnErr(bootCtx, logg, "failed to create notifier", err)

	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	exitOnErr(bootCtx, logg, "failed to create ledger", err)

	shipmentRepo := shipments.NewRepository(dbClient.DB())
	purchaseService, err := purchases.NewService(purchases.ServiceParams{
		Repo:      purchases.NewRepository(dbClient.DB()),
		Tx:        dbClient,
		Ledger:    ledgerService,
		Gateway:   gateway,
		Shipments: shipments.NewHooks(shipmentRepo),
		Notifier:  notifier,
		Logger:    logg,
	})
	exitOnErr(bootCtx, logg, "failed to create purchases service", err)

	shipmentService, err := shipments.NewService(shipments.ServiceParams{
		Repo:        shipmentRepo,
		Tx:          dbClient,
		Purchases:   purchaseService,
		Notifier:    notifier,
		Logger:      logg,
		GracePeriod: cfg.Sweeper.GracePeriod(),
	})
	exitOnErr(bootCtx, logg, "failed to create shipments service", err)

	returnService, err := returns.NewService(returns.ServiceParams{
		Repo:      returns.NewRepository(dbClient.DB()),
		Tx:        dbClient,
		Purchases: purchaseService,
		Evidence:  gcsClient,
		Notifier:  notifier,
		Logger:    logg,
	})
	exitOnErr(bootCtx, logg, "failed to create returns service", err)

	notificationService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	exitOnErr(bootCtx, logg, "failed to create notifications service", err)

	addr := ":" + env.Get("PORT", cfg.App.Port)
	ctx := logg.WithFields(bootCtx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID("local"),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:      cfg,
			Logger:      logg,
			Idempotency: redisClient,
			RateLimiter: redisClient,
			Readiness: map[string]controllers.Pinger{
				"database": dbClient,
				"redis":    redisClient,
				"gcs":      gcsClient,
			},
			Purchases:     purchaseService,
			Shipments:     shipmentService,
			Returns:       returnService,
			Notifications: notificationService,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-sigCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}()

	logg.Info(ctx, "starting api server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}

func exitOnErr(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, msg, err)
	os.Exit(1)
}
