package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-backend/internal/cron"
	"github.com/angelmondragon/escrow-backend/internal/ledger"
	"github.com/angelmondragon/escrow-backend/internal/notifications"
	"github.com/angelmondragon/escrow-backend/internal/payments"
	"github.com/angelmondragon/escrow-backend/internal/purchases"
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
)

const lockName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(env.Get("ESCROW_ENV_FILE", ".env")); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	shipmentService, err := newShipmentService(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create shipments service", err)
		os.Exit(1)
	}

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	registry, err := newRegistry(cfg, logg, dbClient, shipmentService, cronMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName), cfg.Sweeper.LockTTL())
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Sweeper.Interval(),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Sweeper.Interval().String(),
		"instance":    instance.GetID("cron-0"),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// newShipmentService builds the purchase ledger the sweep completes
// purchases through.
func newShipmentService(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*shipments.Service, error) {
	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	if err != nil {
		return nil, err
	}
	gateway, err := payments.NewRetryingGateway(payments.RetryingGatewayParams{
		Next:    payments.NewSquareGateway(squareClient),
		Config:  cfg.Gateway,
		Metrics: metrics.NewGatewayMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
	})
	if err != nil {
		return nil, err
	}
	notifier, err := notifications.NewOutboxNotifier(notifications.OutboxNotifierParams{
		Outbox: outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}
	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		return nil, err
	}

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
	if err != nil {
		return nil, err
	}
	return shipments.NewService(shipments.ServiceParams{
		Repo:        shipmentRepo,
		Tx:          dbClient,
		Purchases:   purchaseService,
		Notifier:    notifier,
		Logger:      logg,
		GracePeriod: cfg.Sweeper.GracePeriod(),
	})
}

func newRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, shipmentService *shipments.Service, cronMetrics *metrics.CronJobMetrics) (*cron.Registry, error) {
	autoConfirm, err := cron.NewAutoConfirmJob(cron.AutoConfirmJobParams{
		Logger:    logg,
		Sweeper:   shipmentService,
		Metrics:   cronMetrics,
		BatchSize: cfg.Sweeper.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxRetention, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Name:   cron.OutboxRetentionJobName,
		Logger: logg,
		DB:     dbClient,
		Purge: func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
			return outboxRepo.DeletePublishedBefore(tx.WithContext(ctx), cutoff)
		},
		Retention: outboxRetentionWindow(cfg.Outbox),
		Metrics:   cronMetrics,
	})
	if err != nil {
		return nil, err
	}

	notificationRepo := notifications.NewRepository(dbClient.DB())
	notificationRetention, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Name:   cron.NotificationRetentionJobName,
		Logger: logg,
		DB:     dbClient,
		Purge: func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
			return notificationRepo.WithTx(tx).DeleteReadBefore(ctx, cutoff)
		},
		Retention: cron.DefaultNotificationRetention,
		Metrics:   cronMetrics,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(autoConfirm, outboxRetention, notificationRetention)
}

func outboxRetentionWindow(cfg config.OutboxConfig) time.Duration {
	if cfg.RetentionDays <= 0 {
		return cron.DefaultOutboxRetention
	}
	return time.Duration(cfg.RetentionDays) * 24 * time.Hour
}
