package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-backend/pkg/config"
	"github.com/angelmondragon/escrow-backend/pkg/db"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
	"github.com/angelmondragon/escrow-backend/pkg/env"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
	"github.com/angelmondragon/escrow-backend/pkg/migrate"
	"github.com/angelmondragon/escrow-backend/pkg/outbox"
	"github.com/angelmondragon/escrow-backend/pkg/outbox/registry"
	"github.com/angelmondragon/escrow-backend/pkg/pubsub"
)

func main() {
	listDLQ := flag.Bool("list-dlq", false, "print dead-lettered events and exit")
	dlqReason := flag.String("dlq-reason", "", "filter -list-dlq by reason: max_attempts|non_retryable")
	replay := flag.String("replay", "", "re-arm a dead-lettered event id and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "outbox-publisher"})

	if err := godotenv.Load(env.Get("ESCROW_ENV_FILE", ".env")); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "outbox-publisher"

	logg = logger.New(logger.Options{
		ServiceName: "outbox-publisher",
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

	dlqRepo := outbox.NewDLQRepository(dbClient.DB())
	if *listDLQ || *replay != "" {
		if err := runDLQCommand(context.Background(), logg, dbClient, dlqRepo, *replay, enums.OutboxDLQErrorReason(*dlqReason)); err != nil {
			logg.Error(context.Background(), "dlq command failed", err)
			os.Exit(1)
		}
		return
	}

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		logg.Error(context.Background(), "failed to build event registry", err)
		os.Exit(1)
	}
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: dlqRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox publisher", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"topic":       cfg.PubSub.NotificationTopic,
	})
	logg.Info(ctx, "starting outbox publisher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "outbox publisher shutting down gracefully")
}

func runDLQCommand(ctx context.Context, logg *logger.Logger, dbClient *db.Client, dlq *outbox.DLQRepository, replay string, reason enums.OutboxDLQErrorReason) error {
	if replay != "" {
		eventID, err := uuid.Parse(replay)
		if err != nil {
			return err
		}
		if err := dbClient.WithTx(ctx, func(tx *gorm.DB) error {
			return dlq.ReplayTx(tx, eventID)
		}); err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "event_id", eventID.String()), "dlq event re-armed")
		return nil
	}

	rows, err := dlq.List(ctx, reason, 0)
	if err != nil {
		return err
	}
	for _, row := range rows {
		fields := map[string]any{
			"event_id":      row.EventID.String(),
			"event_type":    row.EventType,
			"aggregate_id":  row.AggregateID.String(),
			"error_reason":  row.ErrorReason,
			"attempt_count": row.AttemptCount,
			"failed_at":     row.FailedAt,
		}
		if row.ErrorMessage != nil {
			fields["error_message"] = *row.ErrorMessage
		}
		logg.Info(logg.WithFields(ctx, fields), "dlq entry")
	}
	logg.Info(logg.WithField(ctx, "count", len(rows)), "dlq listing complete")
	return nil
}
