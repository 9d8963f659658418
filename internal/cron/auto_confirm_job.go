package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/escrow-backend/internal/shipments"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
	"github.com/angelmondragon/escrow-backend/pkg/metrics"
)

const (
	autoConfirmJobName      = "shipments-auto-confirm"
	defaultAutoConfirmBatch = 200
)

type sweeper interface {
	AutoConfirmSweep(ctx context.Context, limit int) (shipments.SweepResult, error)
}

type AutoConfirmJobParams struct {
	Logger    *logger.Logger
	Sweeper   sweeper
	Metrics   *metrics.CronJobMetrics
	BatchSize int
}

// autoConfirmJob confirms delivery of shipments the buyer never acknowledged
// once the grace period is over.
type autoConfirmJob struct {
	logg    *logger.Logger
	sweeper sweeper
	metrics *metrics.CronJobMetrics
	batch   int
}

func NewAutoConfirmJob(params AutoConfirmJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("shipment sweeper required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultAutoConfirmBatch
	}
	return &autoConfirmJob{
		logg:    params.Logger,
		sweeper: params.Sweeper,
		metrics: params.Metrics,
		batch:   batch,
	}, nil
}

func (j *autoConfirmJob) Name() string { return autoConfirmJobName }

func (j *autoConfirmJob) Run(ctx context.Context) error {
	result, err := j.sweeper.AutoConfirmSweep(ctx, j.batch)
	j.metrics.AddItems(autoConfirmJobName, "confirmed", result.Confirmed)
	j.metrics.AddItems(autoConfirmJobName, "skipped", result.Skipped)
	j.metrics.AddItems(autoConfirmJobName, "failed", result.Failed)

	ctx = j.logg.WithFields(ctx, map[string]any{
		"scanned":   result.Scanned,
		"confirmed": result.Confirmed,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
	})
	if err != nil {
		return fmt.Errorf("auto-confirm sweep: %w", err)
	}
	j.logg.Info(ctx, "auto-confirm sweep finished")
	return nil
}
