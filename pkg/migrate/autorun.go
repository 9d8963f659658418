package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/escrow-backend/pkg/config"
	"github.com/angelmondragon/escrow-backend/pkg/db"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
)

// MaybeRunDev applies pending embedded migrations on boot when the service
// runs in dev with ESCROW_AUTO_MIGRATE set. Other environments migrate with
// cmd/migrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "service": cfg.Service.Kind})
	steps, err := Run(ctx, sqlDB, "", "up")
	for _, step := range steps {
		logg.Debug(logg.WithFields(ctx, map[string]any{
			"version":     step.Version,
			"migration":   step.Name,
			"state":       step.State,
			"duration_ms": step.Duration.Milliseconds(),
		}), "migration applied")
	}
	if err != nil {
		return fmt.Errorf("dev auto-migrate: %w", err)
	}
	logg.Info(logg.WithField(ctx, "applied", len(steps)), "dev auto-migrate complete")
	return nil
}
