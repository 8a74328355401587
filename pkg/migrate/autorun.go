package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/catalog-sync/pkg/config"
	"github.com/angelmondragon/catalog-sync/pkg/db"
	"github.com/angelmondragon/catalog-sync/pkg/logger"
)

// MaybeRunDev executes migrations automatically when the worker runs in dev mode with
// auto-migrate enabled. sqlite databases are skipped; they are schema-managed by the caller.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.App.AutoMigrate || cfg.DB.UsesSQLite() {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "source": "embedded"})
	logg.Info(ctx, "running goose migrations (dev auto-run)")

	if err := (Runner{DB: sqlDB}).Run(ctx, DirectionUp); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "goose migrations completed")
	return nil
}
