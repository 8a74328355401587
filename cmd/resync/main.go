package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/catalog-sync/internal/cache"
	"github.com/angelmondragon/catalog-sync/pkg/config"
	"github.com/angelmondragon/catalog-sync/pkg/db"
	"github.com/angelmondragon/catalog-sync/pkg/logger"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "resync"})

	_ = godotenv.Load()

	file := flag.String("file", "", "path to a JSON array of product payloads")
	dryRun := flag.Bool("dry-run", false, "parse the snapshot without touching the cache")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "missing -file")
		os.Exit(1)
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "resync",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "file": *file})

	f, err := os.Open(*file)
	requireResource(ctx, logg, "snapshot file", err)
	defer f.Close()

	snapshot, err := loadSnapshot(f, time.Now())
	requireResource(ctx, logg, "snapshot", err)

	ctx = logg.WithFields(ctx, map[string]any{
		"active":   len(snapshot.Entries),
		"inactive": snapshot.Inactive,
		"invalid":  len(snapshot.Invalid),
	})
	for _, problem := range snapshot.Invalid {
		logg.Warn(logg.WithField(ctx, "problem", problem), "skipping invalid product")
	}
	if *dryRun {
		logg.Info(ctx, "dry run complete")
		return
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	repo := cache.NewRepository(dbClient.DB(), cfg.Cache.StalenessThreshold)
	removed, written, err := repo.Replace(runCtx, snapshot.Entries)
	requireResource(ctx, logg, "cache replace", err)

	logg.Info(logg.WithFields(ctx, map[string]any{"removed": removed, "written": written}), "resync complete")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
