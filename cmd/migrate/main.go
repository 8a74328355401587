package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/angelmondragon/catalog-sync/pkg/config"
	"github.com/angelmondragon/catalog-sync/pkg/db"
	"github.com/angelmondragon/catalog-sync/pkg/logger"
	"github.com/angelmondragon/catalog-sync/pkg/migrate"
	"github.com/joho/godotenv"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "catalog-sync-migrate"})

	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "up|down|status|version|verify|create|validate")
	flag.StringVar(&opts.dir, "dir", "", "migrations directory (empty uses the embedded set; create and validate default to "+migrate.DefaultDir+")")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// create and validate only touch files on disk
	if opts.cmd == "create" || opts.cmd == "validate" {
		if err := runOffline(opts); err != nil {
			fmt.Fprintf(os.Stderr, "migrate %s: %v\n", opts.cmd, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "catalog-sync-migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	source := opts.dir
	if source == "" {
		source = "embedded"
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"env":    cfg.App.Env,
		"cmd":    opts.cmd,
		"source": source,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	runner := migrate.Runner{DB: sqlDB, Dir: opts.dir}
	switch opts.cmd {
	case "up", "down", "status":
		err = runner.Run(ctx, migrate.Direction(opts.cmd))
	case "version":
		if opts.version == "" {
			fmt.Fprintln(os.Stderr, "missing -version for version command")
			os.Exit(1)
		}
		err = runner.ToVersion(ctx, opts.version)
	case "verify":
		err = migrate.VerifySchema(ctx, sqlDB)
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", opts.cmd)
		os.Exit(1)
	}
	if err != nil {
		logg.Error(ctx, "migration command failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration command completed")
}

func runOffline(opts options) error {
	dir := opts.dir
	if dir == "" {
		dir = migrate.DefaultDir
	}
	if opts.cmd == "validate" {
		if err := migrate.ValidateDir(dir); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	}

	if opts.name == "" {
		return fmt.Errorf("missing -name for create")
	}
	path, err := migrate.CreateSQLMigration(dir, opts.name)
	if err != nil {
		return err
	}
	fmt.Println("created migration:", path)
	return nil
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
