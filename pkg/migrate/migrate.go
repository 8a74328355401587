package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where new migrations are created and validated on disk.
const DefaultDir = "pkg/migrate/migrations"

const embeddedDir = "migrations"

// Embedded holds the migrations compiled into the binary.
//
//go:embed migrations/*.sql
var Embedded embed.FS

// goose keeps dialect and base filesystem in package globals.
var gooseMu sync.Mutex

// Direction names a goose command the runner accepts.
type Direction string

const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionStatus Direction = "status"
)

// Runner applies catalog-sync migrations to one database. An empty Dir reads the
// migrations embedded in the binary.
type Runner struct {
	DB  *sql.DB
	Dir string
}

// Run executes a goose command. A successful "up" is followed by VerifySchema so a
// worker never starts against a half-migrated cache.
func (r Runner) Run(ctx context.Context, direction Direction) error {
	if r.DB == nil {
		return errors.New("db is required")
	}
	switch direction {
	case DirectionUp, DirectionDown, DirectionStatus:
	default:
		return fmt.Errorf("unsupported migration command %q", direction)
	}

	err := r.withGoose(func(dir string) error {
		if err := goose.RunContext(ctx, string(direction), r.DB, dir); err != nil {
			return fmt.Errorf("goose %s: %w", direction, err)
		}
		return nil
	})
	if err != nil || direction != DirectionUp {
		return err
	}
	return VerifySchema(ctx, r.DB)
}

// ToVersion migrates up or down until the database sits at targetVersion.
func (r Runner) ToVersion(ctx context.Context, targetVersion string) error {
	if r.DB == nil {
		return errors.New("db is required")
	}
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	return r.withGoose(func(dir string) error {
		current, err := goose.GetDBVersion(r.DB)
		if err != nil {
			return fmt.Errorf("get db version: %w", err)
		}
		switch {
		case current == target:
			return nil
		case current < target:
			if err := goose.UpToContext(ctx, r.DB, dir, target); err != nil {
				return fmt.Errorf("goose up-to %d: %w", target, err)
			}
		default:
			if err := goose.DownToContext(ctx, r.DB, dir, target); err != nil {
				return fmt.Errorf("goose down-to %d: %w", target, err)
			}
		}
		return nil
	})
}

func (r Runner) withGoose(fn func(dir string) error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	// migrations use postgres types (jsonb, timestamptz, gen_random_uuid)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	dir := r.Dir
	if dir == "" {
		goose.SetBaseFS(Embedded)
		defer goose.SetBaseFS(nil)
		dir = embeddedDir
	}
	return fn(dir)
}
