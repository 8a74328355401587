package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/angelmondragon/catalog-sync/api/responses"
	"github.com/angelmondragon/catalog-sync/internal/cache"
	"github.com/angelmondragon/catalog-sync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/catalog-sync/pkg/errors"
	"github.com/angelmondragon/catalog-sync/pkg/logger"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

type syncStatusReader interface {
	GetSyncStatus(ctx context.Context) (*cache.SyncStatus, error)
}

type analyticsReader interface {
	Analytics(ctx context.Context) (*cache.Analytics, error)
}

type deadLetterLister interface {
	List(ctx context.Context, limit int) ([]models.SyncDeadLetter, error)
}

func SyncStatus(repo syncStatusReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := repo.GetSyncStatus(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

func SyncAnalytics(repo analyticsReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		analytics, err := repo.Analytics(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, analytics)
	}
}

// DeadLetters lists the newest dead-lettered messages for manual inspection.
func DeadLetters(repo deadLetterLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseQueryInt(r, "limit", defaultDeadLetterLimit, 1, maxDeadLetterLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := repo.List(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"items": rows,
			"count": len(rows),
		})
	}
}

func parseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be numeric").WithDetails(map[string]any{"field": key})
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter out of range").WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}
