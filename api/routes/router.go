package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/catalog-sync/api/controllers"
	"github.com/angelmondragon/catalog-sync/api/middleware"
	"github.com/angelmondragon/catalog-sync/internal/audit"
	"github.com/angelmondragon/catalog-sync/internal/cache"
	"github.com/angelmondragon/catalog-sync/internal/consumer"
	"github.com/angelmondragon/catalog-sync/pkg/config"
	"github.com/angelmondragon/catalog-sync/pkg/db/models"
	"github.com/angelmondragon/catalog-sync/pkg/logger"
)

// CacheReader is the read side of the cache repository exposed over HTTP.
type CacheReader interface {
	HealthCheck(ctx context.Context) cache.HealthReport
	GetSyncStatus(ctx context.Context) (*cache.SyncStatus, error)
	Analytics(ctx context.Context) (*cache.Analytics, error)
}

// DeadLetterReader lists recorded dead letters.
type DeadLetterReader interface {
	List(ctx context.Context, limit int) ([]models.SyncDeadLetter, error)
}

// ConsumerStater reports the pull loop state.
type ConsumerStater interface {
	State() consumer.State
}

// RouterParams wires the health and inspection endpoints.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	Consumer     ConsumerStater
	Cache        CacheReader
	DeadLetters  DeadLetterReader
	Dependencies map[string]audit.HealthCheckable
	Gatherer     prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	logg := params.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	var healthDeps controllers.HealthDeps
	if params.Consumer != nil {
		healthDeps.Consumer = params.Consumer
	}
	if params.Cache != nil {
		healthDeps.Cache = params.Cache
	}
	healthDeps.Dependencies = params.Dependencies

	r.Route("/health", func(r chi.Router) {
		r.Get("/", controllers.Health(params.Config, healthDeps, logg))
		r.Get("/live", controllers.HealthLive(params.Config))
	})

	r.Route("/api/v1/sync", func(r chi.Router) {
		if params.Cache != nil {
			r.Get("/status", controllers.SyncStatus(params.Cache, logg))
			r.Get("/analytics", controllers.SyncAnalytics(params.Cache, logg))
		}
		if params.DeadLetters != nil {
			r.Get("/dead-letters", controllers.DeadLetters(params.DeadLetters, logg))
		}
	})

	return r
}
