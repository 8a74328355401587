package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/angelmondragon/catalog-sync/api/responses"
	"github.com/angelmondragon/catalog-sync/internal/audit"
	"github.com/angelmondragon/catalog-sync/internal/cache"
	"github.com/angelmondragon/catalog-sync/internal/consumer"
	"github.com/angelmondragon/catalog-sync/pkg/config"
	"github.com/angelmondragon/catalog-sync/pkg/logger"
)

const (
	envHeader          = "X-CatalogSync-Env"
	dependencyTimeout  = 3 * time.Second
	dependencyOK       = "ok"
	dependencyDegraded = "degraded"
)

type consumerStater interface {
	State() consumer.State
}

type cacheHealthChecker interface {
	HealthCheck(ctx context.Context) cache.HealthReport
}

// Pinger is satisfied by clients exposing a connectivity probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type pingCheck struct {
	pinger Pinger
}

func (p pingCheck) CheckHealth(ctx context.Context) error {
	return p.pinger.Ping(ctx)
}

// PingCheck adapts a Pinger to audit.HealthCheckable.
func PingCheck(p Pinger) audit.HealthCheckable {
	return pingCheck{pinger: p}
}

// HealthDeps lists what GET /health inspects. Dependencies are optional collaborators
// (cache push API, notifier, redis) keyed by the name reported in the response.
type HealthDeps struct {
	Consumer     consumerStater
	Cache        cacheHealthChecker
	Dependencies map[string]audit.HealthCheckable
}

type healthResponse struct {
	Status       string              `json:"status"`
	Consumer     *consumer.State     `json:"consumer,omitempty"`
	Cache        *cache.HealthReport `json:"cache,omitempty"`
	Dependencies map[string]string   `json:"dependencies,omitempty"`
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// Health reports 200 while the pipeline is healthy or degraded and 503 once the
// cache store is unreachable or the consumer loop has stopped.
func Health(cfg *config.Config, deps HealthDeps, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		ctx := r.Context()

		resp := healthResponse{Status: cache.HealthHealthy}

		if deps.Consumer != nil {
			state := deps.Consumer.State()
			resp.Consumer = &state
			switch {
			case !state.Running:
				resp.Status = cache.HealthError
			case !state.Connected:
				resp.Status = worse(resp.Status, cache.HealthDegraded)
			}
		}

		if deps.Cache != nil {
			report := deps.Cache.HealthCheck(ctx)
			resp.Cache = &report
			resp.Status = worse(resp.Status, report.Status)
		}

		if len(deps.Dependencies) > 0 {
			resp.Dependencies = make(map[string]string, len(deps.Dependencies))
			names := make([]string, 0, len(deps.Dependencies))
			for name := range deps.Dependencies {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				checkCtx, cancel := context.WithTimeout(ctx, dependencyTimeout)
				err := deps.Dependencies[name].CheckHealth(checkCtx)
				cancel()
				if err != nil {
					if logg != nil {
						logg.Warn(logg.WithFields(ctx, map[string]any{"dependency": name, "error": err.Error()}), "dependency health check failed")
					}
					resp.Dependencies[name] = dependencyDegraded
					resp.Status = worse(resp.Status, cache.HealthDegraded)
					continue
				}
				resp.Dependencies[name] = dependencyOK
			}
		}

		status := http.StatusOK
		if resp.Status == cache.HealthError {
			status = http.StatusServiceUnavailable
		}
		responses.WriteSuccessStatus(w, status, resp)
	}
}

func worse(current, candidate string) string {
	rank := map[string]int{cache.HealthHealthy: 0, cache.HealthDegraded: 1, cache.HealthError: 2}
	if rank[candidate] > rank[current] {
		return candidate
	}
	return current
}
