// Package httptransport assembles the HTTP surface: shared middleware, the
// REST modules, the /ws upgrade endpoint and the operational endpoints.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lagerkoll/internal/platform/metrics"
	"lagerkoll/internal/platform/middleware"
	"lagerkoll/pkg/platform/httputil"
	"lagerkoll/pkg/platform/middleware/metadata"
)

// Module is a REST handler that mounts its own routes.
type Module interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Config carries what the router needs besides the modules.
type Config struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	// AdminToken, when set, lets automation call admin routes with an
	// X-Admin-Token header instead of a JWT.
	AdminToken string
	Health     map[string]HealthCheck
}

// NewRouter wires the middleware chain. REST modules get the request timeout
// and latency metrics; /ws does not, since its connection outlives any
// request deadline.
func NewRouter(cfg Config, ws http.Handler, modules ...Module) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Recovery(logger))
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", healthHandler(cfg.Health))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if ws != nil {
		r.Handle("/ws", ws)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger(logger))
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}
		if cfg.Metrics != nil {
			r.Use(middleware.LatencyMiddleware(cfg.Metrics))
		}
		r.Use(middleware.AdminToken(cfg.AdminToken, logger))
		for _, m := range modules {
			m.Register(r)
		}
	})
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		report := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				report[name] = err.Error()
				continue
			}
			report[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{
			"status": http.StatusText(status),
			"checks": report,
		})
	}
}
