package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"moltens/internal/claim"
	"moltens/internal/platform/metrics"
	"moltens/internal/platform/middleware"
	"moltens/pkg/platform/httputil"
	"moltens/pkg/platform/middleware/metadata"
	"moltens/pkg/platform/middleware/requesttime"
)

const (
	minAPITimeout    = 30 * time.Second
	apiTimeoutMargin = 5 * time.Second
)

// apiTimeoutFor sizes the /api deadline so a verify can walk every profile
// location before the request is cut off.
func apiTimeoutFor(oracleBudget time.Duration) time.Duration {
	return max(minAPITimeout, oracleBudget+apiTimeoutMargin)
}

// readinessCheck reports whether one backing dependency can serve traffic.
type readinessCheck func(ctx context.Context) error

type routerDeps struct {
	logger     *slog.Logger
	claims     *claim.Handler
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	readiness  map[string]readinessCheck
	apiTimeout time.Duration
}

func newRouter(deps routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.logger))
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(deps.logger))
	r.Use(middleware.LatencyMiddleware(deps.metrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", handleReady(deps.logger, deps.readiness))
	if deps.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.gatherer, promhttp.HandlerOpts{}))
	}

	apiTimeout := deps.apiTimeout
	if apiTimeout <= 0 {
		apiTimeout = minAPITimeout
	}
	r.Group(func(api chi.Router) {
		api.Use(middleware.Timeout(apiTimeout))
		api.Use(middleware.ContentTypeJSON)
		deps.claims.Register(api)
	})
	return r
}

func handleReady(logger *slog.Logger, checks map[string]readinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "readiness check failed",
					"dependency", name,
					"error", err,
				)
				results[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{
			"status": http.StatusText(status),
			"checks": results,
		})
	}
}
