// Package httptransport assembles the registry's HTTP surface: lifecycle
// routes, the certificate read path, the ledger feed, and operator endpoints,
// all behind one shared middleware chain.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"conubium/internal/platform/middleware"
	"conubium/pkg/platform/httputil"
)

const defaultRequestTimeout = 30 * time.Second

// Registrar mounts a group of routes on the router. Module handlers
// implement it.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck pings one backing dependency.
type HealthCheck func(ctx context.Context) error

// RouterConfig carries the cross-cutting pieces of the HTTP surface.
type RouterConfig struct {
	Logger         *slog.Logger
	RequestTimeout time.Duration
	// HealthChecks are probed by /healthz, keyed by dependency name.
	HealthChecks map[string]HealthCheck
}

// NewRouter builds the full router. Handler groups are mounted in order after
// the shared middleware chain, /healthz, and /metrics.
func NewRouter(cfg RouterConfig, handlers ...Registrar) http.Handler {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.ContentTypeJSON)

	r.Get("/healthz", handleHealth(cfg.HealthChecks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	for _, h := range handlers {
		h.Register(r)
	}
	return r
}

type healthResponse struct {
	Status  string   `json:"status"`
	Failing []string `json:"failing,omitempty"`
}

func handleHealth(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var failing []string
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failing = append(failing, name)
			}
		}
		if len(failing) > 0 {
			sort.Strings(failing)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
				Status:  "degraded",
				Failing: failing,
			})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
