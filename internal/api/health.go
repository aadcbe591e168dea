package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/childassess/internal/health"
	"github.com/ashureev/childassess/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	checker *health.Checker
}

// NewHealthHandler creates a new health handler. checker may be nil.
func NewHealthHandler(repo store.Repository, checker *health.Checker) *HealthHandler {
	return &HealthHandler{repo: repo, checker: checker}
}

// Health returns the health status of the API and its dependencies.
// Analysis backends are reported but never fail the check.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.checker != nil {
		for name, st := range h.checker.Snapshot() {
			if name == health.ServiceDatabase {
				continue
			}
			if st.Serving {
				checks[name] = "ok"
			} else {
				checks[name] = "unavailable"
			}
		}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check and metrics routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())
}
