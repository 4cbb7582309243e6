package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/yourorg/clinicops/internal/handler/respond"
)

// Checker reports whether a dependency is reachable
type Checker func(ctx context.Context) error

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checks map[string]Checker
	logger *slog.Logger
}

// NewHealthHandler creates a new health handler. checks maps a dependency
// name (e.g. "postgres", "redis") to its check.
func NewHealthHandler(checks map[string]Checker, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{checks: checks, logger: logger}
}

// HealthResponse represents the health status response
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health handles GET /healthz - simple liveness check
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready handles GET /readyz. It returns 200 only if every dependency
// answers within the timeout.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = "error: " + err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !healthy {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		h.logger.Warn("readiness check failed", slog.Any("checks", checks))
	}

	respond.JSON(w, statusCode, ReadinessResponse{Status: status, Checks: checks})
}
