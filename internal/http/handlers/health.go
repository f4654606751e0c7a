package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/wolfman30/care-analytics-service/pkg/logging"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "analytics-service"

// Pinger is implemented by both aggregators.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	relational Pinger
	document   Pinger
	timeout    time.Duration
	logger     *logging.Logger
}

// NewHealthHandler creates a health handler. document may be nil when the
// document store is not configured or was unreachable at startup.
func NewHealthHandler(relational, document Pinger, logger *logging.Logger) *HealthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthHandler{
		relational: relational,
		document:   document,
		timeout:    2 * time.Second,
		logger:     logger,
	}
}

// HealthCheck handles GET /health. It never touches a store.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
	})
}

// ReadinessResponse reports per-store reachability.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Ready handles GET /ready. The relational store gates readiness; a missing
// document store only degrades it because it backs two endpoints.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := ReadinessResponse{Status: "ready", Checks: map[string]string{}}
	status := http.StatusOK

	if h.relational == nil {
		resp.Checks["relational"] = "unavailable"
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	} else if err := h.relational.Ping(ctx); err != nil {
		h.logger.Warn("relational store not ready", "error", err)
		resp.Checks["relational"] = err.Error()
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	} else {
		resp.Checks["relational"] = "ok"
	}

	if h.document == nil {
		resp.Checks["document"] = "unavailable"
	} else if err := h.document.Ping(ctx); err != nil {
		h.logger.Warn("document store not ready", "error", err)
		resp.Checks["document"] = err.Error()
	} else {
		resp.Checks["document"] = "ok"
	}
	if resp.Status == "ready" && resp.Checks["document"] != "ok" {
		resp.Status = "degraded"
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
