package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/hr-onboarding/app"
	"github.com/upb/hr-onboarding/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck returns a simple health check handler
func HealthCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadinessCheck reports whether the state store is reachable
func ReadinessCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		response := HealthResponse{
			Status:    "ready",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    map[string]string{},
		}

		if deps.Repos == nil {
			response.Status = "not_ready"
			response.Checks["state_store"] = "not_initialized"
		} else if err := deps.Repos.Onboarding.Ping(ctx); err != nil {
			response.Status = "not_ready"
			response.Checks["state_store"] = "unhealthy"
			deps.Logger.Error("state store health check failed", zap.Error(err))
		} else {
			response.Checks["state_store"] = "healthy"
		}

		if deps.Source == nil {
			response.Checks["source_of_hire"] = "not_configured"
		} else {
			response.Checks["source_of_hire"] = "configured"
		}

		status := http.StatusOK
		if response.Status != "ready" {
			status = http.StatusServiceUnavailable
		}
		_ = utils.WriteJSON(w, status, response)
	}
}

// StatusHandler returns the summary of the last finished cycle
func StatusHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary := deps.Orchestrator.LastSummary()
		if summary == nil {
			_ = utils.WriteNotFound(w, "no cycle has finished yet")
			return
		}
		_ = utils.WriteOK(w, summary)
	}
}
