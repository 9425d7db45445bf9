package handlers

import (
	"context"
	"net/http"

	"github.com/upb/hr-onboarding/app"
	"github.com/upb/hr-onboarding/middleware"
	"github.com/upb/hr-onboarding/utils"
	"go.uber.org/zap"
)

// TriggerCycleHandler starts a cycle now. It answers 409 while one is active.
func TriggerCycleHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// the cycle outlives the request; the cycle timeout and agent shutdown bound it
		if err := deps.Orchestrator.StartCycle(context.WithoutCancel(r.Context())); err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		deps.Logger.Info("cycle triggered",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("operator", middleware.Operator(r.Context())))
		_ = utils.WriteAccepted(w, "cycle started")
	}
}
