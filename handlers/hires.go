package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/upb/hr-onboarding/app"
	"github.com/upb/hr-onboarding/middleware"
	"github.com/upb/hr-onboarding/models"
	"github.com/upb/hr-onboarding/repositories"
	"github.com/upb/hr-onboarding/services"
	"github.com/upb/hr-onboarding/utils"
	"go.uber.org/zap"
)

// HireView is one row of the hire listing
type HireView struct {
	HireID     string               `json:"hire_id"`
	Name       string               `json:"name"`
	Department string               `json:"department"`
	CreatedAt  time.Time            `json:"created_at"`
	Status     models.OverallStatus `json:"status"`
	Blocked    []models.StepName    `json:"blocked,omitempty"`
}

// HireDetail is a record with its derived step states
type HireDetail struct {
	Record  *models.OnboardingRecord             `json:"record"`
	Steps   map[models.StepName]models.StepState `json:"steps"`
	Status  models.OverallStatus                 `json:"status"`
	Blocked []models.StepName                    `json:"blocked,omitempty"`
}

// ListHiresHandler lists records created within the resume window,
// optionally filtered by ?status=
func ListHiresHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filter models.OverallStatus
		if raw := r.URL.Query().Get("status"); raw != "" {
			st, ok := models.ParseOverallStatus(raw)
			if !ok {
				_ = utils.WriteBadRequest(w, "unknown status filter", map[string]interface{}{
					"status":  raw,
					"allowed": models.AllOverallStatuses,
				})
				return
			}
			filter = st
		}

		var since time.Time
		if window := deps.Orchestrator.Config().ResumeWindow; window > 0 {
			since = time.Now().UTC().Add(-window)
		}

		records, err := deps.Repos.Onboarding.ListCreatedSince(r.Context(), since)
		if err != nil {
			HandleServiceError(w, services.WrapStateStore("failed to list onboarding records", err), deps.Logger)
			return
		}

		view := deps.Executor.Config().View()
		out := make([]HireView, 0, len(records))
		for _, rec := range records {
			st := rec.OverallStatus(view)
			if filter != "" && st != filter {
				continue
			}
			out = append(out, HireView{
				HireID:     rec.HireID,
				Name:       rec.Hire.Name,
				Department: rec.Hire.Department,
				CreatedAt:  rec.CreatedAt,
				Status:     st,
				Blocked:    rec.BlockedSteps(view),
			})
		}
		_ = utils.WriteOK(w, out)
	}
}

// GetHireHandler returns a record with per-step states and overall status
func GetHireHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hireID := chi.URLParam(r, "id")

		rec, err := deps.Repos.Onboarding.Get(r.Context(), hireID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				HandleServiceError(w, services.NewDomainError(services.ErrorTypeNotFound,
					"onboarding record not found", err).WithDetail("hire_id", hireID), deps.Logger)
				return
			}
			HandleServiceError(w, services.WrapStateStore("failed to load onboarding record", err), deps.Logger)
			return
		}

		view := deps.Executor.Config().View()
		_ = utils.WriteOK(w, HireDetail{
			Record:  rec,
			Steps:   rec.StepStates(view),
			Status:  rec.OverallStatus(view),
			Blocked: rec.BlockedSteps(view),
		})
	}
}

// ResetStepHandler unblocks a Blocked step so the next cycle retries it
func ResetStepHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hireID := chi.URLParam(r, "id")
		step := models.StepName(chi.URLParam(r, "step"))

		marker, err := deps.Executor.ResetStep(r.Context(), hireID, step)
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		deps.Logger.Info("step reset requested",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("operator", middleware.Operator(r.Context())),
			zap.String("hire_id", hireID),
			zap.String("step", string(step)))
		_ = utils.WriteOK(w, marker)
	}
}
