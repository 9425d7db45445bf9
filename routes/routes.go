package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/hr-onboarding/app"
	"github.com/upb/hr-onboarding/handlers"
	"github.com/upb/hr-onboarding/utils"
)

// SetupRoutes configures the operations API routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", handlers.HealthCheck(deps))
	r.Get("/readyz", handlers.ReadinessCheck(deps))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)

		r.Get("/status", handlers.StatusHandler(deps))
		r.Post("/cycles", handlers.TriggerCycleHandler(deps))

		r.Route("/hires", func(r chi.Router) {
			r.Get("/", handlers.ListHiresHandler(deps))
			r.Get("/{id}", handlers.GetHireHandler(deps))
			r.Post("/{id}/steps/{step}/reset", handlers.ResetStepHandler(deps))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "The requested resource was not found")
	})

	return r
}
