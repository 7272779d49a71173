package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sequences/{id}/enroll", h.Enroll)

		r.Get("/enrollments/{id}", h.GetEnrollment)
		r.Post("/enrollments/{id}/pause", h.PauseEnrollment)
		r.Post("/enrollments/{id}/resume", h.ResumeEnrollment)

		r.Get("/pending-emails", h.ListPending)
		r.Post("/pending-emails/bulk", h.BulkReview)
		r.Post("/pending-emails/{id}/review", h.ReviewPending)

		r.Post("/events/reply", h.ReplyEvent)
		r.Post("/events/bounce", h.BounceEvent)

		r.Post("/scheduler/tick", h.SchedulerTick)

		r.Get("/usage", h.Usage)
	})

	return r
}
