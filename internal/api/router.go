package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/irrigation", func(r chi.Router) {
			r.Route("/controllers", func(r chi.Router) {
				r.Get("/", s.handleListControllers)
				r.Post("/", s.handleRegisterController)
				r.Get("/{id}", s.handleGetController)
			})

			r.Route("/circuits", func(r chi.Router) {
				r.Get("/", s.handleListCircuits)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetCircuit)
					r.Put("/", s.handleSetCircuitState)
					r.Put("/timetable", s.handleSetTimetable)
					r.Delete("/timetable", s.handleClearTimetable)
				})
			})

			r.Get("/readings/{day}", s.handleGetReading)
			r.Post("/reconcile", s.handleReconcile)
		})

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
