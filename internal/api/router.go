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

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/token", s.handleLogin)
		r.Post("/auth/forgot-password", s.handleForgotPassword)

		// WebSocket ingestion (token validated in handler after upgrade)
		r.Get("/sensors/ws", s.handleSensorSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleGetMe)
			r.Put("/auth/me", s.handleUpdateMe)
			r.Post("/auth/change-password", s.handleChangePassword)

			r.Route("/sensors", func(r chi.Router) {
				r.Get("/data", s.handleListReadings)
				r.Get("/data/latest", s.handleLatestReading)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	counts := s.registry.CountsFor("")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     s.version,
		"connections": counts.Total,
	})
}
