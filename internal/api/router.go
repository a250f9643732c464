package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/deckvault/deckvault-core/internal/access"
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

		// Credential endpoints. Maintenance mode is enforced inside the
		// handlers once the caller's role is known, so admins can still
		// log in.
		r.Group(func(r chi.Router) {
			r.Use(access.Pipeline(writeRejection, s.gate.Identify))
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/refresh", s.handleRefresh)
			r.Post("/auth/logout", s.handleLogout)
		})

		// Any authenticated user
		r.Group(func(r chi.Router) {
			r.Use(s.guard())
			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/password", s.handleChangePassword)
			r.Get("/auth/sessions", s.handleListSessions)
			r.Delete("/auth/sessions", s.handleRevokeOtherSessions)
		})

		r.With(s.guard(s.gate.Owns(s.loadSession))).
			Delete("/auth/sessions/{id}", s.handleRevokeSession)

		// Admin only
		r.Group(func(r chi.Router) {
			r.Use(s.guard(s.gate.RequireAdmin()))

			r.Route("/users", func(r chi.Router) {
				r.Get("/", s.handleListUsers)
				r.Patch("/{id}", s.handleUpdateUser)
				r.Delete("/{id}", s.handleDeleteUser)
			})

			r.Get("/settings/maintenance", s.handleGetMaintenance)
			r.Put("/settings/maintenance", s.handleSetMaintenance)

			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// guard builds the pipeline for a protected route: identify, maintenance,
// authentication, the route's own stages, then rate limiting.
func (s *Server) guard(stages ...access.Stage) func(http.Handler) http.Handler {
	all := make([]access.Stage, 0, len(stages)+4)
	all = append(all, s.gate.Identify, s.gate.CheckMaintenanceMode, s.gate.RequireAuth)
	all = append(all, stages...)
	all = append(all, s.gate.RateLimit(s.limiter))
	return access.Pipeline(writeRejection, all...)
}

// handleHealth reports server and storage health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			s.logger.Error("database health check failed", "error", err)
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = "unavailable"
		} else {
			body["database"] = "ok"
		}
	}
	writeJSON(w, status, body)
}
