package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the database probe of the health endpoint.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Panel endpoint. Panels authenticate with their first frame.
	r.Get(s.wsPath(), s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Group(func(r chi.Router) {
			r.Use(s.adminMiddleware)

			r.Get("/sessions", s.handleListSessions)
			r.Delete("/sessions/{installationID}", s.handleEvictSession)
			r.Put("/clients/{installationID}/configuration", s.handleUpdateConfiguration)
			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth reports the gateway status.
//
// The gateway is unhealthy when its credential store fails and degraded
// while the upstream hub is unreachable; panels stay connected in both cases.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := map[string]string{}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.db.HealthCheck(ctx); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			checks["database"] = "error"
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	if s.upstream != nil {
		if s.upstream.Stats().Connected {
			checks["home_assistant"] = "connected"
		} else {
			checks["home_assistant"] = "disconnected"
			if status == "ok" {
				status = "degraded"
			}
		}
	}

	writeJSON(w, code, map[string]any{
		"status":   status,
		"version":  s.version,
		"sessions": s.registry.Count(),
		"checks":   checks,
	})
}
