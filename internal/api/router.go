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
		r.Get("/activity", s.handleListActivity)

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", s.handleListWorkflows)
			r.Post("/", s.handleCreateWorkflow)
			r.Post("/import", s.handleImportWorkflow)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetWorkflow)
				r.Delete("/", s.handleDeleteWorkflow)
				r.Get("/export", s.handleExportWorkflow)
				r.Post("/expand", s.handleExpandTemplate)

				// Live editing
				r.Get("/session", s.handleGetSession)
				r.Post("/session/commands", s.handleSessionCommand)
				r.Delete("/session", s.handleCloseSession)
				r.Get("/ws", s.handleWebSocket)
			})
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Post("/{id}/instantiate", s.handleInstantiateTemplate)

			r.Get("/actions", s.handleListActionTemplates)
			r.Post("/actions", s.handleCreateActionTemplate)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"version":          s.version,
		"open_sessions":    s.sessions.Len(),
		"live_connections": s.hub.ClientCount(),
	})
}
