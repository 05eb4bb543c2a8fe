package api

import (
	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
func NewRouter(h *Handler, authEnabled bool, token string) chi.Router {
	bh := NewBackupHandler(h.store)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Document.
	r.Get("/document", h.GetDocument)

	// Plan execution.
	r.Post("/plan/preflight", h.PreflightPlan)
	r.Post("/plan/execute", h.ExecutePlan)

	// Rollback.
	r.Post("/rollback", h.Rollback)

	// Backups.
	r.Get("/backups", h.ListBackups)
	r.Get("/backups/{name}", bh.Download)

	// Audit timeline.
	r.Get("/audit", h.AuditTimeline)

	return r
}
