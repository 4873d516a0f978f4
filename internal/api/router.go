package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/ocrflow/internal/api/middleware"
	"github.com/kiranshivaraju/ocrflow/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	// RateLimit is optional; nil disables rate limiting.
	RateLimit *mw.RateLimit

	HealthHandler    http.HandlerFunc
	ProvidersHandler http.HandlerFunc

	UploadHandler   http.HandlerFunc
	AnalysisHandler http.HandlerFunc

	SubmitHandler     http.HandlerFunc
	ListTasksHandler  http.HandlerFunc
	GetTaskHandler    http.HandlerFunc
	StreamHandler     http.HandlerFunc
	CancelHandler     http.HandlerFunc
	ResumeHandler     http.HandlerFunc
	DeleteTaskHandler http.HandlerFunc
	OutputHandler     http.HandlerFunc

	CacheStatsHandler   http.HandlerFunc
	CacheCleanupHandler http.HandlerFunc
	CacheClearHandler   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.ClientID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Get("/api/v1/providers", orNotImplemented(deps.ProvidersHandler))

		r.Post("/api/v1/documents", orNotImplemented(deps.UploadHandler))
		r.Get("/api/v1/documents/{name}/analysis", orNotImplemented(deps.AnalysisHandler))

		r.Post("/api/v1/tasks", orNotImplemented(deps.SubmitHandler))
		r.Get("/api/v1/tasks", orNotImplemented(deps.ListTasksHandler))
		r.Get("/api/v1/tasks/{id}", orNotImplemented(deps.GetTaskHandler))
		r.Get("/api/v1/tasks/{id}/stream", orNotImplemented(deps.StreamHandler))
		r.Post("/api/v1/tasks/{id}/cancel", orNotImplemented(deps.CancelHandler))
		r.Post("/api/v1/tasks/{id}/resume", orNotImplemented(deps.ResumeHandler))
		r.Delete("/api/v1/tasks/{id}", orNotImplemented(deps.DeleteTaskHandler))
		r.Get("/api/v1/tasks/{id}/output/{key}", orNotImplemented(deps.OutputHandler))

		r.Get("/api/v1/cache/stats", orNotImplemented(deps.CacheStatsHandler))
		r.Post("/api/v1/cache/cleanup", orNotImplemented(deps.CacheCleanupHandler))
		r.Delete("/api/v1/cache", orNotImplemented(deps.CacheClearHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
