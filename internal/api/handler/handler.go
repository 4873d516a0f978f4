// Package handler implements the HTTP endpoints of the ocrflow API.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/ocrflow/internal/api/response"
	"github.com/kiranshivaraju/ocrflow/internal/cache"
	"github.com/kiranshivaraju/ocrflow/internal/document"
	"github.com/kiranshivaraju/ocrflow/internal/orchestrator"
	"github.com/kiranshivaraju/ocrflow/internal/output"
	"github.com/kiranshivaraju/ocrflow/internal/splitter"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

// Tasks is the orchestrator surface the task endpoints depend on.
type Tasks interface {
	SubmitAndStart(ctx context.Context, job models.Job) (string, error)
	Progress(id string) (models.TaskSnapshot, error)
	List() []models.TaskSnapshot
	Cancel(id string) error
	Resume(ctx context.Context, id string) (string, error)
	Purge(ctx context.Context, id string) error
	Subscribe(id string) (<-chan struct{}, func(), error)
	Analyze(ctx context.Context, ref string) (splitter.Profile, error)
}

var _ Tasks = (*orchestrator.Orchestrator)(nil)

// Pinger is anything the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidJob):
		response.Error(w, http.StatusBadRequest, "INVALID_JOB", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrTaskNotFound), errors.Is(err, output.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, output.ErrInvalidKey):
		response.Error(w, http.StatusBadRequest, "INVALID_KEY", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrTaskActive),
		errors.Is(err, orchestrator.ErrTaskFinished),
		errors.Is(err, orchestrator.ErrNotResumable):
		response.Error(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrShuttingDown):
		response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server is shutting down", nil)
	case errors.Is(err, document.ErrConversion):
		response.Error(w, http.StatusUnprocessableEntity, "CONVERSION_FAILED", err.Error(), nil)
	case errors.Is(err, cache.ErrUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", "The cache backend is not available", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
