package handler

import (
	"encoding/json"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kiranshivaraju/ocrflow/internal/api/response"
	"github.com/kiranshivaraju/ocrflow/internal/output"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// NewSubmitHandler returns POST /api/v1/tasks. The job is validated, a task
// is created and processing starts in the background.
func NewSubmitHandler(tasks Tasks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var job models.Job
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&job); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		job.ID = ""

		id, err := tasks.SubmitAndStart(r.Context(), job)
		if err != nil {
			writeError(w, r, err)
			return
		}
		snap, err := tasks.Progress(id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Accepted(w, snap)
	}
}

// NewListTasksHandler returns GET /api/v1/tasks, newest first. Supports
// ?status=, ?page= and ?limit=.
func NewListTasksHandler(tasks Tasks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := queryInt(q.Get("page"), 1)
		if page < 1 {
			page = 1
		}
		limit := queryInt(q.Get("limit"), defaultPageLimit)
		if limit < 1 {
			limit = defaultPageLimit
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}

		all := tasks.List()
		if status := q.Get("status"); status != "" {
			filtered := all[:0]
			for _, s := range all {
				if string(s.Status) == status {
					filtered = append(filtered, s)
				}
			}
			all = filtered
		}

		start := min((page-1)*limit, len(all))
		end := min(start+limit, len(all))
		items := make([]taskSummary, 0, end-start)
		for _, s := range all[start:end] {
			items = append(items, summarize(s))
		}

		response.Collection(w, items, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   len(all),
			HasNext: end < len(all),
		})
	}
}

type taskSummary struct {
	ID              string            `json:"task_id"`
	SourceRef       string            `json:"source_ref"`
	Provider        string            `json:"provider"`
	Status          models.TaskStatus `json:"status"`
	Phase           models.Phase      `json:"phase,omitempty"`
	ProgressPercent float64           `json:"progress_percent"`
	TotalPages      int               `json:"total_pages"`
	Error           string            `json:"error,omitempty"`
	CreatedAt       string            `json:"created_at"`
}

func summarize(s models.TaskSnapshot) taskSummary {
	return taskSummary{
		ID:              s.ID,
		SourceRef:       s.Job.SourceRef,
		Provider:        s.Job.Provider,
		Status:          s.Status,
		Phase:           s.Phase,
		ProgressPercent: s.ProgressPercent,
		TotalPages:      s.TotalPages,
		Error:           s.Error,
		CreatedAt:       s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// NewGetTaskHandler returns GET /api/v1/tasks/{id}.
func NewGetTaskHandler(tasks Tasks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := tasks.Progress(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, snap)
	}
}

// NewCancelHandler returns POST /api/v1/tasks/{id}/cancel.
func NewCancelHandler(tasks Tasks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := tasks.Cancel(id); err != nil {
			writeError(w, r, err)
			return
		}
		snap, err := tasks.Progress(id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Accepted(w, snap)
	}
}

// NewResumeHandler returns POST /api/v1/tasks/{id}/resume.
func NewResumeHandler(tasks Tasks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		next, err := tasks.Resume(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Accepted(w, map[string]string{
			"task_id":      next,
			"resumed_from": id,
		})
	}
}

// NewDeleteTaskHandler returns DELETE /api/v1/tasks/{id}.
func NewDeleteTaskHandler(tasks Tasks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := tasks.Purge(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// NewOutputHandler returns GET /api/v1/tasks/{id}/output/{key}, serving a
// page, the combined markdown or its HTML rendering.
func NewOutputHandler(tasks Tasks, sink output.Sink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, key := chi.URLParam(r, "id"), chi.URLParam(r, "key")
		if _, err := tasks.Progress(id); err != nil {
			writeError(w, r, err)
			return
		}
		data, err := sink.Read(r.Context(), id, key)
		if err != nil {
			writeError(w, r, err)
			return
		}

		contentType := "text/markdown; charset=utf-8"
		if path.Ext(key) == ".html" {
			contentType = "text/html; charset=utf-8"
		}
		response.Document(w, contentType, data)
	}
}

func queryInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
