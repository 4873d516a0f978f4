package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/ocrflow/internal/api/response"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// UploadConfig bounds and places uploaded documents.
type UploadConfig struct {
	Dir      string
	MaxBytes int64
	// Supported reports whether a file name has a convertible format.
	Supported func(name string) bool
}

type uploadResponse struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
}

// NewUploadHandler returns POST /api/v1/documents. The multipart field "file"
// is stored under a unique name which later jobs use as their source_ref.
func NewUploadHandler(cfg UploadConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxBytes)

		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
					fmt.Sprintf("Upload exceeds %d bytes", cfg.MaxBytes), nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "multipart field \"file\" is required", nil)
			return
		}
		defer file.Close()

		base := sanitizeName(header.Filename)
		if base == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file name is required", nil)
			return
		}
		if cfg.Supported != nil && !cfg.Supported(base) {
			response.Error(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT",
				fmt.Sprintf("Unsupported document format %q", filepath.Ext(base)), nil)
			return
		}

		name := uuid.NewString()[:8] + "_" + base
		n, err := saveUpload(cfg.Dir, name, file)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
					fmt.Sprintf("Upload exceeds %d bytes", cfg.MaxBytes), nil)
				return
			}
			writeError(w, r, err)
			return
		}
		response.Created(w, uploadResponse{Name: name, SizeBytes: n})
	}
}

func sanitizeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = unsafeNameChars.ReplaceAllString(base, "_")
	base = strings.TrimLeft(base, ".")
	if base == "" || base == "_" {
		return ""
	}
	return base
}

// saveUpload writes src to dir/name through a temp file so a partial upload
// is never visible under the final name.
func saveUpload(dir, name string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create upload directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return 0, fmt.Errorf("store upload: %w", err)
	}
	return n, nil
}

// NewAnalysisHandler returns GET /api/v1/documents/{name}/analysis.
func NewAnalysisHandler(tasks Tasks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile, err := tasks.Analyze(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{
			"page_count":             profile.PageCount,
			"size_bytes":             profile.SizeBytes,
			"avg_page_bytes":         profile.AvgPageBytes(),
			"has_images":             profile.HasImages,
			"estimated_memory_bytes": profile.EstimatedMemoryBytes,
			"needs_splitting":        profile.NeedsSplitting,
			"recommended_strategy":   profile.Recommended,
		})
	}
}
