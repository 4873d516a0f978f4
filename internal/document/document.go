// Package document turns source files into page images for recognition.
package document

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

// ErrConversion is returned when a document cannot be read or rendered.
var ErrConversion = errors.New("document conversion failed")

// Info is what can be learned about a document without rendering it.
type Info struct {
	Format    string `json:"format"`
	PageCount int    `json:"page_count"`
	SizeBytes int64  `json:"size_bytes"`
	HasImages bool   `json:"has_images"`
}

// Converter reads a document from local storage.
type Converter interface {
	Inspect(ctx context.Context, path string) (Info, error)
	// RenderPages returns one image per page of r, in page order.
	RenderPages(ctx context.Context, path string, r models.PageRange, dpi int) ([]models.PageImage, error)
}

var officeExtensions = map[string]bool{
	".doc": true, ".docx": true, ".odt": true, ".rtf": true,
	".ppt": true, ".pptx": true, ".odp": true,
	".xls": true, ".xlsx": true, ".ods": true,
}

// Router dispatches to a converter by file extension.
type Router struct {
	pdf   Converter
	image Converter
}

// NewRouter creates a Router with the PDF and image converters.
func NewRouter(tempDir string) *Router {
	return &Router{pdf: NewPDFConverter(tempDir), image: NewImageConverter()}
}

func (r *Router) pick(path string) (Converter, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pdf":
		return r.pdf, nil
	case imageMIME(ext) != "":
		return r.image, nil
	case officeExtensions[ext]:
		return nil, fmt.Errorf("%w: %s documents must be converted to PDF first", ErrConversion, ext)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrConversion, ext)
	}
}

// Supported reports whether path has an extension the router can render.
func (r *Router) Supported(path string) bool {
	_, err := r.pick(path)
	return err == nil
}

func (r *Router) Inspect(ctx context.Context, path string) (Info, error) {
	c, err := r.pick(path)
	if err != nil {
		return Info{}, err
	}
	return c.Inspect(ctx, path)
}

func (r *Router) RenderPages(ctx context.Context, path string, pr models.PageRange, dpi int) ([]models.PageImage, error) {
	c, err := r.pick(path)
	if err != nil {
		return nil, err
	}
	return c.RenderPages(ctx, path, pr, dpi)
}

func checkRange(pr models.PageRange, pageCount int) error {
	if !pr.Within(pageCount) {
		return fmt.Errorf("%w: pages %s outside document of %d pages", ErrConversion, pr, pageCount)
	}
	return nil
}

var _ Converter = (*Router)(nil)
