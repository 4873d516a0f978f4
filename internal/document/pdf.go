package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

// imageSamplePages is how many leading pages Inspect looks at to decide
// whether a PDF is image-heavy.
const imageSamplePages = 5

// PDFConverter reads page counts with pdfcpu and renders a page by extracting
// its embedded image, which is what a scanned document consists of.
type PDFConverter struct {
	tempDir string
	conf    *model.Configuration
}

// NewPDFConverter creates a converter that stages extracted images under
// tempDir (os.TempDir when empty).
func NewPDFConverter(tempDir string) *PDFConverter {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &PDFConverter{tempDir: tempDir, conf: model.NewDefaultConfiguration()}
}

func (c *PDFConverter) Inspect(ctx context.Context, path string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	pageCount, err := c.pageCount(path)
	if err != nil {
		return Info{}, err
	}

	info := Info{Format: "pdf", PageCount: pageCount, SizeBytes: st.Size()}

	sample := min(pageCount, imageSamplePages)
	images, err := c.countImages(ctx, path, fmt.Sprintf("1-%d", sample))
	if err == nil {
		info.HasImages = images > 2*sample
	}
	return info, nil
}

func (c *PDFConverter) RenderPages(ctx context.Context, path string, pr models.PageRange, _ int) ([]models.PageImage, error) {
	pageCount, err := c.pageCount(path)
	if err != nil {
		return nil, err
	}
	if err := checkRange(pr, pageCount); err != nil {
		return nil, err
	}

	pages := make([]models.PageImage, 0, pr.Pages())
	for p := pr.Start; p <= pr.End; p++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := c.renderPage(path, p)
		if err != nil {
			return nil, err
		}
		pages = append(pages, img)
	}
	return pages, nil
}

func (c *PDFConverter) pageCount(path string) (int, error) {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: reading %s: %v", ErrConversion, filepath.Base(path), err)
	}
	return pdfCtx.PageCount, nil
}

// renderPage extracts the images of one page into a scratch directory and
// keeps the largest.
func (c *PDFConverter) renderPage(path string, page int) (models.PageImage, error) {
	dir, err := os.MkdirTemp(c.tempDir, "ocrflow-page-")
	if err != nil {
		return models.PageImage{}, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	defer os.RemoveAll(dir)

	if err := api.ExtractImagesFile(path, dir, []string{strconv.Itoa(page)}, c.conf); err != nil {
		return models.PageImage{}, fmt.Errorf("%w: page %d: %v", ErrConversion, page, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return models.PageImage{}, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	var best string
	var bestSize int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.Size() > bestSize {
			best, bestSize = e.Name(), fi.Size()
		}
	}
	if best == "" {
		return models.PageImage{}, fmt.Errorf("%w: page %d has no embedded image", ErrConversion, page)
	}

	data, err := os.ReadFile(filepath.Join(dir, best))
	if err != nil {
		return models.PageImage{}, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	mime := imageMIME(strings.ToLower(filepath.Ext(best)))
	return normalize(page, data, mime)
}

func (c *PDFConverter) countImages(ctx context.Context, path, pages string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dir, err := os.MkdirTemp(c.tempDir, "ocrflow-inspect-")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(dir)

	if err := api.ExtractImagesFile(path, dir, []string{pages}, c.conf); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

var _ Converter = (*PDFConverter)(nil)
