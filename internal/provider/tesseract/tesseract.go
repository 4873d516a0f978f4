//go:build tesseract

// Package tesseract runs OCR locally through libtesseract. It is compiled
// only with the tesseract build tag since it needs cgo and the native
// library.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/kiranshivaraju/ocrflow/internal/retry"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

const name = "tesseract"

// Available reports whether this binary was built with tesseract support.
const Available = true

type Config struct {
	Languages []string
}

// Provider implements models.OCRProvider with gosseract.
type Provider struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

func New(cfg Config) (*Provider, error) {
	return &Provider{languages: cfg.Languages, clientFactory: gosseract.NewClient}, nil
}

func (p *Provider) Name() string  { return name }
func (p *Provider) Model() string { return "tesseract-" + strings.Join(p.languages, "+") }

func (p *Provider) ExtractText(ctx context.Context, img models.PageImage, params models.OCRParams) (models.OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return models.OCRResult{}, err
	}

	c := p.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(img.Data); err != nil {
		return models.OCRResult{}, retry.Permanent(name, fmt.Errorf("set image: %w", err))
	}
	langs := p.languages
	if params.Language != "" {
		langs = []string{params.Language}
	}
	if len(langs) > 0 {
		if err := c.SetLanguage(langs...); err != nil {
			return models.OCRResult{}, retry.Permanent(name, fmt.Errorf("set languages: %w", err))
		}
	}
	if params.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(params.DPI)); err != nil {
			return models.OCRResult{}, retry.Permanent(name, fmt.Errorf("set dpi: %w", err))
		}
	}

	text, err := c.Text()
	if err != nil {
		return models.OCRResult{}, retry.Permanent(name, fmt.Errorf("recognize text: %w", err))
	}
	// Local recognition has no token cost.
	return models.OCRResult{Text: strings.TrimSpace(text)}, nil
}

var _ models.OCRProvider = (*Provider)(nil)
