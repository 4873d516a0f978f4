//go:build !tesseract

package tesseract

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/ocrflow/internal/provider"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

// Available reports whether this binary was built with tesseract support.
const Available = false

type Config struct {
	Languages []string
}

// Provider is a placeholder in binaries built without the tesseract tag.
type Provider struct{}

// New always fails; rebuild with -tags tesseract to enable local OCR.
func New(Config) (*Provider, error) {
	return nil, fmt.Errorf("%w: built without the tesseract tag", provider.ErrProviderUnavailable)
}

func (p *Provider) Name() string  { return "tesseract" }
func (p *Provider) Model() string { return "" }

func (p *Provider) ExtractText(context.Context, models.PageImage, models.OCRParams) (models.OCRResult, error) {
	return models.OCRResult{}, provider.ErrProviderUnavailable
}

var _ models.OCRProvider = (*Provider)(nil)
