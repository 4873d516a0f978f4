package provider

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

// ThrottledOCR limits the request rate of an OCR provider.
type ThrottledOCR struct {
	models.OCRProvider
	limiter *rate.Limiter
}

// ThrottleOCR wraps p so it issues at most rps requests per second. A
// non-positive rps returns p unchanged.
func ThrottleOCR(p models.OCRProvider, rps float64) models.OCRProvider {
	if rps <= 0 {
		return p
	}
	return &ThrottledOCR{OCRProvider: p, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (t *ThrottledOCR) ExtractText(ctx context.Context, img models.PageImage, params models.OCRParams) (models.OCRResult, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return models.OCRResult{}, err
	}
	return t.OCRProvider.ExtractText(ctx, img, params)
}

// ThrottledCorrection limits the request rate of a correction provider.
type ThrottledCorrection struct {
	models.CorrectionProvider
	limiter *rate.Limiter
}

// ThrottleCorrection is ThrottleOCR for correction providers.
func ThrottleCorrection(p models.CorrectionProvider, rps float64) models.CorrectionProvider {
	if rps <= 0 {
		return p
	}
	return &ThrottledCorrection{CorrectionProvider: p, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (t *ThrottledCorrection) Correct(ctx context.Context, raw string, terms []string) (models.CorrectionResult, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return models.CorrectionResult{}, err
	}
	return t.CorrectionProvider.Correct(ctx, raw, terms)
}

var (
	_ models.OCRProvider        = (*ThrottledOCR)(nil)
	_ models.CorrectionProvider = (*ThrottledCorrection)(nil)
)
