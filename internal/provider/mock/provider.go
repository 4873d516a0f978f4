package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/ocrflow/internal/provider"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

// OCRProvider satisfies models.OCRProvider for testing.
type OCRProvider struct {
	Name_       string
	Model_      string
	ExtractFunc func(ctx context.Context, img models.PageImage, params models.OCRParams) (models.OCRResult, error)

	mu    sync.Mutex
	calls int
	pages []int
}

func (m *OCRProvider) Name() string  { return m.Name_ }
func (m *OCRProvider) Model() string { return m.Model_ }

func (m *OCRProvider) ExtractText(ctx context.Context, img models.PageImage, params models.OCRParams) (models.OCRResult, error) {
	m.mu.Lock()
	m.calls++
	m.pages = append(m.pages, img.Page)
	m.mu.Unlock()

	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, img, params)
	}
	return models.OCRResult{}, nil
}

// Calls returns how many times ExtractText was invoked.
func (m *OCRProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Pages returns the page numbers seen, in call order.
func (m *OCRProvider) Pages() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.pages...)
}

// PageText is the text NewOCRProvider returns for a page.
func PageText(page int) string {
	return fmt.Sprintf("Text of page %d", page)
}

// DefaultOCRUsage is what every successful default call costs.
var DefaultOCRUsage = models.TokenUsage{Input: 100, Output: 20}

// NewOCRProvider returns an OCRProvider that echoes the page number.
func NewOCRProvider() *OCRProvider {
	return &OCRProvider{
		Name_:  "mock",
		Model_: "mock-ocr-v1",
		ExtractFunc: func(_ context.Context, img models.PageImage, _ models.OCRParams) (models.OCRResult, error) {
			return models.OCRResult{Text: PageText(img.Page), Usage: DefaultOCRUsage}, nil
		},
	}
}

// NewFailingOCRProvider returns an OCRProvider that always returns err.
func NewFailingOCRProvider(err error) *OCRProvider {
	return &OCRProvider{
		Name_:  "mock-failing",
		Model_: "mock-ocr-v1",
		ExtractFunc: func(context.Context, models.PageImage, models.OCRParams) (models.OCRResult, error) {
			return models.OCRResult{}, err
		},
	}
}

// NewFlakyOCRProvider fails the first n calls with err and then behaves like
// NewOCRProvider.
func NewFlakyOCRProvider(n int, err error) *OCRProvider {
	var mu sync.Mutex
	failures := 0
	return &OCRProvider{
		Name_:  "mock-flaky",
		Model_: "mock-ocr-v1",
		ExtractFunc: func(_ context.Context, img models.PageImage, _ models.OCRParams) (models.OCRResult, error) {
			mu.Lock()
			defer mu.Unlock()
			if failures < n {
				failures++
				return models.OCRResult{}, err
			}
			return models.OCRResult{Text: PageText(img.Page), Usage: DefaultOCRUsage}, nil
		},
	}
}

// NewTimeoutOCRProvider returns an OCRProvider that blocks until the context
// is done.
func NewTimeoutOCRProvider() *OCRProvider {
	return &OCRProvider{
		Name_:  "mock-timeout",
		Model_: "mock-ocr-v1",
		ExtractFunc: func(ctx context.Context, _ models.PageImage, _ models.OCRParams) (models.OCRResult, error) {
			<-ctx.Done()
			return models.OCRResult{}, fmt.Errorf("%w: %w", provider.ErrInferenceTimeout, ctx.Err())
		},
	}
}

// CorrectionProvider satisfies models.CorrectionProvider for testing.
type CorrectionProvider struct {
	Name_       string
	Model_      string
	CorrectFunc func(ctx context.Context, raw string, terms []string) (models.CorrectionResult, error)

	mu    sync.Mutex
	calls int
	terms [][]string
}

func (m *CorrectionProvider) Name() string  { return m.Name_ }
func (m *CorrectionProvider) Model() string { return m.Model_ }

func (m *CorrectionProvider) Correct(ctx context.Context, raw string, terms []string) (models.CorrectionResult, error) {
	m.mu.Lock()
	m.calls++
	m.terms = append(m.terms, terms)
	m.mu.Unlock()

	if m.CorrectFunc != nil {
		return m.CorrectFunc(ctx, raw, terms)
	}
	return models.CorrectionResult{Text: raw}, nil
}

func (m *CorrectionProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Terms returns the terminology passed on each call.
func (m *CorrectionProvider) Terms() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.terms...)
}

// DefaultCorrectionUsage is what every successful default correction costs.
var DefaultCorrectionUsage = models.TokenUsage{Input: 50, Output: 25}

// NewCorrectionProvider returns a CorrectionProvider that appends a marker
// so tests can tell corrected text from raw text.
func NewCorrectionProvider() *CorrectionProvider {
	return &CorrectionProvider{
		Name_:  "mock-correction",
		Model_: "mock-correct-v1",
		CorrectFunc: func(_ context.Context, raw string, _ []string) (models.CorrectionResult, error) {
			return models.CorrectionResult{Text: Corrected(raw), Usage: DefaultCorrectionUsage}, nil
		},
	}
}

// Corrected is the text NewCorrectionProvider produces for raw.
func Corrected(raw string) string { return raw + " (corrected)" }

// NewFailingCorrectionProvider returns a CorrectionProvider that always
// returns err.
func NewFailingCorrectionProvider(err error) *CorrectionProvider {
	return &CorrectionProvider{
		Name_:  "mock-correction-failing",
		Model_: "mock-correct-v1",
		CorrectFunc: func(context.Context, string, []string) (models.CorrectionResult, error) {
			return models.CorrectionResult{}, err
		},
	}
}

// Compile-time checks.
var (
	_ models.OCRProvider        = (*OCRProvider)(nil)
	_ models.CorrectionProvider = (*CorrectionProvider)(nil)
)
