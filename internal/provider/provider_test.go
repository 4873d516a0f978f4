package provider_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/ocrflow/internal/provider"
	"github.com/kiranshivaraju/ocrflow/internal/provider/mock"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

func namedOCR(name string) *mock.OCRProvider {
	p := mock.NewOCRProvider()
	p.Name_ = name
	return p
}

// --- Registry ---

func TestRegistry_OCRLookup(t *testing.T) {
	r := provider.NewRegistry()
	r.RegisterOCR(namedOCR(provider.DashScope))
	r.MarkUnavailable(provider.Tesseract, "built without the tesseract tag")

	p, err := r.OCR(provider.DashScope)
	require.NoError(t, err)
	assert.Equal(t, provider.DashScope, p.Name())

	_, err = r.OCR(provider.Tesseract)
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "tesseract tag")

	_, err = r.OCR(provider.Mistral)
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)

	_, err = r.OCR("openai")
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestRegistry_CorrectionDefaultsToPassthrough(t *testing.T) {
	r := provider.NewRegistry()
	c := r.Correction()
	assert.Equal(t, "none", c.Name())

	res, err := c.Correct(context.Background(), "unchanged", []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, "unchanged", res.Text)
	assert.Zero(t, res.Usage.Total())

	r.SetCorrection(mock.NewCorrectionProvider())
	assert.Equal(t, "mock-correction", r.Correction().Name())

	r.SetCorrection(nil)
	assert.Equal(t, "none", r.Correction().Name())
}

func TestRegistry_List(t *testing.T) {
	r := provider.NewRegistry()
	r.RegisterOCR(namedOCR(provider.Gemini))
	r.RegisterOCR(namedOCR("zz-local"))
	r.SetCorrection(mock.NewCorrectionProvider())

	list := r.List()
	require.Len(t, list, len(provider.KnownOCR)+2)

	byName := map[string]models.ProviderInfo{}
	for _, info := range list {
		byName[info.Name] = info
	}
	assert.True(t, byName[provider.Gemini].Available)
	assert.Equal(t, "mock-ocr-v1", byName[provider.Gemini].Model)
	assert.False(t, byName[provider.DashScope].Available)
	assert.True(t, byName["zz-local"].Available)
	assert.Equal(t, "correction", list[len(list)-1].Kind)

	assert.Equal(t, []string{provider.Gemini, "zz-local"}, r.Names())
}

// --- Throttling ---

func TestThrottleOCR_ZeroRateIsUnwrapped(t *testing.T) {
	p := mock.NewOCRProvider()
	assert.Same(t, p, provider.ThrottleOCR(p, 0))
}

func TestThrottleOCR_SpacesRequests(t *testing.T) {
	inner := mock.NewOCRProvider()
	p := provider.ThrottleOCR(inner, 20)
	assert.Equal(t, "mock", p.Name())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := p.ExtractText(context.Background(), models.PageImage{Page: i + 1}, models.OCRParams{})
		require.NoError(t, err)
	}
	// Burst of one: the second and third calls wait ~50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 3, inner.Calls())
}

func TestThrottleCorrection_HonoursContext(t *testing.T) {
	p := provider.ThrottleCorrection(mock.NewCorrectionProvider(), 0.001)

	_, err := p.Correct(context.Background(), "first", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Correct(ctx, "second", nil)
	assert.Error(t, err)
}

// --- Prompts ---

func TestCorrectionPrompt(t *testing.T) {
	p := provider.CorrectionPrompt("raw text", []string{"Kubernetes", "gRPC"})
	assert.Contains(t, p, "- Kubernetes\n")
	assert.Contains(t, p, "- gRPC\n")
	assert.Contains(t, p, "raw text")

	assert.NotContains(t, provider.CorrectionPrompt("raw", nil), "domain terms")
}

func TestOCRPrompt_Language(t *testing.T) {
	assert.NotContains(t, provider.OCRPrompt(""), "written in")
	assert.Contains(t, provider.OCRPrompt("German"), "written in German")
}
