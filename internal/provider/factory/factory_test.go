package factory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/ocrflow/internal/config"
	"github.com/kiranshivaraju/ocrflow/internal/provider"
	"github.com/kiranshivaraju/ocrflow/internal/provider/factory"
	"github.com/kiranshivaraju/ocrflow/internal/provider/tesseract"
)

func pipeline(correction string) config.PipelineConfig {
	return config.PipelineConfig{CallTimeout: 5 * time.Second, CorrectionProvider: correction}
}

func TestNew_OpenAICompatibleProviders(t *testing.T) {
	pc := config.ProvidersConfig{
		DashScope: config.DashScopeConfig{APIKey: "sk-d", BaseURL: "https://dashscope.example/v1", Model: "qwen-vl-ocr-latest"},
		Mistral:   config.MistralConfig{APIKey: "sk-m", BaseURL: "https://mistral.example/v1", Model: "pixtral-12b-2409", RequestsPerSecond: 2},
		Custom:    config.CustomConfig{BaseURL: "http://localhost:8000/v1", Model: "local-vlm"},
	}
	reg, err := factory.New(context.Background(), pc, pipeline("none"))
	require.NoError(t, err)

	for name, model := range map[string]string{
		provider.DashScope: "qwen-vl-ocr-latest",
		provider.Mistral:   "pixtral-12b-2409",
		provider.Custom:    "local-vlm",
	} {
		p, err := reg.OCR(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, p.Name())
		assert.Equal(t, model, p.Model())
	}

	_, err = reg.OCR(provider.Gemini)
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	assert.Equal(t, "none", reg.Correction().Name())
}

func TestNew_UnconfiguredProvidersAreUnavailable(t *testing.T) {
	reg, err := factory.New(context.Background(), config.ProvidersConfig{}, pipeline("none"))
	require.NoError(t, err)

	_, err = reg.OCR(provider.DashScope)
	require.ErrorIs(t, err, provider.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "DASHSCOPE_API_KEY")
}

func TestNew_GeminiForOCRAndCorrection(t *testing.T) {
	pc := config.ProvidersConfig{
		Gemini: config.GeminiConfig{APIKey: "g-key", Model: "gemini-2.5-flash", CorrectionModel: "gemini-2.5-pro"},
	}
	reg, err := factory.New(context.Background(), pc, pipeline("gemini"))
	require.NoError(t, err)

	p, err := reg.OCR(provider.Gemini)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", p.Model())
	assert.Equal(t, "gemini", reg.Correction().Name())
	assert.Equal(t, "gemini-2.5-pro", reg.Correction().Model())
}

func TestNew_AnthropicCorrection(t *testing.T) {
	pc := config.ProvidersConfig{
		DashScope: config.DashScopeConfig{APIKey: "sk-d", BaseURL: "https://dashscope.example/v1"},
		Anthropic: config.AnthropicConfig{APIKey: "sk-ant", Model: "claude-sonnet-4-5-20250929"},
	}
	reg, err := factory.New(context.Background(), pc, pipeline("anthropic"))
	require.NoError(t, err)
	assert.Equal(t, "anthropic", reg.Correction().Name())
}

func TestNew_CorrectionMissingKey(t *testing.T) {
	_, err := factory.New(context.Background(), config.ProvidersConfig{}, pipeline("anthropic"))
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)

	_, err = factory.New(context.Background(), config.ProvidersConfig{}, pipeline("gemini"))
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
}

func TestNew_UnknownCorrection(t *testing.T) {
	_, err := factory.New(context.Background(), config.ProvidersConfig{}, pipeline("openai"))
	require.ErrorIs(t, err, provider.ErrUnknownProvider)
	assert.Contains(t, err.Error(), "openai")
}

func TestNew_Tesseract(t *testing.T) {
	pc := config.ProvidersConfig{Tesseract: config.TesseractConfig{Enabled: true, Languages: "eng+deu"}}
	reg, err := factory.New(context.Background(), pc, pipeline("none"))
	require.NoError(t, err)

	_, err = reg.OCR(provider.Tesseract)
	if tesseract.Available {
		assert.NoError(t, err)
	} else {
		assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	}
}
