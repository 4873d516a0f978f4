// Package factory builds the provider registry from configuration.
package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/ocrflow/internal/config"
	"github.com/kiranshivaraju/ocrflow/internal/provider"
	"github.com/kiranshivaraju/ocrflow/internal/provider/anthropic"
	"github.com/kiranshivaraju/ocrflow/internal/provider/gemini"
	"github.com/kiranshivaraju/ocrflow/internal/provider/openaicompat"
	"github.com/kiranshivaraju/ocrflow/internal/provider/tesseract"
)

// New constructs every configured provider. Called once at server startup.
func New(ctx context.Context, pc config.ProvidersConfig, pipeline config.PipelineConfig) (*provider.Registry, error) {
	reg := provider.NewRegistry()

	compat := []struct {
		name, envKey, apiKey, baseURL, model string
		rps                                  float64
		enabled                              bool
	}{
		{provider.DashScope, "DASHSCOPE_API_KEY", pc.DashScope.APIKey, pc.DashScope.BaseURL, pc.DashScope.Model, pc.DashScope.RequestsPerSecond, pc.DashScope.APIKey != ""},
		{provider.Mistral, "MISTRAL_API_KEY", pc.Mistral.APIKey, pc.Mistral.BaseURL, pc.Mistral.Model, pc.Mistral.RequestsPerSecond, pc.Mistral.APIKey != ""},
		{provider.Custom, "CUSTOM_OCR_BASE_URL", pc.Custom.APIKey, pc.Custom.BaseURL, pc.Custom.Model, pc.Custom.RequestsPerSecond, pc.Custom.BaseURL != ""},
	}
	for _, c := range compat {
		if !c.enabled {
			reg.MarkUnavailable(c.name, c.envKey+" is not set")
			continue
		}
		client := openaicompat.New(openaicompat.Config{
			Name:     c.name,
			BaseURL:  c.baseURL,
			APIKey:   c.apiKey,
			Model:    c.model,
			Language: pipeline.Language,
			Timeout:  pipeline.CallTimeout,
		})
		reg.RegisterOCR(provider.ThrottleOCR(client, c.rps))
	}

	var gem *gemini.Provider
	if pc.Gemini.APIKey != "" {
		var err error
		gem, err = gemini.New(ctx, gemini.Config{
			APIKey:   pc.Gemini.APIKey,
			BaseURL:  pc.Gemini.BaseURL,
			Model:    pc.Gemini.Model,
			Language: pipeline.Language,
		})
		if err != nil {
			return nil, err
		}
		reg.RegisterOCR(provider.ThrottleOCR(gem, pc.Gemini.RequestsPerSecond))
	} else {
		reg.MarkUnavailable(provider.Gemini, "GEMINI_API_KEY is not set")
	}

	if pc.Tesseract.Enabled {
		tp, err := tesseract.New(tesseract.Config{Languages: splitLanguages(pc.Tesseract.Languages)})
		if err != nil {
			reg.MarkUnavailable(provider.Tesseract, err.Error())
		} else {
			reg.RegisterOCR(tp)
		}
	} else {
		reg.MarkUnavailable(provider.Tesseract, "TESSERACT_ENABLED is false")
	}

	switch pipeline.CorrectionProvider {
	case "gemini":
		if gem == nil {
			return nil, fmt.Errorf("%w: gemini correction requires GEMINI_API_KEY", provider.ErrProviderUnavailable)
		}
		reg.SetCorrection(provider.ThrottleCorrection(gem.WithModel(pc.Gemini.CorrectionModel), pc.Gemini.RequestsPerSecond))
	case "anthropic":
		if pc.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("%w: anthropic correction requires ANTHROPIC_API_KEY", provider.ErrProviderUnavailable)
		}
		reg.SetCorrection(anthropic.New(anthropic.Config{
			APIKey:    pc.Anthropic.APIKey,
			Model:     pc.Anthropic.Model,
			MaxTokens: pc.Anthropic.MaxTokens,
		}))
	case "", "none":
		reg.SetCorrection(nil)
	default:
		return nil, fmt.Errorf("%w: correction provider %q: must be one of gemini, anthropic, none", provider.ErrUnknownProvider, pipeline.CorrectionProvider)
	}

	return reg, nil
}

func splitLanguages(s string) []string {
	var out []string
	for _, l := range strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' }) {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
