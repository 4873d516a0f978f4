// Package anthropic implements text correction on Claude models.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kiranshivaraju/ocrflow/internal/provider"
	"github.com/kiranshivaraju/ocrflow/internal/retry"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

const name = "anthropic"

// Config configures the Claude client.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// Provider implements models.CorrectionProvider.
type Provider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func New(cfg Config) *Provider {
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	// Retries are owned by the pipeline's retry policy.
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Provider{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (p *Provider) Name() string  { return name }
func (p *Provider) Model() string { return p.model }

func (p *Provider) Correct(ctx context.Context, raw string, terms []string) (models.CorrectionResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: provider.CorrectionSystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(provider.CorrectionPrompt(raw, terms))),
		},
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return models.CorrectionResult{}, classify(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return models.CorrectionResult{
		Text: strings.TrimSpace(text.String()),
		Usage: models.TokenUsage{
			Input:  resp.Usage.InputTokens,
			Output: resp.Usage.OutputTokens,
		},
	}, nil
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return retry.FromStatus(name, apiErr.StatusCode, header, apiErr.Error())
	}
	return &retry.ProviderError{Kind: retry.ClassifyMessage(err.Error()), Provider: name, Err: err}
}

var _ models.CorrectionProvider = (*Provider)(nil)
