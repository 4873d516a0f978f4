// Package gemini implements OCR and correction on Google's Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/kiranshivaraju/ocrflow/internal/provider"
	"github.com/kiranshivaraju/ocrflow/internal/retry"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

const name = "gemini"

// Config configures the Gemini client.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// Provider implements models.OCRProvider and models.CorrectionProvider.
type Provider struct {
	client   *genai.Client
	model    string
	language string
}

// New creates a provider backed by the Gemini API.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Provider{client: client, model: cfg.Model, language: cfg.Language}, nil
}

// WithModel returns a provider sharing the client but using another model.
func (p *Provider) WithModel(model string) *Provider {
	cp := *p
	cp.model = model
	return &cp
}

func (p *Provider) Name() string  { return name }
func (p *Provider) Model() string { return p.model }

func (p *Provider) ExtractText(ctx context.Context, img models.PageImage, params models.OCRParams) (models.OCRResult, error) {
	model := params.Model
	if model == "" {
		model = p.model
	}
	language := params.Language
	if language == "" {
		language = p.language
	}

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			genai.NewPartFromText(provider.OCRPrompt(language)),
			genai.NewPartFromBytes(img.Data, img.MIMEType),
		},
	}}
	text, usage, err := p.generate(ctx, model, contents, nil)
	if err != nil {
		return models.OCRResult{}, err
	}
	return models.OCRResult{Text: text, Usage: usage}, nil
}

func (p *Provider) Correct(ctx context.Context, raw string, terms []string) (models.CorrectionResult, error) {
	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(0.1)),
		SystemInstruction: genai.NewContentFromText(provider.CorrectionSystemPrompt, genai.RoleUser),
	}
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{genai.NewPartFromText(provider.CorrectionPrompt(raw, terms))},
	}}
	text, usage, err := p.generate(ctx, p.model, contents, config)
	if err != nil {
		return models.CorrectionResult{}, err
	}
	return models.CorrectionResult{Text: text, Usage: usage}, nil
}

func (p *Provider) generate(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (string, models.TokenUsage, error) {
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", models.TokenUsage{}, classify(err)
	}

	if len(resp.Candidates) == 0 {
		return "", models.TokenUsage{}, retry.Permanent(name, fmt.Errorf("%w: no candidates in response", provider.ErrInvalidResponse))
	}
	// A blank page legitimately yields no text.
	text := strings.TrimSpace(resp.Text())

	var usage models.TokenUsage
	if resp.UsageMetadata != nil {
		usage.Input = int64(resp.UsageMetadata.PromptTokenCount)
		usage.Output = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return text, usage, nil
}

// classify maps SDK errors onto retry kinds. Context errors pass through
// untouched so the caller sees cancellation and deadlines as such.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retry.FromStatus(name, apiErr.Code, nil, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return retry.FromStatus(name, apiErrPtr.Code, nil, apiErrPtr.Message)
	}
	return &retry.ProviderError{Kind: retry.ClassifyMessage(err.Error()), Provider: name, Err: err}
}

var (
	_ models.OCRProvider        = (*Provider)(nil)
	_ models.CorrectionProvider = (*Provider)(nil)
)
