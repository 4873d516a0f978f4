// Package openaicompat talks to vision models behind an OpenAI-compatible
// chat completions endpoint. DashScope, Mistral and self-hosted gateways all
// speak this protocol.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/ocrflow/internal/provider"
	"github.com/kiranshivaraju/ocrflow/internal/retry"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

const (
	defaultMaxTokens = 4096
	maxErrorBody     = 4 << 10
)

// Config configures one endpoint.
type Config struct {
	Name     string
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

// Client implements models.OCRProvider over HTTP.
type Client struct {
	name     string
	baseURL  string
	apiKey   string
	model    string
	language string
	client   *http.Client
}

// New creates a client. Timeout bounds a whole request including the body.
func New(cfg Config) *Client {
	return &Client{
		name:     cfg.Name,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string  { return c.name }
func (c *Client) Model() string { return c.model }

func (c *Client) ExtractText(ctx context.Context, img models.PageImage, params models.OCRParams) (models.OCRResult, error) {
	model := params.Model
	if model == "" {
		model = c.model
	}
	language := params.Language
	if language == "" {
		language = c.language
	}

	dataURI := fmt.Sprintf("data:%s;base64,%s", img.MIMEType, base64.StdEncoding.EncodeToString(img.Data))
	req := chatRequest{
		Model:     model,
		MaxTokens: defaultMaxTokens,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: provider.OCRPrompt(language)},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURI}},
			},
		}},
	}

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return models.OCRResult{}, err
	}
	if len(resp.Choices) == 0 {
		return models.OCRResult{}, retry.Permanent(c.name, fmt.Errorf("%w: no choices in response", provider.ErrInvalidResponse))
	}

	return models.OCRResult{
		Text: strings.TrimSpace(resp.Choices[0].Message.Content),
		Usage: models.TokenUsage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return retry.Permanent(c.name, fmt.Errorf("encoding request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(c.name, fmt.Errorf("building request: %w", err))
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s request: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return retry.FromStatus(c.name, resp.StatusCode, resp.Header, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(c.name, fmt.Errorf("%w: decoding response: %v", provider.ErrInvalidResponse, err))
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

var _ models.OCRProvider = (*Client)(nil)
