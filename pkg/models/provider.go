// Package models contains shared data models used across the ocrflow codebase.
package models

import "context"

// OCRProvider is the interface every OCR integration implements.
// The orchestrator only ever talks to providers through this interface.
type OCRProvider interface {
	// ExtractText recognises the text on a single page image.
	ExtractText(ctx context.Context, img PageImage, params OCRParams) (OCRResult, error)
	// Name returns the provider identifier (e.g., "dashscope", "gemini").
	Name() string
	// Model returns the model the provider is configured with.
	Model() string
}

// CorrectionProvider post-processes raw OCR output.
type CorrectionProvider interface {
	// Correct fixes recognition errors in raw. Terms, when given, are
	// domain vocabulary the corrected text should prefer.
	Correct(ctx context.Context, raw string, terms []string) (CorrectionResult, error)
	Name() string
	Model() string
}

// PageImage is one rendered page ready for recognition.
type PageImage struct {
	Page     int    `json:"page"`
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
}

// OCRParams are per-call recognition parameters. They take part in the cache
// fingerprint, so anything that changes the output belongs here.
type OCRParams struct {
	Model    string `json:"model"`
	DPI      int    `json:"dpi"`
	Language string `json:"language,omitempty"`
}

// TokenUsage is what a single provider call cost.
type TokenUsage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int64 { return u.Input + u.Output }

// OCRResult is the output of an OCR provider call.
type OCRResult struct {
	Text  string     `json:"text"`
	Usage TokenUsage `json:"usage"`
}

// CorrectionResult is the output of a correction provider call.
type CorrectionResult struct {
	Text  string     `json:"text"`
	Usage TokenUsage `json:"usage"`
}

// ProviderInfo describes a configured provider for listing endpoints.
type ProviderInfo struct {
	Name      string `json:"name"`
	Model     string `json:"model"`
	Kind      string `json:"kind"`
	Available bool   `json:"available"`
	Circuit   string `json:"circuit,omitempty"`
}
