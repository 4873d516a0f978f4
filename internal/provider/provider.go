// Package provider holds the OCR and correction provider registry and the
// pieces shared by every integration.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrInferenceTimeout    = errors.New("provider inference timeout")
	ErrInvalidResponse     = errors.New("provider returned invalid response")
	ErrUnknownProvider     = errors.New("unknown provider")
)

// Known OCR provider names.
const (
	DashScope = "dashscope"
	Mistral   = "mistral"
	Custom    = "custom"
	Gemini    = "gemini"
	Tesseract = "tesseract"
)

// KnownOCR lists every OCR integration, configured or not.
var KnownOCR = []string{DashScope, Mistral, Custom, Gemini, Tesseract}

// Registry is the process-wide set of providers, built once at startup.
type Registry struct {
	mu          sync.RWMutex
	ocr         map[string]models.OCRProvider
	unavailable map[string]string
	correction  models.CorrectionProvider
}

// NewRegistry creates an empty registry whose correction stage passes text
// through unchanged.
func NewRegistry() *Registry {
	return &Registry{
		ocr:         make(map[string]models.OCRProvider),
		unavailable: make(map[string]string),
		correction:  Passthrough{},
	}
}

// RegisterOCR makes p selectable by its name.
func (r *Registry) RegisterOCR(p models.OCRProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ocr[p.Name()] = p
	delete(r.unavailable, p.Name())
}

// MarkUnavailable records why a known provider was not registered.
func (r *Registry) MarkUnavailable(name, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ocr[name]; !ok {
		r.unavailable[name] = reason
	}
}

// SetCorrection installs the correction provider. nil restores passthrough.
func (r *Registry) SetCorrection(p models.CorrectionProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p == nil {
		p = Passthrough{}
	}
	r.correction = p
}

// OCR returns the named provider.
func (r *Registry) OCR(name string) (models.OCRProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.ocr[name]; ok {
		return p, nil
	}
	if reason, ok := r.unavailable[name]; ok {
		return nil, fmt.Errorf("%w: %s: %s", ErrProviderUnavailable, name, reason)
	}
	for _, k := range KnownOCR {
		if k == name {
			return nil, fmt.Errorf("%w: %s is not configured", ErrProviderUnavailable, name)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// Correction returns the correction provider. It is never nil.
func (r *Registry) Correction() models.CorrectionProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.correction
}

// Names returns the registered OCR provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ocr))
	for n := range r.ocr {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// List describes every known and registered provider.
func (r *Registry) List() []models.ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	known := make(map[string]bool, len(KnownOCR))
	out := make([]models.ProviderInfo, 0, len(KnownOCR)+len(r.ocr)+1)
	for _, name := range KnownOCR {
		known[name] = true
		info := models.ProviderInfo{Name: name, Kind: "ocr"}
		if p, ok := r.ocr[name]; ok {
			info.Model, info.Available = p.Model(), true
		}
		out = append(out, info)
	}
	var extra []string
	for name := range r.ocr {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		out = append(out, models.ProviderInfo{Name: name, Model: r.ocr[name].Model(), Kind: "ocr", Available: true})
	}

	c := r.correction
	out = append(out, models.ProviderInfo{Name: c.Name(), Model: c.Model(), Kind: "correction", Available: true})
	return out
}

// Passthrough is the "none" correction provider.
type Passthrough struct{}

func (Passthrough) Name() string  { return "none" }
func (Passthrough) Model() string { return "" }

func (Passthrough) Correct(_ context.Context, raw string, _ []string) (models.CorrectionResult, error) {
	return models.CorrectionResult{Text: raw}, nil
}

// OCRPrompt is the instruction sent alongside every page image.
func OCRPrompt(language string) string {
	p := "Extract all text from this document page. Preserve the reading order, " +
		"headings, lists and tables. Format the result as Markdown and return " +
		"only the extracted content."
	if language != "" {
		p += " The document is written in " + language + "."
	}
	return p
}

// CorrectionSystemPrompt frames the correction stage.
const CorrectionSystemPrompt = "You correct OCR output. Fix recognition errors, broken words and " +
	"misplaced line breaks. Keep the Markdown structure and do not add, " +
	"summarise or translate content. Return only the corrected text."

// CorrectionPrompt builds the user message for a correction call.
func CorrectionPrompt(raw string, terms []string) string {
	var b strings.Builder
	if len(terms) > 0 {
		b.WriteString("Prefer these spellings for domain terms:\n")
		for _, t := range terms {
			b.WriteString("- ")
			b.WriteString(t)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("OCR text:\n\n")
	b.WriteString(raw)
	return b.String()
}

var _ models.CorrectionProvider = Passthrough{}
