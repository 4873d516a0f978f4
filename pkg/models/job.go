package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// PreprocessMode selects the image cleanup applied before recognition.
type PreprocessMode string

const (
	PreprocessNone       PreprocessMode = "none"
	PreprocessBasic      PreprocessMode = "basic"
	PreprocessDocument   PreprocessMode = "document"
	PreprocessPhoto      PreprocessMode = "photo"
	PreprocessAggressive PreprocessMode = "aggressive"
)

// SplitStrategy selects how a document's page range is cut into chunks.
type SplitStrategy string

const (
	SplitByPages     SplitStrategy = "by_pages"
	SplitBySize      SplitStrategy = "by_size"
	SplitByMemory    SplitStrategy = "by_memory"
	SplitAdaptive    SplitStrategy = "adaptive"
	SplitIntelligent SplitStrategy = "intelligent"
)

// PageRange is an inclusive, 1-indexed page interval.
type PageRange struct {
	Start int `json:"start" validate:"min=1"`
	End   int `json:"end"   validate:"gtefield=Start"`
}

// Pages returns the number of pages in the range.
func (r PageRange) Pages() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Within reports whether the range is well formed and fits a document of
// pageCount pages.
func (r PageRange) Within(pageCount int) bool {
	return r.Start >= 1 && r.Start <= r.End && r.End <= pageCount
}

func (r PageRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}

// JobOptions are the recognised per-job processing options.
type JobOptions struct {
	PreprocessingEnabled bool           `json:"preprocessing_enabled"`
	PreprocessingMode    PreprocessMode `json:"preprocessing_mode,omitempty" validate:"omitempty,oneof=none basic document photo aggressive"`
	SplittingEnabled     bool           `json:"splitting_enabled"`
	SplitStrategy        SplitStrategy  `json:"split_strategy,omitempty"     validate:"omitempty,oneof=by_pages by_size by_memory adaptive intelligent"`
	TerminologyRef       string         `json:"terminology_ref,omitempty"    validate:"omitempty,max=255"`
	PagesPerChunk        int            `json:"pages_per_chunk,omitempty"    validate:"omitempty,min=1,max=1000"`
}

// EffectivePreprocessMode returns the mode actually applied to pages.
func (o JobOptions) EffectivePreprocessMode() PreprocessMode {
	if !o.PreprocessingEnabled || o.PreprocessingMode == "" {
		return PreprocessNone
	}
	return o.PreprocessingMode
}

// Job is one user-initiated processing request. The orchestrator owns it for
// the lifetime of the task; TaskState only references it.
type Job struct {
	ID        string     `json:"id"`
	SourceRef string     `json:"source_ref" validate:"required"`
	PageRange PageRange  `json:"page_range"`
	Provider  string     `json:"provider"   validate:"required"`
	Options   JobOptions `json:"options"`
	CreatedAt time.Time  `json:"created_at"`
}

var validate = validator.New()

// Validate checks the structural rules of a job. Rules that need runtime
// knowledge (document page count, configured providers) are checked by the
// orchestrator.
func (j *Job) Validate() error {
	return validate.Struct(j)
}
