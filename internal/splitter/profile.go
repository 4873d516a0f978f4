package splitter

import "github.com/kiranshivaraju/ocrflow/pkg/models"

const (
	baseMemoryBytes    = 50 * mb
	memoryPerPageBytes = 2 * mb
	maxMemoryEstimate  = 2048 * mb
)

// Profile describes a document for split planning.
type Profile struct {
	PageCount            int                  `json:"page_count"`
	SizeBytes            int64                `json:"size_bytes"`
	HasImages            bool                 `json:"has_images"`
	EstimatedMemoryBytes int64                `json:"estimated_memory_bytes"`
	NeedsSplitting       bool                 `json:"needs_splitting"`
	Recommended          models.SplitStrategy `json:"recommended_strategy"`
}

// Known reports whether the profile carries usable characteristics.
func (p Profile) Known() bool { return p.PageCount > 0 }

// AvgPageBytes is the mean serialized page size, zero when unknown.
func (p Profile) AvgPageBytes() int64 {
	if p.PageCount <= 0 {
		return 0
	}
	return p.SizeBytes / int64(p.PageCount)
}

// MemoryPerPage is the estimated peak memory per page while processing.
func (p Profile) MemoryPerPage() int64 {
	if p.PageCount <= 0 || p.EstimatedMemoryBytes <= 0 {
		return memoryPerPageBytes
	}
	if per := p.EstimatedMemoryBytes / int64(p.PageCount); per > 0 {
		return per
	}
	return memoryPerPageBytes
}

// EstimateMemory is 50MB plus 2MB per page, capped at 2GB.
func EstimateMemory(pages int) int64 {
	est := baseMemoryBytes + int64(pages)*memoryPerPageBytes
	if est > maxMemoryEstimate {
		return maxMemoryEstimate
	}
	return est
}

// NewProfile fills in the derived fields of a profile.
func NewProfile(pages int, sizeBytes int64, hasImages bool, c Constraints) Profile {
	c = c.normalized()
	p := Profile{
		PageCount:            pages,
		SizeBytes:            sizeBytes,
		HasImages:            hasImages,
		EstimatedMemoryBytes: EstimateMemory(pages),
	}
	p.NeedsSplitting = sizeBytes > c.MaxChunkBytes ||
		pages > c.MaxPagesPerChunk ||
		p.EstimatedMemoryBytes > c.MaxMemoryBytes
	p.Recommended = Recommend(p, c)
	return p
}

// Recommend picks a strategy from the document's characteristics.
func Recommend(p Profile, c Constraints) models.SplitStrategy {
	c = c.normalized()
	switch {
	case p.EstimatedMemoryBytes > c.MaxMemoryBytes*2:
		return models.SplitByMemory
	case p.HasImages:
		return models.SplitBySize
	case p.PageCount > 200:
		return models.SplitByPages
	default:
		return models.SplitAdaptive
	}
}
