// Package splitter partitions a document's page range into chunks that are
// processed independently.
package splitter

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

// ErrInvalidRange is returned for a page range that is empty, reversed or
// outside the document.
var ErrInvalidRange = errors.New("invalid page range")

const mb = 1 << 20

// Constraints bound the chunks a strategy may produce.
type Constraints struct {
	// DocumentPages is the page count of the whole document. Zero skips the
	// upper-bound check.
	DocumentPages    int
	MaxPagesPerChunk int
	MinPagesPerChunk int
	MaxChunkBytes    int64
	// MaxMemoryBytes is the peak memory budget shared by all in-flight chunks.
	MaxMemoryBytes int64
	Parallelism    int
	// PageBytes estimates the serialized size of a page. When nil the
	// profile's average page size is used.
	PageBytes func(page int) int64
	// Profile describes the document. A zero Profile means characteristics
	// are unknown.
	Profile Profile
}

// DefaultConstraints returns 50 pages, 100MB and 512MB across 4 workers,
// with a 5 page minimum.
func DefaultConstraints() Constraints {
	return Constraints{
		MaxPagesPerChunk: 50,
		MinPagesPerChunk: 5,
		MaxChunkBytes:    100 * mb,
		MaxMemoryBytes:   512 * mb,
		Parallelism:      4,
	}
}

func (c Constraints) normalized() Constraints {
	d := DefaultConstraints()
	if c.MaxPagesPerChunk <= 0 {
		c.MaxPagesPerChunk = d.MaxPagesPerChunk
	}
	if c.MinPagesPerChunk <= 0 {
		c.MinPagesPerChunk = 1
	}
	if c.MinPagesPerChunk > c.MaxPagesPerChunk {
		c.MinPagesPerChunk = c.MaxPagesPerChunk
	}
	if c.MaxChunkBytes <= 0 {
		c.MaxChunkBytes = d.MaxChunkBytes
	}
	if c.MaxMemoryBytes <= 0 {
		c.MaxMemoryBytes = d.MaxMemoryBytes
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 1
	}
	return c
}

func (c Constraints) pageBytes(page int) int64 {
	if c.PageBytes != nil {
		if n := c.PageBytes(page); n > 0 {
			return n
		}
	}
	return c.Profile.AvgPageBytes()
}

// Split partitions r into ordered chunks. Every strategy yields contiguous,
// non-overlapping chunks that cover r exactly once.
func Split(r models.PageRange, strategy models.SplitStrategy, c Constraints) ([]models.Chunk, error) {
	if r.Start < 1 || r.End < r.Start {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}
	if c.DocumentPages > 0 && r.End > c.DocumentPages {
		return nil, fmt.Errorf("%w: %s exceeds document of %d pages", ErrInvalidRange, r, c.DocumentPages)
	}
	c = c.normalized()

	if r.Pages() == 1 {
		return fixed(r, 1, c), nil
	}

	switch strategy {
	case models.SplitByPages, "":
		return fixed(r, c.MaxPagesPerChunk, c), nil
	case models.SplitBySize:
		return bySize(r, c), nil
	case models.SplitByMemory:
		return fixed(r, memoryPagesPerChunk(c), c), nil
	case models.SplitAdaptive:
		return adaptive(r, c), nil
	case models.SplitIntelligent:
		return intelligent(r, c), nil
	default:
		return nil, fmt.Errorf("unknown split strategy %q", strategy)
	}
}

// Single returns the whole range as one chunk, used when splitting is off.
func Single(r models.PageRange) ([]models.Chunk, error) {
	if r.Start < 1 || r.End < r.Start {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}
	return []models.Chunk{newChunk(0, r.Start, r.End, Constraints{})}, nil
}

func newChunk(id, start, end int, c Constraints) models.Chunk {
	ch := models.Chunk{ID: id, StartPage: start, EndPage: end, Status: models.ChunkPending}
	if c.PageBytes != nil || c.Profile.SizeBytes > 0 {
		for p := start; p <= end; p++ {
			ch.EstimatedBytes += c.pageBytes(p)
		}
	}
	return ch
}

func fixed(r models.PageRange, perChunk int, c Constraints) []models.Chunk {
	if perChunk < 1 {
		perChunk = 1
	}
	chunks := make([]models.Chunk, 0, (r.Pages()+perChunk-1)/perChunk)
	for start := r.Start; start <= r.End; start += perChunk {
		end := start + perChunk - 1
		if end > r.End {
			end = r.End
		}
		chunks = append(chunks, newChunk(len(chunks), start, end, c))
	}
	return chunks
}

// bySize accumulates pages until the next one would push the chunk past the
// byte budget. A chunk always holds at least one page and never more than
// MaxPagesPerChunk.
func bySize(r models.PageRange, c Constraints) []models.Chunk {
	if c.PageBytes == nil && c.Profile.SizeBytes == 0 {
		return fixed(r, c.MaxPagesPerChunk, c)
	}

	var chunks []models.Chunk
	start := r.Start
	var size int64
	for p := r.Start; p <= r.End; p++ {
		pb := c.pageBytes(p)
		pages := p - start
		if pages > 0 && (size+pb > c.MaxChunkBytes || pages >= c.MaxPagesPerChunk) {
			chunks = append(chunks, newChunk(len(chunks), start, p-1, c))
			start, size = p, 0
		}
		size += pb
	}
	return append(chunks, newChunk(len(chunks), start, r.End, c))
}

// memoryPagesPerChunk sizes chunks so that Parallelism chunks in flight stay
// under the memory budget.
func memoryPagesPerChunk(c Constraints) int {
	perPage := c.Profile.MemoryPerPage()
	budget := c.MaxMemoryBytes / int64(c.Parallelism)
	pages := int(budget / perPage)
	if pages < c.MinPagesPerChunk {
		pages = c.MinPagesPerChunk
	}
	if pages > c.MaxPagesPerChunk {
		pages = c.MaxPagesPerChunk
	}
	return pages
}

func adaptive(r models.PageRange, c Constraints) []models.Chunk {
	p := c.Profile
	switch {
	case !p.Known():
		return fixed(r, c.MaxPagesPerChunk, c)
	case p.HasImages && p.SizeBytes > 200*mb:
		return bySize(r, c)
	case r.Pages() > 100:
		return fixed(r, c.MaxPagesPerChunk, c)
	default:
		return fixed(r, memoryPagesPerChunk(c), c)
	}
}

// intelligent aims for two chunks per worker so the pool stays busy, then
// shrinks chunks for pages heavier than a 1MB baseline.
func intelligent(r models.PageRange, c Constraints) []models.Chunk {
	if !c.Profile.Known() {
		return fixed(r, c.MaxPagesPerChunk, c)
	}

	target := c.Parallelism * 2
	perChunk := (r.Pages() + target - 1) / target

	if avg := c.Profile.AvgPageBytes(); avg > mb {
		perChunk = int(float64(perChunk) * float64(mb) / float64(avg))
	}
	if c.Profile.HasImages {
		perChunk = perChunk * 3 / 4
	}

	if perChunk < c.MinPagesPerChunk {
		perChunk = c.MinPagesPerChunk
	}
	if perChunk > c.MaxPagesPerChunk {
		perChunk = c.MaxPagesPerChunk
	}
	return fixed(r, perChunk, c)
}
