// Package cache stores provider results under content-derived fingerprints so
// identical pages are never sent to a paid API twice.
package cache

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

// ErrUnavailable wraps any backend failure. Callers treat it as a miss.
var ErrUnavailable = errors.New("cache unavailable")

// Store is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Store interface {
	// Lookup returns the entry for fp and records the access.
	Lookup(ctx context.Context, fp string) (*Entry, bool, error)
	// Put stores p under fp. Storing an equal payload again is a no-op.
	Put(ctx context.Context, fp string, p Payload) error
	Evict(ctx context.Context, policy EvictPolicy) (EvictReport, error)
	Stats(ctx context.Context) (Stats, error)
	// Clear removes every entry and returns how many were removed.
	Clear(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// FillLocker is implemented by shared backends that can serialize misses for
// one fingerprint across processes. The returned func releases the lock.
type FillLocker interface {
	LockFill(ctx context.Context, fp string) (func(), error)
}

// Payload is the cached result of one page.
type Payload struct {
	Text            string            `json:"text"`
	OCRUsage        models.TokenUsage `json:"ocr_usage"`
	CorrectionUsage models.TokenUsage `json:"correction_usage"`
}

// Equal reports whether two payloads carry the same result.
func (p Payload) Equal(o Payload) bool {
	return p.Text == o.Text && p.OCRUsage == o.OCRUsage && p.CorrectionUsage == o.CorrectionUsage
}

// Size is the number of bytes the payload accounts for in the size budget.
func (p Payload) Size() int64 { return int64(len(p.Text)) }

// Entry is a stored payload plus its bookkeeping.
type Entry struct {
	Fingerprint    string    `json:"fingerprint"`
	Payload        Payload   `json:"payload"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`
	SizeBytes      int64     `json:"size_bytes"`
}

// EvictPolicy bounds the cache. Zero fields disable the matching rule.
type EvictPolicy struct {
	MaxAge       time.Duration
	MaxSizeBytes int64
	MaxEntries   int
	// PreserveRecent entries, by last access, are exempt from the
	// MaxEntries rule.
	PreserveRecent int
}

// DefaultEvictPolicy is 30 days, 5GB, 1000 entries, 100 preserved.
func DefaultEvictPolicy() EvictPolicy {
	return EvictPolicy{
		MaxAge:         30 * 24 * time.Hour,
		MaxSizeBytes:   5 << 30,
		MaxEntries:     1000,
		PreserveRecent: 100,
	}
}

// EvictReport summarizes one eviction pass.
type EvictReport struct {
	RemovedExpired int   `json:"removed_expired"`
	RemovedLRU     int   `json:"removed_lru"`
	BytesFreed     int64 `json:"bytes_freed"`
}

// Stats summarizes cache contents.
type Stats struct {
	TotalEntries     int64      `json:"total_entries"`
	TotalSizeBytes   int64      `json:"total_size_bytes"`
	TotalAccessCount int64      `json:"total_access_count"`
	OldestEntry      *time.Time `json:"oldest_entry,omitempty"`
	NewestEntry      *time.Time `json:"newest_entry,omitempty"`
}

// planEviction decides which entries an eviction pass removes. Expired
// entries go first; then the least recently accessed go until both the size
// budget and the entry limit hold.
func planEviction(entries []Entry, p EvictPolicy, now time.Time) (expired, lru []Entry) {
	live := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if p.MaxAge > 0 && now.Sub(e.CreatedAt) > p.MaxAge {
			expired = append(expired, e)
			continue
		}
		live = append(live, e)
	}

	sort.Slice(live, func(i, j int) bool {
		return live[i].LastAccessedAt.Before(live[j].LastAccessedAt)
	})

	var size int64
	for _, e := range live {
		size += e.SizeBytes
	}
	maxEntries := p.MaxEntries
	if maxEntries > 0 && p.PreserveRecent > maxEntries {
		maxEntries = p.PreserveRecent
	}

	count := len(live)
	for _, e := range live {
		overSize := p.MaxSizeBytes > 0 && size > p.MaxSizeBytes
		overCount := maxEntries > 0 && count > maxEntries
		if !overSize && !overCount {
			break
		}
		lru = append(lru, e)
		size -= e.SizeBytes
		count--
	}
	return expired, lru
}

func summarize(entries []Entry) Stats {
	var s Stats
	for i := range entries {
		e := &entries[i]
		s.TotalEntries++
		s.TotalSizeBytes += e.SizeBytes
		s.TotalAccessCount += e.AccessCount
		if s.OldestEntry == nil || e.CreatedAt.Before(*s.OldestEntry) {
			t := e.CreatedAt
			s.OldestEntry = &t
		}
		if s.NewestEntry == nil || e.CreatedAt.After(*s.NewestEntry) {
			t := e.CreatedAt
			s.NewestEntry = &t
		}
	}
	return s
}
