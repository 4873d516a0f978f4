package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/kiranshivaraju/ocrflow/internal/cache"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

// printer renders responses as short text lines, or as the raw JSON data
// when raw is set.
type printer struct {
	w   io.Writer
	raw bool
}

func (p printer) json(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p printer) line(raw []byte, format string, args ...any) error {
	if p.raw {
		return p.json(raw)
	}
	_, err := fmt.Fprintf(p.w, format+"\n", args...)
	return err
}

func (p printer) stats(raw []byte, s cache.Stats) error {
	if p.raw {
		return p.json(raw)
	}
	fmt.Fprintf(p.w, "entries:      %d\n", s.TotalEntries)
	fmt.Fprintf(p.w, "size:         %s\n", humanBytes(s.TotalSizeBytes))
	fmt.Fprintf(p.w, "accesses:     %d\n", s.TotalAccessCount)
	if s.OldestEntry != nil {
		fmt.Fprintf(p.w, "oldest entry: %s\n", s.OldestEntry.Format(time.RFC3339))
	}
	if s.NewestEntry != nil {
		fmt.Fprintf(p.w, "newest entry: %s\n", s.NewestEntry.Format(time.RFC3339))
	}
	return nil
}

func (p printer) evict(raw []byte, r cache.EvictReport) error {
	return p.line(raw, "removed %d expired and %d least recently used entries, freed %s",
		r.RemovedExpired, r.RemovedLRU, humanBytes(r.BytesFreed))
}

func (p printer) snapshot(raw []byte, s models.TaskSnapshot) error {
	if p.raw {
		return p.json(raw)
	}
	status := string(s.Status)
	if s.Phase != "" && !s.Status.Terminal() {
		status += "/" + string(s.Phase)
	}
	fmt.Fprintf(p.w, "%s  %-20s %5.1f%%  pages %d/%d  chunks %d/%d  tokens %d\n",
		s.ID, status, s.ProgressPercent, s.CurrentPage, s.TotalPages,
		s.CurrentChunk, s.TotalChunks, s.Tokens.Total)
	if s.Error != "" {
		fmt.Fprintf(p.w, "  error: %s\n", s.Error)
	}
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
