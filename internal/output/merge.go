package output

import (
	"fmt"
	"strings"
)

// Section is the recognised text of one chunk.
type Section struct {
	ChunkID int
	Text    string
}

// Merge joins chunk sections in the given order. With more than one chunk
// every section gets a "---" rule and a "# Section N" header. Failed chunk
// labels produce a trailing processing summary.
func Merge(sections []Section, totalChunks int, failed []string) string {
	var b strings.Builder
	for i, s := range sections {
		text := strings.TrimSpace(s.Text)
		if totalChunks > 1 {
			if i > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "---\n\n# Section %d\n\n", s.ChunkID+1)
		} else if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}

	if len(failed) > 0 {
		b.WriteString("\n\n---\n\n## Processing summary\n\n")
		fmt.Fprintf(&b, "- Sections processed: %d\n", len(sections))
		fmt.Fprintf(&b, "- Sections failed: %d\n", len(failed))
		fmt.Fprintf(&b, "- Failed sections: %s\n", strings.Join(failed, ", "))
	}
	return b.String()
}

// JoinPages concatenates page texts of one chunk.
func JoinPages(pages []string) string {
	return strings.Join(pages, "\n\n")
}
