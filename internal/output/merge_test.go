package output_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kiranshivaraju/ocrflow/internal/output"
)

func TestMerge_SingleChunkHasNoHeaders(t *testing.T) {
	got := output.Merge([]output.Section{{ChunkID: 0, Text: "  page one\n\npage two  "}}, 1, nil)
	assert.Equal(t, "page one\n\npage two", got)
}

func TestMerge_MultipleChunksInOrder(t *testing.T) {
	got := output.Merge([]output.Section{
		{ChunkID: 0, Text: "first"},
		{ChunkID: 1, Text: "second"},
	}, 2, nil)
	assert.Equal(t, "---\n\n# Section 1\n\nfirst\n\n---\n\n# Section 2\n\nsecond", got)
}

func TestMerge_FailureSummary(t *testing.T) {
	got := output.Merge([]output.Section{
		{ChunkID: 0, Text: "first"},
		{ChunkID: 2, Text: "third"},
	}, 3, []string{"chunk_002"})

	assert.Contains(t, got, "# Section 1\n\nfirst")
	assert.Contains(t, got, "# Section 3\n\nthird")
	assert.NotContains(t, got, "# Section 2")
	assert.Contains(t, got, "## Processing summary")
	assert.Contains(t, got, "- Sections processed: 2\n")
	assert.Contains(t, got, "- Sections failed: 1\n")
	assert.Contains(t, got, "- Failed sections: chunk_002\n")
}

func TestJoinPages(t *testing.T) {
	assert.Equal(t, "a\n\nb", output.JoinPages([]string{"a", "b"}))
	assert.Equal(t, "", output.JoinPages(nil))
}
