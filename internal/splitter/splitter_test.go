package splitter_test

import (
	"math/rand"
	"testing"

	"github.com/kiranshivaraju/ocrflow/internal/splitter"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1 << 20

var allStrategies = []models.SplitStrategy{
	models.SplitByPages,
	models.SplitBySize,
	models.SplitByMemory,
	models.SplitAdaptive,
	models.SplitIntelligent,
}

// assertPartition checks that chunks cover r exactly once, in order.
func assertPartition(t *testing.T, r models.PageRange, chunks []models.Chunk) {
	t.Helper()
	require.NotEmpty(t, chunks)
	assert.Equal(t, r.Start, chunks[0].StartPage)
	assert.Equal(t, r.End, chunks[len(chunks)-1].EndPage)
	for i, c := range chunks {
		assert.Equal(t, i, c.ID)
		assert.LessOrEqual(t, c.StartPage, c.EndPage)
		assert.Equal(t, models.ChunkPending, c.Status)
		if i > 0 {
			assert.Equal(t, chunks[i-1].EndPage+1, c.StartPage, "gap or overlap before chunk %d", i)
		}
	}
}

func TestSplit_PartitionPropertyAllStrategies(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		docPages := rng.Intn(400) + 1
		start := rng.Intn(docPages) + 1
		end := start + rng.Intn(docPages-start+1)
		r := models.PageRange{Start: start, End: end}

		c := splitter.DefaultConstraints()
		c.DocumentPages = docPages
		c.MaxPagesPerChunk = rng.Intn(60) + 1
		c.MaxChunkBytes = int64(rng.Intn(50)+1) * mb
		c.Parallelism = rng.Intn(4) + 1
		if rng.Intn(2) == 0 {
			c.Profile = splitter.NewProfile(docPages, int64(rng.Intn(600))*mb, rng.Intn(2) == 0, c)
		}
		if rng.Intn(3) == 0 {
			c.PageBytes = func(page int) int64 { return int64(page%7+1) * mb }
		}

		for _, s := range allStrategies {
			chunks, err := splitter.Split(r, s, c)
			require.NoError(t, err, "strategy %s range %s", s, r)
			assertPartition(t, r, chunks)
			for _, ch := range chunks {
				assert.LessOrEqual(t, ch.Pages(), c.MaxPagesPerChunk, "strategy %s", s)
			}
		}
	}
}

func TestSplit_ByPagesTenIntoFives(t *testing.T) {
	c := splitter.DefaultConstraints()
	c.MaxPagesPerChunk = 5

	chunks, err := splitter.Split(models.PageRange{Start: 1, End: 10}, models.SplitByPages, c)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].StartPage)
	assert.Equal(t, 5, chunks[0].EndPage)
	assert.Equal(t, 6, chunks[1].StartPage)
	assert.Equal(t, 10, chunks[1].EndPage)
}

func TestSplit_ByPagesLastChunkShorter(t *testing.T) {
	c := splitter.DefaultConstraints()
	c.MaxPagesPerChunk = 4

	chunks, err := splitter.Split(models.PageRange{Start: 3, End: 12}, models.SplitByPages, c)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 2, chunks[2].Pages())
}

func TestSplit_SinglePageNeverSplit(t *testing.T) {
	for _, s := range allStrategies {
		chunks, err := splitter.Split(models.PageRange{Start: 7, End: 7}, s, splitter.DefaultConstraints())
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, 7, chunks[0].StartPage)
		assert.Equal(t, 7, chunks[0].EndPage)
	}
}

func TestSplit_InvalidRange(t *testing.T) {
	c := splitter.DefaultConstraints()
	c.DocumentPages = 10

	for _, r := range []models.PageRange{
		{Start: 0, End: 5},
		{Start: 6, End: 5},
		{Start: 5, End: 11},
	} {
		chunks, err := splitter.Split(r, models.SplitByPages, c)
		assert.ErrorIs(t, err, splitter.ErrInvalidRange, "range %s", r)
		assert.Nil(t, chunks)
	}
}

func TestSplit_UnknownStrategy(t *testing.T) {
	_, err := splitter.Split(models.PageRange{Start: 1, End: 10}, "by_color", splitter.DefaultConstraints())
	assert.Error(t, err)
}

func TestSplit_BySizeRespectsBudget(t *testing.T) {
	c := splitter.DefaultConstraints()
	c.MaxChunkBytes = 10 * mb
	c.PageBytes = func(int) int64 { return 3 * mb }

	chunks, err := splitter.Split(models.PageRange{Start: 1, End: 10}, models.SplitBySize, c)
	require.NoError(t, err)
	// Three 3MB pages fit under 10MB, a fourth would not.
	require.Len(t, chunks, 4)
	assert.Equal(t, 3, chunks[0].Pages())
	assert.Equal(t, int64(9*mb), chunks[0].EstimatedBytes)
	assert.Equal(t, 1, chunks[3].Pages())
}

func TestSplit_BySizeOversizedPageGetsOwnChunk(t *testing.T) {
	c := splitter.DefaultConstraints()
	c.MaxChunkBytes = 10 * mb
	c.PageBytes = func(p int) int64 {
		if p == 2 {
			return 50 * mb
		}
		return mb
	}

	chunks, err := splitter.Split(models.PageRange{Start: 1, End: 3}, models.SplitBySize, c)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 2, chunks[1].StartPage)
	assert.Equal(t, 2, chunks[1].EndPage)
}

func TestSplit_ByMemoryAccountsForParallelism(t *testing.T) {
	c := splitter.DefaultConstraints()
	c.MaxPagesPerChunk = 1000
	c.MinPagesPerChunk = 1
	c.MaxMemoryBytes = 64 * mb
	c.Parallelism = 4
	// No profile: 2MB per page, 16MB per worker -> 8 pages per chunk.
	chunks, err := splitter.Split(models.PageRange{Start: 1, End: 40}, models.SplitByMemory, c)
	require.NoError(t, err)
	require.Len(t, chunks, 5)
	assert.Equal(t, 8, chunks[0].Pages())
}

func TestSplit_AdaptiveDegradesToByPages(t *testing.T) {
	c := splitter.DefaultConstraints()
	c.MaxPagesPerChunk = 10

	chunks, err := splitter.Split(models.PageRange{Start: 1, End: 35}, models.SplitAdaptive, c)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	assert.Equal(t, 10, chunks[0].Pages())
}

func TestSplit_IntelligentKeepsWorkersBusy(t *testing.T) {
	c := splitter.DefaultConstraints()
	c.MinPagesPerChunk = 1
	c.Parallelism = 4
	c.Profile = splitter.NewProfile(80, 40*mb, false, c)

	chunks, err := splitter.Split(models.PageRange{Start: 1, End: 80}, models.SplitIntelligent, c)
	require.NoError(t, err)
	assert.Len(t, chunks, 8)
}

func TestSingle(t *testing.T) {
	chunks, err := splitter.Single(models.PageRange{Start: 2, End: 9})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 8, chunks[0].Pages())

	_, err = splitter.Single(models.PageRange{Start: 3, End: 1})
	assert.ErrorIs(t, err, splitter.ErrInvalidRange)
}

// --- Profile ---

func TestEstimateMemory(t *testing.T) {
	assert.Equal(t, int64(60*mb), splitter.EstimateMemory(5))
	assert.Equal(t, int64(2048*mb), splitter.EstimateMemory(5000))
}

func TestRecommend(t *testing.T) {
	c := splitter.DefaultConstraints()

	assert.Equal(t, models.SplitByMemory, splitter.NewProfile(600, 10*mb, false, c).Recommended)
	assert.Equal(t, models.SplitBySize, splitter.NewProfile(20, 10*mb, true, c).Recommended)
	assert.Equal(t, models.SplitByPages, splitter.NewProfile(250, 10*mb, false, c).Recommended)
	assert.Equal(t, models.SplitAdaptive, splitter.NewProfile(20, 10*mb, false, c).Recommended)
}

func TestNewProfile_NeedsSplitting(t *testing.T) {
	c := splitter.DefaultConstraints()
	assert.False(t, splitter.NewProfile(10, mb, false, c).NeedsSplitting)
	assert.True(t, splitter.NewProfile(51, mb, false, c).NeedsSplitting)
	assert.True(t, splitter.NewProfile(10, 200*mb, false, c).NeedsSplitting)
}
