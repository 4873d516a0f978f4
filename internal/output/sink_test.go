package output_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/ocrflow/internal/output"
)

func newSink(t *testing.T) (*output.FileSink, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := output.NewFileSink(dir)
	require.NoError(t, err)
	return s, dir
}

func TestPageKey(t *testing.T) {
	assert.Equal(t, "page_0001.md", output.PageKey(1))
	assert.Equal(t, "page_0123.md", output.PageKey(123))
}

func TestFileSink_WriteRead(t *testing.T) {
	s, dir := newSink(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "task-1", output.PageKey(3), "hello"))

	got, err := s.Read(ctx, "task-1", "page_0003.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.FileExists(t, filepath.Join(dir, "task-1", "page_0003.md"))
}

func TestFileSink_FirstWriteWins(t *testing.T) {
	s, _ := newSink(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "task-1", output.CombinedKey, "first"))
	require.NoError(t, s.Write(ctx, "task-1", output.CombinedKey, "second"))

	got, err := s.Read(ctx, "task-1", output.CombinedKey)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
}

func TestFileSink_ConcurrentWritesSameKey(t *testing.T) {
	s, _ := newSink(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Write(ctx, "task-1", output.PageKey(1), "same"))
		}()
	}
	wg.Wait()

	keys, err := s.List(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"page_0001.md"}, keys)
}

func TestFileSink_CombinedRendersHTML(t *testing.T) {
	s, _ := newSink(t)
	ctx := context.Background()

	md := "# Section 1\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"
	require.NoError(t, s.Write(ctx, "task-1", output.CombinedKey, md))

	html, err := s.Read(ctx, "task-1", output.CombinedHTMLKey)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<h1")
	assert.Contains(t, string(html), "<table>")
	assert.True(t, strings.HasPrefix(string(html), "<!DOCTYPE html>"))
}

func TestFileSink_ReadMissing(t *testing.T) {
	s, _ := newSink(t)
	_, err := s.Read(context.Background(), "task-1", output.CombinedKey)
	assert.ErrorIs(t, err, output.ErrNotFound)
}

func TestFileSink_RejectsTraversal(t *testing.T) {
	s, _ := newSink(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Write(ctx, "task-1", "../escape.md", "x"), output.ErrInvalidKey)
	assert.ErrorIs(t, s.Write(ctx, "../task", output.CombinedKey, "x"), output.ErrInvalidKey)
	_, err := s.Read(ctx, "task-1", "/etc/passwd")
	assert.ErrorIs(t, err, output.ErrInvalidKey)
}

func TestFileSink_ListAndRemove(t *testing.T) {
	s, dir := newSink(t)
	ctx := context.Background()

	keys, err := s.List(ctx, "task-1")
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.Write(ctx, "task-1", output.PageKey(2), "b"))
	require.NoError(t, s.Write(ctx, "task-1", output.PageKey(1), "a"))
	require.NoError(t, s.Write(ctx, "task-1", output.CombinedKey, "a\n\nb"))

	keys, err = s.List(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"combined.html", "combined.md", "page_0001.md", "page_0002.md"}, keys)

	require.NoError(t, s.Remove(ctx, "task-1"))
	_, err = os.Stat(filepath.Join(dir, "task-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileSink_CancelledContext(t *testing.T) {
	s, _ := newSink(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Write(ctx, "task-1", output.PageKey(1), "x"), context.Canceled)
}
