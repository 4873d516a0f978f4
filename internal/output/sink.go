// Package output persists recognised text per task: one markdown file per
// page plus the merged document.
package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

var (
	ErrNotFound   = errors.New("output not found")
	ErrInvalidKey = errors.New("invalid output key")
)

const (
	CombinedKey     = "combined.md"
	CombinedHTMLKey = "combined.html"
)

var keyPattern = regexp.MustCompile(`^[a-z0-9_]+\.(md|html)$`)

// PageKey is the output key of a single page.
func PageKey(page int) string {
	return fmt.Sprintf("page_%04d.md", page)
}

// Sink is where finished text goes. Writes are idempotent per (task, key):
// once a key exists, later writes to it are ignored.
type Sink interface {
	Write(ctx context.Context, taskID, key, text string) error
	Read(ctx context.Context, taskID, key string) ([]byte, error)
	List(ctx context.Context, taskID string) ([]string, error)
	Remove(ctx context.Context, taskID string) error
}

// FileSink stores outputs under <root>/<task_id>/<key>.
type FileSink struct {
	root string
	md   goldmark.Markdown
	mu   sync.Mutex
}

// NewFileSink creates a sink rooted at dir.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &FileSink{
		root: dir,
		md: goldmark.New(
			goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
	}, nil
}

func (s *FileSink) path(taskID, key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if taskID == "" || taskID != filepath.Base(taskID) || taskID == "." || taskID == ".." {
		return "", fmt.Errorf("%w: task id %q", ErrInvalidKey, taskID)
	}
	return filepath.Join(s.root, taskID, key), nil
}

// Write stores text under key. Writing combined.md also renders
// combined.html next to it.
func (s *FileSink) Write(ctx context.Context, taskID, key, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.writeOnce(taskID, key, []byte(text)); err != nil {
		return err
	}
	if key != CombinedKey {
		return nil
	}
	html, err := s.renderHTML(taskID, text)
	if err != nil {
		return err
	}
	return s.writeOnce(taskID, CombinedHTMLKey, html)
}

func (s *FileSink) writeOnce(taskID, key string, data []byte) error {
	path, err := s.path(taskID, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create task output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+key+"-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *FileSink) renderHTML(taskID, markdown string) ([]byte, error) {
	var body bytes.Buffer
	if err := s.md.Convert([]byte(markdown), &body); err != nil {
		return nil, fmt.Errorf("render combined html: %w", err)
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n", taskID)
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}

func (s *FileSink) Read(ctx context.Context, taskID, key string) ([]byte, error) {
	path, err := s.path(taskID, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// List returns the task's output keys in name order.
func (s *FileSink) List(ctx context.Context, taskID string) ([]string, error) {
	if _, err := s.path(taskID, CombinedKey); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, taskID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if !e.IsDir() && keyPattern.MatchString(e.Name()) {
			keys = append(keys, e.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Remove deletes every output of the task.
func (s *FileSink) Remove(ctx context.Context, taskID string) error {
	if _, err := s.path(taskID, CombinedKey); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(filepath.Join(s.root, taskID)); err != nil {
		return fmt.Errorf("remove outputs: %w", err)
	}
	return nil
}

var _ Sink = (*FileSink)(nil)
