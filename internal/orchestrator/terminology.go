package orchestrator

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// loadTerminology reads the term list named ref from dir. One term per line;
// blank lines and lines starting with # are skipped.
func loadTerminology(dir, ref string) ([]string, error) {
	if ref == "" {
		return nil, nil
	}
	if dir == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return nil, fmt.Errorf("%w: unknown terminology %q", ErrInvalidJob, ref)
	}

	f, err := os.Open(filepath.Join(dir, ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: unknown terminology %q", ErrInvalidJob, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("open terminology: %w", err)
	}
	defer f.Close()

	var terms []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read terminology: %w", err)
	}
	return terms, nil
}
