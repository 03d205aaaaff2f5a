// Package archive persists raw fetched HTML so parse failures can be
// replayed offline. Archiving is best-effort; the crawl never fails on it.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Store saves one page of raw markup for a job.
type Store interface {
	Save(ctx context.Context, jobID string, page int, markup string) error
}

// Noop discards everything.
type Noop struct{}

// Save does nothing.
func (Noop) Save(context.Context, string, int, string) error { return nil }

// FS writes pages under a local directory.
type FS struct {
	dir    string
	prefix string
}

// NewFS creates a filesystem archive rooted at dir.
func NewFS(dir, prefix string) (*FS, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive.dir is required")
	}
	if prefix == "" {
		prefix = "pages"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &FS{dir: dir, prefix: prefix}, nil
}

// Save writes one page to <dir>/<prefix>/<job>/page-N.html.
func (f *FS) Save(_ context.Context, jobID string, page int, markup string) error {
	dir := filepath.Join(f.dir, f.prefix, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("page-%d.html", page))
	if err := os.WriteFile(path, []byte(markup), 0o644); err != nil {
		return fmt.Errorf("write page: %w", err)
	}
	return nil
}
