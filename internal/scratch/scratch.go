// Package scratch hands out private working directories for downloads so
// concurrent fetches never share a well-known temporary filename.
package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const prefix = "boxy-dl-"

// Dir is a freshly created directory owned by a single download.
type Dir struct {
	path string
}

// New creates a unique directory under root. An empty root selects
// os.TempDir().
func New(root string) (*Dir, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("scratch: create root: %w", err)
	}
	path := filepath.Join(root, prefix+uuid.NewString())
	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, fmt.Errorf("scratch: create dir: %w", err)
	}
	return &Dir{path: path}, nil
}

// Path returns the directory location.
func (d *Dir) Path() string {
	if d == nil {
		return ""
	}
	return d.path
}

// Cleanup removes the directory and everything in it. Safe to call more than once.
func (d *Dir) Cleanup() error {
	if d == nil || d.path == "" {
		return nil
	}
	if err := os.RemoveAll(d.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("scratch: cleanup %s: %w", d.path, err)
	}
	return nil
}
