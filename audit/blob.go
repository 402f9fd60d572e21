package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohans/voxflow"
)

// Dir stores audio blobs as files under a single directory, keyed by
// filename. This matches how synthesized audio is served back to callers:
// the TTS result is a filename, and the retrieval endpoint reads it here.
type Dir struct {
	root string
}

// NewDir ensures root exists and returns a store over it.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &Dir{root: root}, nil
}

// path rejects names that would escape the root.
func (d *Dir) path(filename string) (string, error) {
	if filename == "" || filename == "." || filename == ".." ||
		strings.ContainsAny(filename, `/\`) || filename != filepath.Base(filename) {
		return "", fmt.Errorf("audio %q: %w", filename, voxflow.ErrNotFound)
	}
	return filepath.Join(d.root, filename), nil
}

func (d *Dir) Save(_ context.Context, filename string, data []byte) error {
	p, err := d.path(filename)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write audio %s: %w", filename, err)
	}
	return nil
}

func (d *Dir) Open(_ context.Context, filename string) ([]byte, error) {
	p, err := d.path(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("audio %q: %w", filename, voxflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read audio %s: %w", filename, err)
	}
	return data, nil
}
