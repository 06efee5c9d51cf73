// Package local implements the "filesystem" blob backend rooted at a local
// directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"csvpipeline/internal/blob"
)

// Store keeps artifacts as files under Root. Names use forward slashes and
// must stay inside Root.
type Store struct {
	root string
}

var (
	_ blob.Store  = (*Store)(nil)
	_ blob.Opener = (*Store)(nil)
)

func init() {
	blob.Register("filesystem", func(_ context.Context, cfg blob.Config) (blob.Store, error) {
		return New(cfg.Root)
	})
}

// New creates root if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("local blob: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("local blob: create root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) path(name string) (string, error) {
	clean := filepath.FromSlash(name)
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("local blob: invalid name %q", name)
	}
	return filepath.Join(s.root, clean), nil
}

// Read returns the artifact bytes.
func (s *Store) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("local blob: read %s: %w", name, err)
	}
	return b, nil
}

// Open streams the artifact.
func (s *Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("local blob: open %s: %w", name, err)
	}
	return f, nil
}

// Save writes to a temp file in the target directory, syncs it and renames
// it over the destination.
func (s *Store) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("local blob: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(p)+"-*")
	if err != nil {
		return fmt.Errorf("local blob: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("local blob: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("local blob: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("local blob: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("local blob: rename %s: %w", name, err)
	}
	return nil
}

// Delete removes the artifact.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(name)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", blob.ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("local blob: delete %s: %w", name, err)
	}
	return nil
}
