// Package file implements the "file" data source: a CSV on local disk.
package file

import (
	"context"
	"fmt"
	"io"
	"os"

	"csvpipeline/internal/datasource"
)

func init() {
	datasource.Register("file", func(cfg datasource.Config) (datasource.Source, error) {
		return NewLocal(cfg.Path), nil
	})
}

// Local is a filesystem data source that opens files from the local disk.
type Local struct{ path string }

var _ datasource.Source = (*Local)(nil)

// NewLocal returns a Local bound to path.
func NewLocal(path string) *Local { return &Local{path: path} }

// Name returns the configured path.
func (l *Local) Name() string { return l.path }

// Open opens the configured path for reading.
//
// Behavior:
//   - If ctx is already done, Open returns the context error without touching
//     the filesystem.
//   - Filesystem errors are wrapped with the path while still permitting
//     errors.Is checks (e.g. errors.Is(err, os.ErrNotExist)).
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	return f, nil
}
