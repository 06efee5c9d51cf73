// Package object implements the "blob" data source: a CSV stored in the
// configured blob store.
package object

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"csvpipeline/internal/blob"
	"csvpipeline/internal/datasource"
)

func init() {
	datasource.Register("blob", func(cfg datasource.Config) (datasource.Source, error) {
		if cfg.Blobs == nil {
			return nil, errors.New("source.kind=blob: no blob store configured")
		}
		return New(cfg.Blobs, cfg.Path), nil
	})
}

// Source reads one named artifact.
type Source struct {
	store blob.Store
	name  string
}

var _ datasource.Source = (*Source)(nil)

// New returns a Source for name in store.
func New(store blob.Store, name string) *Source {
	return &Source{store: store, name: name}
}

// Name returns the artifact name.
func (s *Source) Name() string { return s.name }

// Open streams the artifact when the store supports it and otherwise reads
// it whole.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	if o, ok := s.store.(blob.Opener); ok {
		rc, err := o.Open(ctx, s.name)
		if err != nil {
			return nil, fmt.Errorf("open blob %s: %w", s.name, err)
		}
		return rc, nil
	}
	b, err := s.store.Read(ctx, s.name)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", s.name, err)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}
