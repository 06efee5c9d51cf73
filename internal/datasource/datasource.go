// Package datasource opens the CSV an extraction run reads from. Backends
// register themselves by kind; import internal/datasource/all to enable them.
package datasource

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"csvpipeline/internal/blob"
)

// Source is one readable CSV. Name identifies it for checkpoints and chunk
// references and must be stable across restarts.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Name() string
}

// Config selects a source. Blobs is consulted by the "blob" kind.
type Config struct {
	Kind  string
	Path  string
	Blobs blob.Store
}

// Factory builds a Source for cfg.
type Factory func(cfg Config) (Source, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a source kind available to New.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New builds the source selected by cfg.Kind.
func New(cfg Config) (Source, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported source.kind=%s", cfg.Kind)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("source.kind=%s: path is required", cfg.Kind)
	}
	return f(cfg)
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
