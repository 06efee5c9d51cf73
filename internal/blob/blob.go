// Package blob defines the named-artifact store used for chunk artifacts,
// checkpoints and error logs, plus a registry of backends keyed by kind.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// ErrNotFound is returned when a named artifact does not exist.
var ErrNotFound = errors.New("blob not found")

// Store reads, writes and deletes whole artifacts. Save replaces an existing
// artifact atomically: readers see the old bytes or the new bytes, never a
// partial write.
type Store interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
}

// Opener is implemented by stores that can stream an artifact.
type Opener interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Config carries backend-neutral settings; each backend reads what it needs.
type Config struct {
	Kind string

	// filesystem
	Root string

	// s3
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. Re-registering replaces the
// previous factory.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens the backend selected by cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported blob.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
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
