package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"csvpipeline/internal/blob"
	"csvpipeline/internal/chunk"
)

// ErrCheckpointRegression is returned when a save would move
// LastChunkIndex backwards.
var ErrCheckpointRegression = errors.New("checkpoint regression")

// Checkpoint records extraction progress for one source.
type Checkpoint struct {
	// LastChunkIndex counts the chunks already written; a resumed run starts
	// at this index.
	LastChunkIndex int `json:"last_chunk_index"`
	// Pending is a chunk written and checkpointed but not yet confirmed as
	// published. It is yielded again first on restart.
	Pending   *chunk.Ref `json:"pending,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CheckpointStore persists checkpoints keyed by source name. Load returns a
// zero Checkpoint when none exists.
type CheckpointStore interface {
	Load(ctx context.Context, source string) (Checkpoint, error)
	Save(ctx context.Context, source string, cp Checkpoint) error
	Clear(ctx context.Context, source string) error
}

// BlobCheckpoints keeps one JSON document per source in a blob store.
type BlobCheckpoints struct {
	store  blob.Store
	prefix string
	mu     sync.Mutex
}

var _ CheckpointStore = (*BlobCheckpoints)(nil)

// NewBlobCheckpoints stores checkpoints under prefix.
func NewBlobCheckpoints(store blob.Store, prefix string) *BlobCheckpoints {
	return &BlobCheckpoints{store: store, prefix: strings.Trim(prefix, "/")}
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Key returns the artifact name holding the checkpoint for source.
func (b *BlobCheckpoints) Key(source string) string {
	clean := strings.Trim(unsafeChars.ReplaceAllString(source, "_"), "_.")
	if clean == "" {
		clean = "source"
	}
	return path.Join(b.prefix, clean+".json")
}

// Load reads the checkpoint for source.
func (b *BlobCheckpoints) Load(ctx context.Context, source string) (Checkpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load(ctx, source)
}

func (b *BlobCheckpoints) load(ctx context.Context, source string) (Checkpoint, error) {
	data, err := b.store.Read(ctx, b.Key(source))
	if errors.Is(err, blob.ErrNotFound) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", b.Key(source), err)
	}
	if cp.LastChunkIndex < 0 {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: negative chunk index %d", b.Key(source), cp.LastChunkIndex)
	}
	return cp, nil
}

// Save replaces the checkpoint for source. LastChunkIndex may not decrease.
func (b *BlobCheckpoints) Save(ctx context.Context, source string, cp Checkpoint) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, err := b.load(ctx, source)
	if err != nil {
		return err
	}
	if cp.LastChunkIndex < cur.LastChunkIndex {
		return fmt.Errorf("%w: %d < %d", ErrCheckpointRegression, cp.LastChunkIndex, cur.LastChunkIndex)
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := b.store.Save(ctx, b.Key(source), data); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint once a source is fully extracted.
func (b *BlobCheckpoints) Clear(ctx context.Context, source string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.store.Delete(ctx, b.Key(source))
	if err != nil && !errors.Is(err, blob.ErrNotFound) {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}
