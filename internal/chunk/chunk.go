// Package chunk defines the Chunk Reference passed between stages and the
// deterministic artifact naming shared by producer and consumer.
package chunk

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/zeebo/xxh3"
)

// ErrChecksumMismatch means an artifact's bytes differ from what its
// producer published.
var ErrChecksumMismatch = errors.New("chunk checksum mismatch")

// Ref points at one persisted chunk artifact. It is immutable once
// published.
type Ref struct {
	ArtifactPath string `json:"artifact_path"`
	ChunkIndex   int    `json:"chunk_index"`

	// Source names the file the chunk was cut from.
	Source string `json:"source,omitempty"`
	// Rows counts data rows in the artifact (header excluded).
	Rows int `json:"rows"`
	// Checksum is the xxh3 hash of the artifact bytes; zero disables checks.
	Checksum uint64 `json:"checksum,omitempty"`
}

// Encode marshals the reference as a queue message body.
func (r Ref) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRef parses a queue message body.
func DecodeRef(b []byte) (Ref, error) {
	var r Ref
	if err := json.Unmarshal(b, &r); err != nil {
		return Ref{}, fmt.Errorf("decode chunk ref: %w", err)
	}
	if r.ArtifactPath == "" {
		return Ref{}, errors.New("decode chunk ref: empty artifact path")
	}
	if r.ChunkIndex < 0 {
		return Ref{}, fmt.Errorf("decode chunk ref: negative chunk index %d", r.ChunkIndex)
	}
	return r, nil
}

// ArtifactName returns "<prefix>/chunk_<index>.csv".
func ArtifactName(prefix string, index int) string {
	return path.Join(strings.Trim(prefix, "/"), fmt.Sprintf("chunk_%d.csv", index))
}

// Checksum hashes artifact bytes.
func Checksum(data []byte) uint64 {
	return xxh3.Hash(data)
}

// Verify checks data against the reference's checksum.
func (r Ref) Verify(data []byte) error {
	if r.Checksum == 0 {
		return nil
	}
	if got := Checksum(data); got != r.Checksum {
		return fmt.Errorf("%w: %s: want %016x, got %016x", ErrChecksumMismatch, r.ArtifactPath, r.Checksum, got)
	}
	return nil
}
