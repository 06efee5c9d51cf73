// Package extractor splits a source CSV into chunk artifacts and yields a
// reference per chunk. Extraction is checkpointed: a restarted run resumes
// after the last written chunk without duplicating or skipping rows.
//
// Per chunk the order is: write the artifact, save the checkpoint with the
// chunk marked pending, hand the reference to the caller, and (once the
// caller has published it) clear the pending marker. A crash anywhere in
// that sequence leaves either an orphaned artifact or a pending reference
// that the next run publishes again.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"csvpipeline/internal/blob"
	"csvpipeline/internal/chunk"
	"csvpipeline/internal/datasource"
	"csvpipeline/internal/logger"
	"csvpipeline/internal/metrics"
	csvparser "csvpipeline/internal/parser/csv"
	"csvpipeline/internal/retry"
)

// DefaultChunkSize is used when Options.ChunkSize is not positive.
const DefaultChunkSize = 10000

// Options tunes an Extractor.
type Options struct {
	// Job labels metrics.
	Job         string
	ChunkSize   int
	ChunkPrefix string
	CSV         csvparser.Options
	// Retry applies to artifact writes and publishes.
	Retry retry.Policy
}

// Extractor produces chunk references for a source.
type Extractor struct {
	store       blob.Store
	checkpoints CheckpointStore
	opt         Options
	now         func() time.Time
}

// New returns an Extractor writing artifacts to store.
func New(store blob.Store, checkpoints CheckpointStore, opt Options) *Extractor {
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = DefaultChunkSize
	}
	return &Extractor{store: store, checkpoints: checkpoints, opt: opt, now: time.Now}
}

// Chunks returns the lazy sequence of chunk references for src. Iteration
// stops at the first error, which is yielded with a zero Ref.
//
// Callers must call MarkPublished for each reference before pulling the next
// one; otherwise a restart cannot tell which chunk still needs publishing.
func (e *Extractor) Chunks(ctx context.Context, src datasource.Source) iter.Seq2[chunk.Ref, error] {
	return func(yield func(chunk.Ref, error) bool) {
		ctx := logger.WithStage(ctx, "extract")
		log := logger.FromContext(ctx).With("source", src.Name())

		cp, err := e.checkpoints.Load(ctx, src.Name())
		if err != nil {
			yield(chunk.Ref{}, err)
			return
		}
		if cp.Pending != nil {
			log.Info("republishing pending chunk", "chunk", cp.Pending.ChunkIndex, "artifact", cp.Pending.ArtifactPath)
			if !yield(*cp.Pending, nil) {
				return
			}
		}

		rc, err := src.Open(ctx)
		if err != nil {
			yield(chunk.Ref{}, fmt.Errorf("open source: %w", err))
			return
		}
		defer rc.Close()

		var malformed int64
		r, err := csvparser.NewReader(rc, e.opt.CSV, func(line int, err error) {
			malformed++
			log.Warn("skipping malformed row", "line", line, "err", err)
		})
		if err != nil {
			// An empty or unreadable header is not going to improve on retry.
			yield(chunk.Ref{}, retry.Permanent(fmt.Errorf("source %s: %w", src.Name(), err)))
			return
		}
		defer func() { metrics.RecordRow(e.opt.Job, "malformed", malformed) }()

		header := r.Header()
		index := cp.LastChunkIndex
		skip := index * e.opt.ChunkSize
		if skip > 0 {
			log.Info("resuming from checkpoint", "chunk", index, "skip_rows", skip)
		}

		rows := make([][]string, 0, e.opt.ChunkSize)
		for {
			if err := ctx.Err(); err != nil {
				yield(chunk.Ref{}, err)
				return
			}
			rec, err := r.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield(chunk.Ref{}, err)
				return
			}
			if skip > 0 {
				skip--
				continue
			}
			rows = append(rows, rec)
			if len(rows) < e.opt.ChunkSize {
				continue
			}
			ref, err := e.emit(ctx, src.Name(), header, rows, index)
			if err != nil {
				yield(chunk.Ref{}, err)
				return
			}
			if !yield(ref, nil) {
				return
			}
			index++
			rows = rows[:0]
		}

		if len(rows) > 0 {
			ref, err := e.emit(ctx, src.Name(), header, rows, index)
			if err != nil {
				yield(chunk.Ref{}, err)
				return
			}
			yield(ref, nil)
		}
	}
}

// emit writes one chunk artifact and records it as pending.
func (e *Extractor) emit(ctx context.Context, source string, header []string, rows [][]string, index int) (chunk.Ref, error) {
	data, err := csvparser.EncodeChunk(header, rows)
	if err != nil {
		return chunk.Ref{}, fmt.Errorf("encode chunk %d: %w", index, err)
	}
	ref := chunk.Ref{
		ArtifactPath: chunk.ArtifactName(e.opt.ChunkPrefix, index),
		ChunkIndex:   index,
		Source:       source,
		Rows:         len(rows),
		Checksum:     chunk.Checksum(data),
	}
	err = retry.Do(ctx, e.opt.Retry, func(ctx context.Context) error {
		return e.store.Save(ctx, ref.ArtifactPath, data)
	})
	if err != nil {
		return chunk.Ref{}, fmt.Errorf("save chunk %d: %w", index, err)
	}
	cp := Checkpoint{LastChunkIndex: index + 1, Pending: &ref, UpdatedAt: e.now().UTC()}
	if err := e.checkpoints.Save(ctx, source, cp); err != nil {
		return chunk.Ref{}, fmt.Errorf("checkpoint chunk %d: %w", index, err)
	}
	metrics.RecordRow(e.opt.Job, "extracted", int64(len(rows)))
	logger.FromContext(logger.WithChunk(ctx, index)).Debug("chunk written", "artifact", ref.ArtifactPath, "rows", len(rows))
	return ref, nil
}

// MarkPublished clears the pending marker for ref.
func (e *Extractor) MarkPublished(ctx context.Context, source string, ref chunk.Ref) error {
	cp, err := e.checkpoints.Load(ctx, source)
	if err != nil {
		return err
	}
	if cp.Pending == nil || cp.Pending.ChunkIndex != ref.ChunkIndex {
		return nil
	}
	cp.Pending = nil
	cp.UpdatedAt = e.now().UTC()
	return e.checkpoints.Save(ctx, source, cp)
}

// Run extracts src to completion, handing every reference to publish, and
// clears the checkpoint at the end. It returns the number of chunks
// published by this run.
func (e *Extractor) Run(ctx context.Context, src datasource.Source, publish func(context.Context, chunk.Ref) error) (int, error) {
	start := time.Now()
	var published, rows int
	for ref, err := range e.Chunks(ctx, src) {
		if err != nil {
			return published, err
		}
		err := retry.Do(ctx, e.opt.Retry, func(ctx context.Context) error {
			return publish(ctx, ref)
		})
		if err != nil {
			return published, fmt.Errorf("publish chunk %d: %w", ref.ChunkIndex, err)
		}
		if err := e.MarkPublished(ctx, src.Name(), ref); err != nil {
			return published, err
		}
		published++
		rows += ref.Rows
		metrics.RecordChunks(e.opt.Job, "published", 1)
	}
	if err := e.checkpoints.Clear(ctx, src.Name()); err != nil {
		return published, err
	}

	elapsed := time.Since(start)
	logger.FromContext(logger.WithStage(ctx, "extract")).Info("extraction complete",
		"source", src.Name(),
		"chunks", published,
		"rows", rows,
		"elapsed", elapsed.Round(time.Millisecond),
		"rows_per_sec", rowsPerSec(rows, elapsed),
	)
	return published, nil
}

func rowsPerSec(rows int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(rows) / d.Seconds()
}
