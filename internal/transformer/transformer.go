// Package transformer implements the transformation stage: a raw chunk
// artifact is renamed to standard columns, trimmed, coerced cell by cell and
// validated, then written as a cleansed artifact.
//
// Bad data never fails a chunk. Coercion and validation problems are recorded
// on the row and rendered into the trailing Error column; only structural
// problems (unreadable artifact, corrupt schema) fail the chunk.
package transformer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"csvpipeline/internal/blob"
	"csvpipeline/internal/chunk"
	"csvpipeline/internal/logger"
	"csvpipeline/internal/metrics"
	csvparser "csvpipeline/internal/parser/csv"
	"csvpipeline/internal/retry"
	"csvpipeline/internal/schema"
	"csvpipeline/internal/transformer/builtin"
)

// ErrTransformation matches every *Failure.
var ErrTransformation = errors.New("transformation failed")

// Failure is a chunk-level transformation failure.
type Failure struct {
	ChunkIndex int
	Artifact   string
	Err        error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("transform chunk %d (%s): %v", f.ChunkIndex, f.Artifact, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is makes errors.Is(err, ErrTransformation) true for any Failure.
func (f *Failure) Is(target error) bool { return target == ErrTransformation }

// Options tunes an Engine.
type Options struct {
	// Job labels metrics.
	Job          string
	OutputPrefix string
	// UnmappedColumns is UnmappedKeep (default) or UnmappedDrop.
	UnmappedColumns      string
	DropRowsWithErrors   bool
	TotalAmountTolerance float64
	Retry                retry.Policy
}

// Engine transforms chunks against one immutable schema registry. It is
// safe for concurrent use.
type Engine struct {
	registry *schema.Registry
	store    blob.Store
	opt      Options
}

// New returns an Engine reading and writing artifacts in store.
func New(registry *schema.Registry, store blob.Store, opt Options) *Engine {
	if opt.UnmappedColumns == "" {
		opt.UnmappedColumns = UnmappedKeep
	}
	return &Engine{registry: registry, store: store, opt: opt}
}

// Process is the pure part of a transformation: header mapping, blank row
// removal, trimming, per-column coercion, TotalAmount validation and the
// optional drop of errored rows. It fails only on a header the schema cannot
// map unambiguously.
func (e *Engine) Process(header []string, rows [][]string) (Table, error) {
	p, err := compilePlan(e.registry, header, e.opt.UnmappedColumns)
	if err != nil {
		return Table{}, err
	}

	t := Table{Header: p.header, Rows: make([]Row, 0, len(rows))}
	for _, raw := range rows {
		if builtin.IsBlank(raw) {
			continue
		}
		row := Row{Values: make([]string, len(p.cols))}
		if p.errorSrc >= 0 && p.errorSrc < len(raw) {
			for _, msg := range strings.Split(builtin.TrimCell(raw[p.errorSrc]), "; ") {
				if msg != "" {
					row.addError(FieldError{Column: schema.ErrorColumn, Message: msg})
				}
			}
		}
		for j, c := range p.cols {
			cell := ""
			if c.src < len(raw) {
				cell = builtin.TrimCell(raw[c.src])
			}
			row.Values[j] = cell
			if c.mapping == nil {
				continue
			}
			if cell == "" {
				if !c.mapping.Optional {
					row.addError(FieldError{Column: c.mapping.Standard, Message: c.mapping.Standard + ": missing value"})
				}
				continue
			}
			out, err := e.registry.Coerce(*c.mapping, cell)
			if err != nil {
				row.addError(FieldError{
					Column:   c.mapping.Standard,
					Message:  fmt.Sprintf("%s: %v", c.mapping.Standard, err),
					Optional: c.mapping.Optional,
				})
				continue
			}
			row.Values[j] = out
		}
		t.Rows = append(t.Rows, row)
	}

	t = ValidateTotalAmount(t, e.opt.TotalAmountTolerance)
	if e.opt.DropRowsWithErrors {
		var dropped int
		t, dropped = DropErrored(t, true)
		metrics.RecordRow(e.opt.Job, "dropped_errored", int64(dropped))
	}
	return t, nil
}

// Transform reads the chunk behind ref, processes it and writes the cleansed
// artifact, returning its reference. Failures are *Failure; structural ones
// are also marked retry.Permanent.
func (e *Engine) Transform(ctx context.Context, ref chunk.Ref) (chunk.Ref, error) {
	start := time.Now()
	ctx = logger.WithChunk(logger.WithStage(ctx, "transform"), ref.ChunkIndex)
	out, err := e.transform(ctx, ref)
	metrics.RecordStep(e.opt.Job, "transform", err, time.Since(start))
	if err != nil {
		f := &Failure{ChunkIndex: ref.ChunkIndex, Artifact: ref.ArtifactPath, Err: err}
		if retry.IsPermanent(err) {
			return chunk.Ref{}, retry.Permanent(f)
		}
		return chunk.Ref{}, f
	}
	logger.FromContext(ctx).Info("chunk transformed",
		"artifact", out.ArtifactPath, "rows", out.Rows, "elapsed", time.Since(start).Round(time.Millisecond))
	return out, nil
}

func (e *Engine) transform(ctx context.Context, ref chunk.Ref) (chunk.Ref, error) {
	var data []byte
	err := retry.Do(ctx, e.opt.Retry, func(ctx context.Context) error {
		var err error
		data, err = e.store.Read(ctx, ref.ArtifactPath)
		if errors.Is(err, blob.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return chunk.Ref{}, fmt.Errorf("read artifact: %w", err)
	}
	if err := ref.Verify(data); err != nil {
		return chunk.Ref{}, retry.Permanent(err)
	}
	header, rows, err := csvparser.DecodeChunk(data)
	if err != nil {
		return chunk.Ref{}, retry.Permanent(err)
	}

	t, err := e.Process(header, rows)
	if err != nil {
		return chunk.Ref{}, retry.Permanent(err)
	}
	e.recordRows(len(rows), t)

	outHeader, outRows := t.Records()
	encoded, err := csvparser.EncodeChunk(outHeader, outRows)
	if err != nil {
		return chunk.Ref{}, retry.Permanent(fmt.Errorf("encode: %w", err))
	}
	out := chunk.Ref{
		ArtifactPath: chunk.ArtifactName(e.opt.OutputPrefix, ref.ChunkIndex),
		ChunkIndex:   ref.ChunkIndex,
		Source:       ref.Source,
		Rows:         len(outRows),
		Checksum:     chunk.Checksum(encoded),
	}
	err = retry.Do(ctx, e.opt.Retry, func(ctx context.Context) error {
		return e.store.Save(ctx, out.ArtifactPath, encoded)
	})
	if err != nil {
		return chunk.Ref{}, fmt.Errorf("save artifact: %w", err)
	}
	return out, nil
}

func (e *Engine) recordRows(in int, t Table) {
	var annotated int64
	for _, r := range t.Rows {
		if len(r.Errors) > 0 {
			annotated++
		}
	}
	metrics.RecordRow(e.opt.Job, "annotated", annotated)
	if !e.opt.DropRowsWithErrors {
		metrics.RecordRow(e.opt.Job, "dropped_empty", int64(in-len(t.Rows)))
	}
}
