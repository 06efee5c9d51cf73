// Package loader implements the load stage: a cleansed chunk artifact is
// inserted row by row into the relational store, summarized per
// (CustomerID, ProductID), and deleted.
//
// A bad row never fails the chunk. Rows the store rejects are collected and
// written as one error log artifact next to the chunk's outcome.
package loader

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"csvpipeline/internal/blob"
	"csvpipeline/internal/chunk"
	"csvpipeline/internal/logger"
	"csvpipeline/internal/metrics"
	csvparser "csvpipeline/internal/parser/csv"
	"csvpipeline/internal/retry"
	"csvpipeline/internal/storage"
)

// sampleFailures caps the failure messages logged per chunk.
const sampleFailures = 3

// Options tunes a Loader.
type Options struct {
	// Job labels metrics.
	Job         string
	ErrorPrefix string
	// InsertLimiter, when set, throttles InsertOrder calls.
	InsertLimiter *rate.Limiter
	// Retry applies to blob I/O and to store calls failing with an
	// unclassified (likely transient) error.
	Retry retry.Policy
}

// Result summarizes one Load call.
type Result struct {
	Inserted      int
	Failed        int
	Summaries     int
	SummaryFailed int
	// ErrorLog names the error log artifact, empty when none was written.
	ErrorLog string
}

// Loader loads cleansed chunks. It is safe for concurrent use; each call
// works on its own chunk.
type Loader struct {
	repo  storage.Repository
	store blob.Store
	opt   Options
	now   func() time.Time
}

// New returns a Loader writing to repo and reading artifacts from store.
func New(repo storage.Repository, store blob.Store, opt Options) *Loader {
	return &Loader{repo: repo, store: store, opt: opt, now: time.Now}
}

// Load inserts the rows behind ref. Row failures are reported through the
// error log and Result, not the returned error. Chunk-level failures
// (unreadable or corrupt artifact) are returned; structural ones are marked
// retry.Permanent. The artifact is deleted once every insert was attempted.
func (l *Loader) Load(ctx context.Context, ref chunk.Ref) (Result, error) {
	start := l.now()
	ctx = logger.WithChunk(logger.WithStage(ctx, "load"), ref.ChunkIndex)
	res, err := l.load(ctx, ref)
	metrics.RecordStep(l.opt.Job, "load", err, l.now().Sub(start))
	if err != nil {
		return res, fmt.Errorf("load chunk %d (%s): %w", ref.ChunkIndex, ref.ArtifactPath, err)
	}

	elapsed := l.now().Sub(start)
	rps := int64(0)
	if s := elapsed.Seconds(); s > 0 {
		rps = int64(float64(res.Inserted) / s)
	}
	logger.FromContext(ctx).Info("chunk loaded",
		"inserted", res.Inserted,
		"failed", res.Failed,
		"summaries", res.Summaries,
		"summary_failed", res.SummaryFailed,
		"error_log", res.ErrorLog,
		"rps", rps,
		"elapsed", elapsed.Truncate(time.Millisecond),
	)
	return res, nil
}

func (l *Loader) load(ctx context.Context, ref chunk.Ref) (Result, error) {
	var res Result

	var data []byte
	err := retry.Do(ctx, l.opt.Retry, func(ctx context.Context) error {
		var err error
		data, err = l.store.Read(ctx, ref.ArtifactPath)
		if errors.Is(err, blob.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return res, fmt.Errorf("read artifact: %w", err)
	}
	if err := ref.Verify(data); err != nil {
		return res, retry.Permanent(err)
	}
	header, rows, err := csvparser.DecodeChunk(data)
	if err != nil {
		return res, retry.Permanent(err)
	}
	cols, err := newColumns(header)
	if err != nil {
		return res, retry.Permanent(err)
	}

	var (
		entries []Entry
		agg     = newFailureSample(sampleFailures)
		read    = make([]storage.Order, 0, len(rows))
	)
	fail := func(e Entry) {
		entries = append(entries, e)
		agg.add(e.Err)
	}

	for _, rec := range rows {
		o, err := cols.order(rec)
		if err != nil {
			res.Failed++
			fail(rowEntry(header, rec, err))
			continue
		}
		read = append(read, o)

		if l.opt.InsertLimiter != nil {
			if err := l.opt.InsertLimiter.Wait(ctx); err != nil {
				return res, fmt.Errorf("insert limiter: %w", err)
			}
		}
		if err := l.call(ctx, func(ctx context.Context) error { return l.repo.InsertOrder(ctx, o) }); err != nil {
			res.Failed++
			fail(rowEntry(header, rec, err))
			continue
		}
		res.Inserted++
	}

	for _, s := range Aggregate(read) {
		if err := l.call(ctx, func(ctx context.Context) error { return l.repo.InsertSalesSummary(ctx, s) }); err != nil {
			res.SummaryFailed++
			fail(summaryEntry(s, err))
			continue
		}
		res.Summaries++
	}

	metrics.RecordRow(l.opt.Job, "inserted", int64(res.Inserted))
	metrics.RecordRow(l.opt.Job, "insert_failed", int64(res.Failed))
	metrics.RecordRow(l.opt.Job, "summary_upserted", int64(res.Summaries))
	metrics.RecordRow(l.opt.Job, "summary_failed", int64(res.SummaryFailed))
	agg.log(ctx)

	// From here on the inserts are committed, so a redelivery would double
	// count. Failures below are permanent.
	var logErr error
	if len(entries) > 0 {
		res.ErrorLog = ErrorLogName(l.opt.ErrorPrefix, l.now(), ref.ChunkIndex)
		if logErr = l.writeErrorLog(ctx, res.ErrorLog, entries); logErr != nil {
			res.ErrorLog = ""
		}
	}

	err = retry.Do(ctx, l.opt.Retry, func(ctx context.Context) error {
		err := l.store.Delete(ctx, ref.ArtifactPath)
		if errors.Is(err, blob.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		logger.FromContext(ctx).Warn("delete cleansed artifact", "artifact", ref.ArtifactPath, "err", err)
	}

	if logErr != nil {
		return res, retry.Permanent(fmt.Errorf("write error log (%d entries): %w", len(entries), logErr))
	}
	return res, nil
}

// call runs a store operation, retrying only errors the backend could not
// classify. Constraint and type errors belong to the row.
func (l *Loader) call(ctx context.Context, fn func(context.Context) error) error {
	return retry.Do(ctx, l.opt.Retry, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, storage.ErrConstraintViolation) || errors.Is(err, storage.ErrTypeMismatch) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (l *Loader) writeErrorLog(ctx context.Context, name string, entries []Entry) error {
	header, rows := ErrorLogRecords(entries)
	data, err := csvparser.EncodeChunk(header, rows)
	if err != nil {
		return err
	}
	return retry.Do(ctx, l.opt.Retry, func(ctx context.Context) error {
		return l.store.Save(ctx, name, data)
	})
}

// ErrorLogName returns "<prefix>/error_log_<YYYYMMDDTHHMMSS>_chunk_<index>.csv".
// The chunk index keeps logs written in the same second apart.
func ErrorLogName(prefix string, at time.Time, index int) string {
	return path.Join(strings.Trim(prefix, "/"),
		fmt.Sprintf("error_log_%s_chunk_%d.csv", at.UTC().Format("20060102T150405"), index))
}

// Aggregate sums TotalAmount per (CustomerID, ProductID), in first-seen
// order. A missing TotalAmount contributes zero.
func Aggregate(orders []storage.Order) []storage.SalesSummary {
	type key struct{ customer, product string }
	pos := make(map[key]int)
	var out []storage.SalesSummary
	for _, o := range orders {
		k := key{o.CustomerID, o.ProductID}
		i, ok := pos[k]
		if !ok {
			i = len(out)
			pos[k] = i
			out = append(out, storage.SalesSummary{CustomerID: o.CustomerID, ProductID: o.ProductID})
		}
		if o.TotalAmount != nil {
			out[i].TotalSales += *o.TotalAmount
		}
	}
	return out
}

// failureSample counts failure messages and keeps the first few for the
// chunk's log line.
type failureSample struct {
	limit int
	count int
	first []string
}

func newFailureSample(limit int) *failureSample {
	return &failureSample{limit: limit}
}

func (a *failureSample) add(msg string) {
	if a.count < a.limit {
		a.first = append(a.first, msg)
	}
	a.count++
}

func (a *failureSample) log(ctx context.Context) {
	if a.count == 0 {
		return
	}
	log := logger.FromContext(ctx)
	log.Warn("rows rejected by store", "count", a.count, "showing", len(a.first))
	for i, msg := range a.first {
		log.Warn(fmt.Sprintf("  #%03d: %s", i+1, msg))
	}
}
