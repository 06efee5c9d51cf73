package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"csvpipeline/internal/logger"
)

// counters holds cross-goroutine statistics for a run. All fields are
// updated atomically.
type counters struct {
	published   atomic.Int64 // chunk references handed to transform_queue
	transformed atomic.Int64 // chunks forwarded to load_queue
	loaded      atomic.Int64 // chunks fully loaded
	abandoned   atomic.Int64 // chunks given up after a permanent error or max attempts
	redelivered atomic.Int64 // republished after a transient failure
	inserted    atomic.Int64 // order rows inserted
	rowsFailed  atomic.Int64 // order rows sent to an error log
	errorLogs   atomic.Int64 // error log artifacts written
}

// Stats is a point-in-time copy of the counters.
type Stats struct {
	Published   int64
	Transformed int64
	Loaded      int64
	Abandoned   int64
	Redelivered int64
	Inserted    int64
	RowsFailed  int64
	ErrorLogs   int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Published:   c.published.Load(),
		Transformed: c.transformed.Load(),
		Loaded:      c.loaded.Load(),
		Abandoned:   c.abandoned.Load(),
		Redelivered: c.redelivered.Load(),
		Inserted:    c.inserted.Load(),
		RowsFailed:  c.rowsFailed.Load(),
		ErrorLogs:   c.errorLogs.Load(),
	}
}

// log prints the end-of-run summary. Every published chunk ends up loaded or
// abandoned, unless the run was stopped early.
func (c *counters) log(ctx context.Context, elapsed time.Duration) {
	s := c.snapshot()
	log := logger.FromContext(ctx)
	log.Info("summary",
		"published", s.Published,
		"transformed", s.Transformed,
		"loaded", s.Loaded,
		"abandoned", s.Abandoned,
		"redelivered", s.Redelivered,
		"inserted", s.Inserted,
		"rows_failed", s.RowsFailed,
		"error_logs", s.ErrorLogs,
		"elapsed", elapsed.Truncate(time.Millisecond),
	)
	if open := s.Published - s.Loaded - s.Abandoned; open != 0 {
		log.Warn("chunks still outstanding at exit", "count", open)
	}
}

// tracker counts chunk references that were published but not yet loaded
// or abandoned. It is idle once extraction finished and the count is zero.
type tracker struct {
	mu        sync.Mutex
	n         int
	extracted bool
	ch        chan struct{}
	closed    bool
}

func newTracker() *tracker {
	return &tracker{ch: make(chan struct{})}
}

func (t *tracker) add() {
	t.mu.Lock()
	t.n++
	t.mu.Unlock()
}

func (t *tracker) done() {
	t.mu.Lock()
	t.n--
	t.check()
	t.mu.Unlock()
}

func (t *tracker) finishExtraction() {
	t.mu.Lock()
	t.extracted = true
	t.check()
	t.mu.Unlock()
}

// check must be called with mu held. Messages left over from an earlier run
// can push n below zero; that still counts as idle.
func (t *tracker) check() {
	if t.extracted && t.n <= 0 && !t.closed {
		t.closed = true
		close(t.ch)
	}
}

func (t *tracker) idle() <-chan struct{} { return t.ch }
