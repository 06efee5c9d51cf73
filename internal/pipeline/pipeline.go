// Package pipeline wires the extract, transform and load stages together
// through the transform and load queues and runs them until the source is
// exhausted or the run is cancelled.
//
// Concurrency model:
//
//	Extractor (1 goroutine)
//	     → transform_queue → N transform consumers
//	     → load_queue      → M load consumers
//
// Cancelling the run context stops extraction and stops consumers from
// taking new messages. A chunk already taken is transformed or loaded on a
// detached context, so no stage is interrupted mid-chunk. Publishes made on
// its behalf still observe the cancellation; a chunk whose handoff is cut
// short is nacked back onto its queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"csvpipeline/internal/blob"
	"csvpipeline/internal/chunk"
	"csvpipeline/internal/config"
	"csvpipeline/internal/datasource"
	"csvpipeline/internal/extractor"
	"csvpipeline/internal/loader"
	"csvpipeline/internal/logger"
	"csvpipeline/internal/metrics"
	csvparser "csvpipeline/internal/parser/csv"
	"csvpipeline/internal/queue"
	"csvpipeline/internal/retry"
	"csvpipeline/internal/schema"
	"csvpipeline/internal/storage"
	"csvpipeline/internal/transformer"
)

// consumeBackoff bounds the pause after a failed Consume call.
const (
	consumeBackoffInitial = 100 * time.Millisecond
	consumeBackoffMax     = 5 * time.Second
)

// Deps are the collaborators of a run. The pipeline owns Queue and closes it
// when Run returns; Repo and Store stay open.
type Deps struct {
	Config   config.Pipeline
	Store    blob.Store
	Queue    queue.Queue
	Repo     storage.Repository
	Registry *schema.Registry
	Source   datasource.Source
}

// Pipeline is one configured run.
type Pipeline struct {
	cfg    config.Pipeline
	store  blob.Store
	queue  queue.Queue
	repo   storage.Repository
	source datasource.Source
	policy retry.Policy

	extractor *extractor.Extractor
	engine    *transformer.Engine
	loader    *loader.Loader

	stats   *counters
	pending *tracker
}

// New builds the stages from d. Config is expected to be defaulted.
func New(d Deps) (*Pipeline, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("pipeline: blob store is required")
	case d.Queue == nil:
		return nil, errors.New("pipeline: queue is required")
	case d.Repo == nil:
		return nil, errors.New("pipeline: repository is required")
	case d.Registry == nil:
		return nil, errors.New("pipeline: schema registry is required")
	case d.Source == nil:
		return nil, errors.New("pipeline: source is required")
	}

	cfg := d.Config
	policy := retry.Policy{
		MaxAttempts: cfg.Runtime.MaxAttempts,
		Initial:     cfg.Runtime.RetryInitial.D(),
		Max:         cfg.Runtime.RetryMax.D(),
		Jitter:      0.2,
	}

	var comma rune
	for _, r := range cfg.Extract.Comma {
		comma = r
		break
	}
	ext := extractor.New(d.Store, extractor.NewBlobCheckpoints(d.Store, cfg.Extract.CheckpointPrefix), extractor.Options{
		Job:         cfg.Job,
		ChunkSize:   cfg.Extract.ChunkSize,
		ChunkPrefix: cfg.Extract.ChunkPrefix,
		CSV:         csvparser.Options{Comma: comma, LazyQuotes: cfg.Extract.LazyQuotes},
		Retry:       policy,
	})

	engine := transformer.New(d.Registry, d.Store, transformer.Options{
		Job:                  cfg.Job,
		OutputPrefix:         cfg.Transform.OutputPrefix,
		UnmappedColumns:      cfg.Transform.UnmappedColumns,
		DropRowsWithErrors:   cfg.Transform.DropRowsWithErrors,
		TotalAmountTolerance: cfg.Transform.TotalAmountTolerance,
		Retry:                policy,
	})

	var limiter *rate.Limiter
	if r := cfg.Load.InsertRateLimit; r > 0 {
		limiter = rate.NewLimiter(rate.Limit(r), max(1, int(r)))
	}
	ld := loader.New(d.Repo, d.Store, loader.Options{
		Job:           cfg.Job,
		ErrorPrefix:   cfg.Load.ErrorPrefix,
		InsertLimiter: limiter,
		Retry:         policy,
	})

	return &Pipeline{
		cfg:       cfg,
		store:     d.Store,
		queue:     d.Queue,
		repo:      d.Repo,
		source:    d.Source,
		policy:    policy,
		extractor: ext,
		engine:    engine,
		loader:    ld,
		stats:     &counters{},
		pending:   newTracker(),
	}, nil
}

// Stats returns a snapshot of the run counters.
func (p *Pipeline) Stats() Stats { return p.stats.snapshot() }

// Run creates the tables and queues, then runs all stages. With
// exit_when_done it returns once extraction finished and every published
// chunk was loaded or abandoned; otherwise it runs until ctx is cancelled.
// Cancellation is a clean shutdown and returns nil.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	log := logger.FromContext(ctx)
	start := time.Now()
	defer func() {
		if cerr := p.queue.Close(); cerr != nil {
			log.Warn("close queue", "err", cerr)
		}
		p.stats.log(ctx, time.Since(start))
	}()

	err = retry.Do(ctx, p.policy, func(ctx context.Context) error {
		return p.repo.CreateTablesIfAbsent(ctx)
	})
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	for _, name := range []string{queue.Transform, queue.Load} {
		if err := p.queue.CreateQueue(ctx, name); err != nil {
			return fmt.Errorf("create queue %s: %w", name, err)
		}
	}

	// consumeCtx ends on shutdown or once all work is accounted for.
	consumeCtx, stopConsumers := context.WithCancel(ctx)
	defer stopConsumers()
	group, groupCtx := errgroup.WithContext(consumeCtx)

	log.Info("pipeline started",
		"source", p.source.Name(),
		"transform_workers", p.cfg.Runtime.TransformWorkers,
		"loader_workers", p.cfg.Runtime.LoaderWorkers,
		"chunk_size", p.cfg.Extract.ChunkSize,
		"exit_when_done", p.cfg.Runtime.ExitWhenDone,
	)

	group.Go(func() error {
		n, err := p.extractor.Run(groupCtx, p.source, p.publishExtracted)
		p.pending.finishExtraction()
		if err != nil {
			return fmt.Errorf("extract %s: %w", p.source.Name(), err)
		}
		logger.FromContext(groupCtx).Info("extractor finished", "published", n)
		return nil
	})

	for i := 0; i < p.cfg.Runtime.TransformWorkers; i++ {
		group.Go(func() error {
			return p.consume(logger.WithStage(groupCtx, "transform"), queue.Transform, p.handleTransform)
		})
	}
	for i := 0; i < p.cfg.Runtime.LoaderWorkers; i++ {
		group.Go(func() error {
			return p.consume(logger.WithStage(groupCtx, "load"), queue.Load, p.handleLoad)
		})
	}

	if p.cfg.Runtime.ExitWhenDone {
		group.Go(func() error {
			select {
			case <-p.pending.idle():
				log.Info("all chunks processed")
				stopConsumers()
			case <-groupCtx.Done():
			}
			return nil
		})
	}

	err = group.Wait()
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	if ctx.Err() != nil {
		log.Info("pipeline stopped", "reason", context.Cause(ctx))
	}
	return err
}

func (p *Pipeline) publishExtracted(ctx context.Context, ref chunk.Ref) error {
	body, err := ref.Encode()
	if err != nil {
		return retry.Permanent(err)
	}
	p.pending.add()
	if err := p.queue.Publish(ctx, queue.Transform, queue.NewMessage(body)); err != nil {
		p.pending.done()
		return err
	}
	p.stats.published.Add(1)
	return nil
}

// handler processes one delivery. Stage work runs on ctx, which is detached
// from shutdown; queue publishes use live, which is not.
type handler func(ctx, live context.Context, d queue.Delivery)

// consume takes messages from name until ctx ends or the queue closes.
func (p *Pipeline) consume(ctx context.Context, name string, handle handler) error {
	log := logger.FromContext(ctx)
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		d, err := p.queue.Consume(ctx, name)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			log.Warn("consume failed", "queue", name, "err", err)
			wait := retry.Backoff(consumeBackoffInitial, consumeBackoffMax, 0.2, failures)
			failures++
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		failures = 0
		if ctx.Err() != nil {
			// Taken while shutting down; leave it for the next run.
			p.requeue(ctx, d)
			return nil
		}
		p.safely(context.WithoutCancel(ctx), ctx, name, d, handle)
	}
}

// safely turns a handler panic into a permanent chunk failure.
func (p *Pipeline) safely(ctx, live context.Context, name string, d queue.Delivery, handle handler) {
	defer func() {
		if r := recover(); r != nil {
			p.fail(ctx, live, name, d, retry.Permanent(fmt.Errorf("panic: %v", r)))
		}
	}()
	handle(ctx, live, d)
}

func (p *Pipeline) handleTransform(ctx, live context.Context, d queue.Delivery) {
	ref, err := chunk.DecodeRef(d.Body)
	if err != nil {
		p.fail(ctx, live, queue.Transform, d, retry.Permanent(err))
		return
	}
	ctx = logger.WithChunk(ctx, ref.ChunkIndex)

	out, err := p.engine.Transform(ctx, ref)
	if err != nil {
		p.fail(ctx, live, queue.Transform, d, err)
		return
	}
	body, err := out.Encode()
	if err != nil {
		p.fail(ctx, live, queue.Transform, d, retry.Permanent(err))
		return
	}
	err = retry.Do(live, p.policy, func(ctx context.Context) error {
		return p.queue.Publish(ctx, queue.Load, queue.Message{ID: d.ID, Body: body, Attempt: 1})
	})
	if err != nil {
		if live.Err() != nil {
			logger.FromContext(ctx).Info("shutdown before handoff, requeueing chunk", "queue", queue.Load)
			p.requeue(ctx, d)
			return
		}
		p.fail(ctx, live, queue.Transform, d, fmt.Errorf("publish to %s: %w", queue.Load, err))
		return
	}
	p.ack(ctx, d)
	p.stats.transformed.Add(1)
	metrics.RecordChunks(p.cfg.Job, "transformed", 1)

	// The raw chunk is no longer needed once its cleansed reference is queued.
	if err := p.store.Delete(ctx, ref.ArtifactPath); err != nil && !errors.Is(err, blob.ErrNotFound) {
		logger.FromContext(ctx).Warn("delete raw chunk", "artifact", ref.ArtifactPath, "err", err)
	}
}

func (p *Pipeline) handleLoad(ctx, live context.Context, d queue.Delivery) {
	ref, err := chunk.DecodeRef(d.Body)
	if err != nil {
		p.fail(ctx, live, queue.Load, d, retry.Permanent(err))
		return
	}
	ctx = logger.WithChunk(ctx, ref.ChunkIndex)

	res, err := p.loader.Load(ctx, ref)
	p.stats.inserted.Add(int64(res.Inserted))
	p.stats.rowsFailed.Add(int64(res.Failed))
	if res.ErrorLog != "" {
		p.stats.errorLogs.Add(1)
	}
	if err != nil {
		p.fail(ctx, live, queue.Load, d, err)
		return
	}
	p.ack(ctx, d)
	p.stats.loaded.Add(1)
	metrics.RecordChunks(p.cfg.Job, "loaded", 1)
	p.pending.done()
}

// fail redelivers d with the next attempt number, or abandons it when the
// error is permanent or the attempts are used up. The redelivery publish is
// abandoned on shutdown and d is nacked instead.
func (p *Pipeline) fail(ctx, live context.Context, name string, d queue.Delivery, err error) {
	log := logger.FromContext(ctx).With("queue", name, "message", d.ID, "attempt", d.Attempt)

	if retry.IsPermanent(err) || d.Attempt >= p.cfg.Runtime.MaxAttempts {
		log.Error("abandoning chunk", "err", err, "permanent", retry.IsPermanent(err))
		p.ack(ctx, d)
		p.stats.abandoned.Add(1)
		metrics.RecordChunks(p.cfg.Job, "abandoned", 1)
		p.pending.done()
		return
	}

	log.Warn("chunk failed, redelivering", "err", err)
	if perr := p.queue.Publish(live, name, d.Message.Retry()); perr != nil {
		log.Error("redeliver", "err", perr)
		p.requeue(ctx, d)
		return
	}
	p.ack(ctx, d)
	p.stats.redelivered.Add(1)
}

// requeue hands d back to its queue unchanged.
func (p *Pipeline) requeue(ctx context.Context, d queue.Delivery) {
	if err := d.Nack(true); err != nil && !errors.Is(err, queue.ErrClosed) {
		logger.FromContext(ctx).Error("nack", "message", d.ID, "err", err)
	}
}

func (p *Pipeline) ack(ctx context.Context, d queue.Delivery) {
	if err := d.Ack(); err != nil {
		logger.FromContext(ctx).Warn("ack", "message", d.ID, "err", err)
	}
}
