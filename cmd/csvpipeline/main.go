// Command csvpipeline extracts a sales CSV into chunks, cleanses them and
// loads them into the configured relational store.
//
// The CLI layer stays thin: backends are opened through their registries and
// never referenced directly, so the config alone decides what runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"csvpipeline/internal/blob"
	"csvpipeline/internal/config"
	"csvpipeline/internal/datasource"
	"csvpipeline/internal/logger"
	"csvpipeline/internal/metrics"
	"csvpipeline/internal/metrics/datadog"
	"csvpipeline/internal/metrics/prompush"
	"csvpipeline/internal/pipeline"
	"csvpipeline/internal/queue"
	"csvpipeline/internal/schema"
	"csvpipeline/internal/storage"

	// Register every backend; the config picks one per category.
	_ "csvpipeline/internal/blob/all"
	_ "csvpipeline/internal/datasource/all"
	_ "csvpipeline/internal/queue/all"
	_ "csvpipeline/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

// run is main without the process globals. It returns the exit code.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("csvpipeline", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "configs/pipeline.yaml", "pipeline config path (.json, .yaml or .yml)")
	validate := fs.Bool("validate", false, "validate the configuration and exit")
	verbose := fs.Bool("v", false, "enable debug logs")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	logger.InitWriter(stderr, logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if !report(stderr, config.ValidatePipeline(cfg)) {
		slog.Error("configuration is invalid", "config", *cfgPath)
		return 1
	}
	if *validate {
		slog.Info("configuration is valid", "config", *cfgPath)
		return 0
	}

	flush := setupMetrics(cfg)
	defer flush()

	start := time.Now()
	deps, closeDeps, err := openBackends(ctx, cfg)
	if err != nil {
		slog.Error("open backends", "err", err)
		return 1
	}
	defer closeDeps()

	p, err := pipeline.New(deps)
	if err != nil {
		slog.Error("build pipeline", "err", err)
		return 1
	}
	slog.Debug("pipeline configured",
		"source", cfg.Source.Kind+":"+cfg.Source.Path,
		"storage", cfg.Storage.Kind,
		"queue", cfg.Queue.Kind,
		"database", cfg.Database.Kind,
	)
	if err := p.Run(ctx); err != nil {
		slog.Error("pipeline failed", "err", err)
		return 1
	}
	slog.Info("completed", "elapsed", time.Since(start).Truncate(time.Millisecond))
	return 0
}

// report prints every issue and reports whether the config is usable.
func report(w io.Writer, issues []config.Issue) bool {
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	return !config.HasErrors(issues)
}

// setupMetrics installs the configured metrics backend and returns the
// flush to run at exit. A backend that fails to start leaves metrics off.
func setupMetrics(cfg config.Pipeline) func() {
	var (
		b   metrics.Backend
		err error
	)
	switch cfg.Metrics.Backend {
	case "pushgateway":
		b, err = prompush.NewBackend(cfg.Job, cfg.Metrics.PushgatewayURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       cfg.Metrics.DatadogAddr,
			Namespace:  "csvpipeline.",
			GlobalTags: []string{"job:" + cfg.Job},
		})
	default:
		slog.Debug("metrics disabled", "backend", cfg.Metrics.Backend)
		return func() {}
	}
	if err != nil {
		slog.Warn("metrics backend unavailable; using nop", "backend", cfg.Metrics.Backend, "err", err)
		return func() {}
	}
	metrics.SetBackend(b)
	slog.Info("metrics enabled", "backend", cfg.Metrics.Backend)
	return func() {
		if err := metrics.Flush(); err != nil {
			slog.Warn("metrics flush", "err", err)
		}
	}
}

// Hooks for tests.
var (
	newBlobStore  = blob.New
	newQueue      = queue.New
	newRepository = storage.New
)

// openBackends opens every collaborator of a run. The returned func closes
// the ones the pipeline does not own.
func openBackends(ctx context.Context, cfg config.Pipeline) (pipeline.Deps, func(), error) {
	reg := schema.Sales()
	if len(cfg.Transform.HeaderAliases) > 0 {
		var err error
		if reg, err = reg.WithAliases(cfg.Transform.HeaderAliases); err != nil {
			return pipeline.Deps{}, nil, err
		}
	}

	store, err := newBlobStore(ctx, blob.Config{
		Kind:      cfg.Storage.Kind,
		Root:      cfg.Storage.Filesystem.Root,
		Endpoint:  cfg.Storage.S3.Endpoint,
		AccessKey: cfg.Storage.S3.AccessKey,
		SecretKey: cfg.Storage.S3.SecretKey,
		Bucket:    cfg.Storage.S3.Bucket,
		Region:    cfg.Storage.S3.Region,
		UseSSL:    cfg.Storage.S3.UseSSL,
	})
	if err != nil {
		return pipeline.Deps{}, nil, fmt.Errorf("blob store: %w", err)
	}

	src, err := datasource.New(datasource.Config{Kind: cfg.Source.Kind, Path: cfg.Source.Path, Blobs: store})
	if err != nil {
		return pipeline.Deps{}, nil, fmt.Errorf("source: %w", err)
	}

	repo, err := newRepository(ctx, storage.Config{Kind: cfg.Database.Kind, DSN: cfg.Database.DSN})
	if err != nil {
		return pipeline.Deps{}, nil, fmt.Errorf("database: %w", err)
	}

	q, err := newQueue(ctx, queue.Config{
		Kind:     cfg.Queue.Kind,
		Capacity: cfg.Queue.InMemory.Capacity,
		URL:      cfg.Queue.RabbitMQ.URL,
		Prefetch: cfg.Queue.RabbitMQ.Prefetch,
	})
	if err != nil {
		repo.Close()
		return pipeline.Deps{}, nil, fmt.Errorf("queue: %w", err)
	}

	deps := pipeline.Deps{
		Config:   cfg,
		Store:    store,
		Queue:    q,
		Repo:     repo,
		Registry: reg,
		Source:   src,
	}
	return deps, repo.Close, nil
}
