// This file adds a lightweight linter for Pipeline values. It performs static
// checks over a decoded Pipeline and returns a list of issues (errors and
// warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that blocks startup.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block startup.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is a dotted path into the
// config (e.g. "database.kind").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Known backend selectors. Kept here rather than read from the registries so
// the config package has no dependency on backend packages.
var (
	SourceKinds   = []string{"file", "blob", "http"}
	StorageKinds  = []string{"filesystem", "s3"}
	QueueKinds    = []string{"in_memory", "rabbitmq"}
	DatabaseKinds = []string{"sqlite", "postgres", "mysql", "mssql"}
	MetricsKinds  = []string{"none", "pushgateway", "datadog"}
)

// ValidatePipeline lints p without mutating it. Run it after ApplyDefaults;
// empty selectors are reported as errors.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		add(SeverityError, "job", "job must not be empty; it is used for metrics labeling and identifying runs")
	}

	checkKind := func(path, kind string, known []string) bool {
		if strings.TrimSpace(kind) == "" {
			add(SeverityError, path, "%s must not be empty", path)
			return false
		}
		if !slices.Contains(known, kind) {
			add(SeverityError, path, "unknown backend %q; expected one of %s", kind, strings.Join(known, ", "))
			return false
		}
		return true
	}

	// Source.
	checkKind("source.kind", p.Source.Kind, SourceKinds)
	if strings.TrimSpace(p.Source.Path) == "" {
		add(SeverityError, "source.path", "source path is required")
	}

	// Blob store.
	if checkKind("storage.kind", p.Storage.Kind, StorageKinds) {
		switch p.Storage.Kind {
		case "filesystem":
			if strings.TrimSpace(p.Storage.Filesystem.Root) == "" {
				add(SeverityError, "storage.filesystem.root", "filesystem storage requires a root directory")
			}
		case "s3":
			if p.Storage.S3.Endpoint == "" {
				add(SeverityError, "storage.s3.endpoint", "s3 storage requires an endpoint")
			}
			if p.Storage.S3.Bucket == "" {
				add(SeverityError, "storage.s3.bucket", "s3 storage requires a bucket")
			}
			if p.Storage.S3.AccessKey == "" || p.Storage.S3.SecretKey == "" {
				add(SeverityWarning, "storage.s3", "no static credentials; anonymous access will be used")
			}
		}
	}

	// Queue.
	if checkKind("queue.kind", p.Queue.Kind, QueueKinds) {
		if p.Queue.Kind == "rabbitmq" && strings.TrimSpace(p.Queue.RabbitMQ.URL) == "" {
			add(SeverityError, "queue.rabbitmq.url", "rabbitmq queue requires a url")
		}
		if p.Queue.Kind == "in_memory" && !p.Runtime.ExitWhenDone {
			add(SeverityWarning, "runtime.exit_when_done",
				"in_memory queue without exit_when_done keeps consumers running after the source is exhausted")
		}
	}

	// Database.
	if checkKind("database.kind", p.Database.Kind, DatabaseKinds) {
		if strings.TrimSpace(p.Database.DSN) == "" {
			add(SeverityError, "database.dsn", "database %s requires a dsn", p.Database.Kind)
		}
	}

	// Extract.
	if p.Extract.ChunkSize <= 0 {
		add(SeverityError, "extract.chunk_size", "chunk_size must be > 0")
	}
	if utf8.RuneCountInString(p.Extract.Comma) != 1 {
		add(SeverityError, "extract.comma", "comma must be a single character, got %q", p.Extract.Comma)
	}
	prefixes := map[string]string{
		"extract.chunk_prefix":      p.Extract.ChunkPrefix,
		"transform.output_prefix":   p.Transform.OutputPrefix,
		"extract.checkpoint_prefix": p.Extract.CheckpointPrefix,
		"load.error_prefix":         p.Load.ErrorPrefix,
	}
	if p.Extract.ChunkPrefix != "" && p.Extract.ChunkPrefix == p.Transform.OutputPrefix {
		add(SeverityError, "transform.output_prefix", "output_prefix must differ from extract.chunk_prefix")
	}
	for _, path := range sortedKeys(prefixes) {
		if strings.Contains(prefixes[path], "..") {
			add(SeverityError, path, "prefix must not contain '..'")
		}
	}

	// Transform.
	switch p.Transform.UnmappedColumns {
	case "keep", "drop":
	default:
		add(SeverityError, "transform.unmapped_columns", "unmapped_columns must be keep or drop, got %q", p.Transform.UnmappedColumns)
	}
	if p.Transform.TotalAmountTolerance < 0 {
		add(SeverityError, "transform.total_amount_tolerance", "tolerance must be >= 0")
	}

	// Load.
	if p.Load.InsertRateLimit < 0 {
		add(SeverityError, "load.insert_rate_limit", "insert_rate_limit must be >= 0")
	}

	// Runtime.
	if p.Runtime.TransformWorkers <= 0 {
		add(SeverityError, "runtime.transform_workers", "transform_workers must be > 0")
	}
	if p.Runtime.LoaderWorkers <= 0 {
		add(SeverityError, "runtime.loader_workers", "loader_workers must be > 0")
	}
	if p.Runtime.MaxAttempts <= 0 {
		add(SeverityError, "runtime.max_attempts", "max_attempts must be > 0")
	}
	if p.Runtime.RetryMax > 0 && p.Runtime.RetryInitial > p.Runtime.RetryMax {
		add(SeverityWarning, "runtime.retry_initial", "retry_initial exceeds retry_max; retry_max wins")
	}

	// Log and metrics.
	switch strings.ToLower(p.Log.Format) {
	case "", "text", "json":
	default:
		add(SeverityWarning, "log.format", "unknown log format %q; text will be used", p.Log.Format)
	}
	if checkKind("metrics.backend", p.Metrics.Backend, MetricsKinds) {
		if p.Metrics.Backend == "pushgateway" && p.Metrics.PushgatewayURL == "" {
			add(SeverityError, "metrics.pushgateway_url", "pushgateway backend requires a url")
		}
		if p.Metrics.Backend == "datadog" && p.Metrics.DatadogAddr == "" {
			add(SeverityError, "metrics.datadog_addr", "datadog backend requires an address")
		}
	}

	return issues
}

// HasErrors reports whether any issue is SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
