// Package config defines the configuration model for the CSV pipeline. A
// Pipeline is read once at startup from a JSON or YAML file, overlaid with
// environment variables, defaulted, and then passed by value to every
// component that needs it.
//
// Example (trimmed):
//
//	{
//	  "job":      "sales",
//	  "source":   { "kind": "file", "path": "data/sales.csv" },
//	  "storage":  { "kind": "filesystem", "filesystem": { "root": "var/blobs" } },
//	  "queue":    { "kind": "in_memory" },
//	  "database": { "kind": "sqlite", "dsn": "file:var/sales.db" },
//	  "extract":  { "chunk_size": 10000 }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline is the top-level configuration object.
type Pipeline struct {
	// Job names the run; used for metrics labeling and log context.
	Job string `json:"job" yaml:"job"`

	Source    Source        `json:"source" yaml:"source"`
	Storage   Storage       `json:"storage" yaml:"storage"`
	Queue     Queue         `json:"queue" yaml:"queue"`
	Database  Database      `json:"database" yaml:"database"`
	Extract   Extract       `json:"extract" yaml:"extract"`
	Transform Transform     `json:"transform" yaml:"transform"`
	Load      LoadConfig    `json:"load" yaml:"load"`
	Runtime   RuntimeConfig `json:"runtime" yaml:"runtime"`
	Log       Log           `json:"log" yaml:"log"`
	Metrics   Metrics       `json:"metrics" yaml:"metrics"`
}

// Source identifies the CSV to extract.
type Source struct {
	// Kind is "file" (local path), "blob" (object in the configured blob
	// store) or "http" (URL downloaded with GET).
	Kind string `json:"kind" yaml:"kind"`
	Path string `json:"path" yaml:"path"`
}

// Storage selects the blob store backend used for chunk artifacts,
// checkpoints and error logs.
type Storage struct {
	Kind       string            `json:"kind" yaml:"kind"`
	Filesystem FilesystemStorage `json:"filesystem" yaml:"filesystem"`
	S3         S3Storage         `json:"s3" yaml:"s3"`
}

// FilesystemStorage configures the "filesystem" blob backend.
type FilesystemStorage struct {
	Root string `json:"root" yaml:"root"`
}

// S3Storage configures the "s3" blob backend (any S3-compatible endpoint).
type S3Storage struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	Region    string `json:"region" yaml:"region"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl"`
}

// Queue selects the queue backend connecting the stages.
type Queue struct {
	Kind     string        `json:"kind" yaml:"kind"`
	InMemory InMemoryQueue `json:"in_memory" yaml:"in_memory"`
	RabbitMQ RabbitMQQueue `json:"rabbitmq" yaml:"rabbitmq"`
}

// InMemoryQueue configures the in-process queue.
type InMemoryQueue struct {
	// Capacity bounds each queue; Publish blocks when full.
	Capacity int `json:"capacity" yaml:"capacity"`
}

// RabbitMQQueue configures the AMQP broker backend.
type RabbitMQQueue struct {
	URL      string `json:"url" yaml:"url"`
	Prefetch int    `json:"prefetch" yaml:"prefetch"`
}

// Database selects the relational store.
type Database struct {
	// Kind is one of sqlite, postgres, mysql, mssql.
	Kind string `json:"kind" yaml:"kind"`
	DSN  string `json:"dsn" yaml:"dsn"`
}

// Extract tunes chunking and checkpointing.
type Extract struct {
	ChunkSize        int    `json:"chunk_size" yaml:"chunk_size"`
	ChunkPrefix      string `json:"chunk_prefix" yaml:"chunk_prefix"`
	CheckpointPrefix string `json:"checkpoint_prefix" yaml:"checkpoint_prefix"`
	Comma            string `json:"comma" yaml:"comma"`
	LazyQuotes       bool   `json:"lazy_quotes" yaml:"lazy_quotes"`
}

// Transform tunes the transformation engine.
type Transform struct {
	OutputPrefix string `json:"output_prefix" yaml:"output_prefix"`

	// UnmappedColumns is "keep" (default) or "drop".
	UnmappedColumns string `json:"unmapped_columns" yaml:"unmapped_columns"`

	// DropRowsWithErrors opts into removing annotated rows before the write.
	// Failures in optional columns never cause a drop.
	DropRowsWithErrors bool `json:"drop_rows_with_errors" yaml:"drop_rows_with_errors"`

	// TotalAmountTolerance is the absolute difference accepted between the
	// stored and recomputed TotalAmount. Zero means exact equality.
	TotalAmountTolerance float64 `json:"total_amount_tolerance" yaml:"total_amount_tolerance"`

	// HeaderAliases maps extra raw header names onto schema source columns.
	HeaderAliases map[string]string `json:"header_aliases" yaml:"header_aliases"`
}

// LoadConfig tunes the loader.
type LoadConfig struct {
	ErrorPrefix string `json:"error_prefix" yaml:"error_prefix"`

	// InsertRateLimit caps order inserts per second per process. Zero disables.
	InsertRateLimit float64 `json:"insert_rate_limit" yaml:"insert_rate_limit"`
}

// RuntimeConfig controls concurrency and redelivery.
type RuntimeConfig struct {
	TransformWorkers int      `json:"transform_workers" yaml:"transform_workers"`
	LoaderWorkers    int      `json:"loader_workers" yaml:"loader_workers"`
	MaxAttempts      int      `json:"max_attempts" yaml:"max_attempts"`
	RetryInitial     Duration `json:"retry_initial" yaml:"retry_initial"`
	RetryMax         Duration `json:"retry_max" yaml:"retry_max"`

	// ExitWhenDone makes Run return once extraction finished and every
	// published chunk has been loaded or abandoned.
	ExitWhenDone bool `json:"exit_when_done" yaml:"exit_when_done"`
}

// Log configures the process logger.
type Log struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Metrics selects an optional metrics backend.
type Metrics struct {
	// Backend is "none" (default), "pushgateway" or "datadog".
	Backend        string `json:"backend" yaml:"backend"`
	PushgatewayURL string `json:"pushgateway_url" yaml:"pushgateway_url"`
	DatadogAddr    string `json:"datadog_addr" yaml:"datadog_addr"`
}

// Duration is a time.Duration that decodes from strings like "250ms" or from
// a bare number of milliseconds.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		return d.parse(str)
	}
	var ms float64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(time.Duration(ms * float64(time.Millisecond)))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Tag == "!!int" || n.Tag == "!!float" {
		var ms float64
		if err := n.Decode(&ms); err != nil {
			return err
		}
		*d = Duration(time.Duration(ms * float64(time.Millisecond)))
		return nil
	}
	return d.parse(n.Value)
}

func (d *Duration) parse(s string) error {
	if strings.TrimSpace(s) == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}
