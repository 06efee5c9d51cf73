package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultChunkSize        = 10000
	DefaultChunkPrefix      = "chunks"
	DefaultCheckpointPrefix = "checkpoints"
	DefaultOutputPrefix     = "transformed"
	DefaultErrorPrefix      = "errors"
	DefaultQueueCapacity    = 1024
	DefaultLoaderWorkers    = 2
	DefaultMaxAttempts      = 3
	DefaultRetryInitial     = 200 * time.Millisecond
	DefaultRetryMax         = 5 * time.Second
	DefaultRabbitPrefetch   = 1
)

// Load reads path, decodes it as YAML when the extension is .yaml/.yml and
// as JSON otherwise, overlays environment variables and applies defaults.
// Validation is left to ValidatePipeline.
func Load(path string) (Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config %s: %w", path, err)
	}
	p, err := Decode(b, filepath.Ext(path))
	if err != nil {
		return Pipeline{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	ApplyEnv(&p, os.Getenv)
	ApplyDefaults(&p)
	return p, nil
}

// Decode parses b according to ext (".json", ".yaml" or ".yml"). Unknown
// fields are rejected in JSON so typos surface at startup.
func Decode(b []byte, ext string) (Pipeline, error) {
	var p Pipeline
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, err
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, err
		}
	}
	return p, nil
}

// ApplyEnv overlays the recognized environment variables onto p. getenv is
// injected so tests do not touch the process environment. Unparseable numeric
// values are ignored and leave the file value in place.
func ApplyEnv(p *Pipeline, getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("STORAGE_TYPE", &p.Storage.Kind)
	str("QUEUE_TYPE", &p.Queue.Kind)
	str("DB_TYPE", &p.Database.Kind)
	str("DB_URI", &p.Database.DSN)
	num("CHUNKSIZE", &p.Extract.ChunkSize)
	str("SOURCE_PATH", &p.Source.Path)
	str("S3_BUCKET", &p.Storage.S3.Bucket)
	str("S3_ENDPOINT", &p.Storage.S3.Endpoint)
	str("AWS_ACCESS_KEY_ID", &p.Storage.S3.AccessKey)
	str("AWS_SECRET_ACCESS_KEY", &p.Storage.S3.SecretKey)
	str("RABBITMQ_URL", &p.Queue.RabbitMQ.URL)
	num("ETL_TRANSFORM_WORKERS", &p.Runtime.TransformWorkers)
	num("ETL_LOADER_WORKERS", &p.Runtime.LoaderWorkers)
	str("LOG_LEVEL", &p.Log.Level)
}

// ApplyDefaults fills zero values. Backend selectors default to the
// embedded/in-process choices so a bare config runs locally.
func ApplyDefaults(p *Pipeline) {
	if p.Job == "" {
		p.Job = "csvpipeline"
	}
	if p.Source.Kind == "" {
		p.Source.Kind = "file"
	}
	if p.Storage.Kind == "" {
		p.Storage.Kind = "filesystem"
	}
	if p.Storage.Filesystem.Root == "" {
		p.Storage.Filesystem.Root = "data"
	}
	if p.Queue.Kind == "" {
		p.Queue.Kind = "in_memory"
	}
	if p.Queue.InMemory.Capacity <= 0 {
		p.Queue.InMemory.Capacity = DefaultQueueCapacity
	}
	if p.Queue.RabbitMQ.Prefetch <= 0 {
		p.Queue.RabbitMQ.Prefetch = DefaultRabbitPrefetch
	}
	if p.Database.Kind == "" {
		p.Database.Kind = "sqlite"
	}
	if p.Extract.ChunkSize <= 0 {
		p.Extract.ChunkSize = DefaultChunkSize
	}
	if p.Extract.ChunkPrefix == "" {
		p.Extract.ChunkPrefix = DefaultChunkPrefix
	}
	if p.Extract.CheckpointPrefix == "" {
		p.Extract.CheckpointPrefix = DefaultCheckpointPrefix
	}
	if p.Extract.Comma == "" {
		p.Extract.Comma = ","
	}
	if p.Transform.OutputPrefix == "" {
		p.Transform.OutputPrefix = DefaultOutputPrefix
	}
	if p.Transform.UnmappedColumns == "" {
		p.Transform.UnmappedColumns = "keep"
	}
	if p.Load.ErrorPrefix == "" {
		p.Load.ErrorPrefix = DefaultErrorPrefix
	}
	if p.Runtime.TransformWorkers <= 0 {
		p.Runtime.TransformWorkers = runtime.NumCPU()
	}
	if p.Runtime.LoaderWorkers <= 0 {
		p.Runtime.LoaderWorkers = DefaultLoaderWorkers
	}
	if p.Runtime.MaxAttempts <= 0 {
		p.Runtime.MaxAttempts = DefaultMaxAttempts
	}
	if p.Runtime.RetryInitial <= 0 {
		p.Runtime.RetryInitial = Duration(DefaultRetryInitial)
	}
	if p.Runtime.RetryMax <= 0 {
		p.Runtime.RetryMax = Duration(DefaultRetryMax)
	}
	if p.Log.Level == "" {
		p.Log.Level = "info"
	}
	if p.Log.Format == "" {
		p.Log.Format = "text"
	}
	if p.Metrics.Backend == "" {
		p.Metrics.Backend = "none"
	}
}
