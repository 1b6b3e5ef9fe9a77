// Package config loads the persistor configuration from environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	Service       ServiceConfig
	HTTP          HTTPConfig
	Source        SourceConfig
	Store         StoreConfig
	Persist       PersistConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type SourceConfig struct {
	// Provider selects the message source adapter. Only "sqs" ships today.
	Provider string

	QueueURL string

	// Prefetch is the per-fetch message cap requested from the source.
	Prefetch int

	// FetchWait is how long one fetch waits before reporting stream end.
	FetchWait time.Duration

	// VisibilityTimeout (seconds) applied to fetched queue messages.
	VisibilityTimeout int
}

type StoreConfig struct {
	// Backend selects the blob store: "azure" or "s3".
	Backend string

	// Key is the logical store key: the top-level folder batches land under.
	Key string

	// Container holds the Azure container name, Bucket/Prefix the S3 ones.
	Container        string
	ConnectionString string
	Bucket           string
	Prefix           string

	// Encoding selects the batch encoder: "ndjson" or "parquet".
	Encoding string

	Append      bool
	TimedAppend bool
	GetMetadata bool
}

type PersistConfig struct {
	TaskCount       int
	BatchStoreSize  int
	ReceiveDuration time.Duration
	CheckpointEvery int
	OutputBinding   bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := Config{
		Service: ServiceConfig{Name: serviceName},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Minute,
		},
		Source: SourceConfig{
			Provider:          "sqs",
			Prefetch:          10,
			FetchWait:         10 * time.Second,
			VisibilityTimeout: 300,
		},
		Store: StoreConfig{
			Backend:  "azure",
			Encoding: "ndjson",
		},
		Persist: PersistConfig{
			TaskCount:       1,
			BatchStoreSize:  200,
			CheckpointEvery: 1,
		},
		Observability: ObservabilityConfig{LogLevel: slog.LevelInfo, LogJSON: true},
	}

	var err error

	if raw, ok := lookup("PERSISTOR_HTTP_ADDRESS"); ok {
		cfg.HTTP.Address = raw
	}
	if cfg.HTTP.ReadTimeout, err = durationVar(lookup, "PERSISTOR_HTTP_READ_TIMEOUT", cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.WriteTimeout, err = durationVar(lookup, "PERSISTOR_HTTP_WRITE_TIMEOUT", cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}

	if raw, ok := lookup("PERSISTOR_SOURCE_PROVIDER"); ok {
		cfg.Source.Provider = strings.ToLower(strings.TrimSpace(raw))
	}
	if raw, ok := lookup("PERSISTOR_QUEUE_URL"); ok {
		cfg.Source.QueueURL = raw
	}
	if cfg.Source.Prefetch, err = intVar(lookup, "PERSISTOR_PREFETCH", cfg.Source.Prefetch); err != nil {
		return Config{}, err
	}
	if cfg.Source.FetchWait, err = durationVar(lookup, "PERSISTOR_FETCH_WAIT", cfg.Source.FetchWait); err != nil {
		return Config{}, err
	}
	if cfg.Source.VisibilityTimeout, err = intVar(lookup, "PERSISTOR_VISIBILITY_TIMEOUT", cfg.Source.VisibilityTimeout); err != nil {
		return Config{}, err
	}

	if raw, ok := lookup("PERSISTOR_STORE_BACKEND"); ok {
		cfg.Store.Backend = strings.ToLower(strings.TrimSpace(raw))
	}
	if raw, ok := lookup("PERSISTOR_STORE_KEY"); ok {
		cfg.Store.Key = raw
	}
	if raw, ok := lookup("PERSISTOR_STORE_CONTAINER"); ok {
		cfg.Store.Container = raw
	}
	if raw, ok := lookup("PERSISTOR_STORE_CONNECTION_STRING"); ok {
		cfg.Store.ConnectionString = raw
	}
	if raw, ok := lookup("PERSISTOR_STORE_BUCKET"); ok {
		cfg.Store.Bucket = raw
	}
	if raw, ok := lookup("PERSISTOR_STORE_PREFIX"); ok {
		cfg.Store.Prefix = raw
	}
	if raw, ok := lookup("PERSISTOR_STORE_ENCODING"); ok {
		cfg.Store.Encoding = strings.ToLower(strings.TrimSpace(raw))
	}
	if cfg.Store.Append, err = boolVar(lookup, "PERSISTOR_APPEND", cfg.Store.Append); err != nil {
		return Config{}, err
	}
	if cfg.Store.TimedAppend, err = boolVar(lookup, "PERSISTOR_TIMED_APPEND", cfg.Store.TimedAppend); err != nil {
		return Config{}, err
	}
	if cfg.Store.GetMetadata, err = boolVar(lookup, "PERSISTOR_GET_METADATA", cfg.Store.GetMetadata); err != nil {
		return Config{}, err
	}
	// In case only the timed variant was configured.
	if cfg.Store.TimedAppend {
		cfg.Store.Append = true
	}

	if cfg.Persist.TaskCount, err = intVar(lookup, "PERSISTOR_TASK_COUNT", cfg.Persist.TaskCount); err != nil {
		return Config{}, err
	}
	if cfg.Persist.BatchStoreSize, err = intVar(lookup, "PERSISTOR_BATCH_STORE_SIZE", cfg.Persist.BatchStoreSize); err != nil {
		return Config{}, err
	}
	if cfg.Persist.ReceiveDuration, err = durationVar(lookup, "PERSISTOR_RECEIVE_DURATION", cfg.Persist.ReceiveDuration); err != nil {
		return Config{}, err
	}
	if cfg.Persist.CheckpointEvery, err = intVar(lookup, "PERSISTOR_CHECKPOINT_EVERY", cfg.Persist.CheckpointEvery); err != nil {
		return Config{}, err
	}
	if cfg.Persist.OutputBinding, err = boolVar(lookup, "PERSISTOR_OUTPUT_BINDING", cfg.Persist.OutputBinding); err != nil {
		return Config{}, err
	}

	if raw, ok := lookup("PERSISTOR_LOG_LEVEL"); ok {
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
			return Config{}, fmt.Errorf("parse PERSISTOR_LOG_LEVEL: %w", err)
		}
		cfg.Observability.LogLevel = level
	}
	if cfg.Observability.LogJSON, err = boolVar(lookup, "PERSISTOR_LOG_JSON", cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Source.Provider {
	case "sqs":
	default:
		return fmt.Errorf("unknown source provider: %q", c.Source.Provider)
	}
	switch c.Store.Backend {
	case "azure", "s3":
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}
	switch c.Store.Encoding {
	case "ndjson", "parquet":
	default:
		return fmt.Errorf("unknown store encoding: %q", c.Store.Encoding)
	}
	if c.Store.Key == "" {
		return fmt.Errorf("PERSISTOR_STORE_KEY is required")
	}
	if c.Store.Append && c.Store.Encoding != "ndjson" {
		return fmt.Errorf("append mode requires the ndjson encoding")
	}
	if c.Source.Prefetch < 1 {
		return fmt.Errorf("PERSISTOR_PREFETCH must be at least 1")
	}
	if c.Persist.BatchStoreSize < 1 {
		return fmt.Errorf("PERSISTOR_BATCH_STORE_SIZE must be at least 1")
	}
	return nil
}

func intVar(lookup LookupFunc, key string, def int) (int, error) {
	raw, ok := lookup(key)
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func boolVar(lookup LookupFunc, key string, def bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func durationVar(lookup LookupFunc, key string, def time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok {
		return def, nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}
