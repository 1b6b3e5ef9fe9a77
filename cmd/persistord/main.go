package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baldanca/blob-persistor/blob"
	"github.com/baldanca/blob-persistor/config"
	"github.com/baldanca/blob-persistor/encoder"
	"github.com/baldanca/blob-persistor/persistor"
	"github.com/baldanca/blob-persistor/rotate"
	"github.com/baldanca/blob-persistor/service"
	"github.com/baldanca/blob-persistor/source"
	"github.com/baldanca/blob-persistor/writer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("persistord failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.LoadFromEnv("persistord")
	if err != nil {
		return err
	}

	log := newLogger(cfg)

	client, err := newBlobClient(ctx, cfg)
	if err != nil {
		return err
	}

	var enc encoder.Encoder
	switch cfg.Store.Encoding {
	case "parquet":
		enc = encoder.Parquet{Compression: "snappy"}
	default:
		enc = encoder.NDJSON{}
	}

	var rotator *rotate.Rotator
	if cfg.Store.Append {
		rotator, err = rotate.New(client, cfg.Store.Key, enc.FileExtension(), cfg.Store.TimedAppend, log)
		if err != nil {
			return err
		}
	}

	w, err := writer.New(client, enc, cfg.Store.Key, log)
	if err != nil {
		return err
	}

	src, err := newSourceFactory(ctx, cfg)
	if err != nil {
		return err
	}

	orch, err := persistor.NewOrchestrator(src, w, rotator, persistor.Options{
		Append:          cfg.Store.Append,
		TimedAppend:     cfg.Store.TimedAppend,
		GetMetadata:     cfg.Store.GetMetadata,
		Prefetch:        cfg.Source.Prefetch,
		FetchWait:       cfg.Source.FetchWait,
		CheckpointEvery: cfg.Persist.CheckpointEvery,
	}, log)
	if err != nil {
		return err
	}

	trigger, err := service.NewTrigger(orch,
		cfg.Persist.TaskCount, cfg.Persist.BatchStoreSize, cfg.Source.Prefetch,
		cfg.Persist.ReceiveDuration, log)
	if err != nil {
		return err
	}

	pusher, err := service.NewPusher(w, rotator, enc,
		cfg.Store.Append, cfg.Store.GetMetadata, cfg.Persist.OutputBinding, log)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/persist", trigger)
	mux.Handle("/store", pusher)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	log.Info("persistord listening",
		"address", cfg.HTTP.Address,
		"backend", cfg.Store.Backend,
		"append", cfg.Store.Append,
		"timed_append", cfg.Store.TimedAppend)
	return srv.ListenAndServe()
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler).With(slog.String("service", cfg.Service.Name))
}

func newBlobClient(ctx context.Context, cfg config.Config) (blob.Client, error) {
	switch cfg.Store.Backend {
	case "azure":
		c, err := blob.NewAzure(cfg.Store.ConnectionString, cfg.Store.Container)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		c, err := blob.NewS3(s3.NewFromConfig(awsCfg), cfg.Store.Bucket, cfg.Store.Prefix)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.Store.Backend)
	}
}

func newSourceFactory(ctx context.Context, cfg config.Config) (source.Factory, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	f, err := source.NewSQSFactory(sqs.NewFromConfig(awsCfg), source.SQSConfig{
		QueueURL:     cfg.Source.QueueURL,
		VisibilityTO: int32(cfg.Source.VisibilityTimeout),
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}
