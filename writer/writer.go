// Package writer persists encoded batches to the blob store with bounded
// retry.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/baldanca/blob-persistor/blob"
	"github.com/baldanca/blob-persistor/encoder"
	"github.com/baldanca/blob-persistor/record"
	"github.com/baldanca/blob-persistor/rotate"
)

// ErrNoAppendTarget reports append mode with no resolved destination. This is
// a configuration error at the call site, not a transient store failure.
var ErrNoAppendTarget = errors.New("append mode set but no append target given")

type Writer struct {
	client blob.Client
	enc    encoder.Encoder
	key    string
	retry  Retry
	log    *slog.Logger
}

func New(client blob.Client, enc encoder.Encoder, key string, log *slog.Logger) (*Writer, error) {
	if client == nil {
		return nil, fmt.Errorf("blob client is required")
	}
	if enc == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if key == "" {
		return nil, fmt.Errorf("store key is required")
	}
	if log == nil {
		log = slog.Default()
	}
	w := &Writer{client: client, enc: enc, key: key, retry: DefaultRetry, log: log}
	return w, nil
}

// SetRetry replaces the retry policy. Zero Attempts falls back to a single try.
func (w *Writer) SetRetry(r Retry) { w.retry = r }

// Write durably stores one batch and reports the destination path and whether
// the write succeeded.
//
// With appendMode off, a fresh unique destination is generated per call. With
// it on, dest must name the shared append target. Retry exhaustion yields
// ok=false rather than an error; callers must check ok and treat false as a
// failed batch. The only returned error is the append-target configuration
// error.
func (w *Writer) Write(ctx context.Context, recs []record.Record, dest string, appendMode bool) (path string, ok bool, err error) {
	if appendMode && dest == "" {
		return "", false, ErrNoAppendTarget
	}

	path = dest
	if !appendMode {
		path = rotate.UniquePath(w.key, w.enc.FileExtension())
	}

	data, err := w.enc.Encode(recs)
	if err != nil {
		w.log.Error("failed to encode batch", "path", path, "records", len(recs), "error", err)
		return path, false, nil
	}
	if appendMode {
		// Terminate the block so consecutive appends stay line-separated.
		data = append(data, '\n')
	}

	store := w.client.Write
	if appendMode {
		store = w.client.Append
	}

	retry := w.retry
	retry.OnRetry = func(attempt int, err error) {
		w.log.Warn("failed to save to storage, retrying",
			"path", path, "attempt", attempt, "error", err)
	}

	if err := retry.Do(ctx, func(ctx context.Context) error {
		return store(ctx, path, data)
	}); err != nil {
		w.log.Error("failed to save to storage",
			"path", path, "records", len(recs), "bytes", len(data), "error", err)
		return path, false, nil
	}

	return path, true, nil
}
