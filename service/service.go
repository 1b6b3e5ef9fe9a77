// Package service exposes the persistor over its host-facing entry points:
// the HTTP trigger of the pull variant and the push path for host-delivered
// messages.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/baldanca/blob-persistor/persistor"
)

// Runner starts one orchestration; satisfied by *persistor.Orchestrator.
type Runner interface {
	Run(ctx context.Context, p persistor.RunParams) (int64, error)
}

// Trigger answers the pull variant's HTTP trigger: it parses the request
// knobs, runs the orchestrator, and returns the processed count as text.
type Trigger struct {
	runner Runner

	defaultTasks    int
	defaultBatch    int
	defaultDuration time.Duration
	prefetch        int

	log *slog.Logger
}

func NewTrigger(runner Runner, defaultTasks, defaultBatch, prefetch int, defaultDuration time.Duration, log *slog.Logger) (*Trigger, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if defaultTasks < 1 {
		defaultTasks = 1
	}
	if defaultBatch < 1 {
		defaultBatch = persistor.DefaultBatchStoreSize
	}
	if prefetch < 1 {
		prefetch = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Trigger{
		runner:          runner,
		defaultTasks:    defaultTasks,
		defaultBatch:    defaultBatch,
		defaultDuration: defaultDuration,
		prefetch:        prefetch,
		log:             log,
	}, nil
}

func (t *Trigger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	tasks, err := intParam(q.Get("N"), t.defaultTasks)
	if err != nil {
		http.Error(w, "invalid value for number of concurrent tasks", http.StatusBadRequest)
		return
	}
	batch, err := intParam(q.Get("batch_store_size"), t.defaultBatch)
	if err != nil {
		http.Error(w, "invalid value for batch store size", http.StatusBadRequest)
		return
	}
	// Keep one batch plus the in-flight prefetch under the hard ceiling.
	if max := persistor.MaxBatchStoreSize - t.prefetch; batch > max {
		batch = max
	}

	duration := t.defaultDuration
	if raw := q.Get("duration"); raw != "" {
		duration, err = time.ParseDuration(raw)
		if err != nil {
			http.Error(w, "invalid value for receive duration", http.StatusBadRequest)
			return
		}
	}

	count, err := t.runner.Run(r.Context(), persistor.RunParams{
		Tasks:      tasks,
		BatchSize:  batch,
		TimeBudget: duration,
	})
	if err != nil {
		t.log.Error("orchestration failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, persistor.ErrStoreFailure) {
			status = http.StatusBadGateway
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(strconv.FormatInt(count, 10)))
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < 1 {
		return 0, fmt.Errorf("must be at least 1")
	}
	return v, nil
}
