// Package persistor contains the pull-orchestration engine: N concurrent pull
// tasks that batch messages, persist each batch durably, and acknowledge only
// afterwards, all under one optional wall-clock budget.
package persistor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/baldanca/blob-persistor/rotate"
	"github.com/baldanca/blob-persistor/source"
	"github.com/baldanca/blob-persistor/writer"
)

const (
	// DefaultBatchStoreSize is the number of records stored per batch when the
	// trigger does not say otherwise.
	DefaultBatchStoreSize = 200

	// MaxBatchStoreSize caps the requested batch size; the source prefetch is
	// subtracted from it at the trigger boundary.
	MaxBatchStoreSize = 10000

	// rotateRefreshInterval is how often the background task re-resolves a
	// time-based append target.
	rotateRefreshInterval = 5 * time.Second
)

// Options fixes the per-deployment behavior of an Orchestrator. Per-request
// knobs (task count, batch size, time budget) arrive via RunParams instead.
type Options struct {
	Append          bool
	TimedAppend     bool
	GetMetadata     bool
	Prefetch        int
	FetchWait       time.Duration
	CheckpointEvery int
}

// RunParams are the knobs of a single orchestration run.
type RunParams struct {
	Tasks     int
	BatchSize int

	// TimeBudget bounds the whole run; zero pulls until the stream ends.
	TimeBudget time.Duration
}

type Orchestrator struct {
	src     source.Factory
	writer  *writer.Writer
	rotator *rotate.Rotator
	opts    Options
	log     *slog.Logger
}

func NewOrchestrator(src source.Factory, w *writer.Writer, rotator *rotate.Rotator, opts Options, log *slog.Logger) (*Orchestrator, error) {
	if src == nil {
		return nil, fmt.Errorf("source factory is required")
	}
	if w == nil {
		return nil, fmt.Errorf("writer is required")
	}
	if opts.TimedAppend {
		opts.Append = true
	}
	if opts.Append && rotator == nil {
		return nil, fmt.Errorf("append mode requires a rotator")
	}
	if opts.Prefetch < 1 {
		opts.Prefetch = 1
	}
	if opts.FetchWait <= 0 {
		opts.FetchWait = 10 * time.Second
	}
	if opts.CheckpointEvery < 1 {
		opts.CheckpointEvery = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{src: src, writer: w, rotator: rotator, opts: opts, log: log}, nil
}

// Run spawns the pull tasks and awaits them all, successful or not; a failure
// inside one task never aborts its siblings. It returns the number of
// messages durably stored and acknowledged across all tasks.
//
// The processed counter and the finished flag live on the stack of this call:
// one host process may run overlapping orchestrations, and they must not
// share state.
func (o *Orchestrator) Run(ctx context.Context, p RunParams) (int64, error) {
	if p.Tasks < 1 {
		p.Tasks = 1
	}
	if p.BatchSize < 1 {
		p.BatchSize = DefaultBatchStoreSize
	}

	var processed atomic.Int64
	var finished atomic.Bool
	var refreshDone chan struct{}

	if o.opts.Append {
		// Resolve once up front so every task starts from the same target.
		if _, err := o.rotator.Resolve(ctx); err != nil {
			return 0, fmt.Errorf("resolve initial append target: %w", err)
		}
		if o.opts.TimedAppend {
			refreshDone = make(chan struct{})
			go o.refreshLoop(ctx, &finished, refreshDone)
		}
	}

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if p.TimeBudget > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.TimeBudget)
	}
	defer cancel()

	errs := make([]error, p.Tasks)
	var wg sync.WaitGroup
	wg.Add(p.Tasks)
	for i := 0; i < p.Tasks; i++ {
		t := &pullTask{
			src:       o.src,
			writer:    o.writer,
			rotator:   o.rotator,
			appendTo:  o.opts.Append,
			getMeta:   o.opts.GetMetadata,
			batchSize: p.BatchSize,
			prefetch:  o.opts.Prefetch,
			fetchWait: o.opts.FetchWait,
			ckptEvery: o.opts.CheckpointEvery,
			processed: &processed,
			log:       o.log.With("task", i),
		}
		go func(i int, t *pullTask) {
			defer wg.Done()
			errs[i] = t.run(runCtx)
		}(i, t)
	}

	wg.Wait()
	finished.Store(true)
	if refreshDone != nil {
		// Not cancelled: the refresh task observes the flag and finishes its
		// current iteration cleanly.
		<-refreshDone
	}

	total := processed.Load()
	if total == 0 {
		failed := 0
		for _, err := range errs {
			if err != nil {
				failed++
			}
		}
		if failed == p.Tasks {
			return 0, fmt.Errorf("%w: all %d pull tasks failed: %v", ErrStoreFailure, p.Tasks, errs[0])
		}
	}
	return total, nil
}

func (o *Orchestrator) refreshLoop(ctx context.Context, finished *atomic.Bool, done chan struct{}) {
	defer close(done)
	for !finished.Load() {
		if _, err := o.rotator.Resolve(ctx); err != nil {
			o.log.Error("failed to refresh append target", "error", err)
		}
		time.Sleep(rotateRefreshInterval)
	}
}
