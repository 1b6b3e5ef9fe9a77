package persistor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/baldanca/blob-persistor/record"
	"github.com/baldanca/blob-persistor/rotate"
	"github.com/baldanca/blob-persistor/source"
	"github.com/baldanca/blob-persistor/writer"
)

// shutdownGrace bounds the cleanup phase of a cancelled task: the remainder
// flush and the release of unincorporated messages.
const shutdownGrace = 10 * time.Second

// pullTask runs one receive loop: fetch, format, accumulate, and flush every
// batchSize records, acknowledging only after the durable write succeeds.
//
// One instance per goroutine; nothing here is shared except the processed
// counter and, in append mode, the rotator.
type pullTask struct {
	src       source.Factory
	writer    *writer.Writer
	rotator   *rotate.Rotator // nil unless append mode
	appendTo  bool
	getMeta   bool
	batchSize int
	prefetch  int
	fetchWait time.Duration
	ckptEvery int

	processed *atomic.Int64
	log       *slog.Logger

	// checkpoint cadence state, used when the receiver tracks a position
	// marker instead of per-message acks
	lastStored source.Message
	sinceCkpt  int
}

func (t *pullTask) run(ctx context.Context) error {
	recv, err := t.src.Open(ctx)
	if err != nil {
		t.log.Error("unable to open receiver", "error", err)
		return fmt.Errorf("open receiver: %w", err)
	}
	defer func() {
		if cerr := recv.Close(); cerr != nil {
			t.log.Warn("failed to close receiver", "error", cerr)
		}
	}()

	var b batch
	var pending []source.Message

	for {
		if ctx.Err() != nil {
			return t.shutdown(ctx, recv, &b, pending)
		}

		msgs, err := recv.FetchBatch(ctx, t.prefetch, t.fetchWait)
		if err != nil {
			if ctx.Err() != nil {
				return t.shutdown(ctx, recv, &b, pending)
			}
			// A broken receiver must not tear down sibling tasks; they may
			// still be making progress. Store what we have and exit quietly.
			t.log.Error("receiver error", "error", err)
			_ = t.shutdown(ctx, recv, &b, pending)
			return nil
		}

		if len(msgs) == 0 {
			// Stream end: store the remainder.
			if b.len() > 0 {
				if err := t.flush(ctx, recv, &b); err != nil {
					return err
				}
			}
			return t.finalCheckpoint(ctx, recv)
		}

		pending = msgs
		for len(pending) > 0 {
			msg := pending[0]
			pending = pending[1:]

			rec, ferr := record.Format(msg, t.getMeta)
			if ferr != nil {
				t.log.Error("skipping undecodable message", "error", ferr)
				formatErrors.Inc()
				t.abandonOne(ctx, msg)
				continue
			}
			b.add(rec, msg)

			if b.len() >= t.batchSize {
				if err := t.flush(ctx, recv, &b); err != nil {
					t.abandonAll(ctx, pending)
					return err
				}
				// The flush was a suspension point; a cancellation signalled
				// meanwhile is observed here.
				if ctx.Err() != nil {
					return t.shutdown(ctx, recv, &b, pending)
				}
			}
		}
		pending = nil
	}
}

// shutdown is the mandatory cleanup phase after cancellation (or a receiver
// fault): flush the non-empty remainder, then release every message that was
// fetched but never incorporated into a flushed batch.
func (t *pullTask) shutdown(ctx context.Context, recv source.Receiver, b *batch, pending []source.Message) error {
	var ferr error
	if b.len() > 0 {
		ferr = t.flush(ctx, recv, b)
	}
	if cerr := t.finalCheckpoint(ctx, recv); cerr != nil && ferr == nil {
		ferr = cerr
	}
	t.abandonAll(ctx, pending)
	return ferr
}

// flush durably stores the batch and acknowledges its messages. Writes and
// acks run on a cancel-immune context: once a batch is being persisted, the
// time budget no longer tears it mid-flight.
func (t *pullTask) flush(ctx context.Context, recv source.Receiver, b *batch) error {
	recs, msgs := b.take()

	dest := ""
	if t.appendTo {
		dest = t.rotator.Current()
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()

	path, ok, err := t.writer.Write(opCtx, recs, dest, t.appendTo)
	if err != nil {
		return err
	}
	if !ok {
		storeFailures.Inc()
		return fmt.Errorf("%w: %s", ErrStoreFailure, path)
	}
	batchesFlushed.Inc()

	if err := t.acknowledge(opCtx, recv, msgs); err != nil {
		t.log.Error("failed to acknowledge stored batch", "path", path, "error", err)
		return nil
	}

	t.processed.Add(int64(len(recs)))
	messagesProcessed.Add(float64(len(recs)))
	return nil
}

func (t *pullTask) acknowledge(ctx context.Context, recv source.Receiver, msgs []source.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	if cp, ok := recv.(source.Checkpointer); ok {
		// Position markers are cumulative; advancing lazily every ckptEvery
		// flushes never passes a record that is not yet durable.
		t.lastStored = msgs[len(msgs)-1]
		t.sinceCkpt++
		if t.sinceCkpt >= t.ckptEvery {
			if err := cp.UpdateCheckpoint(ctx, t.lastStored); err != nil {
				return err
			}
			t.lastStored = nil
			t.sinceCkpt = 0
		}
		return nil
	}

	if ba, ok := recv.(source.BatchAcker); ok {
		return ba.AckBatch(ctx, msgs)
	}
	for _, m := range msgs {
		if err := m.Ack(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (t *pullTask) finalCheckpoint(ctx context.Context, recv source.Receiver) error {
	if t.lastStored == nil {
		return nil
	}
	cp, ok := recv.(source.Checkpointer)
	if !ok {
		return nil
	}
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := cp.UpdateCheckpoint(opCtx, t.lastStored); err != nil {
		t.log.Error("failed to advance checkpoint", "error", err)
		return nil
	}
	t.lastStored = nil
	t.sinceCkpt = 0
	return nil
}

func (t *pullTask) abandonOne(ctx context.Context, msg source.Message) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := msg.Abandon(opCtx); err != nil {
		t.log.Warn("failed to abandon message", "error", err)
	}
	messagesAbandoned.Inc()
}

func (t *pullTask) abandonAll(ctx context.Context, msgs []source.Message) {
	for _, m := range msgs {
		t.abandonOne(ctx, m)
	}
}
