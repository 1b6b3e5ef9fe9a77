package source

import (
	"context"
	"time"
)

// Message is one unit fetched from a message source.
//
// Providers deliver custom properties as raw byte pairs; decoding them as text
// is the formatter's job, not the source's.
type Message interface {
	Body() []byte
	Properties() map[string][]byte

	// Ack marks the message as durably handled. Abandon releases it back to the
	// source so it can be redelivered instead of timing out silently.
	Ack(ctx context.Context) error
	Abandon(ctx context.Context) error
}

// Receiver is a pull-mode consumer over a message source.
//
// FetchBatch blocks up to wait for at least one message and returns an empty
// slice once the stream has ended (nothing arrived within the window).
type Receiver interface {
	FetchBatch(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	Close() error
}

// Factory opens receivers. Each pull task owns exactly one Receiver for its
// lifetime; receivers are never shared across tasks.
type Factory interface {
	Open(ctx context.Context) (Receiver, error)
}

// BatchAcker is an optional fast path for receivers that can acknowledge many
// messages in one provider call.
type BatchAcker interface {
	AckBatch(ctx context.Context, msgs []Message) error
}

// Checkpointer is implemented by receivers whose source tracks an opaque
// position marker instead of per-message acknowledgements. UpdateCheckpoint
// advances the marker to the given message; it must never be called for a
// message whose batch has not been durably stored.
type Checkpointer interface {
	UpdateCheckpoint(ctx context.Context, last Message) error
}
