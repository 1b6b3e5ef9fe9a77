// Package blob abstracts the destination object store.
package blob

import (
	"context"
	"errors"
)

// ErrAppendUnsupported is returned by backends whose objects cannot grow in
// place. Append mode on such a backend is a configuration error, not a
// transient failure.
var ErrAppendUnsupported = errors.New("append not supported by this backend")

// Client is the store surface the writer and rotator consume.
//
// CreateAppendable is best-effort create-if-absent: when several process
// instances race to create the same target, one of them winning is not an
// error and implementations return nil on an already-exists outcome.
type Client interface {
	Exists(ctx context.Context, path string) (bool, error)
	CreateAppendable(ctx context.Context, path string) error
	Append(ctx context.Context, path string, data []byte) error
	Write(ctx context.Context, path string, data []byte) error
}
