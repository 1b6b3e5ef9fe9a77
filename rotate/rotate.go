// Package rotate computes destination paths and rotates append targets on
// time boundaries.
package rotate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/baldanca/blob-persistor/blob"
)

// Path composes the destination for one stored object. Date components come
// from the moment of resolution, not from batch-flush time, and are rendered
// unpadded.
func Path(key, name, ext string, now time.Time) string {
	return fmt.Sprintf("%s/%d/%d/%d/%s%s", key, now.Year(), int(now.Month()), now.Day(), name, ext)
}

// UniquePath returns a fresh unique-per-batch destination under key. Used when
// append mode is off; it bypasses any Rotator.
func UniquePath(key, ext string) string {
	return Path(key, uuid.NewString(), ext, time.Now())
}

// Rotator owns the shared append target for one orchestrator run.
//
// Resolve is the only place rotation decisions happen; pull tasks read the
// current target via Current and never rotate themselves. All state is guarded
// by one mutex whose scope is resolve + maybe-create + state update, never a
// batch write.
type Rotator struct {
	client    blob.Client
	key       string
	ext       string
	timeBased bool
	log       *slog.Logger

	// test hook
	now func() time.Time

	mu      sync.Mutex
	current string
	last    time.Time
	hasLast bool
}

func New(client blob.Client, key, ext string, timeBased bool, log *slog.Logger) (*Rotator, error) {
	if client == nil {
		return nil, fmt.Errorf("blob client is required")
	}
	if key == "" {
		return nil, fmt.Errorf("store key is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Rotator{
		client:    client,
		key:       key,
		ext:       ext,
		timeBased: timeBased,
		log:       log,
		now:       time.Now,
	}, nil
}

// Resolve computes the append target for the current wall-clock time, creating
// the backing object when a rotation boundary is crossed. Within one time
// bucket it returns the same path every call.
func (r *Rotator) Resolve(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	var name string
	if r.timeBased {
		name = fmt.Sprintf("%d-%d", now.Hour(), now.Minute())
	} else {
		name = uuid.NewString()
	}
	path := Path(r.key, name, r.ext, now)

	// Wall-clock hour/minute comparison, as opposed to elapsed duration. A
	// backwards clock adjustment can under-rotate here; known edge case.
	if !r.timeBased || !r.hasLast || now.Hour() > r.last.Hour() || now.Minute() > r.last.Minute() {
		exists, err := r.client.Exists(ctx, path)
		if err != nil {
			return "", err
		}
		if !exists {
			// Concurrent instances race to create the same target; a loser is
			// not an error. A backend that cannot append at all is.
			if err := r.client.CreateAppendable(ctx, path); err != nil {
				if errors.Is(err, blob.ErrAppendUnsupported) {
					return "", err
				}
				r.log.Warn("append target create lost race or failed",
					"path", path, "error", err)
			}
		}
		r.current = path
		r.last = now
		r.hasLast = true
	}

	return path, nil
}

// Current returns the last resolved append target, or "" before the first
// Resolve. Readers observe either the pre- or post-rotation path, never a
// partial update.
func (r *Rotator) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
