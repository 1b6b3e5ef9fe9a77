package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/baldanca/blob-persistor/encoder"
	"github.com/baldanca/blob-persistor/persistor"
	"github.com/baldanca/blob-persistor/record"
	"github.com/baldanca/blob-persistor/rotate"
	"github.com/baldanca/blob-persistor/source"
	"github.com/baldanca/blob-persistor/writer"
)

// propertyHeaderPrefix marks request headers carried over as message
// properties on the push path.
const propertyHeaderPrefix = "X-Message-Property-"

// Pusher stores messages the host delivers directly. There is no checkpoint
// here; a returned error fails the delivery and the host's own redelivery
// policy governs what happens next (some providers never redeliver).
type Pusher struct {
	writer  *writer.Writer
	rotator *rotate.Rotator // nil unless append mode
	enc     encoder.Encoder // output-binding rendering only

	appendTo      bool
	getMeta       bool
	outputBinding bool

	log *slog.Logger
}

func NewPusher(w *writer.Writer, rotator *rotate.Rotator, enc encoder.Encoder, appendTo, getMeta, outputBinding bool, log *slog.Logger) (*Pusher, error) {
	if !outputBinding && w == nil {
		return nil, fmt.Errorf("writer is required")
	}
	if outputBinding && enc == nil {
		return nil, fmt.Errorf("output binding requires an encoder")
	}
	if appendTo && rotator == nil && !outputBinding {
		return nil, fmt.Errorf("append mode requires a rotator")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pusher{
		writer:        w,
		rotator:       rotator,
		enc:           enc,
		appendTo:      appendTo,
		getMeta:       getMeta,
		outputBinding: outputBinding,
		log:           log,
	}, nil
}

// Store persists the delivered messages in one durable write.
func (p *Pusher) Store(ctx context.Context, msgs []source.Message) error {
	recs, err := p.format(msgs)
	if err != nil {
		return err
	}

	dest := ""
	if p.appendTo {
		// The push path resolves per delivery; there is no background refresh.
		dest, err = p.rotator.Resolve(ctx)
		if err != nil {
			return err
		}
	}

	path, ok, err := p.writer.Write(ctx, recs, dest, p.appendTo)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", persistor.ErrStoreFailure, path)
	}
	return nil
}

// Render writes the serialized records to the output slot instead of the
// store. Used when the host binds the function result directly to a blob.
func (p *Pusher) Render(msgs []source.Message, out io.Writer) error {
	recs, err := p.format(msgs)
	if err != nil {
		return err
	}
	data, err := p.enc.Encode(recs)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		return fmt.Errorf("no usable output slot: %w", err)
	}
	return nil
}

func (p *Pusher) format(msgs []source.Message) ([]record.Record, error) {
	recs := make([]record.Record, 0, len(msgs))
	for _, msg := range msgs {
		rec, err := record.Format(msg, p.getMeta)
		if err != nil {
			// Push deliveries fail whole: the host decides on redelivery.
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// ServeHTTP accepts one delivered message per request: the body is the
// payload, X-Message-Property-* headers become its properties.
func (p *Pusher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable message body", http.StatusBadRequest)
		return
	}

	msg := &pushMessage{body: body}
	for name, vals := range r.Header {
		if strings.HasPrefix(name, propertyHeaderPrefix) && len(vals) > 0 {
			if msg.props == nil {
				msg.props = make(map[string][]byte)
			}
			msg.props[strings.TrimPrefix(name, propertyHeaderPrefix)] = []byte(vals[0])
		}
	}

	if p.outputBinding {
		w.Header().Set("Content-Type", p.enc.ContentType())
		if err := p.Render([]source.Message{msg}, w); err != nil {
			p.log.Error("failed to render delivered message", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	if err := p.Store(r.Context(), []source.Message{msg}); err != nil {
		p.log.Error("failed to store delivered message", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

// pushMessage is a host-delivered message. Ack and Abandon are no-ops: the
// host's delivery machinery, not this process, owns redelivery.
type pushMessage struct {
	body  []byte
	props map[string][]byte
}

func (m *pushMessage) Body() []byte                      { return m.body }
func (m *pushMessage) Properties() map[string][]byte     { return m.props }
func (m *pushMessage) Ack(ctx context.Context) error     { return nil }
func (m *pushMessage) Abandon(ctx context.Context) error { return nil }

var _ source.Message = (*pushMessage)(nil)
