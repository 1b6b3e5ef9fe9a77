package persistor

import (
	"github.com/baldanca/blob-persistor/record"
	"github.com/baldanca/blob-persistor/source"
)

// batch accumulates records together with the source messages that produced
// them, so the messages can be acknowledged once the records are durable.
type batch struct {
	records []record.Record
	msgs    []source.Message
}

func (b *batch) add(rec record.Record, msg source.Message) {
	b.records = append(b.records, rec)
	b.msgs = append(b.msgs, msg)
}

func (b *batch) len() int { return len(b.records) }

// take hands out the accumulated contents and resets the batch.
func (b *batch) take() ([]record.Record, []source.Message) {
	recs, msgs := b.records, b.msgs
	b.records = nil
	b.msgs = nil
	return recs, msgs
}
