package encoder

import "github.com/baldanca/blob-persistor/record"

// Encoder converts a batch of records into the bytes of one durable write.
//
// Implementations must be safe for concurrent use.
type Encoder interface {
	Encode(recs []record.Record) ([]byte, error)
	FileExtension() string
	ContentType() string
}
