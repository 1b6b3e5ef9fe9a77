package encoder

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/baldanca/blob-persistor/record"
)

// NDJSON serializes records as newline-joined JSON lines, with no trailing
// newline. Append targets rely on blocks staying line-separated; the writer
// terminates each appended block with its own newline.
type NDJSON struct{}

func (NDJSON) FileExtension() string { return ".txt" }

func (NDJSON) ContentType() string { return "application/x-ndjson" }

func (NDJSON) Encode(recs []record.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}

	// json.Encoder always terminates lines; drop the last separator.
	if buf.Len() > 0 {
		b := buf.Bytes()
		if b[len(b)-1] == '\n' {
			buf.Truncate(buf.Len() - 1)
		}
	}

	return buf.Bytes(), nil
}
