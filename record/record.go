// Package record normalizes provider messages into storable records.
package record

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/baldanca/blob-persistor/source"
)

// Record is the normalized unit extracted from one source message.
type Record struct {
	Payload  string
	Metadata map[string]string
}

// FormatError reports a message whose payload or properties could not be
// decoded as text. The message is skippable; the task carries on.
type FormatError struct {
	Field string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("message %s is not valid UTF-8 text", e.Field)
}

// Format extracts the payload and, when includeMetadata is set, the custom
// properties of a message.
//
// Some providers transmit property keys and values as raw byte pairs rather
// than text when messages are fetched manually; both are decoded as UTF-8 here
// so callers never see undecoded bytes.
func Format(msg source.Message, includeMetadata bool) (Record, error) {
	body := msg.Body()
	if !utf8.Valid(body) {
		return Record{}, &FormatError{Field: "payload"}
	}

	rec := Record{Payload: string(body)}
	if !includeMetadata {
		return rec, nil
	}

	props := msg.Properties()
	if len(props) == 0 {
		return rec, nil
	}

	md := make(map[string]string, len(props))
	for k, v := range props {
		if !utf8.ValidString(k) {
			return Record{}, &FormatError{Field: "property key"}
		}
		if !utf8.Valid(v) {
			return Record{}, &FormatError{Field: "property value"}
		}
		md[k] = string(v)
	}
	rec.Metadata = md
	return rec, nil
}

type storeForm struct {
	Data     string            `json:"DATA"`
	Metadata map[string]string `json:"METADATA,omitempty"`
}

// MarshalJSON renders the stored form: a DATA field with the payload and an
// optional METADATA field.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(storeForm{Data: r.Payload, Metadata: r.Metadata})
}

// UnmarshalJSON accepts the stored form back into a Record.
func (r *Record) UnmarshalJSON(data []byte) error {
	var sf storeForm
	if err := json.Unmarshal(data, &sf); err != nil {
		return err
	}
	r.Payload = sf.Data
	r.Metadata = sf.Metadata
	return nil
}
