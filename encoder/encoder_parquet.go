package encoder

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/baldanca/blob-persistor/record"
)

// Parquet encodes batches as parquet files. Only usable with unique-per-batch
// destinations; parquet files cannot grow by appended blocks.
type Parquet struct {
	// Compression (optional): "", "snappy", "gzip", "zstd"
	Compression string
}

type parquetRow struct {
	Data     string            `parquet:"data"`
	Metadata map[string]string `parquet:"metadata,optional"`
}

func (Parquet) FileExtension() string { return ".parquet" }

func (Parquet) ContentType() string { return "application/vnd.apache.parquet" }

func (e Parquet) Encode(recs []record.Record) ([]byte, error) {
	output := &bytes.Buffer{}
	options := make([]parquet.WriterOption, 0, 1)

	switch e.Compression {
	case "":
		// no compression
	case "snappy":
		options = append(options, parquet.Compression(&parquet.Snappy))
	case "gzip":
		options = append(options, parquet.Compression(&parquet.Gzip))
	case "zstd":
		options = append(options, parquet.Compression(&parquet.Zstd))
	default:
		return nil, fmt.Errorf("unsupported parquet compression: %q", e.Compression)
	}

	rows := make([]parquetRow, len(recs))
	for i, rec := range recs {
		rows[i] = parquetRow{Data: rec.Payload, Metadata: rec.Metadata}
	}

	w := parquet.NewGenericWriter[parquetRow](output, options...)

	if _, err := w.Write(rows); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return output.Bytes(), nil
}
