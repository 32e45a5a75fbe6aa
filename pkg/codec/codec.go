// Package codec defines the plugin boundary for table formats (§6): a
// format is recognised if a registered Codec claims it, and rejected with
// INPUT_INVALID otherwise. Concrete codecs live in the csvcodec, jsoncodec,
// and arrowcodec subpackages.
package codec

import (
	"io"

	"github.com/cuemby/dataplane/pkg/dataerr"
	"github.com/cuemby/dataplane/pkg/types"
)

// Formats recognised at minimum, per §6.
const (
	FormatCSV   = "text/csv"
	FormatJSON  = "application/json"
	FormatArrow = "application/vnd.apache.arrow.file"
)

// Codec is the capability set a format plugin exposes: counting rows for
// the row-counter pipeline stage, and writing a schema-shaped stream for
// the encoder stage of the read pipeline.
type Codec interface {
	// Format returns the MIME-ish format string this codec claims.
	Format() string

	// FileExtension returns the extension storage paths should carry for
	// this format, or "" if the format stores without one (§6).
	FileExtension() string

	// CountRows consumes r fully and returns the number of data rows seen.
	CountRows(r io.Reader) (int64, error)

	// NewEncoder returns a row encoder that writes schema-shaped output to w.
	NewEncoder(w io.Writer, schema types.SchemaDefinition) (RowEncoder, error)

	// NewDecoder returns a row decoder reading schema-shaped input from r,
	// used by the read pipeline to apply row-skip/row-limit before
	// re-encoding (§4.4).
	NewDecoder(r io.Reader, schema types.SchemaDefinition) (RowDecoder, error)
}

// RowEncoder writes one row at a time and finalises the stream on Close
// (e.g. closing a JSON array, nothing for CSV).
type RowEncoder interface {
	WriteRow(row []interface{}) error
	Close() error
}

// RowDecoder reads one row at a time, returning io.EOF once exhausted.
type RowDecoder interface {
	ReadRow() ([]interface{}, error)
}

// Registry resolves a format string to a Codec.
type Registry struct {
	codecs map[string]Codec
}

func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: make(map[string]Codec, len(codecs))}
	for _, c := range codecs {
		r.codecs[c.Format()] = c
	}
	return r
}

func (r *Registry) Resolve(format string) (Codec, error) {
	c, ok := r.codecs[format]
	if !ok {
		return nil, dataerr.New(dataerr.InputInvalid, "no codec registered for format %q", format)
	}
	return c, nil
}
