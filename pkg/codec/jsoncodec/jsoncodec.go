// Package jsoncodec implements codec.Codec for application/json: a data
// object encoded as this format is a JSON array of row objects, stored with
// a .json extension per §6.
package jsoncodec

import (
	"encoding/json"
	"io"

	"github.com/cuemby/dataplane/pkg/codec"
	"github.com/cuemby/dataplane/pkg/types"
)

type Codec struct{}

func New() *Codec { return &Codec{} }

var _ codec.Codec = (*Codec)(nil)

func (*Codec) Format() string        { return codec.FormatJSON }
func (*Codec) FileExtension() string { return "json" }

// CountRows tokenises the top-level JSON array and counts its elements
// without materialising them, so arbitrarily large payloads stream through
// with constant memory.
func (*Codec) CountRows(r io.Reader) (int64, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return 0, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return 0, errNotArray
	}

	var rows int64
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return rows, err
		}
		rows++
	}
	return rows, nil
}

var errNotArray = &formatError{"data payload is not a JSON array of rows"}

type formatError struct{ msg string }

func (e *formatError) Error() string { return e.msg }

type encoder struct {
	w       io.Writer
	enc     *json.Encoder
	first   bool
	fields  []string
}

func (*Codec) NewEncoder(w io.Writer, schema types.SchemaDefinition) (codec.RowEncoder, error) {
	fields := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		fields[i] = f.FieldName
	}
	if _, err := w.Write([]byte("[")); err != nil {
		return nil, err
	}
	return &encoder{w: w, enc: json.NewEncoder(w), first: true, fields: fields}, nil
}

func (e *encoder) WriteRow(row []interface{}) error {
	if !e.first {
		if _, err := e.w.Write([]byte(",")); err != nil {
			return err
		}
	}
	e.first = false

	obj := make(map[string]interface{}, len(row))
	for i, v := range row {
		if i < len(e.fields) {
			obj[e.fields[i]] = v
		}
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	_, err = e.w.Write(raw)
	return err
}

func (e *encoder) Close() error {
	_, err := e.w.Write([]byte("]"))
	return err
}

type decoder struct {
	dec    *json.Decoder
	fields []string
	opened bool
}

func (*Codec) NewDecoder(r io.Reader, schema types.SchemaDefinition) (codec.RowDecoder, error) {
	fields := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		fields[i] = f.FieldName
	}
	return &decoder{dec: json.NewDecoder(r), fields: fields}, nil
}

func (d *decoder) ReadRow() ([]interface{}, error) {
	if !d.opened {
		tok, err := d.dec.Token()
		if err != nil {
			return nil, err
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return nil, errNotArray
		}
		d.opened = true
	}
	if !d.dec.More() {
		return nil, io.EOF
	}

	var obj map[string]interface{}
	if err := d.dec.Decode(&obj); err != nil {
		return nil, err
	}
	row := make([]interface{}, len(d.fields))
	for i, f := range d.fields {
		row[i] = obj[f]
	}
	return row, nil
}
