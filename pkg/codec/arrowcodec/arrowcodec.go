// Package arrowcodec implements codec.Codec for
// application/vnd.apache.arrow.file using github.com/apache/arrow/go/v14
// (see DESIGN.md for why this library was picked for the columnar format).
package arrowcodec

import (
	"bytes"
	"io"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/cuemby/dataplane/pkg/codec"
	"github.com/cuemby/dataplane/pkg/dataerr"
	"github.com/cuemby/dataplane/pkg/types"
)

type Codec struct {
	alloc memory.Allocator
}

func New() *Codec { return &Codec{alloc: memory.NewGoAllocator()} }

var _ codec.Codec = (*Codec)(nil)

func (*Codec) Format() string        { return codec.FormatArrow }
func (*Codec) FileExtension() string { return "" }

// CountRows buffers the payload (the Arrow file format's footer sits at the
// end, so a FileReader needs random access) and sums record row counts.
func (c *Codec) CountRows(r io.Reader) (int64, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}

	fr, err := ipc.NewFileReader(bytes.NewReader(buf), ipc.WithAllocator(c.alloc))
	if err != nil {
		return 0, dataerr.Wrap(dataerr.InputInvalid, err, "invalid arrow file payload")
	}
	defer fr.Close()

	var rows int64
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.RecordAt(i)
		if err != nil {
			return rows, err
		}
		rows += rec.NumRows()
		rec.Release()
	}
	return rows, nil
}

func arrowType(ft types.FieldType) arrow.DataType {
	switch ft {
	case types.FieldBoolean:
		return arrow.FixedWidthTypes.Boolean
	case types.FieldInteger:
		return arrow.PrimitiveTypes.Int64
	case types.FieldFloat, types.FieldDecimal:
		return arrow.PrimitiveTypes.Float64
	case types.FieldDate:
		return arrow.FixedWidthTypes.Date32
	case types.FieldDatetime:
		return &arrow.TimestampType{Unit: arrow.Microsecond}
	default:
		return arrow.BinaryTypes.String
	}
}

func toArrowSchema(schema types.SchemaDefinition) *arrow.Schema {
	fields := make([]arrow.Field, len(schema.Fields))
	for i, f := range schema.Fields {
		fields[i] = arrow.Field{Name: f.FieldName, Type: arrowType(f.FieldType), Nullable: !f.NotNull}
	}
	return arrow.NewSchema(fields, nil)
}

type encoder struct {
	w        io.Writer
	alloc    memory.Allocator
	schema   *arrow.Schema
	builders []array.Builder
}

func (c *Codec) NewEncoder(w io.Writer, schema types.SchemaDefinition) (codec.RowEncoder, error) {
	arrowSchema := toArrowSchema(schema)
	builders := make([]array.Builder, len(schema.Fields))
	for i, f := range schema.Fields {
		builders[i] = array.NewBuilder(c.alloc, arrowType(f.FieldType))
	}
	return &encoder{w: w, alloc: c.alloc, schema: arrowSchema, builders: builders}, nil
}

func (e *encoder) WriteRow(row []interface{}) error {
	for i, b := range e.builders {
		var v interface{}
		if i < len(row) {
			v = row[i]
		}
		if err := appendValue(b, v); err != nil {
			return err
		}
	}
	return nil
}

func appendValue(b array.Builder, v interface{}) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch bld := b.(type) {
	case *array.BooleanBuilder:
		val, _ := v.(bool)
		bld.Append(val)
	case *array.Int64Builder:
		val, err := toInt64(v)
		if err != nil {
			return err
		}
		bld.Append(val)
	case *array.Float64Builder:
		val, err := toFloat64(v)
		if err != nil {
			return err
		}
		bld.Append(val)
	case *array.StringBuilder:
		bld.Append(toStr(v))
	default:
		b.AppendNull()
	}
	return nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, dataerr.New(dataerr.InputInvalid, "expected integer value, got %T", v)
	}
}

func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, dataerr.New(dataerr.InputInvalid, "expected numeric value, got %T", v)
	}
}

func toStr(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

type decoder struct {
	alloc   memory.Allocator
	fr      *ipc.FileReader
	recIdx  int
	rec     arrow.Record
	rowIdx  int64
}

func (c *Codec) NewDecoder(r io.Reader, _ types.SchemaDefinition) (codec.RowDecoder, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	fr, err := ipc.NewFileReader(bytes.NewReader(buf), ipc.WithAllocator(c.alloc))
	if err != nil {
		return nil, dataerr.Wrap(dataerr.InputInvalid, err, "invalid arrow file payload")
	}
	return &decoder{alloc: c.alloc, fr: fr}, nil
}

func (d *decoder) ReadRow() ([]interface{}, error) {
	for {
		if d.rec == nil {
			if d.recIdx >= d.fr.NumRecords() {
				d.fr.Close()
				return nil, io.EOF
			}
			rec, err := d.fr.RecordAt(d.recIdx)
			if err != nil {
				return nil, err
			}
			d.recIdx++
			d.rec = rec
			d.rowIdx = 0
		}
		if d.rowIdx >= d.rec.NumRows() {
			d.rec.Release()
			d.rec = nil
			continue
		}

		row := make([]interface{}, d.rec.NumCols())
		for i := 0; i < int(d.rec.NumCols()); i++ {
			row[i] = cellValue(d.rec.Column(i), int(d.rowIdx))
		}
		d.rowIdx++
		return row, nil
	}
}

func cellValue(col arrow.Array, row int) interface{} {
	if col.IsNull(row) {
		return nil
	}
	switch c := col.(type) {
	case *array.Boolean:
		return c.Value(row)
	case *array.Int64:
		return c.Value(row)
	case *array.Float64:
		return c.Value(row)
	case *array.String:
		return c.Value(row)
	default:
		return nil
	}
}

func (e *encoder) Close() error {
	cols := make([]arrow.Array, len(e.builders))
	numRows := int64(0)
	for i, b := range e.builders {
		arr := b.NewArray()
		defer arr.Release()
		cols[i] = arr
		numRows = int64(arr.Len())
	}
	rec := array.NewRecord(e.schema, cols, numRows)
	defer rec.Release()

	fw, err := ipc.NewFileWriter(e.w, ipc.WithSchema(e.schema), ipc.WithAllocator(e.alloc))
	if err != nil {
		return err
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return err
	}
	return fw.Close()
}
