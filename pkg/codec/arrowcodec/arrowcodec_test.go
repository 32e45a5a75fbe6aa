package arrowcodec

import (
	"bytes"
	"io"
	"testing"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dataplane/pkg/types"
)

func testSchema() types.SchemaDefinition {
	return types.SchemaDefinition{Fields: []types.FieldSchema{
		{FieldName: "id", FieldType: types.FieldString, BusinessKey: true},
		{FieldName: "count", FieldType: types.FieldInteger},
		{FieldName: "amount", FieldType: types.FieldFloat},
		{FieldName: "active", FieldType: types.FieldBoolean},
	}}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := New()
	schema := testSchema()
	var buf bytes.Buffer

	enc, err := c.NewEncoder(&buf, schema)
	require.NoError(t, err)
	require.NoError(t, enc.WriteRow([]interface{}{"X1", int64(10), 1.5, true}))
	require.NoError(t, enc.WriteRow([]interface{}{"X2", int64(20), 2.5, false}))
	require.NoError(t, enc.Close())

	dec, err := c.NewDecoder(bytes.NewReader(buf.Bytes()), schema)
	require.NoError(t, err)

	row1, err := dec.ReadRow()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"X1", int64(10), 1.5, true}, row1)

	row2, err := dec.ReadRow()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"X2", int64(20), 2.5, false}, row2)

	_, err = dec.ReadRow()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEncodeDecodeRoundTrip_NullValue(t *testing.T) {
	c := New()
	schema := types.SchemaDefinition{Fields: []types.FieldSchema{
		{FieldName: "id", FieldType: types.FieldString},
		{FieldName: "amount", FieldType: types.FieldFloat},
	}}
	var buf bytes.Buffer

	enc, err := c.NewEncoder(&buf, schema)
	require.NoError(t, err)
	require.NoError(t, enc.WriteRow([]interface{}{"X1", nil}))
	require.NoError(t, enc.Close())

	dec, err := c.NewDecoder(bytes.NewReader(buf.Bytes()), schema)
	require.NoError(t, err)
	row, err := dec.ReadRow()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"X1", nil}, row)
}

func TestCountRows(t *testing.T) {
	c := New()
	schema := testSchema()
	var buf bytes.Buffer
	enc, err := c.NewEncoder(&buf, schema)
	require.NoError(t, err)
	require.NoError(t, enc.WriteRow([]interface{}{"X1", int64(1), 1.0, true}))
	require.NoError(t, enc.WriteRow([]interface{}{"X2", int64(2), 2.0, true}))
	require.NoError(t, enc.WriteRow([]interface{}{"X3", int64(3), 3.0, false}))
	require.NoError(t, enc.Close())

	n, err := c.CountRows(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCountRows_RejectsInvalidPayload(t *testing.T) {
	c := New()
	_, err := c.CountRows(bytes.NewReader([]byte("not an arrow file")))
	assert.Error(t, err)
}

func TestArrowType_MapsEveryFieldType(t *testing.T) {
	assert.Equal(t, arrow.FixedWidthTypes.Boolean, arrowType(types.FieldBoolean))
	assert.Equal(t, arrow.PrimitiveTypes.Int64, arrowType(types.FieldInteger))
	assert.Equal(t, arrow.PrimitiveTypes.Float64, arrowType(types.FieldFloat))
	assert.Equal(t, arrow.PrimitiveTypes.Float64, arrowType(types.FieldDecimal))
	assert.Equal(t, arrow.FixedWidthTypes.Date32, arrowType(types.FieldDate))
	assert.Equal(t, &arrow.TimestampType{Unit: arrow.Microsecond}, arrowType(types.FieldDatetime))
	assert.Equal(t, arrow.BinaryTypes.String, arrowType(types.FieldString))
}

func TestFormatAndFileExtension(t *testing.T) {
	c := New()
	assert.Equal(t, "application/vnd.apache.arrow.file", c.Format())
	assert.Equal(t, "", c.FileExtension())
}
