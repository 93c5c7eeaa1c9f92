package frame

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestFieldTableRoundTripAllTags(t *testing.T) {
	in := Table{
		{Name: "bool", Value: FieldValue{Tag: FVBool, Bool: true}},
		{Name: "i8", Value: FieldValue{Tag: FVInt8, Int8: -5}},
		{Name: "u8", Value: FieldValue{Tag: FVUint8, Uint8: 250}},
		{Name: "i16", Value: FieldValue{Tag: FVInt16, Int16: -1000}},
		{Name: "u16", Value: FieldValue{Tag: FVUint16, Uint16: 60000}},
		{Name: "i32", Value: FieldValue{Tag: FVInt32, Int32: -100000}},
		{Name: "u32", Value: FieldValue{Tag: FVUint32, Uint32: 4000000000}},
		{Name: "i64", Value: FieldValue{Tag: FVInt64, Int64: -1 << 40}},
		{Name: "u64", Value: FieldValue{Tag: FVUint64, Uint64: 1 << 40}},
		{Name: "f32", Value: FieldValue{Tag: FVFloat32, Float32: 3.5}},
		{Name: "f64", Value: FieldValue{Tag: FVFloat64, Float64: 2.71828}},
		{Name: "longstr", Value: FieldValue{Tag: FVLongstr, Str: "a long string value"}},
		{Name: "shortstr", Value: FieldValue{Tag: FVShortstr, Str: "short"}},
		{Name: "ts", Value: FieldValue{Tag: FVTime, Time: 1700000000}},
		{Name: "void", Value: FieldValue{Tag: FVVoid}},
		{Name: "bytes", Value: FieldValue{Tag: FVBytes, Bytes: []byte{1, 2, 3, 4}}},
		{Name: "arr", Value: FieldValue{Tag: FVArray, Array: []FieldValue{
			{Tag: FVInt32, Int32: 1},
			{Tag: FVInt32, Int32: 2},
		}}},
		{Name: "nested", Value: FieldValue{Tag: FVTable, Table: Table{
			{Name: "inner", Value: FieldValue{Tag: FVBool, Bool: false}},
		}}},
	}
	enc := EncodeTable(nil, in)
	out, n, err := DecodeTable(enc)
	assert.NilError(t, err)
	assert.Equal(t, n, len(enc))
	assert.DeepEqual(t, in, out)
}

func TestFieldTableGetSet(t *testing.T) {
	var tbl Table
	tbl = tbl.Set("a", FieldValue{Tag: FVBool, Bool: true})
	tbl = tbl.Set("b", FieldValue{Tag: FVInt32, Int32: 5})
	tbl = tbl.Set("a", FieldValue{Tag: FVBool, Bool: false})

	v, ok := tbl.Get("a")
	assert.Assert(t, ok)
	assert.Equal(t, v.Bool, false)
	assert.Equal(t, len(tbl), 2)
}

func TestDecodeTableUnknownTagFails(t *testing.T) {
	// length(4) + shortstr name "x"(1+1) + unknown tag 'Z'
	raw := []byte{0, 0, 0, 3, 1, 'x', 'Z'}
	_, _, err := DecodeTable(raw)
	assert.ErrorContains(t, err, "unknown tag")
}
