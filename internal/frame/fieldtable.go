package frame

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FieldValue is a tagged union over the AMQP 0-9-1 field-table value types
// the proxy needs to round-trip. Only the constructor used to build a value
// populates the corresponding field; Tag identifies which one is live.
type FieldValue struct {
	Tag byte // one of the fvTag* constants below

	Bool    bool
	Int8    int8
	Uint8   uint8
	Int16   int16
	Uint16  uint16
	Int32   int32
	Uint32  uint32
	Int64   int64
	Uint64  uint64
	Float32 float32
	Float64 float64
	Str     string // longstr (S) or shortstr (s)
	Bytes   []byte // byte array (x)
	Array   []FieldValue
	Table   Table
	Time    int64 // seconds since epoch (T)
	// Void (V) carries no payload.
}

// Tags mirror the single-byte type codes used on the wire.
const (
	FVBool    = 't'
	FVInt8    = 'b'
	FVUint8   = 'B'
	FVInt16   = 'U'
	FVUint16  = 'u'
	FVInt32   = 'I'
	FVUint32  = 'i'
	FVInt64   = 'L'
	FVUint64  = 'l'
	FVFloat32 = 'f'
	FVFloat64 = 'd'
	FVLongstr = 'S'
	FVShortstr = 's'
	FVArray   = 'A'
	FVTime    = 'T'
	FVTable   = 'F'
	FVVoid    = 'V'
	FVBytes   = 'x'
)

// Table is an ordered sequence of (name, value) entries, matching the wire
// representation rather than a Go map: AMQP field tables preserve insertion
// order and the proxy never needs to do more than walk or append.
type Table []TableEntry

type TableEntry struct {
	Name  string
	Value FieldValue
}

func (t Table) Get(name string) (FieldValue, bool) {
	for _, e := range t {
		if e.Name == name {
			return e.Value, true
		}
	}
	return FieldValue{}, false
}

func (t Table) Set(name string, v FieldValue) Table {
	for i, e := range t {
		if e.Name == name {
			t[i].Value = v
			return t
		}
	}
	return append(t, TableEntry{Name: name, Value: v})
}

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) remaining() int { return len(r.b) - r.pos }

func (r *byteReader) need(n int) error {
	if r.remaining() < n {
		return fmt.Errorf("fieldtable: truncated, need %d have %d", n, r.remaining())
	}
	return nil
}

func (r *byteReader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *byteReader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *byteReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.b[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *byteReader) shortstr() (string, error) {
	n, err := r.u8()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *byteReader) longstr() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeTable parses a field table from the head of b, returning the table
// and the number of bytes consumed (the 4-byte length prefix plus body).
func DecodeTable(b []byte) (Table, int, error) {
	r := &byteReader{b: b}
	n, err := r.u32()
	if err != nil {
		return nil, 0, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, 0, err
	}
	end := r.pos + int(n)
	var out Table
	for r.pos < end {
		name, err := r.shortstr()
		if err != nil {
			return nil, 0, err
		}
		v, err := decodeFieldValue(r)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, TableEntry{Name: name, Value: v})
	}
	return out, r.pos, nil
}

func decodeFieldValue(r *byteReader) (FieldValue, error) {
	tag, err := r.u8()
	if err != nil {
		return FieldValue{}, err
	}
	switch tag {
	case FVBool:
		v, err := r.u8()
		return FieldValue{Tag: tag, Bool: v != 0}, err
	case FVInt8:
		v, err := r.u8()
		return FieldValue{Tag: tag, Int8: int8(v)}, err
	case FVUint8:
		v, err := r.u8()
		return FieldValue{Tag: tag, Uint8: v}, err
	case FVInt16:
		v, err := r.u16()
		return FieldValue{Tag: tag, Int16: int16(v)}, err
	case FVUint16:
		v, err := r.u16()
		return FieldValue{Tag: tag, Uint16: v}, err
	case FVInt32:
		v, err := r.u32()
		return FieldValue{Tag: tag, Int32: int32(v)}, err
	case FVUint32:
		v, err := r.u32()
		return FieldValue{Tag: tag, Uint32: v}, err
	case FVInt64:
		v, err := r.u64()
		return FieldValue{Tag: tag, Int64: int64(v)}, err
	case FVUint64:
		v, err := r.u64()
		return FieldValue{Tag: tag, Uint64: v}, err
	case FVFloat32:
		v, err := r.u32()
		return FieldValue{Tag: tag, Float32: math.Float32frombits(v)}, err
	case FVFloat64:
		v, err := r.u64()
		return FieldValue{Tag: tag, Float64: math.Float64frombits(v)}, err
	case FVLongstr:
		v, err := r.longstr()
		return FieldValue{Tag: tag, Str: v}, err
	case FVShortstr:
		v, err := r.shortstr()
		return FieldValue{Tag: tag, Str: v}, err
	case FVTime:
		v, err := r.u64()
		return FieldValue{Tag: tag, Time: int64(v)}, err
	case FVVoid:
		return FieldValue{Tag: tag}, nil
	case FVBytes:
		n, err := r.u32()
		if err != nil {
			return FieldValue{}, err
		}
		b, err := r.bytes(int(n))
		if err != nil {
			return FieldValue{}, err
		}
		cp := make([]byte, len(b))
		copy(cp, b)
		return FieldValue{Tag: tag, Bytes: cp}, nil
	case FVTable:
		t, n, err := DecodeTable(r.b[r.pos:])
		if err != nil {
			return FieldValue{}, err
		}
		r.pos += n
		return FieldValue{Tag: tag, Table: t}, nil
	case FVArray:
		n, err := r.u32()
		if err != nil {
			return FieldValue{}, err
		}
		if err := r.need(int(n)); err != nil {
			return FieldValue{}, err
		}
		end := r.pos + int(n)
		var arr []FieldValue
		for r.pos < end {
			v, err := decodeFieldValue(r)
			if err != nil {
				return FieldValue{}, err
			}
			arr = append(arr, v)
		}
		return FieldValue{Tag: tag, Array: arr}, nil
	default:
		return FieldValue{}, fmt.Errorf("fieldtable: unknown tag %q", tag)
	}
}

// EncodeTable appends the wire representation of t (length prefix + body)
// to dst.
func EncodeTable(dst []byte, t Table) []byte {
	bodyStart := len(dst)
	dst = append(dst, 0, 0, 0, 0) // length placeholder
	for _, e := range t {
		dst = appendShortstr(dst, e.Name)
		dst = encodeFieldValue(dst, e.Value)
	}
	binary.BigEndian.PutUint32(dst[bodyStart:bodyStart+4], uint32(len(dst)-bodyStart-4))
	return dst
}

func appendShortstr(dst []byte, s string) []byte {
	dst = append(dst, byte(len(s)))
	return append(dst, s...)
}

func appendLongstr(dst []byte, s string) []byte {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	dst = append(dst, n[:]...)
	return append(dst, s...)
}

func encodeFieldValue(dst []byte, v FieldValue) []byte {
	dst = append(dst, v.Tag)
	switch v.Tag {
	case FVBool:
		if v.Bool {
			return append(dst, 1)
		}
		return append(dst, 0)
	case FVInt8:
		return append(dst, byte(v.Int8))
	case FVUint8:
		return append(dst, v.Uint8)
	case FVInt16:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(v.Int16))
		return append(dst, b[:]...)
	case FVUint16:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], v.Uint16)
		return append(dst, b[:]...)
	case FVInt32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v.Int32))
		return append(dst, b[:]...)
	case FVUint32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v.Uint32)
		return append(dst, b[:]...)
	case FVInt64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.Int64))
		return append(dst, b[:]...)
	case FVUint64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v.Uint64)
		return append(dst, b[:]...)
	case FVFloat32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], math.Float32bits(v.Float32))
		return append(dst, b[:]...)
	case FVFloat64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.Float64))
		return append(dst, b[:]...)
	case FVLongstr:
		return appendLongstr(dst, v.Str)
	case FVShortstr:
		return appendShortstr(dst, v.Str)
	case FVTime:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.Time))
		return append(dst, b[:]...)
	case FVVoid:
		return dst
	case FVBytes:
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(v.Bytes)))
		dst = append(dst, n[:]...)
		return append(dst, v.Bytes...)
	case FVTable:
		return EncodeTable(dst, v.Table)
	case FVArray:
		lenStart := len(dst)
		dst = append(dst, 0, 0, 0, 0)
		for _, e := range v.Array {
			dst = encodeFieldValue(dst, e)
		}
		binary.BigEndian.PutUint32(dst[lenStart:lenStart+4], uint32(len(dst)-lenStart-4))
		return dst
	default:
		panic(fmt.Sprintf("fieldtable: unknown tag %q", v.Tag))
	}
}
