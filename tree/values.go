package tree

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/janelia-flyem/sparsevdb/vdb"
)

// Value is the set of voxel value types a tree can store.
type Value interface {
	~bool | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// Numeric is the subset of value types that support arithmetic.
type Numeric interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// ValueType identifies the value type of a tree in serialized form.
type ValueType uint8

const (
	UnknownType ValueType = iota
	BoolType
	Int8Type
	Int16Type
	Int32Type
	Int64Type
	Uint8Type
	Uint16Type
	Uint32Type
	Uint64Type
	Float32Type
	Float64Type
	MaskType
)

var valueTypeNames = map[ValueType]string{
	UnknownType: "unknown",
	BoolType:    "bool",
	Int8Type:    "int8",
	Int16Type:   "int16",
	Int32Type:   "int32",
	Int64Type:   "int64",
	Uint8Type:   "uint8",
	Uint16Type:  "uint16",
	Uint32Type:  "uint32",
	Uint64Type:  "uint64",
	Float32Type: "float32",
	Float64Type: "float64",
	MaskType:    "mask",
}

func (t ValueType) String() string {
	if s, found := valueTypeNames[t]; found {
		return s
	}
	return "unknown"
}

// ParseValueType returns the ValueType for a name produced by String.
func ParseValueType(s string) (ValueType, error) {
	for t, name := range valueTypeNames {
		if name == s && t != UnknownType {
			return t, nil
		}
	}
	return UnknownType, vdb.NewError(vdb.ValueError, "unknown value type %q", s)
}

// ValueTypeOf returns the ValueType for V.  Named types derived from the
// basic types report UnknownType and cannot be serialized.
func ValueTypeOf[V Value]() ValueType {
	var v V
	switch any(v).(type) {
	case bool:
		return BoolType
	case int8:
		return Int8Type
	case int16:
		return Int16Type
	case int32:
		return Int32Type
	case int64:
		return Int64Type
	case uint8:
		return Uint8Type
	case uint16:
		return Uint16Type
	case uint32:
		return Uint32Type
	case uint64:
		return Uint64Type
	case float32:
		return Float32Type
	case float64:
		return Float64Type
	}
	return UnknownType
}

func sizeOfValue[V Value]() uintptr {
	var v V
	return unsafe.Sizeof(v)
}

// fromBool converts an active state to a value.  Only valid when V is bool,
// which holds for every mask tree.
func fromBool[V Value](b bool) V {
	return any(b).(V)
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// approxEqual returns true if |a-b| <= tol.  Types without arithmetic compare exactly.
func approxEqual[V Value](a, b, tol V) bool {
	if a == b {
		return true
	}
	fa, ok := toFloat64(any(a))
	if !ok {
		return false
	}
	fb, _ := toFloat64(any(b))
	ft, _ := toFloat64(any(tol))
	d := fa - fb
	if d < 0 {
		d = -d
	}
	return d <= ft
}

// EncodeValues returns the little-endian encoding of vals.
func EncodeValues[V Value](vals []V) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(vals) * int(sizeOfValue[V]()))
	if err := binary.Write(&buf, binary.LittleEndian, vals); err != nil {
		return nil, vdb.WrapError(vdb.IoError, err, "encoding %d values", len(vals))
	}
	return buf.Bytes(), nil
}

// DecodeValues fills vals from the encoding produced by EncodeValues.
func DecodeValues[V Value](data []byte, vals []V) error {
	want := len(vals) * int(sizeOfValue[V]())
	if len(data) != want {
		return vdb.NewError(vdb.IoError, "expected %d bytes of values, got %d", want, len(data))
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, vals); err != nil {
		return vdb.WrapError(vdb.IoError, err, "decoding %d values", len(vals))
	}
	return nil
}
