package mdsip

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Value is a decoded answer from the server.
type Value struct {
	DType  DType
	Length int   // bytes per element
	Dims   []int // empty for a scalar
	Data   []byte

	order binary.ByteOrder
}

// Count returns the number of elements the shape declares. A scalar has one
// element; a shape with a negative dimension has none. Count does not check
// the shape against the body.
func (v *Value) Count() int {
	n := 1
	for _, d := range v.Dims {
		if d < 0 {
			return 0
		}
		n *= d
	}
	return n
}

// String returns the body of a CSTRING value. Other types are formatted with
// their dtype and shape.
func (v *Value) String() string {
	if v.DType == DTypeCString {
		return string(v.Data)
	}
	return fmt.Sprintf("%s%v", v.DType, v.Dims)
}

// Int64 returns the first element of an integer value.
func (v *Value) Int64() (int64, error) {
	switch v.DType {
	case DTypeUChar, DTypeUShort, DTypeULong, DTypeULongLong,
		DTypeChar, DTypeShort, DTypeLong, DTypeLongLong:
	default:
		return 0, fmt.Errorf("%w: %s is not an integer", ErrUnsupportedDType, v.DType)
	}
	n, err := v.checkSize()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("mdsip: empty %s value", v.DType)
	}
	if v.DType <= DTypeULongLong {
		return int64(v.uintAt(0)), nil
	}
	return v.intAt(0), nil
}

// Float64s converts a numeric value of any supported dtype to float64 samples
// in storage order. Multi-dimensional arrays are flattened.
func (v *Value) Float64s() ([]float64, error) {
	if v.DType == DTypeCString {
		return nil, fmt.Errorf("%w: string value %q is not numeric", ErrUnsupportedDType, v.String())
	}
	n, err := v.checkSize()
	if err != nil {
		return nil, err
	}

	out := make([]float64, n)
	switch v.DType {
	case DTypeFloat, DTypeFS:
		for i := range out {
			out[i] = float64(math.Float32frombits(v.order.Uint32(v.Data[4*i:])))
		}
	case DTypeDouble, DTypeFT:
		for i := range out {
			out[i] = math.Float64frombits(v.order.Uint64(v.Data[8*i:]))
		}
	case DTypeUChar, DTypeUShort, DTypeULong, DTypeULongLong:
		for i := range out {
			out[i] = float64(v.uintAt(i))
		}
	case DTypeChar, DTypeShort, DTypeLong, DTypeLongLong:
		for i := range out {
			out[i] = float64(v.intAt(i))
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, v.DType)
	}
	return out, nil
}

// elemSize is the element width implied by the dtype, or 0 when the dtype is
// not a fixed-width numeric type.
func (v *Value) elemSize() int {
	switch v.DType {
	case DTypeUChar, DTypeChar:
		return 1
	case DTypeUShort, DTypeShort:
		return 2
	case DTypeULong, DTypeLong, DTypeFloat, DTypeFS:
		return 4
	case DTypeULongLong, DTypeLongLong, DTypeDouble, DTypeFT:
		return 8
	default:
		return 0
	}
}

// checkSize validates the element width and shape against the body and
// returns the element count. The count is bounded by the body length before
// any multiplication can overflow.
func (v *Value) checkSize() (int, error) {
	size := v.elemSize()
	if size == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedDType, v.DType)
	}
	if v.Length != 0 && v.Length != size {
		return 0, fmt.Errorf("mdsip: %s element length %d, want %d", v.DType, v.Length, size)
	}
	for _, d := range v.Dims {
		if d < 0 {
			return 0, fmt.Errorf("mdsip: %s%v has a negative dimension", v.DType, v.Dims)
		}
		if d == 0 {
			return 0, nil
		}
	}
	limit := len(v.Data) / size
	n := 1
	for _, d := range v.Dims {
		if n > limit/d {
			return 0, fmt.Errorf("mdsip: %s%v body has %d bytes, too short for its shape", v.DType, v.Dims, len(v.Data))
		}
		n *= d
	}
	if n > limit {
		return 0, fmt.Errorf("mdsip: %s body has %d bytes, want %d", v.DType, len(v.Data), size)
	}
	return n, nil
}

func (v *Value) uintAt(i int) uint64 {
	switch v.elemSize() {
	case 1:
		return uint64(v.Data[i])
	case 2:
		return uint64(v.order.Uint16(v.Data[2*i:]))
	case 4:
		return uint64(v.order.Uint32(v.Data[4*i:]))
	default:
		return v.order.Uint64(v.Data[8*i:])
	}
}

func (v *Value) intAt(i int) int64 {
	switch v.elemSize() {
	case 1:
		return int64(int8(v.Data[i]))
	case 2:
		return int64(int16(v.order.Uint16(v.Data[2*i:])))
	case 4:
		return int64(int32(v.order.Uint32(v.Data[4*i:])))
	default:
		return int64(v.order.Uint64(v.Data[8*i:]))
	}
}
