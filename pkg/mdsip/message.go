package mdsip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// headerSize is the fixed size of an mdsip message header in bytes.
	headerSize = 48

	// maxDims is the number of dimension slots carried in every header.
	maxDims = 8

	// maxBodySize bounds a single message body. The largest C-Mod signals are a
	// few million samples; anything beyond this is a corrupt length field.
	maxBodySize = 1 << 30
)

// Client type byte. The low nibble names the client flavour, the high bits are
// flags describing how the body is encoded.
const (
	clientIEEE             = 0x02
	clientSendCapabilities = 0x0f

	flagBigEndian  = 0x80
	flagCompressed = 0x20
)

// DType is an mdsip data type code.
type DType uint8

// Data type codes as they appear on the wire. FS and FT are the native IEEE
// codes; servers talking to an IEEE client usually translate them to Float and
// Double, but both spellings are accepted.
const (
	DTypeUChar     DType = 2
	DTypeUShort    DType = 3
	DTypeULong     DType = 4
	DTypeULongLong DType = 5
	DTypeChar      DType = 6
	DTypeShort     DType = 7
	DTypeLong      DType = 8
	DTypeLongLong  DType = 9
	DTypeFloat     DType = 10
	DTypeDouble    DType = 11
	DTypeCString   DType = 14
	DTypeFS        DType = 52
	DTypeFT        DType = 53
)

// String returns the MDSplus name of the data type.
func (d DType) String() string {
	switch d {
	case DTypeUChar:
		return "BU"
	case DTypeUShort:
		return "WU"
	case DTypeULong:
		return "LU"
	case DTypeULongLong:
		return "QU"
	case DTypeChar:
		return "B"
	case DTypeShort:
		return "W"
	case DTypeLong:
		return "L"
	case DTypeLongLong:
		return "Q"
	case DTypeFloat, DTypeFS:
		return "FS"
	case DTypeDouble, DTypeFT:
		return "FT"
	case DTypeCString:
		return "T"
	default:
		return fmt.Sprintf("DTYPE(%d)", uint8(d))
	}
}

// ErrUnsupportedDType is returned when a value cannot be encoded or decoded.
var ErrUnsupportedDType = errors.New("mdsip: unsupported data type")

// Message is one mdsip protocol message: a header and its body.
// A request with N arguments is sent as N messages sharing one MessageID.
type Message struct {
	Status        int32
	Length        int16 // size of one element in bytes
	NArgs         uint8
	DescriptorIdx uint8
	MessageID     uint8
	DType         DType
	ClientType    uint8
	Dims          []int32
	Body          []byte
}

// Order returns the byte order used for the message header and body.
func (m *Message) Order() binary.ByteOrder {
	if m.ClientType&flagBigEndian != 0 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Value returns the message body as a decoded Value.
func (m *Message) Value() *Value {
	dims := make([]int, len(m.Dims))
	for i, d := range m.Dims {
		dims[i] = int(d)
	}
	return &Value{
		DType:  m.DType,
		Length: int(m.Length),
		Dims:   dims,
		Data:   m.Body,
		order:  m.Order(),
	}
}

// NewMessage encodes v as a single-argument message in the given byte order.
//
// Supported Go types: string, int32, int64, int, float32, float64 and slices of
// int32, int64, float32 and float64. Slices become one-dimensional arrays.
func NewMessage(v any, order binary.ByteOrder) (*Message, error) {
	m := &Message{ClientType: clientIEEE}
	if order == binary.BigEndian {
		m.ClientType |= flagBigEndian
	}

	switch x := v.(type) {
	case string:
		if len(x) > math.MaxInt16 {
			return nil, fmt.Errorf("mdsip: string argument too long (%d bytes)", len(x))
		}
		m.DType, m.Length, m.Body = DTypeCString, int16(len(x)), []byte(x)
	case int32:
		m.DType, m.Length = DTypeLong, 4
		m.Body = appendUint32(order, nil, uint32(x))
	case int:
		m.DType, m.Length = DTypeLongLong, 8
		m.Body = appendUint64(order, nil, uint64(x))
	case int64:
		m.DType, m.Length = DTypeLongLong, 8
		m.Body = appendUint64(order, nil, uint64(x))
	case float32:
		m.DType, m.Length = DTypeFloat, 4
		m.Body = appendUint32(order, nil, math.Float32bits(x))
	case float64:
		m.DType, m.Length = DTypeDouble, 8
		m.Body = appendUint64(order, nil, math.Float64bits(x))
	case []int32:
		m.DType, m.Length, m.Dims = DTypeLong, 4, []int32{int32(len(x))}
		m.Body = make([]byte, 0, 4*len(x))
		for _, e := range x {
			m.Body = appendUint32(order, m.Body, uint32(e))
		}
	case []int64:
		m.DType, m.Length, m.Dims = DTypeLongLong, 8, []int32{int32(len(x))}
		m.Body = make([]byte, 0, 8*len(x))
		for _, e := range x {
			m.Body = appendUint64(order, m.Body, uint64(e))
		}
	case []float32:
		m.DType, m.Length, m.Dims = DTypeFloat, 4, []int32{int32(len(x))}
		m.Body = make([]byte, 0, 4*len(x))
		for _, e := range x {
			m.Body = appendUint32(order, m.Body, math.Float32bits(e))
		}
	case []float64:
		m.DType, m.Length, m.Dims = DTypeDouble, 8, []int32{int32(len(x))}
		m.Body = make([]byte, 0, 8*len(x))
		for _, e := range x {
			m.Body = appendUint64(order, m.Body, math.Float64bits(e))
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedDType, v)
	}
	return m, nil
}

// WriteMessage writes m to w. The byte order follows m.ClientType.
func WriteMessage(w io.Writer, m *Message) error {
	if len(m.Dims) > maxDims {
		return fmt.Errorf("mdsip: %d dimensions exceeds maximum of %d", len(m.Dims), maxDims)
	}
	order := m.Order()

	buf := make([]byte, headerSize, headerSize+len(m.Body))
	order.PutUint32(buf[0:], uint32(headerSize+len(m.Body)))
	order.PutUint32(buf[4:], uint32(m.Status))
	order.PutUint16(buf[8:], uint16(m.Length))
	buf[10] = m.NArgs
	buf[11] = m.DescriptorIdx
	buf[12] = m.MessageID
	buf[13] = uint8(m.DType)
	buf[14] = m.ClientType
	buf[15] = uint8(len(m.Dims))
	for i, d := range m.Dims {
		order.PutUint32(buf[16+4*i:], uint32(d))
	}
	buf = append(buf, m.Body...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("mdsip: write message: %w", err)
	}
	return nil
}

// ReadMessage reads one message from r. The header's client type byte selects
// the byte order used to decode the remaining fields.
func ReadMessage(r io.Reader) (*Message, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("mdsip: read header: %w", err)
	}

	m := &Message{
		NArgs:         hdr[10],
		DescriptorIdx: hdr[11],
		MessageID:     hdr[12],
		DType:         DType(hdr[13]),
		ClientType:    hdr[14],
	}
	order := m.Order()

	msglen := int64(order.Uint32(hdr[0:]))
	m.Status = int32(order.Uint32(hdr[4:]))
	m.Length = int16(order.Uint16(hdr[8:]))

	ndims := int(hdr[15])
	if ndims > maxDims {
		return nil, fmt.Errorf("mdsip: header declares %d dimensions", ndims)
	}
	if ndims > 0 {
		m.Dims = make([]int32, ndims)
		for i := range m.Dims {
			m.Dims[i] = int32(order.Uint32(hdr[16+4*i:]))
			if m.Dims[i] < 0 {
				return nil, fmt.Errorf("mdsip: header declares dimension %d as %d", i, m.Dims[i])
			}
		}
	}

	bodyLen := msglen - headerSize
	if bodyLen < 0 || bodyLen > maxBodySize {
		return nil, fmt.Errorf("mdsip: invalid message length %d", msglen)
	}
	if bodyLen > 0 {
		m.Body = make([]byte, bodyLen)
		if _, err := io.ReadFull(r, m.Body); err != nil {
			return nil, fmt.Errorf("mdsip: read body: %w", err)
		}
	}
	return m, nil
}

func appendUint32(order binary.ByteOrder, b []byte, v uint32) []byte {
	var t [4]byte
	order.PutUint32(t[:], v)
	return append(b, t[:]...)
}

func appendUint64(order binary.ByteOrder, b []byte, v uint64) []byte {
	var t [8]byte
	order.PutUint64(t[:], v)
	return append(b, t[:]...)
}
