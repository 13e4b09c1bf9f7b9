package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame is returned when a message length is not a whole
	// number of elements of the channel type.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnsupportedType is returned for element types the codec cannot handle.
	ErrUnsupportedType = errors.New("unsupported element type")
)

// Encode returns the raw little-endian representation of b. There is no
// header: the receiver must already know b.Type.
func Encode(b Block) ([]byte, error) {
	if !b.Type.Valid() || typeOf(b.data) != b.Type {
		return nil, fmt.Errorf("%w: block %s holds %T", ErrUnsupportedType, b.Type, b.data)
	}
	if b.Len() == 0 {
		return []byte{}, nil
	}
	out, err := binary.Append(make([]byte, 0, b.ByteLen()), binary.LittleEndian, b.data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", b.Type, err)
	}
	return out, nil
}

// Decode reinterprets data as a packed little-endian array of t.
func Decode(data []byte, t ElementType) (Block, error) {
	size := t.Size()
	if size == 0 {
		return Block{}, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	if len(data)%size != 0 {
		return Block{}, fmt.Errorf("%w: %d bytes is not a multiple of %s size %d",
			ErrMalformedFrame, len(data), t, size)
	}
	n := len(data) / size
	values := makeSlice(t, n)
	if n > 0 {
		if _, err := binary.Decode(data, binary.LittleEndian, values); err != nil {
			return Block{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	}
	return Block{Type: t, data: values}, nil
}

// Codec binds Encode/Decode to a single element type, as configured for a
// channel.
type Codec struct {
	Type ElementType
}

// NewCodec returns a codec for t.
func NewCodec(t ElementType) (Codec, error) {
	if !t.Valid() {
		return Codec{}, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	return Codec{Type: t}, nil
}

// Encode rejects blocks whose type differs from the codec's.
func (c Codec) Encode(b Block) ([]byte, error) {
	if b.Type != c.Type {
		return nil, fmt.Errorf("%w: codec is %s, block is %s", ErrUnsupportedType, c.Type, b.Type)
	}
	return Encode(b)
}

func (c Codec) Decode(data []byte) (Block, error) {
	return Decode(data, c.Type)
}

func makeSlice(t ElementType, n int) any {
	switch t {
	case Int8:
		return make([]int8, n)
	case Uint8:
		return make([]uint8, n)
	case Int16:
		return make([]int16, n)
	case Uint16:
		return make([]uint16, n)
	case Int32:
		return make([]int32, n)
	case Uint32:
		return make([]uint32, n)
	case Int64:
		return make([]int64, n)
	case Uint64:
		return make([]uint64, n)
	case Float32:
		return make([]float32, n)
	case Float64:
		return make([]float64, n)
	case Complex64:
		return make([]complex64, n)
	case Complex128:
		return make([]complex128, n)
	default:
		return nil
	}
}
