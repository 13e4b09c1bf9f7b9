package frame

import "fmt"

// Element is the set of Go types a Block can carry.
type Element interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 |
		float32 | float64 | complex64 | complex128
}

// Block is one acquisition window of typed samples. The payload is always
// a slice whose Go type matches Type (e.g. []int16 for Int16).
type Block struct {
	Type ElementType
	data any
}

// NewBlock wraps a supported slice, inferring the element type.
func NewBlock(values any) (Block, error) {
	t := typeOf(values)
	if t == Invalid {
		return Block{}, fmt.Errorf("%w: %T", ErrUnsupportedType, values)
	}
	return Block{Type: t, data: values}, nil
}

// Of builds a Block from a typed slice.
func Of[T Element](values []T) Block {
	return Block{Type: typeOf(values), data: values}
}

// Values returns the payload as []T when T matches the block type.
func Values[T Element](b Block) ([]T, bool) {
	v, ok := b.data.([]T)
	return v, ok
}

// Data returns the underlying typed slice.
func (b Block) Data() any { return b.data }

// Len returns the number of elements.
func (b Block) Len() int {
	switch v := b.data.(type) {
	case []int8:
		return len(v)
	case []uint8:
		return len(v)
	case []int16:
		return len(v)
	case []uint16:
		return len(v)
	case []int32:
		return len(v)
	case []uint32:
		return len(v)
	case []int64:
		return len(v)
	case []uint64:
		return len(v)
	case []float32:
		return len(v)
	case []float64:
		return len(v)
	case []complex64:
		return len(v)
	case []complex128:
		return len(v)
	default:
		return 0
	}
}

// ByteLen returns the encoded size of the block.
func (b Block) ByteLen() int { return b.Len() * b.Type.Size() }

// Reals converts a real-valued block to float64. For complex blocks it
// returns the real parts.
func (b Block) Reals() []float64 {
	switch v := b.data.(type) {
	case []int8:
		return toFloat(v)
	case []uint8:
		return toFloat(v)
	case []int16:
		return toFloat(v)
	case []uint16:
		return toFloat(v)
	case []int32:
		return toFloat(v)
	case []uint32:
		return toFloat(v)
	case []int64:
		return toFloat(v)
	case []uint64:
		return toFloat(v)
	case []float32:
		return toFloat(v)
	case []float64:
		out := make([]float64, len(v))
		copy(out, v)
		return out
	case []complex64:
		out := make([]float64, len(v))
		for i, c := range v {
			out[i] = float64(real(c))
		}
		return out
	case []complex128:
		out := make([]float64, len(v))
		for i, c := range v {
			out[i] = real(c)
		}
		return out
	default:
		return nil
	}
}

// Complex converts any block to complex128, real types getting a zero
// imaginary part.
func (b Block) Complex() []complex128 {
	switch v := b.data.(type) {
	case []complex64:
		out := make([]complex128, len(v))
		for i, c := range v {
			out[i] = complex128(c)
		}
		return out
	case []complex128:
		out := make([]complex128, len(v))
		copy(out, v)
		return out
	default:
		re := b.Reals()
		out := make([]complex128, len(re))
		for i, r := range re {
			out[i] = complex(r, 0)
		}
		return out
	}
}

// Equal reports whether two blocks have the same type and elements.
func (b Block) Equal(o Block) bool {
	if b.Type != o.Type || b.Len() != o.Len() {
		return false
	}
	x, errX := Encode(b)
	y, errY := Encode(o)
	if errX != nil || errY != nil {
		return false
	}
	return string(x) == string(y)
}

func (b Block) String() string {
	return fmt.Sprintf("Block(%s, len=%d)", b.Type, b.Len())
}

type realElement interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 | float32 | float64
}

func toFloat[T realElement](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func typeOf(values any) ElementType {
	switch values.(type) {
	case []int8:
		return Int8
	case []uint8:
		return Uint8
	case []int16:
		return Int16
	case []uint16:
		return Uint16
	case []int32:
		return Int32
	case []uint32:
		return Uint32
	case []int64:
		return Int64
	case []uint64:
		return Uint64
	case []float32:
		return Float32
	case []float64:
		return Float64
	case []complex64:
		return Complex64
	case []complex128:
		return Complex128
	default:
		return Invalid
	}
}
