package frame

import (
	"fmt"
	"strings"
)

// ElementType tags the numeric type carried by a channel. Both ends of a
// channel must agree on it out-of-band; nothing on the wire says which
// type a message holds.
type ElementType int

const (
	Invalid ElementType = iota
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
	Complex64
	Complex128
)

var elementNames = map[ElementType]string{
	Int8:       "int8",
	Uint8:      "uint8",
	Int16:      "int16",
	Uint16:     "uint16",
	Int32:      "int32",
	Uint32:     "uint32",
	Int64:      "int64",
	Uint64:     "uint64",
	Float32:    "float32",
	Float64:    "float64",
	Complex64:  "complex64",
	Complex128: "complex128",
}

// numpy dtype strings seen on the producer side.
var elementAliases = map[string]ElementType{
	"i1": Int8, "u1": Uint8,
	"i2": Int16, "u2": Uint16,
	"i4": Int32, "u4": Uint32,
	"i8": Int64, "u8": Uint64,
	"f4": Float32, "f8": Float64,
	"c8": Complex64, "c16": Complex128,
	"int": Int64, "float": Float64, "complex": Complex128,
}

func (t ElementType) String() string {
	if name, ok := elementNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ElementType(%d)", int(t))
}

// Size returns the encoded size of one element in bytes, or 0 for an
// unknown type.
func (t ElementType) Size() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64, Complex64:
		return 8
	case Complex128:
		return 16
	default:
		return 0
	}
}

// Valid reports whether t is a supported element type.
func (t ElementType) Valid() bool { return t.Size() > 0 }

// IsComplex reports whether elements carry an imaginary part.
func (t ElementType) IsComplex() bool { return t == Complex64 || t == Complex128 }

// ParseElementType accepts Go type names ("int16", "complex128") and numpy
// dtype strings ("<i2", "f8", "c16").
func ParseElementType(s string) (ElementType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.TrimPrefix(key, "<")
	key = strings.TrimPrefix(key, "np.")
	for t, name := range elementNames {
		if name == key {
			return t, nil
		}
	}
	if t, ok := elementAliases[key]; ok {
		return t, nil
	}
	return Invalid, fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}

// MarshalText implements encoding.TextMarshaler so element types read
// naturally in YAML and JSON.
func (t ElementType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedType, int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ElementType) UnmarshalText(b []byte) error {
	parsed, err := ParseElementType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
