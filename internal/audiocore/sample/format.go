// Package sample converts single audio samples between their native byte
// encodings and normalized float64 values.
package sample

import (
	"fmt"
	"math"
	"strings"
)

// Format identifies a native sample encoding. The numeric values are part of
// the native interface and must not change.
type Format int32

const (
	UInt8 Format = iota
	Int16
	Int24
	Int32
	Float32
)

// Attributes describes the memory layout and scaling of a Format.
type Attributes struct {
	// Size is the native width of one sample in bytes.
	Size int
	// Count is the number of elements one sample occupies in managed storage.
	// Int24 samples are stored as three separate bytes.
	Count int

	IsFloat  bool
	IsSigned bool
	// Max is the value a full scale sample maps to.
	Max float64
}

var attributes = [...]Attributes{
	UInt8:   {Size: 1, Count: 1, IsFloat: false, IsSigned: false, Max: math.MaxUint8},
	Int16:   {Size: 2, Count: 1, IsFloat: false, IsSigned: true, Max: math.MaxInt16},
	Int24:   {Size: 3, Count: 3, IsFloat: false, IsSigned: true, Max: math.MaxInt32},
	Int32:   {Size: 4, Count: 1, IsFloat: false, IsSigned: true, Max: math.MaxInt32},
	Float32: {Size: 4, Count: 1, IsFloat: true, IsSigned: true, Max: 1},
}

// Valid reports whether f is one of the known encodings.
func (f Format) Valid() bool {
	return f >= UInt8 && f <= Float32
}

// Attributes returns the layout description of f. It panics on an unknown
// format.
func (f Format) Attributes() Attributes {
	mustValid(f)
	return attributes[f]
}

// Size returns the width of one native sample in bytes.
func (f Format) Size() int {
	mustValid(f)
	return attributes[f].Size
}

func (f Format) String() string {
	switch f {
	case UInt8:
		return "u8"
	case Int16:
		return "s16"
	case Int24:
		return "s24"
	case Int32:
		return "s32"
	case Float32:
		return "f32"
	default:
		return fmt.Sprintf("format(%d)", int32(f))
	}
}

// ParseFormat maps a configuration name to a Format. Both the short names
// returned by String and the long names (uint8, int16, ...) are accepted.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "u8", "uint8":
		return UInt8, nil
	case "s16", "int16", "s16le":
		return Int16, nil
	case "s24", "int24", "s24le":
		return Int24, nil
	case "s32", "int32", "s32le":
		return Int32, nil
	case "f32", "float32", "f32le":
		return Float32, nil
	default:
		return 0, fmt.Errorf("unknown sample format %q", name)
	}
}

func mustValid(f Format) {
	if !f.Valid() {
		panic(fmt.Sprintf("sample: unknown format %d", int32(f)))
	}
}
