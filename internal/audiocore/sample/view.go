package sample

import (
	"encoding/binary"
	"fmt"
	"math"
)

// View addresses a run of native samples inside a byte slice. Bounds are
// checked once in NewView; element access only relies on the slice bounds.
type View struct {
	data   []byte
	format Format
	size   int
	n      int
}

// NewView wraps data as n consecutive samples of format f.
func NewView(data []byte, f Format, n int) (View, error) {
	if !f.Valid() {
		return View{}, fmt.Errorf("unknown sample format %d", int32(f))
	}
	if n < 0 {
		return View{}, fmt.Errorf("negative sample count %d", n)
	}
	size := attributes[f].Size
	if len(data) < n*size {
		return View{}, fmt.Errorf("view of %d %s samples needs %d bytes, have %d", n, f, n*size, len(data))
	}
	return View{data: data[:n*size], format: f, size: size, n: n}, nil
}

// MustView is NewView for callers that already validated the sizes. It panics
// on error.
func MustView(data []byte, f Format, n int) View {
	v, err := NewView(data, f, n)
	if err != nil {
		panic("sample: " + err.Error())
	}
	return v
}

// Len returns the number of samples in the view.
func (v View) Len() int { return v.n }

// Format returns the encoding of the viewed samples.
func (v View) Format() Format { return v.format }

// Bytes returns the underlying bytes.
func (v View) Bytes() []byte { return v.data }

// At decodes sample i.
func (v View) At(i int) float64 {
	return Decode(v.data[i*v.size:], v.format)
}

// Set encodes x into sample i.
func (v View) Set(i int, x float64) {
	Encode(v.data[i*v.size:], x, v.format)
}

func (v View) UInt8(i int) uint8 { return v.data[i] }

func (v View) SetUInt8(i int, x uint8) { v.data[i] = x }

func (v View) Int16(i int) int16 {
	return int16(binary.LittleEndian.Uint16(v.data[i*2:]))
}

func (v View) SetInt16(i int, x int16) {
	binary.LittleEndian.PutUint16(v.data[i*2:], uint16(x))
}

// Int24 returns the three packed bytes of sample i.
func (v View) Int24(i int) []byte {
	return v.data[i*3 : i*3+3 : i*3+3]
}

func (v View) SetInt24(i int, b0, b1, b2 byte) {
	off := i * 3
	v.data[off] = b0
	v.data[off+1] = b1
	v.data[off+2] = b2
}

func (v View) Int32(i int) int32 {
	return int32(binary.LittleEndian.Uint32(v.data[i*4:]))
}

func (v View) SetInt32(i int, x int32) {
	binary.LittleEndian.PutUint32(v.data[i*4:], uint32(x))
}

func (v View) Float32(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(v.data[i*4:]))
}

func (v View) SetFloat32(i int, x float32) {
	binary.LittleEndian.PutUint32(v.data[i*4:], math.Float32bits(x))
}
