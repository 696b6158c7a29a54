package sample

import (
	"encoding/binary"
	"math"
)

// All native samples are little-endian.

// DecodeUInt8 maps an unsigned byte onto [-1, 1].
func DecodeUInt8(raw uint8) float64 {
	return float64(raw)*2.0/math.MaxUint8 - 1.0
}

// EncodeUInt8 is the inverse of DecodeUInt8. Values outside [-1, 1] wrap.
func EncodeUInt8(v float64) uint8 {
	return uint8(int64(math.Round((v + 1.0) * 0.5 * math.MaxUint8)))
}

// DecodeInt16 scales a signed 16 bit sample by 1/32767.
func DecodeInt16(raw int16) float64 {
	return float64(raw) / math.MaxInt16
}

// EncodeInt16 rounds v*32767 to the nearest integer. Out of range values wrap
// instead of clamping.
func EncodeInt16(v float64) int16 {
	return int16(int64(math.Round(v * math.MaxInt16)))
}

// DecodeInt32 scales a signed 32 bit sample by 1/MaxInt32.
func DecodeInt32(raw int32) float64 {
	return float64(raw) / math.MaxInt32
}

// EncodeInt32 rounds v*MaxInt32 to the nearest integer. Out of range values
// wrap instead of clamping.
func EncodeInt32(v float64) int32 {
	return int32(int64(math.Round(v * math.MaxInt32)))
}

// PackInt24 stores the upper three bytes of a 32 bit word. The low byte is
// dropped.
func PackInt24(dst []byte, word int32) {
	_ = dst[2]
	dst[0] = byte(word >> 8)
	dst[1] = byte(word >> 16)
	dst[2] = byte(word >> 24)
}

// UnpackInt24 rebuilds the 32 bit word from three packed bytes with a zero
// low byte.
func UnpackInt24(src []byte) int32 {
	_ = src[2]
	return int32(uint32(src[0])<<8 | uint32(src[1])<<16 | uint32(src[2])<<24)
}

// DecodeInt24 decodes three packed bytes.
func DecodeInt24(src []byte) float64 {
	return DecodeInt32(UnpackInt24(src))
}

// EncodeInt24 packs v as a 32 bit sample truncated to its upper three bytes.
func EncodeInt24(dst []byte, v float64) {
	PackInt24(dst, EncodeInt32(v))
}

// Decode reads one sample of format f from the start of b.
func Decode(b []byte, f Format) float64 {
	switch f {
	case UInt8:
		return DecodeUInt8(b[0])
	case Int16:
		return DecodeInt16(int16(binary.LittleEndian.Uint16(b)))
	case Int24:
		return DecodeInt24(b)
	case Int32:
		return DecodeInt32(int32(binary.LittleEndian.Uint32(b)))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	default:
		mustValid(f)
		return 0
	}
}

// Encode writes v as one sample of format f to the start of dst.
func Encode(dst []byte, v float64, f Format) {
	switch f {
	case UInt8:
		dst[0] = EncodeUInt8(v)
	case Int16:
		binary.LittleEndian.PutUint16(dst, uint16(EncodeInt16(v)))
	case Int24:
		EncodeInt24(dst, v)
	case Int32:
		binary.LittleEndian.PutUint32(dst, uint32(EncodeInt32(v)))
	case Float32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
	default:
		mustValid(f)
	}
}

// Step returns the width of one quantization step of f in normalized units.
// It is the tolerance of an encode/decode round trip.
func Step(f Format) float64 {
	switch f {
	case UInt8:
		return 2.0 / math.MaxUint8
	case Int16:
		return 1.0 / math.MaxInt16
	case Int24:
		return 256.0 / math.MaxInt32
	case Int32:
		return 1.0 / math.MaxInt32
	case Float32:
		return 0
	default:
		mustValid(f)
		return 0
	}
}
