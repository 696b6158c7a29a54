// Package buffer adapts native period buffers to consumer-visible sample
// buffers and back.
package buffer

import (
	"github.com/tphakala/xtmix/internal/audiocore/sample"
)

// Samples is the consumer view of one direction of a period.
type Samples interface {
	Format() sample.Format
	Channels() int
	// Frames is the number of valid frames in the current period.
	Frames() int
	Interleaved() bool
	At(frame, ch int) float64
	Set(frame, ch int, v float64)
}

// Adapted is managed storage for one direction. It holds native sample
// values in typed planes: one plane for interleaved layout, one per channel
// otherwise. Storage is allocated once for the worst-case frame count.
type Adapted struct {
	format      sample.Format
	channels    int
	capacity    int
	frames      int
	interleaved bool

	u8  [][]uint8
	i16 [][]int16
	i24 [][]byte
	i32 [][]int32
	f32 [][]float32
}

// NewAdapted allocates storage for channels × capacity samples of f.
func NewAdapted(f sample.Format, channels, capacity int, interleaved bool) *Adapted {
	attr := f.Attributes()
	planes, perPlane := channels, capacity*attr.Count
	if interleaved {
		planes, perPlane = 1, channels*capacity*attr.Count
	}

	a := &Adapted{
		format:      f,
		channels:    channels,
		capacity:    capacity,
		interleaved: interleaved,
	}
	switch f {
	case sample.UInt8:
		a.u8 = makePlanes[uint8](planes, perPlane)
	case sample.Int16:
		a.i16 = makePlanes[int16](planes, perPlane)
	case sample.Int24:
		a.i24 = makePlanes[byte](planes, perPlane)
	case sample.Int32:
		a.i32 = makePlanes[int32](planes, perPlane)
	case sample.Float32:
		a.f32 = makePlanes[float32](planes, perPlane)
	}
	return a
}

func makePlanes[T any](planes, n int) [][]T {
	out := make([][]T, planes)
	for i := range out {
		out[i] = make([]T, n)
	}
	return out
}

func (a *Adapted) Format() sample.Format { return a.format }
func (a *Adapted) Channels() int         { return a.channels }
func (a *Adapted) Frames() int           { return a.frames }
func (a *Adapted) Interleaved() bool     { return a.interleaved }

// Capacity is the largest frame count the storage can hold.
func (a *Adapted) Capacity() int { return a.capacity }

// Planes returns the number of storage planes.
func (a *Adapted) Planes() int {
	if a.interleaved {
		return 1
	}
	return a.channels
}

func (a *Adapted) setFrames(n int) {
	if n < 0 || n > a.capacity {
		panic("buffer: frame count exceeds adapted capacity")
	}
	a.frames = n
}

func (a *Adapted) locate(frame, ch int) (plane, index int) {
	if a.interleaved {
		return 0, frame*a.channels + ch
	}
	return ch, frame
}

// At returns the normalized value of one sample.
func (a *Adapted) At(frame, ch int) float64 {
	p, i := a.locate(frame, ch)
	switch a.format {
	case sample.UInt8:
		return sample.DecodeUInt8(a.u8[p][i])
	case sample.Int16:
		return sample.DecodeInt16(a.i16[p][i])
	case sample.Int24:
		return sample.DecodeInt24(a.i24[p][i*3:])
	case sample.Int32:
		return sample.DecodeInt32(a.i32[p][i])
	default:
		return float64(a.f32[p][i])
	}
}

// Set stores a normalized value into one sample.
func (a *Adapted) Set(frame, ch int, v float64) {
	p, i := a.locate(frame, ch)
	switch a.format {
	case sample.UInt8:
		a.u8[p][i] = sample.EncodeUInt8(v)
	case sample.Int16:
		a.i16[p][i] = sample.EncodeInt16(v)
	case sample.Int24:
		sample.EncodeInt24(a.i24[p][i*3:], v)
	case sample.Int32:
		a.i32[p][i] = sample.EncodeInt32(v)
	default:
		a.f32[p][i] = float32(v)
	}
}

// UInt8Plane returns plane p when the storage holds UInt8 samples.
func (a *Adapted) UInt8Plane(p int) []uint8 {
	if a.u8 == nil {
		return nil
	}
	return a.u8[p]
}

func (a *Adapted) Int16Plane(p int) []int16 {
	if a.i16 == nil {
		return nil
	}
	return a.i16[p]
}

// Int24Plane returns packed triplets, three bytes per sample.
func (a *Adapted) Int24Plane(p int) []byte {
	if a.i24 == nil {
		return nil
	}
	return a.i24[p]
}

func (a *Adapted) Int32Plane(p int) []int32 {
	if a.i32 == nil {
		return nil
	}
	return a.i32[p]
}

func (a *Adapted) Float32Plane(p int) []float32 {
	if a.f32 == nil {
		return nil
	}
	return a.f32[p]
}

// load copies n native samples from src into plane p.
func (a *Adapted) load(p int, src []byte, n int) {
	v := sample.MustView(src, a.format, n)
	switch a.format {
	case sample.UInt8:
		copy(a.u8[p][:n], v.Bytes())
	case sample.Int16:
		dst := a.i16[p][:n]
		for i := range dst {
			dst[i] = v.Int16(i)
		}
	case sample.Int24:
		copy(a.i24[p][:n*3], v.Bytes())
	case sample.Int32:
		dst := a.i32[p][:n]
		for i := range dst {
			dst[i] = v.Int32(i)
		}
	case sample.Float32:
		dst := a.f32[p][:n]
		for i := range dst {
			dst[i] = v.Float32(i)
		}
	}
}

// store copies n samples of plane p into dst as native bytes.
func (a *Adapted) store(p int, dst []byte, n int) {
	v := sample.MustView(dst, a.format, n)
	switch a.format {
	case sample.UInt8:
		copy(v.Bytes(), a.u8[p][:n])
	case sample.Int16:
		for i, x := range a.i16[p][:n] {
			v.SetInt16(i, x)
		}
	case sample.Int24:
		copy(v.Bytes(), a.i24[p][:n*3])
	case sample.Int32:
		for i, x := range a.i32[p][:n] {
			v.SetInt32(i, x)
		}
	case sample.Float32:
		for i, x := range a.f32[p][:n] {
			v.SetFloat32(i, x)
		}
	}
}
