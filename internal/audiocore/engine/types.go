// Package engine defines the boundary between host audio backends and the
// stream layer: the negotiated format, the per-period native buffer, and the
// callback surface a backend drives.
package engine

import (
	"fmt"
	"math/bits"

	"github.com/tphakala/xtmix/internal/audiocore/sample"
)

// Mix is the rate and sample encoding shared by all channels of a stream.
type Mix struct {
	Rate   int32
	Sample sample.Format
}

// Channels holds the negotiated channel counts. A zero mask means the
// backend picks the channel positions.
type Channels struct {
	Inputs  int32
	InMask  uint64
	Outputs int32
	OutMask uint64
}

// Validate checks that counts are non-negative and agree with the masks.
func (c Channels) Validate() error {
	if c.Inputs < 0 || c.Outputs < 0 {
		return fmt.Errorf("negative channel count: inputs=%d outputs=%d", c.Inputs, c.Outputs)
	}
	if c.InMask != 0 && bits.OnesCount64(c.InMask) != int(c.Inputs) {
		return fmt.Errorf("input mask %#x selects %d channels, expected %d", c.InMask, bits.OnesCount64(c.InMask), c.Inputs)
	}
	if c.OutMask != 0 && bits.OnesCount64(c.OutMask) != int(c.Outputs) {
		return fmt.Errorf("output mask %#x selects %d channels, expected %d", c.OutMask, bits.OnesCount64(c.OutMask), c.Outputs)
	}
	return nil
}

// Format is fixed for the lifetime of a stream.
type Format struct {
	Mix      Mix
	Channels Channels
}

// Validate reports whether the format can back a stream.
func (f Format) Validate() error {
	if !f.Mix.Sample.Valid() {
		return fmt.Errorf("unknown sample format %d", int32(f.Mix.Sample))
	}
	if f.Mix.Rate <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.Mix.Rate)
	}
	if f.Channels.Inputs == 0 && f.Channels.Outputs == 0 {
		return fmt.Errorf("stream has neither inputs nor outputs")
	}
	return f.Channels.Validate()
}

// InputFrameSize is the byte width of one interleaved input frame.
func (f Format) InputFrameSize() int {
	return int(f.Channels.Inputs) * f.Mix.Sample.Size()
}

// OutputFrameSize is the byte width of one interleaved output frame.
func (f Format) OutputFrameSize() int {
	return int(f.Channels.Outputs) * f.Mix.Sample.Size()
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz %s in=%d out=%d", f.Mix.Rate, f.Mix.Sample, f.Channels.Inputs, f.Channels.Outputs)
}

// Region is the native memory of one direction for one period. Interleaved
// data is a single plane; non-interleaved data has one plane per channel. A
// nil Region means the direction is absent.
type Region [][]byte

// Buffer is one period as delivered by a backend. It is only valid for the
// duration of the callback it is passed to.
type Buffer struct {
	Input     Region
	Output    Region
	Time      float64
	Position  uint64
	Error     uint64
	Frames    int32
	TimeValid bool
}

// NewRegion allocates native memory for channels × frames samples of f.
func NewRegion(f sample.Format, channels, frames int, interleaved bool) Region {
	if channels <= 0 {
		return nil
	}
	size := f.Size()
	if interleaved {
		return Region{make([]byte, channels*frames*size)}
	}
	planes := make(Region, channels)
	for i := range planes {
		planes[i] = make([]byte, frames*size)
	}
	return planes
}

// Latency is expressed in milliseconds.
type Latency struct {
	Input  float64
	Output float64
}

// Handle is the opaque token a backend passes back on every buffer callback.
type Handle uint64

// BufferFunc receives one period. It runs on the backend's realtime thread.
type BufferFunc func(stream Handle, buf *Buffer, user uintptr)

// XRunFunc reports an overrun or underrun. Index is -1 when the failing
// device is not known.
type XRunFunc func(index int32, user uintptr)

// Callbacks is the pair of entry points a stream is opened with.
type Callbacks struct {
	OnBuffer BufferFunc
	OnXRun   XRunFunc
}

// StreamParams describes the native stream to open.
type StreamParams struct {
	Device      string
	Format      Format
	Interleaved bool
	// BufferSize is the requested period length in milliseconds. Zero lets the
	// backend decide.
	BufferSize float64
}

// Stream is the control surface of an open native stream. Control methods
// are called from non-realtime goroutines only.
type Stream interface {
	Start() error
	Stop() error
	Destroy()
	Format() Format
	Frames() (int32, error)
	Latency() (Latency, error)
}

// Engine opens native streams.
type Engine interface {
	System() System
	OpenStream(params StreamParams, handle Handle, user uintptr, cb Callbacks) (Stream, error)
	Close() error
}
