// Package mixer sums every input channel of a period into a mono bus,
// limits it with a persistent gain and broadcasts it to every output.
package mixer

import (
	"math"
	"sync/atomic"

	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/tphakala/xtmix/internal/audiocore/buffer"
	"github.com/tphakala/xtmix/internal/audiocore/stream"
	"github.com/tphakala/xtmix/internal/observability/metrics"
)

// Mixer is the bus consumer of an aggregate stream. Mix and the Handler
// methods run on the callback thread; Attenuation and XRuns may be read
// from anywhere.
//
// The gain only ever shrinks. A frame whose magnitude exceeds the bus
// headroom lowers it for the rest of the stream's life.
type Mixer struct {
	accumulator []float64
	envelope    []float64
	attenuation float64

	gain    atomic.Uint64
	xruns   atomic.Int64
	metrics *metrics.StreamRecorder
}

// Option configures a Mixer.
type Option func(*Mixer)

// WithRecorder reports attenuation and clip events to r.
func WithRecorder(r *metrics.StreamRecorder) Option {
	return func(m *Mixer) { m.metrics = r }
}

// New allocates a mixer for periods of up to maxFrames frames.
func New(maxFrames int, opts ...Option) *Mixer {
	m := &Mixer{
		accumulator: make([]float64, maxFrames),
		envelope:    make([]float64, maxFrames),
		attenuation: 1,
	}
	m.gain.Store(math.Float64bits(1))
	for _, opt := range opts {
		opt(m)
	}
	m.metrics.SetAttenuation(1)
	return m
}

// Capacity returns the largest period Mix accepts.
func (m *Mixer) Capacity() int { return len(m.accumulator) }

// Attenuation returns the current bus gain.
func (m *Mixer) Attenuation() float64 {
	return math.Float64frombits(m.gain.Load())
}

// XRuns returns how many xruns were reported to the mixer.
func (m *Mixer) XRuns() int64 { return m.xruns.Load() }

// Mix processes one period. Either side may be nil. It panics when frames
// exceeds Capacity.
func (m *Mixer) Mix(in, out buffer.Samples, frames int) {
	if frames > len(m.accumulator) {
		panic("mixer: period frame count exceeds capacity")
	}
	acc := m.accumulator[:frames]
	env := m.envelope[:frames]
	clear(acc)

	if in != nil {
		channels := in.Channels()
		for f := range acc {
			var sum float64
			for ch := 0; ch < channels; ch++ {
				sum += in.At(f, ch)
			}
			acc[f] = sum
		}
	}

	clipped := 0
	for f, v := range acc {
		a := math.Abs(v)
		switch {
		case a == 0:
		case math.IsInf(a, 0) || math.IsNaN(a):
			acc[f] = 0
		default:
			if g := 1 / a; g < m.attenuation {
				m.attenuation = g
				clipped++
			}
		}
		env[f] = m.attenuation
	}
	vecmath.MulBlockInPlace(acc, env)

	if out != nil {
		channels := out.Channels()
		for f, v := range acc {
			for ch := 0; ch < channels; ch++ {
				out.Set(f, ch, v)
			}
		}
	}

	if clipped > 0 {
		m.gain.Store(math.Float64bits(m.attenuation))
		m.metrics.SetAttenuation(m.attenuation)
		m.metrics.RecordClips(clipped)
	}
}

// OnBuffer implements stream.Handler. A faulted period leaves the bus gain
// untouched and writes silence if there is an output to write.
func (m *Mixer) OnBuffer(p *stream.Period) {
	if p.Error != 0 {
		if p.Output != nil {
			silence(p.Output, p.Frames)
		}
		return
	}
	m.Mix(p.Input, p.Output, p.Frames)
}

// OnXRun implements stream.Handler.
func (m *Mixer) OnXRun(int32) { m.xruns.Add(1) }

func silence(out buffer.Samples, frames int) {
	channels := out.Channels()
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			out.Set(f, ch, 0)
		}
	}
}

var _ stream.Handler = (*Mixer)(nil)
