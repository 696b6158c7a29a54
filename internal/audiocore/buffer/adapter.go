package buffer

import (
	"github.com/tphakala/xtmix/internal/audiocore/engine"
)

// Adapter moves one stream's periods between native regions and consumer
// buffers. It belongs to a single stream and is only used from that
// stream's callback thread.
type Adapter struct {
	format      engine.Format
	capacity    int
	interleaved bool
	raw         bool

	input  *Adapted
	output *Adapted

	rawInput  *Raw
	rawOutput *Raw
}

// NewAdapter allocates everything a stream needs for periods of up to frames
// frames. In raw mode no sample storage is allocated.
func NewAdapter(format engine.Format, frames int, interleaved, raw bool) *Adapter {
	a := &Adapter{
		format:      format,
		capacity:    frames,
		interleaved: interleaved,
		raw:         raw,
	}
	ins, outs := int(format.Channels.Inputs), int(format.Channels.Outputs)
	f := format.Mix.Sample
	if raw {
		if ins > 0 {
			a.rawInput = newRaw(f, ins, interleaved)
		}
		if outs > 0 {
			a.rawOutput = newRaw(f, outs, interleaved)
		}
		return a
	}
	if ins > 0 {
		a.input = NewAdapted(f, ins, frames, interleaved)
	}
	if outs > 0 {
		a.output = NewAdapted(f, outs, frames, interleaved)
	}
	return a
}

func (a *Adapter) Format() engine.Format { return a.format }
func (a *Adapter) Capacity() int         { return a.capacity }
func (a *Adapter) Interleaved() bool     { return a.interleaved }
func (a *Adapter) Raw() bool             { return a.raw }

func (a *Adapter) checkFrames(buf *engine.Buffer) int {
	n := int(buf.Frames)
	if n < 0 || n > a.capacity {
		panic("buffer: period frame count exceeds adapter capacity")
	}
	return n
}

// Lock makes the input of buf visible to the consumer. It returns nil when
// the stream has no input or the period carries none. In managed mode the
// native samples are copied into owned storage.
func (a *Adapter) Lock(buf *engine.Buffer) Samples {
	n := a.checkFrames(buf)
	if buf.Input == nil || a.format.Channels.Inputs == 0 {
		return nil
	}
	if a.raw {
		a.rawInput.bind(buf.Input, n)
		return a.rawInput
	}

	in := a.input
	in.setFrames(n)
	if a.interleaved {
		in.load(0, buf.Input[0], n*in.channels)
		return in
	}
	if len(buf.Input) < in.channels {
		panic("buffer: native input has fewer planes than channels")
	}
	for ch := 0; ch < in.channels; ch++ {
		in.load(ch, buf.Input[ch], n)
	}
	return in
}

// Output returns the buffer the consumer writes the period's output into,
// or nil when there is no output.
func (a *Adapter) Output(buf *engine.Buffer) Samples {
	n := a.checkFrames(buf)
	if buf.Output == nil || a.format.Channels.Outputs == 0 {
		return nil
	}
	if a.raw {
		a.rawOutput.bind(buf.Output, n)
		return a.rawOutput
	}
	a.output.setFrames(n)
	return a.output
}

// Unlock writes the consumer's output back to the native region. Raw mode
// has nothing to copy.
func (a *Adapter) Unlock(buf *engine.Buffer) {
	if buf.Output == nil || a.format.Channels.Outputs == 0 || a.raw {
		return
	}
	n := a.checkFrames(buf)

	out := a.output
	if a.interleaved {
		out.store(0, buf.Output[0], n*out.channels)
		return
	}
	if len(buf.Output) < out.channels {
		panic("buffer: native output has fewer planes than channels")
	}
	for ch := 0; ch < out.channels; ch++ {
		out.store(ch, buf.Output[ch], n)
	}
}
