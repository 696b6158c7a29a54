package malgo

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/xtmix/internal/audiocore/engine"
)

// faultStopped is reported when the device stops without a Stop call.
const faultStopped = -2

// Stream is one malgo device driven as an engine.Stream.
type Stream struct {
	engine *Engine
	device *malgo.Device

	format      engine.Format
	interleaved bool
	frames      int
	size        int

	handle engine.Handle
	user   uintptr
	cb     engine.Callbacks

	// Planar scratch and the views handed to the callback. Views are
	// resliced per chunk so the data path does not allocate.
	inPlanes  engine.Region
	outPlanes engine.Region
	inView    engine.Region
	outView   engine.Region
	buf       engine.Buffer

	position uint64
	epoch    atomic.Int64
	running  atomic.Bool
	stopping atomic.Bool

	mu        sync.Mutex
	destroyed bool
}

func newStream(e *Engine, params engine.StreamParams, frames int, handle engine.Handle, user uintptr, cb engine.Callbacks) *Stream {
	s := &Stream{
		engine:      e,
		format:      params.Format,
		interleaved: params.Interleaved,
		frames:      frames,
		size:        params.Format.Mix.Sample.Size(),
		handle:      handle,
		user:        user,
		cb:          cb,
	}
	in := int(params.Format.Channels.Inputs)
	out := int(params.Format.Channels.Outputs)
	if params.Interleaved {
		if in > 0 {
			s.inView = make(engine.Region, 1)
		}
		if out > 0 {
			s.outView = make(engine.Region, 1)
		}
		return s
	}
	s.inPlanes = engine.NewRegion(params.Format.Mix.Sample, in, frames, false)
	s.outPlanes = engine.NewRegion(params.Format.Mix.Sample, out, frames, false)
	if in > 0 {
		s.inView = make(engine.Region, in)
	}
	if out > 0 {
		s.outView = make(engine.Region, out)
	}
	return s
}

func (s *Stream) Format() engine.Format { return s.format }
func (s *Stream) Running() bool         { return s.running.Load() }

// Frames reports the period size requested from the device.
func (s *Stream) Frames() (int32, error) { return int32(s.frames), nil }

// Latency is the device buffer length for each present direction.
func (s *Stream) Latency() (engine.Latency, error) {
	ms := float64(s.frames) * float64(s.engine.periods) * 1000 / float64(s.format.Mix.Rate)
	var l engine.Latency
	if s.format.Channels.Inputs > 0 {
		l.Input = ms
	}
	if s.format.Channels.Outputs > 0 {
		l.Output = ms
	}
	return l, nil
}

func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return s.engine.fault(engine.CauseGeneric, -1, "stream destroyed")
	}
	if s.running.Load() {
		return nil
	}
	s.position = 0
	s.epoch.Store(time.Now().UnixNano())
	s.stopping.Store(false)
	s.running.Store(true)
	if err := s.device.Start(); err != nil {
		s.running.Store(false)
		return s.engine.fault(engine.CauseService, -1, err.Error())
	}
	return nil
}

func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop()
}

func (s *Stream) stop() error {
	if !s.running.Load() {
		return nil
	}
	s.stopping.Store(true)
	err := s.device.Stop()
	s.running.Store(false)
	if err != nil {
		return s.engine.fault(engine.CauseService, -1, err.Error())
	}
	return nil
}

func (s *Stream) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	_ = s.stop()
	if s.device != nil {
		s.device.Uninit()
	}
	s.mu.Unlock()
	s.engine.forget(s)
}

// onData runs on the malgo device thread. Oversized device periods are
// delivered in chunks of at most s.frames.
func (s *Stream) onData(out, in []byte, count uint32) {
	inFrame := s.format.InputFrameSize()
	outFrame := s.format.OutputFrameSize()
	inputs := int(s.format.Channels.Inputs)
	outputs := int(s.format.Channels.Outputs)

	for done := 0; done < int(count); {
		n := min(int(count)-done, s.frames)

		s.buf.Input = nil
		if inputs > 0 && in != nil {
			src := in[done*inFrame : (done+n)*inFrame]
			if s.interleaved {
				s.inView[0] = src
			} else {
				for ch := range s.inView {
					s.inView[ch] = s.inPlanes[ch][:n*s.size]
				}
				deinterleave(s.inView, src, inputs, n, s.size)
			}
			s.buf.Input = s.inView
		}

		s.buf.Output = nil
		var dst []byte
		if outputs > 0 && out != nil {
			dst = out[done*outFrame : (done+n)*outFrame]
			if s.interleaved {
				s.outView[0] = dst
			} else {
				for ch := range s.outView {
					s.outView[ch] = s.outPlanes[ch][:n*s.size]
					clear(s.outView[ch])
				}
			}
			s.buf.Output = s.outView
		}

		s.buf.Frames = int32(n)
		s.buf.Position = s.position
		s.buf.Error = 0
		s.buf.Time = float64(time.Now().UnixNano()-s.epoch.Load()) / 1e9
		s.buf.TimeValid = true
		s.cb.OnBuffer(s.handle, &s.buf, s.user)

		if dst != nil && !s.interleaved {
			interleave(dst, s.outView, outputs, n, s.size)
		}
		s.position += uint64(n)
		done += n
	}
}

// onStop delivers a fault period when the backend stops the device on its
// own, for example after the endpoint was unplugged.
func (s *Stream) onStop() {
	if s.stopping.Load() {
		return
	}
	s.running.Store(false)
	s.buf = engine.Buffer{
		Position: s.position,
		Error: engine.ErrorInfo(&engine.Error{
			System: s.engine.System(),
			Cause:  engine.CauseEndpoint,
			Fault:  faultStopped,
		}),
	}
	s.cb.OnBuffer(s.handle, &s.buf, s.user)
}

var _ engine.Stream = (*Stream)(nil)
