// Package virtual is a software audio backend. Streams are driven either by
// explicit Step calls or by a clock goroutine pacing periods in real time.
package virtual

import (
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/xtmix/internal/audiocore/engine"
	"github.com/tphakala/xtmix/internal/audiocore/sample"
	"github.com/tphakala/xtmix/internal/logging"
)

// DefaultDevice is always available.
const DefaultDevice = "default"

// DefaultBufferSize is the period length in milliseconds when neither the
// device nor the stream parameters set one.
const DefaultBufferSize = 10.0

// Generator produces the input sample of channel ch at absolute frame
// position.
type Generator func(position uint64, ch int, rate int32) float64

// Sink observes the native output region after each period.
type Sink func(out engine.Region, frames int)

// Sine returns a generator producing the same sine on every channel.
func Sine(freq, amplitude float64) Generator {
	return func(position uint64, _ int, rate int32) float64 {
		return amplitude * math.Sin(2*math.Pi*freq*float64(position)/float64(rate))
	}
}

// DeviceConfig describes a virtual device. A nil Generator yields silence.
type DeviceConfig struct {
	Frames    int32
	Generator Generator
	Sink      Sink
}

// Engine implements engine.Engine in software.
type Engine struct {
	mu      sync.Mutex
	devices map[string]DeviceConfig
	streams map[*Stream]struct{}
	clocked bool
	openErr *engine.Error
	log     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithDevice registers a named device.
func WithDevice(name string, dev DeviceConfig) Option {
	return func(e *Engine) { e.devices[name] = dev }
}

// WithClock paces started streams in real time instead of waiting for Step.
func WithClock(clocked bool) Option {
	return func(e *Engine) { e.clocked = clocked }
}

// WithOpenError makes every OpenStream call fail with err.
func WithOpenError(err *engine.Error) Option {
	return func(e *Engine) { e.openErr = err }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		devices: map[string]DeviceConfig{DefaultDevice: {}},
		streams: make(map[*Stream]struct{}),
		log:     logging.ForService("virtual"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) System() engine.System { return engine.SystemNull }

// Devices lists the registered device names.
func (e *Engine) Devices() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.devices))
	for name := range e.devices {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func fault(cause engine.Cause, code int32, text string) *engine.Error {
	return &engine.Error{System: engine.SystemNull, Cause: cause, Fault: code, Text: text}
}

// OpenStream allocates a stream on the named device.
func (e *Engine) OpenStream(params engine.StreamParams, handle engine.Handle, user uintptr, cb engine.Callbacks) (engine.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.openErr != nil {
		return nil, e.openErr
	}
	device := params.Device
	if device == "" {
		device = DefaultDevice
	}
	dev, ok := e.devices[device]
	if !ok {
		return nil, fault(engine.CauseEndpoint, 1, "unknown device "+device)
	}
	if err := params.Format.Validate(); err != nil {
		return nil, fault(engine.CauseFormat, 2, err.Error())
	}
	if cb.OnBuffer == nil {
		return nil, fault(engine.CauseGeneric, 3, "missing buffer callback")
	}

	frames := dev.Frames
	if frames <= 0 {
		ms := params.BufferSize
		if ms <= 0 {
			ms = DefaultBufferSize
		}
		frames = max(int32(math.Round(float64(params.Format.Mix.Rate)*ms/1000)), 1)
	}

	s := &Stream{
		engine:      e,
		device:      device,
		format:      params.Format,
		interleaved: params.Interleaved,
		frames:      frames,
		handle:      handle,
		user:        user,
		callbacks:   cb,
		generator:   dev.Generator,
		sink:        dev.Sink,
		clocked:     e.clocked,
	}
	f := params.Format.Mix.Sample
	s.input = engine.NewRegion(f, int(params.Format.Channels.Inputs), int(frames), params.Interleaved)
	s.output = engine.NewRegion(f, int(params.Format.Channels.Outputs), int(frames), params.Interleaved)
	e.streams[s] = struct{}{}

	e.log.Debug("virtual stream opened", "device", device, "format", params.Format.String(), "frames", frames)
	return s, nil
}

// Close destroys every stream still open.
func (e *Engine) Close() error {
	e.mu.Lock()
	streams := make([]*Stream, 0, len(e.streams))
	for s := range e.streams {
		streams = append(streams, s)
	}
	e.mu.Unlock()

	for _, s := range streams {
		s.Destroy()
	}
	return nil
}

func (e *Engine) forget(s *Stream) {
	e.mu.Lock()
	delete(e.streams, s)
	e.mu.Unlock()
}

// Stream is a virtual native stream.
type Stream struct {
	engine      *Engine
	device      string
	format      engine.Format
	interleaved bool
	frames      int32
	handle      engine.Handle
	user        uintptr
	callbacks   engine.Callbacks
	generator   Generator
	sink        Sink
	clocked     bool

	input    engine.Region
	output   engine.Region
	buf      engine.Buffer
	position uint64

	pendingErr  atomic.Uint64
	pendingXRun atomic.Bool
	xrunIndex   atomic.Int32

	mu        sync.Mutex
	running   bool
	destroyed bool
	stop      chan struct{}
	done      chan struct{}
}

func (s *Stream) Format() engine.Format { return s.format }
func (s *Stream) Device() string        { return s.device }

func (s *Stream) Frames() (int32, error) { return s.frames, nil }

func (s *Stream) Latency() (engine.Latency, error) {
	period := float64(s.frames) * 1000 / float64(s.format.Mix.Rate)
	var l engine.Latency
	if s.format.Channels.Inputs > 0 {
		l.Input = period
	}
	if s.format.Channels.Outputs > 0 {
		l.Output = period
	}
	return l, nil
}

// Running reports whether the stream is started.
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return fault(engine.CauseGeneric, 4, "stream destroyed")
	}
	if s.running {
		return nil
	}
	s.running = true
	if s.clocked {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.run(s.stop, s.done)
	}
	return nil
}

func (s *Stream) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func (s *Stream) Destroy() {
	_ = s.Stop()
	s.mu.Lock()
	already := s.destroyed
	s.destroyed = true
	s.mu.Unlock()
	if !already {
		s.engine.forget(s)
	}
}

// InjectError makes the next period carry err instead of data.
func (s *Stream) InjectError(err *engine.Error) {
	s.pendingErr.Store(engine.ErrorInfo(err))
}

// InjectXRun reports an xrun with index before the next period.
func (s *Stream) InjectXRun(index int32) {
	s.xrunIndex.Store(index)
	s.pendingXRun.Store(true)
}

// Step delivers one period synchronously. It fails on clocked or stopped
// streams.
func (s *Stream) Step() error {
	s.mu.Lock()
	running, clocked := s.running, s.clocked
	s.mu.Unlock()

	if clocked {
		return fault(engine.CauseGeneric, 5, "clocked stream cannot be stepped")
	}
	if !running {
		return fault(engine.CauseGeneric, 6, "stream not running")
	}
	s.period()
	return nil
}

func (s *Stream) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := time.Duration(float64(s.frames) / float64(s.format.Mix.Rate) * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.period()
		}
	}
}

func (s *Stream) period() {
	if s.pendingXRun.Swap(false) && s.callbacks.OnXRun != nil {
		s.callbacks.OnXRun(s.xrunIndex.Load(), s.user)
	}

	n := int(s.frames)
	rate := s.format.Mix.Rate
	b := &s.buf
	*b = engine.Buffer{
		Frames:    s.frames,
		Position:  s.position,
		Time:      float64(s.position) / float64(rate),
		TimeValid: true,
	}

	if code := s.pendingErr.Swap(0); code != 0 {
		b.Error = code
		s.callbacks.OnBuffer(s.handle, b, s.user)
		return
	}

	if s.input != nil {
		s.fill(n)
		b.Input = s.input
	}
	if s.output != nil {
		for _, plane := range s.output {
			clear(plane)
		}
		b.Output = s.output
	}

	s.callbacks.OnBuffer(s.handle, b, s.user)

	if s.sink != nil && s.output != nil {
		s.sink(s.output, n)
	}
	s.position += uint64(n)
}

func (s *Stream) fill(n int) {
	f := s.format.Mix.Sample
	size := f.Size()
	channels := int(s.format.Channels.Inputs)
	rate := s.format.Mix.Rate
	for frame := 0; frame < n; frame++ {
		for ch := 0; ch < channels; ch++ {
			var v float64
			if s.generator != nil {
				v = s.generator(s.position+uint64(frame), ch, rate)
			}
			if s.interleaved {
				off := (frame*channels + ch) * size
				sample.Encode(s.input[0][off:off+size], v, f)
			} else {
				off := frame * size
				sample.Encode(s.input[ch][off:off+size], v, f)
			}
		}
	}
}
