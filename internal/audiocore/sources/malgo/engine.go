// Package malgo provides a malgo-based host audio backend. Streams map to
// one capture, playback or duplex device each.
package malgo

import (
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/xtmix/internal/audiocore/engine"
	"github.com/tphakala/xtmix/internal/errors"
	"github.com/tphakala/xtmix/internal/logging"
)

// DefaultBufferSize is the period length in milliseconds used when the
// stream parameters leave it unset.
const DefaultBufferSize = 10.0

// DefaultPeriods is the number of periods the device buffer holds.
const DefaultPeriods = 3

// Engine implements engine.Engine on top of a malgo context.
type Engine struct {
	ctx     *malgo.AllocatedContext
	backend malgo.Backend
	periods uint32
	log     *slog.Logger

	mu      sync.Mutex
	streams map[*Stream]struct{}
	closed  bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithBackend overrides the platform default backend.
func WithBackend(b malgo.Backend) Option {
	return func(e *Engine) { e.backend = b }
}

// WithPeriods sets how many periods the device buffer holds.
func WithPeriods(n uint32) Option {
	return func(e *Engine) {
		if n > 0 {
			e.periods = n
		}
	}
}

// New initializes a malgo context for the selected backend.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		backend: platformBackend(),
		periods: DefaultPeriods,
		log:     logging.ForService("malgo"),
		streams: make(map[*Stream]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	ctx, err := malgo.InitContext([]malgo.Backend{e.backend}, malgo.ContextConfig{}, func(message string) {
		e.log.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, errors.New(err).
			Component("malgo").
			Category(errors.CategoryAudioSource).
			Context("operation", "init_context").
			Context("backend", systemOf(e.backend).String()).
			Build()
	}
	e.ctx = ctx
	return e, nil
}

func (e *Engine) System() engine.System { return systemOf(e.backend) }

// Devices lists capture and playback devices.
func (e *Engine) Devices() ([]AudioDeviceInfo, error) {
	capture, err := e.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, e.enumerateError(err, "capture")
	}
	playback, err := e.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, e.enumerateError(err, "playback")
	}
	return append(describe(capture, "capture"), describe(playback, "playback")...), nil
}

func (e *Engine) enumerateError(err error, kind string) error {
	return errors.New(err).
		Component("malgo").
		Category(errors.CategoryAudioSource).
		Context("operation", "enumerate_devices").
		Context("kind", kind).
		Build()
}

// OpenStream initializes a device for params. Device selection follows
// SelectDevice; "default" leaves the choice to the backend.
func (e *Engine) OpenStream(params engine.StreamParams, handle engine.Handle, user uintptr, cb engine.Callbacks) (engine.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, e.fault(engine.CauseGeneric, -1, "engine closed")
	}
	if err := params.Format.Validate(); err != nil {
		return nil, e.fault(engine.CauseFormat, -1, err.Error())
	}

	kind := deviceType(params.Format.Channels)
	frames := periodFrames(params.Format.Mix.Rate, params.BufferSize)

	config := malgo.DefaultDeviceConfig(kind)
	config.SampleRate = uint32(params.Format.Mix.Rate)
	config.PeriodSizeInFrames = frames
	config.Periods = e.periods
	config.Alsa.NoMMap = 1
	config.Capture.Format = formatType(params.Format.Mix.Sample)
	config.Capture.Channels = uint32(params.Format.Channels.Inputs)
	config.Playback.Format = formatType(params.Format.Mix.Sample)
	config.Playback.Channels = uint32(params.Format.Channels.Outputs)

	if !isDefaultName(params.Device) {
		if params.Format.Channels.Inputs > 0 {
			info, err := e.find(malgo.Capture, params.Device)
			if err != nil {
				return nil, err
			}
			config.Capture.DeviceID = info.ID.Pointer()
		}
		if params.Format.Channels.Outputs > 0 {
			info, err := e.find(malgo.Playback, params.Device)
			if err != nil {
				return nil, err
			}
			config.Playback.DeviceID = info.ID.Pointer()
		}
	}

	s := newStream(e, params, int(frames), handle, user, cb)
	device, err := malgo.InitDevice(e.ctx.Context, config, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		return nil, e.fault(engine.CauseEndpoint, -1, err.Error())
	}
	s.device = device

	if kind != malgo.Playback {
		if f, ok := sampleFormat(device.CaptureFormat()); !ok || f != params.Format.Mix.Sample {
			device.Uninit()
			return nil, e.fault(engine.CauseFormat, -1, "capture format not supported by device")
		}
	}
	if uint32(params.Format.Mix.Rate) != device.SampleRate() {
		device.Uninit()
		return nil, e.fault(engine.CauseFormat, -1, "sample rate not supported by device")
	}

	e.streams[s] = struct{}{}
	e.log.Info("malgo stream opened",
		"device", params.Device,
		"format", params.Format.String(),
		"frames", frames,
		"periods", e.periods)
	return s, nil
}

func (e *Engine) find(kind malgo.DeviceType, name string) (*malgo.DeviceInfo, error) {
	infos, err := e.ctx.Devices(kind)
	if err != nil {
		label := "capture"
		if kind == malgo.Playback {
			label = "playback"
		}
		return nil, e.enumerateError(err, label)
	}
	return SelectDevice(infos, name)
}

func (e *Engine) fault(cause engine.Cause, code int32, text string) *engine.Error {
	return &engine.Error{System: e.System(), Cause: cause, Fault: code, Text: text}
}

func (e *Engine) forget(s *Stream) {
	e.mu.Lock()
	delete(e.streams, s)
	e.mu.Unlock()
}

// Close destroys remaining streams and releases the context.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	streams := make([]*Stream, 0, len(e.streams))
	for s := range e.streams {
		streams = append(streams, s)
	}
	e.mu.Unlock()

	for _, s := range streams {
		s.Destroy()
	}
	err := e.ctx.Uninit()
	e.ctx.Free()
	if err != nil {
		return errors.New(err).
			Component("malgo").
			Category(errors.CategoryAudioSource).
			Context("operation", "uninit_context").
			Build()
	}
	return nil
}

var _ engine.Engine = (*Engine)(nil)
