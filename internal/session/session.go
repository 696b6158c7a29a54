// Package session assembles a running mix from settings: a native or
// aggregate stream, the mixer on its callback path and an optional bus
// recorder copying the mixed output.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/xtmix/internal/audiocore/aggregate"
	"github.com/tphakala/xtmix/internal/audiocore/engine"
	"github.com/tphakala/xtmix/internal/audiocore/export"
	"github.com/tphakala/xtmix/internal/audiocore/mixer"
	"github.com/tphakala/xtmix/internal/audiocore/sources/malgo"
	"github.com/tphakala/xtmix/internal/audiocore/sources/virtual"
	"github.com/tphakala/xtmix/internal/audiocore/stream"
	"github.com/tphakala/xtmix/internal/conf"
	"github.com/tphakala/xtmix/internal/errors"
	"github.com/tphakala/xtmix/internal/logging"
	"github.com/tphakala/xtmix/internal/observability/metrics"
)

// DefaultMonitorInterval is how often Run logs a status snapshot.
const DefaultMonitorInterval = 10 * time.Second

// Backend names accepted in the stream settings.
const (
	BackendVirtual = "virtual"
	BackendMalgo   = "malgo"
)

// control is the part of a stream the session drives.
type control interface {
	Name() string
	Start() error
	Stop() error
	Destroy()
	Frames() (int32, error)
	Latency() (engine.Latency, error)
}

// Status is a snapshot of a running session.
type Status struct {
	Stream      string
	Running     bool
	Attenuation float64
	XRuns       int64
	Latency     engine.Latency
	Recorded    int64
	Dropped     int64
}

// LogValue renders the snapshot as a slog group.
func (s Status) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("stream", s.Stream),
		slog.Bool("running", s.Running),
		slog.Float64("attenuation", s.Attenuation),
		slog.Int64("xruns", s.XRuns),
		slog.Float64("latency_in_ms", s.Latency.Input),
		slog.Float64("latency_out_ms", s.Latency.Output),
		slog.Int64("recorded_bytes", s.Recorded),
		slog.Int64("dropped_bytes", s.Dropped),
	)
}

// route forwards callbacks to the handler chain, which is installed once the
// period size is known and before the stream starts.
type route struct {
	handler stream.Handler
}

func (r *route) OnBuffer(p *stream.Period) { r.handler.OnBuffer(p) }
func (r *route) OnXRun(index int32)        { r.handler.OnXRun(index) }

// Session owns one mixed stream.
type Session struct {
	settings *conf.Settings
	engine   engine.Engine
	metrics  *metrics.StreamMetrics
	interval time.Duration
	log      *slog.Logger

	stream   control
	mixer    *mixer.Mixer
	recorder *export.Recorder
	running  atomic.Bool

	closeOnce sync.Once
}

// Option configures a Session.
type Option func(*Session)

// WithMetrics records stream, mixer and recorder metrics.
func WithMetrics(m *metrics.StreamMetrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithMonitorInterval overrides DefaultMonitorInterval.
func WithMonitorInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewEngine builds the backend named in the stream settings. The virtual
// backend runs clocked, with one sine device per aggregate member.
func NewEngine(settings *conf.Settings) (engine.Engine, error) {
	switch settings.Stream.Backend {
	case BackendVirtual, "":
		opts := []virtual.Option{virtual.WithClock(true)}
		for i, d := range settings.Aggregate.Devices {
			if d.Device == virtual.DefaultDevice {
				continue
			}
			opts = append(opts, virtual.WithDevice(d.Device, virtual.DeviceConfig{
				Generator: virtual.Sine(220*float64(i+1), 0.25),
			}))
		}
		return virtual.New(opts...), nil
	case BackendMalgo:
		return malgo.New()
	default:
		return nil, errors.Newf("unknown backend %q", settings.Stream.Backend).
			Component("session").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// New opens the stream described by settings on e.
func New(settings *conf.Settings, e engine.Engine, opts ...Option) (*Session, error) {
	s := &Session{
		settings: settings,
		engine:   e,
		interval: DefaultMonitorInterval,
		log:      logging.ForService("session"),
	}
	for _, opt := range opts {
		opt(s)
	}

	format, err := settings.Stream.Format()
	if err != nil {
		return nil, errors.New(err).
			Component("session").
			Category(errors.CategoryConfiguration).
			Build()
	}

	r := &route{}
	if len(settings.Aggregate.Devices) > 0 {
		s.stream, err = s.openAggregate(format.Mix, r)
	} else {
		s.stream, err = s.openSingle(format, r)
	}
	if err != nil {
		return nil, err
	}

	frames, err := s.stream.Frames()
	if err != nil {
		s.stream.Destroy()
		return nil, err
	}

	var recorder *metrics.StreamRecorder
	if s.metrics != nil {
		recorder = s.metrics.ForStream(s.stream.Name())
	}
	s.mixer = mixer.New(int(frames), mixer.WithRecorder(recorder))
	r.handler = s.mixer

	if settings.Export.Enabled {
		config := export.ConfigFrom(&settings.Export, s.stream.Name(), format.Mix.Rate)
		s.recorder, err = export.NewRecorder(s.mixer, config, int(frames), export.WithRecorderMetrics(recorder))
		if err != nil {
			s.stream.Destroy()
			return nil, err
		}
		r.handler = s.recorder
	}

	return s, nil
}

func (s *Session) openSingle(format engine.Format, h stream.Handler) (control, error) {
	d := stream.NewDispatcher(stream.WithDefaultMetrics(s.metrics))
	return d.Open(s.engine, engine.StreamParams{
		Device:      s.settings.Stream.Device,
		Format:      format,
		Interleaved: s.settings.Stream.Interleaved,
		BufferSize:  s.settings.Stream.Buffer,
	}, h, stream.WithRaw(s.settings.Stream.Raw))
}

func (s *Session) openAggregate(mix engine.Mix, h stream.Handler) (control, error) {
	devices := make([]aggregate.DeviceParams, len(s.settings.Aggregate.Devices))
	for i, d := range s.settings.Aggregate.Devices {
		buffer := d.Buffer
		if buffer == 0 {
			buffer = s.settings.Stream.Buffer
		}
		devices[i] = aggregate.DeviceParams{Device: d.Device, Channels: d.Channels(), BufferSize: buffer}
	}
	return aggregate.Open(s.engine, aggregate.Params{
		Mix:         mix,
		Interleaved: s.settings.Stream.Interleaved,
		Raw:         s.settings.Stream.Raw,
		Devices:     devices,
		Master:      s.settings.Aggregate.Master,
		RingPeriods: s.settings.Aggregate.RingPeriods,
		Metrics:     s.metrics,
	}, h)
}

// Mixer is the mixer on the callback path.
func (s *Session) Mixer() *mixer.Mixer { return s.mixer }

// Recorder is nil unless export is enabled.
func (s *Session) Recorder() *export.Recorder { return s.recorder }

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	st := Status{
		Stream:      s.stream.Name(),
		Running:     s.running.Load(),
		Attenuation: s.mixer.Attenuation(),
		XRuns:       s.mixer.XRuns(),
	}
	if l, err := s.stream.Latency(); err == nil {
		st.Latency = l
	}
	if s.recorder != nil {
		st.Recorded = s.recorder.Written()
		st.Dropped = s.recorder.Dropped()
	}
	return st
}

// Run starts the stream and blocks until ctx is done, logging a status
// snapshot every monitor interval. The stream is stopped on return but stays
// open until Close.
func (s *Session) Run(ctx context.Context) error {
	if s.recorder != nil {
		if err := s.recorder.Start(ctx); err != nil {
			return err
		}
	}
	if err := s.stream.Start(); err != nil {
		return err
	}
	s.running.Store(true)
	s.log.Info("session started", "status", s.Status())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.running.Store(false)
			err := s.stream.Stop()
			s.log.Info("session stopped", "status", s.Status())
			return err
		case <-ticker.C:
			s.log.Info("session status", "status", s.Status())
		}
	}
}

// Close destroys the stream and finalizes the recording.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stream.Destroy()
		if s.recorder != nil {
			if rerr := s.recorder.Close(); rerr != nil {
				err = fmt.Errorf("finalize recording: %w", rerr)
			}
		}
	})
	return err
}
