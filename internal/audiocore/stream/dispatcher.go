package stream

import (
	"log/slog"

	"github.com/tphakala/xtmix/internal/audiocore/buffer"
	"github.com/tphakala/xtmix/internal/audiocore/engine"
	"github.com/tphakala/xtmix/internal/errors"
	"github.com/tphakala/xtmix/internal/logging"
	"github.com/tphakala/xtmix/internal/observability/metrics"
)

// Dispatcher resolves backend callbacks to the stream they belong to. A
// backend is handed Callbacks() together with the stream handle and a user
// token holding the handle's slot index, so xrun notifications, which carry
// no handle, can be routed too. The token fits a 32 bit uintptr.
type Dispatcher struct {
	table     *Table[Binding]
	callbacks engine.Callbacks
	metrics   *metrics.StreamMetrics
	log       *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCapacity sets how many streams can be open at once.
func WithCapacity(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.table = NewTable[Binding](n)
		}
	}
}

// WithDefaultMetrics records every stream opened through the dispatcher.
func WithDefaultMetrics(m *metrics.StreamMetrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithDispatcherLogger sets the logger streams inherit.
func WithDispatcherLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{log: logging.ForService("stream")}
	for _, opt := range opts {
		opt(d)
	}
	if d.table == nil {
		d.table = NewTable[Binding](DefaultCapacity)
	}
	d.callbacks = engine.Callbacks{OnBuffer: d.OnBuffer, OnXRun: d.OnXRun}
	return d
}

// Callbacks returns the entry points to register with a backend.
func (d *Dispatcher) Callbacks() engine.Callbacks { return d.callbacks }

// Table exposes the handle table.
func (d *Dispatcher) Table() *Table[Binding] { return d.table }

// OnBuffer is the buffer entry point. Unknown or released handles are
// ignored.
func (d *Dispatcher) OnBuffer(h engine.Handle, buf *engine.Buffer, _ uintptr) {
	if b := d.table.Lookup(h); b != nil {
		b.Dispatch(buf)
	}
}

// OnXRun is the xrun entry point. user must be the token the stream was
// opened with.
func (d *Dispatcher) OnXRun(index int32, user uintptr) {
	if b := d.table.At(uint32(user)); b != nil {
		b.XRun(index)
	}
}

// Token is the user token a stream opened under h is registered with.
func Token(h engine.Handle) uintptr { return uintptr(uint32(h)) }

// Open opens a native stream on e and routes its periods to handler.
func (d *Dispatcher) Open(e engine.Engine, params engine.StreamParams, handler Handler, opts ...Option) (*ManagedStream, error) {
	cfg := d.resolve(opts)
	if cfg.interleaved != nil {
		params.Interleaved = *cfg.interleaved
	}
	if handler == nil {
		return nil, errors.Newf("stream %s: nil handler", cfg.name).
			Component("stream").
			Category(errors.CategoryValidation).
			Build()
	}
	if err := params.Format.Validate(); err != nil {
		return nil, errors.New(err).
			Component("stream").
			Category(errors.CategoryValidation).
			Context("stream", cfg.name).
			Context("format", params.Format.String()).
			Build()
	}

	h, err := d.table.Reserve()
	if err != nil {
		return nil, err
	}

	system := e.System().String()
	native, err := e.OpenStream(params, h, Token(h), d.callbacks)
	if err != nil {
		d.table.Release(h)
		d.recordOperation(cfg, "open", "error")
		return nil, nativeError(err, "open", cfg.name, system)
	}

	frames, err := native.Frames()
	if err != nil {
		native.Destroy()
		d.table.Release(h)
		d.recordOperation(cfg, "open", "error")
		return nil, nativeError(err, "frames", cfg.name, system)
	}

	var recorder *metrics.StreamRecorder
	if cfg.metrics != nil {
		recorder = cfg.metrics.ForStream(cfg.name)
	}
	format := native.Format()
	adapter := buffer.NewAdapter(format, int(frames), params.Interleaved, cfg.raw)
	binding := NewBinding(cfg.name, adapter, handler, recorder)
	d.table.Publish(h, binding)

	if cfg.metrics != nil {
		cfg.metrics.StreamOpened(system)
	}
	d.recordOperation(cfg, "open", "ok")
	cfg.log.Info("stream opened",
		"stream", cfg.name,
		"system", system,
		"format", format.String(),
		"frames", frames,
		"interleaved", params.Interleaved,
		"raw", cfg.raw)

	return &ManagedStream{
		dispatcher: d,
		handle:     h,
		native:     native,
		binding:    binding,
		name:       cfg.name,
		system:     system,
		metrics:    cfg.metrics,
		log:        cfg.log,
	}, nil
}

func (d *Dispatcher) recordOperation(cfg openConfig, operation, status string) {
	if cfg.metrics != nil {
		cfg.metrics.RecordOperation(operation, status)
	}
}

func nativeError(err error, operation, name, system string) error {
	return errors.New(err).
		Component("stream").
		Category(errors.CategoryAudioSource).
		Context("operation", operation).
		Context("stream", name).
		Context("system", system).
		Build()
}
