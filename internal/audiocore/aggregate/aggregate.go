// Package aggregate combines several native streams into one logical stream.
// One device is the master: its callback pulls what the other devices
// captured, runs the consumer on the combined period and hands each device
// its share of the output. Devices exchange audio with the master through
// fixed-size rings. Faults and xruns seen on other devices are handed to the
// master too, so the consumer is only ever called from the master's thread.
package aggregate

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tphakala/xtmix/internal/audiocore/buffer"
	"github.com/tphakala/xtmix/internal/audiocore/engine"
	"github.com/tphakala/xtmix/internal/audiocore/stream"
	"github.com/tphakala/xtmix/internal/errors"
	"github.com/tphakala/xtmix/internal/logging"
	"github.com/tphakala/xtmix/internal/observability/metrics"
)

// DefaultRingPeriods is the ring depth, in periods, when Params leaves it
// unset.
const DefaultRingPeriods = 4

// DeviceParams selects one member device and the channels it contributes.
type DeviceParams struct {
	Device     string
	Channels   engine.Channels
	BufferSize float64
}

// Params describes an aggregate stream.
type Params struct {
	Mix         engine.Mix
	Interleaved bool
	Raw         bool
	Devices     []DeviceParams
	Master      int
	RingPeriods int
	Name        string
	Metrics     *metrics.StreamMetrics
	Log         *slog.Logger
}

type device struct {
	index    int
	name     string
	native   engine.Stream
	channels engine.Channels
	frames   int

	inRing  *ring
	outRing *ring
	// scratch holds one period of interleaved bytes on the device thread;
	// weave holds one on the master thread.
	inScratch  []byte
	outScratch []byte
	inWeave    []byte
	outWeave   []byte

	rings *metrics.RingRecorder

	// fault moves faultIdle -> faultWriting -> faultPending on the device
	// thread and faultPending -> faultDelivered on the master.
	fault     atomic.Int32
	faultBuf  engine.Buffer
	xruns     atomic.Int32
	xrunIndex atomic.Int32
}

const (
	faultIdle int32 = iota
	faultWriting
	faultPending
	faultDelivered
)

func (d *device) inputFrameSize(size int) int  { return int(d.channels.Inputs) * size }
func (d *device) outputFrameSize(size int) int { return int(d.channels.Outputs) * size }

// Stream is an open aggregate stream.
type Stream struct {
	name        string
	format      engine.Format
	interleaved bool
	frames      int
	size        int
	master      int
	devices     []*device

	app     engine.Buffer
	appIn   engine.Region
	appOut  engine.Region
	binding *stream.Binding

	running atomic.Int32
	inside  atomic.Int32
	faulted atomic.Uint64

	mu        sync.Mutex
	started   bool
	destroyed bool
	metrics   *metrics.StreamMetrics
	system    string
	log       *slog.Logger
}

func validate(p *Params) error {
	switch {
	case len(p.Devices) == 0:
		return errors.Newf("aggregate stream needs at least one device").
			Component("aggregate").Category(errors.CategoryValidation).Build()
	case p.Master < 0 || p.Master >= len(p.Devices):
		return errors.Newf("master index %d out of range for %d devices", p.Master, len(p.Devices)).
			Component("aggregate").Category(errors.CategoryValidation).Build()
	case !p.Mix.Sample.Valid() || p.Mix.Rate <= 0:
		return errors.Newf("invalid mix %dHz sample %d", p.Mix.Rate, int32(p.Mix.Sample)).
			Component("aggregate").Category(errors.CategoryValidation).Build()
	}
	for i, d := range p.Devices {
		if err := d.Channels.Validate(); err != nil {
			return errors.New(err).
				Component("aggregate").
				Category(errors.CategoryValidation).
				Context("device_index", i).
				Build()
		}
		if d.Channels.Inputs == 0 && d.Channels.Outputs == 0 {
			return errors.Newf("device %d has neither inputs nor outputs", i).
				Component("aggregate").Category(errors.CategoryValidation).Build()
		}
	}
	return nil
}

// Open opens every member device on e and routes the combined periods to
// handler. The combined channel layout is the concatenation of the devices'
// channels in order.
func Open(e engine.Engine, params Params, handler stream.Handler) (*Stream, error) {
	if handler == nil {
		return nil, errors.Newf("aggregate stream: nil handler").
			Component("aggregate").Category(errors.CategoryValidation).Build()
	}
	if err := validate(&params); err != nil {
		return nil, err
	}
	if params.RingPeriods <= 0 {
		params.RingPeriods = DefaultRingPeriods
	}
	if params.Log == nil {
		params.Log = logging.ForService("aggregate")
	}
	if params.Name == "" {
		params.Name = uuid.NewString()
	}

	s := &Stream{
		name:        params.Name,
		interleaved: params.Interleaved,
		size:        params.Mix.Sample.Size(),
		master:      params.Master,
		metrics:     params.Metrics,
		system:      e.System().String(),
		log:         params.Log,
	}
	s.format.Mix = params.Mix

	var recorder *metrics.StreamRecorder
	if params.Metrics != nil {
		recorder = params.Metrics.ForStream(params.Name)
	}

	callbacks := engine.Callbacks{OnBuffer: s.onBuffer, OnXRun: s.onXRun}
	for i, dp := range params.Devices {
		native, err := e.OpenStream(engine.StreamParams{
			Device:      dp.Device,
			Format:      engine.Format{Mix: params.Mix, Channels: dp.Channels},
			Interleaved: params.Interleaved,
			BufferSize:  dp.BufferSize,
		}, engine.Handle(i), uintptr(i), callbacks)
		if err != nil {
			s.destroyDevices()
			return nil, errors.New(err).
				Component("aggregate").
				Category(errors.CategoryAudioSource).
				Context("operation", "open").
				Context("device", dp.Device).
				Context("device_index", i).
				Build()
		}
		frames, err := native.Frames()
		if err != nil {
			native.Destroy()
			s.destroyDevices()
			return nil, errors.New(err).
				Component("aggregate").
				Category(errors.CategoryAudioSource).
				Context("operation", "frames").
				Context("device", dp.Device).
				Build()
		}
		s.devices = append(s.devices, &device{
			index:    i,
			name:     dp.Device,
			native:   native,
			channels: native.Format().Channels,
			frames:   int(frames),
			rings:    recorder.Rings(i),
		})
		s.frames = max(s.frames, int(frames))
	}

	for _, d := range s.devices {
		s.format.Channels.Inputs += d.channels.Inputs
		s.format.Channels.Outputs += d.channels.Outputs
		if in := d.inputFrameSize(s.size); in > 0 {
			d.inRing = newRing(params.RingPeriods * s.frames * in)
			d.inScratch = make([]byte, s.frames*in)
			d.inWeave = make([]byte, s.frames*in)
		}
		if out := d.outputFrameSize(s.size); out > 0 {
			d.outRing = newRing(params.RingPeriods * s.frames * out)
			d.outScratch = make([]byte, s.frames*out)
			d.outWeave = make([]byte, s.frames*out)
		}
	}

	s.appIn = engine.NewRegion(params.Mix.Sample, int(s.format.Channels.Inputs), s.frames, params.Interleaved)
	s.appOut = engine.NewRegion(params.Mix.Sample, int(s.format.Channels.Outputs), s.frames, params.Interleaved)

	adapter := buffer.NewAdapter(s.format, s.frames, params.Interleaved, params.Raw)
	s.binding = stream.NewBinding(params.Name, adapter, handler, recorder)

	if params.Metrics != nil {
		params.Metrics.StreamOpened(s.system)
	}
	s.log.Info("aggregate stream opened",
		"stream", params.Name,
		"devices", len(s.devices),
		"master", params.Master,
		"format", s.format.String(),
		"frames", s.frames,
		"ring_periods", params.RingPeriods)
	return s, nil
}

func (s *Stream) Name() string          { return s.name }
func (s *Stream) Format() engine.Format { return s.format }

// Frames is the largest period of any member device.
func (s *Stream) Frames() (int32, error) { return int32(s.frames), nil }

// Running reports whether the stream is started.
func (s *Stream) Running() bool { return s.running.Load() == 1 }

// Fault returns the first native error a member device delivered, or nil.
func (s *Stream) Fault() *engine.Error {
	return engine.DecodeError(s.faulted.Load(), "")
}

// Device returns the native stream of member i.
func (s *Stream) Device(i int) engine.Stream { return s.devices[i].native }

// Latency is the worst member latency per direction, including the audio
// queued in that member's ring.
func (s *Stream) Latency() (engine.Latency, error) {
	var total engine.Latency
	perFrame := 1000.0 / float64(s.format.Mix.Rate)
	for _, d := range s.devices {
		l, err := d.native.Latency()
		if err != nil {
			return engine.Latency{}, s.nativeError(err, "latency", d)
		}
		if l.Input > 0 && d.inRing != nil {
			l.Input += float64(d.inRing.queued()/d.inputFrameSize(s.size)) * perFrame
			total.Input = max(total.Input, l.Input)
		}
		if l.Output > 0 && d.outRing != nil {
			l.Output += float64(d.outRing.queued()/d.outputFrameSize(s.size)) * perFrame
			total.Output = max(total.Output, l.Output)
		}
	}
	return total, nil
}

// Start clears the rings and starts the members, master last.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return errors.Newf("aggregate stream %s destroyed", s.name).
			Component("aggregate").Category(errors.CategoryState).Build()
	}
	if s.started {
		return nil
	}
	for _, d := range s.devices {
		if d.inRing != nil {
			d.inRing.reset()
		}
		if d.outRing != nil {
			d.outRing.reset()
		}
		d.fault.Store(faultIdle)
		d.xruns.Store(0)
	}
	s.faulted.Store(0)

	started := make([]*device, 0, len(s.devices))
	rollback := func() {
		for i := len(started) - 1; i >= 0; i-- {
			_ = started[i].native.Stop()
		}
	}
	for _, d := range s.devices {
		if d.index == s.master {
			continue
		}
		if err := d.native.Start(); err != nil {
			rollback()
			s.record("start", "error")
			return s.nativeError(err, "start", d)
		}
		started = append(started, d)
	}
	m := s.devices[s.master]
	if err := m.native.Start(); err != nil {
		rollback()
		s.record("start", "error")
		return s.nativeError(err, "start", m)
	}
	s.started = true
	s.running.Store(1)
	s.record("start", "ok")
	s.log.Debug("aggregate stream started", "stream", s.name)
	return nil
}

// Stop waits for callbacks inside the aggregate to finish and stops the
// members, master first.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop()
}

func (s *Stream) stop() error {
	if !s.started {
		return nil
	}
	s.started = false
	s.running.Store(0)
	for s.inside.Load() != 0 {
		runtime.Gosched()
	}

	var first error
	m := s.devices[s.master]
	if err := m.native.Stop(); err != nil {
		first = s.nativeError(err, "stop", m)
	}
	for _, d := range s.devices {
		if d.index == s.master {
			continue
		}
		if err := d.native.Stop(); err != nil && first == nil {
			first = s.nativeError(err, "stop", d)
		}
	}
	if first != nil {
		s.record("stop", "error")
		return first
	}
	s.record("stop", "ok")
	s.log.Debug("aggregate stream stopped", "stream", s.name)
	return nil
}

// Destroy stops the stream and releases every member. Repeated calls are
// no-ops.
func (s *Stream) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	if err := s.stop(); err != nil {
		s.log.Warn("aggregate stop during destroy failed", "stream", s.name, "error", err)
	}
	s.binding.Close()
	s.destroyDevices()
	if s.metrics != nil {
		s.metrics.StreamClosed(s.system)
	}
	s.record("destroy", "ok")
	s.log.Info("aggregate stream destroyed", "stream", s.name)
}

func (s *Stream) destroyDevices() {
	for _, d := range s.devices {
		d.native.Destroy()
	}
}

func (s *Stream) record(operation, status string) {
	if s.metrics != nil {
		s.metrics.RecordOperation(operation, status)
	}
}

func (s *Stream) nativeError(err error, operation string, d *device) error {
	return errors.New(err).
		Component("aggregate").
		Category(errors.CategoryAudioSource).
		Context("operation", operation).
		Context("stream", s.name).
		Context("device", d.name).
		Context("device_index", d.index).
		Build()
}

func (s *Stream) onXRun(index int32, user uintptr) {
	i := int(user)
	if i < 0 || i >= len(s.devices) {
		return
	}
	s.xrun(s.devices[i], index)
}

// xrun reports an xrun seen on d. Only the master thread calls the consumer;
// other devices leave it for the master's next period.
func (s *Stream) xrun(d *device, index int32) {
	if d.index == s.master {
		s.binding.XRun(index)
		return
	}
	d.xrunIndex.Store(index)
	d.xruns.Add(1)
}

func (s *Stream) onBuffer(_ engine.Handle, buf *engine.Buffer, user uintptr) {
	index := int(user)
	if index < 0 || index >= len(s.devices) {
		return
	}
	d := s.devices[index]
	s.member(d, buf)
	if index == s.master {
		s.deliver()
		if buf.Error == 0 {
			s.mix(buf)
		}
	}
}

// deliver passes faults and xruns queued by the other devices to the
// consumer. It runs on the master thread.
func (s *Stream) deliver() {
	s.inside.Add(1)
	defer s.inside.Add(-1)
	for _, d := range s.devices {
		if d.index != s.master {
			index := d.xrunIndex.Load()
			for n := d.xruns.Swap(0); n > 0; n-- {
				s.binding.XRun(index)
			}
		}
		if d.fault.CompareAndSwap(faultPending, faultDelivered) {
			s.binding.Dispatch(&d.faultBuf)
		}
	}
}

// member moves one device period between the device and its rings.
func (s *Stream) member(d *device, buf *engine.Buffer) {
	s.inside.Add(1)
	defer s.inside.Add(-1)

	if buf.Error != 0 {
		// The other members keep running but stop exchanging audio.
		s.faulted.CompareAndSwap(0, buf.Error)
		s.running.Store(0)
		// Only the first fault per start is kept; the master delivers it.
		if d.fault.CompareAndSwap(faultIdle, faultWriting) {
			d.faultBuf = engine.Buffer{
				Frames:    min(buf.Frames, int32(s.frames)),
				Time:      buf.Time,
				Position:  buf.Position,
				TimeValid: buf.TimeValid,
				Error:     buf.Error,
			}
			d.fault.Store(faultPending)
		}
		return
	}

	if s.running.Load() != 1 {
		zeroRegion(buf.Output)
		return
	}

	frames := int(buf.Frames)
	if buf.Input != nil && d.inRing != nil {
		n := frames * d.inputFrameSize(s.size)
		gather(d.inScratch, buf.Input, s.interleaved, int(d.channels.Inputs), frames, s.size)
		if written := d.inRing.write(d.inScratch[:n]); written < n {
			d.rings.InputShortfall()
			s.xrun(d, -1)
		}
	}

	if buf.Output != nil && d.outRing != nil {
		n := frames * d.outputFrameSize(s.size)
		if read := d.outRing.read(d.outScratch[:n]); read < n {
			clear(d.outScratch[read:n])
			d.rings.OutputShortfall()
			s.xrun(d, -1)
		}
		scatter(buf.Output, d.outScratch, s.interleaved, int(d.channels.Outputs), frames, s.size)
	}
}

// mix runs the consumer on the combined period. It only runs on the master
// device's thread.
func (s *Stream) mix(buf *engine.Buffer) {
	s.inside.Add(1)
	defer s.inside.Add(-1)
	if s.running.Load() != 1 {
		return
	}

	frames := int(buf.Frames)
	totalIn, totalOut := int(s.format.Channels.Inputs), int(s.format.Channels.Outputs)

	first := 0
	for _, d := range s.devices {
		if d.inRing == nil {
			continue
		}
		channels := int(d.channels.Inputs)
		n := frames * d.inputFrameSize(s.size)
		if read := d.inRing.read(d.inWeave[:n]); read < n {
			clear(d.inWeave[read:n])
			d.rings.InputShortfall()
			s.binding.XRun(-1)
		}
		weave(s.appIn, s.interleaved, totalIn, first, d.inWeave, channels, frames, s.size)
		first += channels
	}

	s.app = *buf
	s.app.Input = s.appIn
	s.app.Output = s.appOut
	s.binding.Dispatch(&s.app)

	first = 0
	for _, d := range s.devices {
		if d.outRing == nil {
			continue
		}
		channels := int(d.channels.Outputs)
		n := frames * d.outputFrameSize(s.size)
		unweave(d.outWeave, s.appOut, s.interleaved, totalOut, first, channels, frames, s.size)
		if written := d.outRing.write(d.outWeave[:n]); written < n {
			d.rings.OutputShortfall()
			s.binding.XRun(-1)
		}
		first += channels
	}
}
