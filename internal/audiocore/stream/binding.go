package stream

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/tphakala/xtmix/internal/audiocore/buffer"
	"github.com/tphakala/xtmix/internal/audiocore/engine"
	"github.com/tphakala/xtmix/internal/observability/metrics"
)

// Binding is the per-stream state a callback resolves to. Everything the
// callback touches is allocated up front.
type Binding struct {
	name    string
	adapter *buffer.Adapter
	handler Handler
	metrics *metrics.StreamRecorder
	period  Period

	inFlight atomic.Int32
	closed   atomic.Bool
}

// NewBinding wires an adapter to a handler. recorder may be nil.
func NewBinding(name string, adapter *buffer.Adapter, handler Handler, recorder *metrics.StreamRecorder) *Binding {
	return &Binding{
		name:    name,
		adapter: adapter,
		handler: handler,
		metrics: recorder,
	}
}

func (b *Binding) Name() string             { return b.name }
func (b *Binding) Adapter() *buffer.Adapter { return b.adapter }
func (b *Binding) Handler() Handler         { return b.handler }

// Dispatch adapts buf, runs the handler and writes the output back. Periods
// carrying a native error are still passed to the handler, which can read
// the code from Period.Error. Once the binding is closed Dispatch returns
// without touching buf.
func (b *Binding) Dispatch(buf *engine.Buffer) {
	b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	if b.closed.Load() {
		return
	}

	start := time.Now()
	if buf.Error != 0 {
		b.metrics.RecordFault()
	}

	p := &b.period
	p.Frames = int(buf.Frames)
	p.Time = buf.Time
	p.Position = buf.Position
	p.TimeValid = buf.TimeValid
	p.Error = buf.Error
	p.Native = buf
	p.Input = b.adapter.Lock(buf)
	p.Output = b.adapter.Output(buf)

	b.handler.OnBuffer(p)

	b.adapter.Unlock(buf)
	p.Input, p.Output, p.Native = nil, nil, nil

	b.metrics.RecordCallback(time.Since(start).Seconds())
}

// XRun forwards an xrun notification to the handler.
func (b *Binding) XRun(index int32) {
	b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	if b.closed.Load() {
		return
	}
	b.metrics.RecordXRun()
	b.handler.OnXRun(index)
}

// Close stops further dispatch and waits for callbacks already inside the
// binding to return. It must not be called from a callback.
func (b *Binding) Close() {
	b.closed.Store(true)
	for b.inFlight.Load() != 0 {
		runtime.Gosched()
	}
}

// Closed reports whether Close has been called.
func (b *Binding) Closed() bool { return b.closed.Load() }
