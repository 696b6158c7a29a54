// Package stream routes native period callbacks to per-stream consumer
// handlers through a lock-free handle table, adapting buffers on the way.
package stream

import (
	"github.com/tphakala/xtmix/internal/audiocore/buffer"
	"github.com/tphakala/xtmix/internal/audiocore/engine"
)

// Period is what a handler sees on every callback. It is reused across
// callbacks and must not be retained after OnBuffer returns.
type Period struct {
	Frames    int
	Time      float64
	Position  uint64
	TimeValid bool
	// Error is the packed native error code, zero when the period is valid.
	Error uint64

	// Input is nil when the stream has no input this period.
	Input buffer.Samples
	// Output is nil when the stream has no output this period.
	Output buffer.Samples
	// Native is the backend buffer the period was adapted from.
	Native *engine.Buffer
}

// Fault decodes Error, returning nil for a valid period.
func (p *Period) Fault() *engine.Error {
	return engine.DecodeError(p.Error, "")
}

// Handler consumes periods. Both methods run on the stream's realtime
// thread, the master device's thread for aggregate streams, and are never
// called concurrently for one stream. They must not block or allocate.
type Handler interface {
	OnBuffer(p *Period)
	OnXRun(index int32)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Buffer func(p *Period)
	XRun   func(index int32)
}

func (h HandlerFuncs) OnBuffer(p *Period) {
	if h.Buffer != nil {
		h.Buffer(p)
	}
}

func (h HandlerFuncs) OnXRun(index int32) {
	if h.XRun != nil {
		h.XRun(index)
	}
}
