package stream

import (
	"log/slog"
	"sync"

	"github.com/tphakala/xtmix/internal/audiocore/engine"
	"github.com/tphakala/xtmix/internal/observability/metrics"
)

// ManagedStream is a native stream whose periods are adapted and routed to
// a Handler. Control methods must not be called from the handler.
type ManagedStream struct {
	dispatcher *Dispatcher
	handle     engine.Handle
	native     engine.Stream
	binding    *Binding
	name       string
	system     string
	metrics    *metrics.StreamMetrics
	log        *slog.Logger

	destroyOnce sync.Once
}

func (s *ManagedStream) Name() string          { return s.name }
func (s *ManagedStream) Handle() engine.Handle { return s.handle }
func (s *ManagedStream) Format() engine.Format { return s.native.Format() }
func (s *ManagedStream) Native() engine.Stream { return s.native }
func (s *ManagedStream) Binding() *Binding     { return s.binding }
func (s *ManagedStream) Destroyed() bool       { return s.binding.Closed() }

func (s *ManagedStream) Start() error {
	if err := s.native.Start(); err != nil {
		s.record("start", "error")
		return nativeError(err, "start", s.name, s.system)
	}
	s.record("start", "ok")
	s.log.Debug("stream started", "stream", s.name)
	return nil
}

func (s *ManagedStream) Stop() error {
	if err := s.native.Stop(); err != nil {
		s.record("stop", "error")
		return nativeError(err, "stop", s.name, s.system)
	}
	s.record("stop", "ok")
	s.log.Debug("stream stopped", "stream", s.name)
	return nil
}

func (s *ManagedStream) Frames() (int32, error) {
	n, err := s.native.Frames()
	if err != nil {
		return 0, nativeError(err, "frames", s.name, s.system)
	}
	return n, nil
}

func (s *ManagedStream) Latency() (engine.Latency, error) {
	l, err := s.native.Latency()
	if err != nil {
		return engine.Latency{}, nativeError(err, "latency", s.name, s.system)
	}
	return l, nil
}

// Destroy stops routing, tears down the native stream and frees the handle.
// When it returns no callback for this stream is running or will run.
// Repeated calls are no-ops.
func (s *ManagedStream) Destroy() {
	s.destroyOnce.Do(func() {
		s.binding.Close()
		s.native.Destroy()
		s.dispatcher.table.Release(s.handle)
		if s.metrics != nil {
			s.metrics.StreamClosed(s.system)
		}
		s.record("destroy", "ok")
		s.log.Info("stream destroyed", "stream", s.name)
	})
}

func (s *ManagedStream) record(operation, status string) {
	if s.metrics != nil {
		s.metrics.RecordOperation(operation, status)
	}
}
