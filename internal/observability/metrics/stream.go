// Package metrics provides Prometheus collectors for stream callbacks, the
// aggregate mixer and the bus recorder.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Ring direction labels.
const (
	RingInput  = "input"
	RingOutput = "output"
)

// StreamMetrics contains Prometheus metrics for stream operations
type StreamMetrics struct {
	registry *prometheus.Registry

	activeStreams    *prometheus.GaugeVec
	streamOps        *prometheus.CounterVec
	callbacks        *prometheus.CounterVec
	callbackDuration *prometheus.HistogramVec
	xruns            *prometheus.CounterVec
	faults           *prometheus.CounterVec
	ringShortfalls   *prometheus.CounterVec

	attenuation *prometheus.GaugeVec
	clipEvents  *prometheus.CounterVec

	recorderBytes   *prometheus.CounterVec
	recorderDropped *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewStreamMetrics creates and registers new stream metrics
func NewStreamMetrics(registry *prometheus.Registry) (*StreamMetrics, error) {
	m := &StreamMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *StreamMetrics) initMetrics() {
	m.activeStreams = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xtmix_active_streams",
			Help: "Number of open streams",
		},
		[]string{"system"},
	)

	m.streamOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xtmix_stream_operations_total",
			Help: "Stream control operations by outcome",
		},
		[]string{"operation", "status"},
	)

	m.callbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xtmix_stream_callbacks_total",
			Help: "Total number of buffer callbacks dispatched",
		},
		[]string{"stream"},
	)

	m.callbackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xtmix_stream_callback_duration_seconds",
			Help:    "Time spent adapting and handling one period",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14), // 10µs to ~80ms
		},
		[]string{"stream"},
	)

	m.xruns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xtmix_stream_xruns_total",
			Help: "Total number of overruns and underruns reported",
		},
		[]string{"stream"},
	)

	m.faults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xtmix_stream_faults_total",
			Help: "Periods delivered with a native error",
		},
		[]string{"stream"},
	)

	m.ringShortfalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xtmix_aggregate_ring_shortfalls_total",
			Help: "Aggregate ring reads or writes that could not move a full period",
		},
		[]string{"stream", "device", "direction"},
	)

	m.attenuation = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xtmix_mixer_attenuation",
			Help: "Current clip-prevention gain of the aggregate mixer",
		},
		[]string{"stream"},
	)

	m.clipEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xtmix_mixer_clip_events_total",
			Help: "Frames on which the mixer gain had to shrink",
		},
		[]string{"stream"},
	)

	m.recorderBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xtmix_recorder_bytes_total",
			Help: "Bytes of bus audio written to the recorder ring",
		},
		[]string{"stream"},
	)

	m.recorderDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xtmix_recorder_dropped_bytes_total",
			Help: "Bytes of bus audio dropped because the recorder ring was full",
		},
		[]string{"stream"},
	)

	m.collectors = []prometheus.Collector{
		m.activeStreams,
		m.streamOps,
		m.callbacks,
		m.callbackDuration,
		m.xruns,
		m.faults,
		m.ringShortfalls,
		m.attenuation,
		m.clipEvents,
		m.recorderBytes,
		m.recorderDropped,
	}
}

// Describe implements the Collector interface
func (m *StreamMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *StreamMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// StreamOpened adjusts the open stream gauge for a host system.
func (m *StreamMetrics) StreamOpened(system string) {
	m.activeStreams.WithLabelValues(system).Inc()
}

// StreamClosed is the counterpart of StreamOpened.
func (m *StreamMetrics) StreamClosed(system string) {
	m.activeStreams.WithLabelValues(system).Dec()
}

// RecordOperation counts a control operation (open, start, stop, destroy).
func (m *StreamMetrics) RecordOperation(operation, status string) {
	m.streamOps.WithLabelValues(operation, status).Inc()
}

// ForStream resolves every per-stream series once so the callback path only
// performs atomic updates.
func (m *StreamMetrics) ForStream(name string) *StreamRecorder {
	return &StreamRecorder{
		metrics:     m,
		name:        name,
		callbacks:   m.callbacks.WithLabelValues(name),
		duration:    m.callbackDuration.WithLabelValues(name),
		xruns:       m.xruns.WithLabelValues(name),
		faults:      m.faults.WithLabelValues(name),
		attenuation: m.attenuation.WithLabelValues(name),
		clips:       m.clipEvents.WithLabelValues(name),
		recBytes:    m.recorderBytes.WithLabelValues(name),
		recDropped:  m.recorderDropped.WithLabelValues(name),
	}
}

// StreamRecorder updates the series of one stream. A nil recorder discards
// every update.
type StreamRecorder struct {
	metrics *StreamMetrics
	name    string

	callbacks   prometheus.Counter
	duration    prometheus.Observer
	xruns       prometheus.Counter
	faults      prometheus.Counter
	attenuation prometheus.Gauge
	clips       prometheus.Counter
	recBytes    prometheus.Counter
	recDropped  prometheus.Counter
}

// Name returns the stream label value.
func (r *StreamRecorder) Name() string {
	if r == nil {
		return ""
	}
	return r.name
}

func (r *StreamRecorder) RecordCallback(seconds float64) {
	if r == nil {
		return
	}
	r.callbacks.Inc()
	r.duration.Observe(seconds)
}

func (r *StreamRecorder) RecordXRun() {
	if r == nil {
		return
	}
	r.xruns.Inc()
}

func (r *StreamRecorder) RecordFault() {
	if r == nil {
		return
	}
	r.faults.Inc()
}

func (r *StreamRecorder) SetAttenuation(gain float64) {
	if r == nil {
		return
	}
	r.attenuation.Set(gain)
}

func (r *StreamRecorder) RecordClips(frames int) {
	if r == nil || frames == 0 {
		return
	}
	r.clips.Add(float64(frames))
}

func (r *StreamRecorder) RecordRecorderWrite(written, dropped int) {
	if r == nil {
		return
	}
	if written > 0 {
		r.recBytes.Add(float64(written))
	}
	if dropped > 0 {
		r.recDropped.Add(float64(dropped))
	}
}

// Rings resolves the shortfall counters of one aggregate device.
func (r *StreamRecorder) Rings(device int) *RingRecorder {
	if r == nil {
		return nil
	}
	label := strconv.Itoa(device)
	return &RingRecorder{
		input:  r.metrics.ringShortfalls.WithLabelValues(r.name, label, RingInput),
		output: r.metrics.ringShortfalls.WithLabelValues(r.name, label, RingOutput),
	}
}

// RingRecorder counts ring shortfalls of one device. A nil recorder discards
// every update.
type RingRecorder struct {
	input  prometheus.Counter
	output prometheus.Counter
}

func (r *RingRecorder) InputShortfall() {
	if r == nil {
		return
	}
	r.input.Inc()
}

func (r *RingRecorder) OutputShortfall() {
	if r == nil {
		return
	}
	r.output.Inc()
}
