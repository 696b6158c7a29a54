package stream

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/tphakala/xtmix/internal/observability/metrics"
)

type openConfig struct {
	name        string
	raw         bool
	interleaved *bool
	metrics     *metrics.StreamMetrics
	log         *slog.Logger
}

// Option configures a stream opened through a Dispatcher.
type Option func(*openConfig)

// WithRaw hands the handler zero-copy views over the native regions
// instead of decoded samples.
func WithRaw(raw bool) Option {
	return func(c *openConfig) { c.raw = raw }
}

// WithInterleaved overrides the layout requested in the stream parameters.
func WithInterleaved(interleaved bool) Option {
	return func(c *openConfig) { c.interleaved = &interleaved }
}

// WithName sets the stream label used in logs and metrics.
func WithName(name string) Option {
	return func(c *openConfig) { c.name = name }
}

// WithMetrics records per-stream series into m. It overrides the
// dispatcher default.
func WithMetrics(m *metrics.StreamMetrics) Option {
	return func(c *openConfig) { c.metrics = m }
}

// WithLogger sets the logger for control-path events.
func WithLogger(log *slog.Logger) Option {
	return func(c *openConfig) { c.log = log }
}

func (d *Dispatcher) resolve(opts []Option) openConfig {
	c := openConfig{metrics: d.metrics, log: d.log}
	for _, opt := range opts {
		opt(&c)
	}
	if c.name == "" {
		c.name = uuid.NewString()
	}
	return c
}
