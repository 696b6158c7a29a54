// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"

	"github.com/tphakala/xtmix/internal/audiocore/engine"
	"github.com/tphakala/xtmix/internal/audiocore/sample"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, check := range []func() error{
		func() error { return validateLogSettings(&settings.Log) },
		func() error { return validateStreamSettings(&settings.Stream) },
		func() error { return validateAggregateSettings(&settings.Aggregate) },
		func() error { return validateMetricsSettings(&settings.Metrics) },
		func() error { return validateExportSettings(&settings.Export) },
		func() error { return validateSentrySettings(&settings.Sentry) },
	} {
		if err := check(); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateLogSettings(settings *LogConfig) error {
	switch strings.ToLower(settings.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", settings.Level)
	}
	switch settings.Rotation {
	case RotationDaily, RotationWeekly, RotationSize:
	default:
		return fmt.Errorf("log: unknown rotation %q", settings.Rotation)
	}
	if settings.Enabled && settings.Path == "" {
		return fmt.Errorf("log: path is required when file logging is enabled")
	}
	return nil
}

func validateStreamSettings(settings *StreamConfig) error {
	switch settings.Backend {
	case "virtual", "malgo":
	default:
		return fmt.Errorf("stream: unknown backend %q", settings.Backend)
	}
	format, err := settings.Format()
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	if err := format.Validate(); err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	if settings.Buffer < 0 {
		return fmt.Errorf("stream: negative buffer size %v", settings.Buffer)
	}
	return nil
}

func validateAggregateSettings(settings *AggregateConfig) error {
	if len(settings.Devices) == 0 {
		return nil
	}
	if settings.Master < 0 || settings.Master >= len(settings.Devices) {
		return fmt.Errorf("aggregate: master index %d out of range", settings.Master)
	}
	if settings.RingPeriods < 2 {
		return fmt.Errorf("aggregate: ring must hold at least 2 periods, got %d", settings.RingPeriods)
	}
	for i, d := range settings.Devices {
		if err := d.Channels().Validate(); err != nil {
			return fmt.Errorf("aggregate: device %d: %w", i, err)
		}
		if d.Inputs == 0 && d.Outputs == 0 {
			return fmt.Errorf("aggregate: device %d has no channels", i)
		}
	}
	return nil
}

func validateMetricsSettings(settings *MetricsConfig) error {
	if !settings.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		return fmt.Errorf("metrics: invalid listen address %q: %w", settings.Listen, err)
	}
	return nil
}

func validateExportSettings(settings *ExportConfig) error {
	if !settings.Enabled {
		return nil
	}
	if settings.Path == "" {
		return fmt.Errorf("export: path is required")
	}
	if settings.Buffer <= 0 {
		return fmt.Errorf("export: buffer must be positive, got %d", settings.Buffer)
	}
	return nil
}

func validateSentrySettings(settings *SentryConfig) error {
	if settings.Enabled && settings.DSN == "" {
		return fmt.Errorf("sentry: dsn is required when telemetry is enabled")
	}
	return nil
}

// Format converts the stream section into a negotiated native format.
func (s *StreamConfig) Format() (engine.Format, error) {
	f, err := sample.ParseFormat(s.Sample)
	if err != nil {
		return engine.Format{}, err
	}
	return engine.Format{
		Mix: engine.Mix{Rate: s.Rate, Sample: f},
		Channels: engine.Channels{
			Inputs:  s.Inputs,
			InMask:  s.InMask,
			Outputs: s.Outputs,
			OutMask: s.OutMask,
		},
	}, nil
}

// Channels returns the channel layout of one aggregate device.
func (d AggregateDevice) Channels() engine.Channels {
	return engine.Channels{Inputs: d.Inputs, InMask: d.InMask, Outputs: d.Outputs, OutMask: d.OutMask}
}
