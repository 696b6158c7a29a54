// Package export records the output bus of a stream to a WAV file.
package export

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/tphakala/xtmix/internal/conf"
	"github.com/tphakala/xtmix/internal/errors"
)

// Recorded audio is 16-bit mono PCM.
const (
	BitDepth    = 16
	NumChannels = 1
)

// DefaultInterval is how often the drain goroutine empties the ring.
const DefaultInterval = 20 * time.Millisecond

// Config contains configuration for bus recording
type Config struct {
	// PathTemplate is the output file. Supports {stream}, {date}, {time},
	// {timestamp}.
	PathTemplate string

	// Stream names the recorded stream in the file name.
	Stream string

	// SampleRate of the recorded bus.
	SampleRate int

	// Buffer is the amount of audio the ring holds between drains.
	Buffer time.Duration

	// Interval between drains.
	Interval time.Duration
}

// ConfigFrom builds a recorder configuration from the export settings.
func ConfigFrom(settings *conf.ExportConfig, streamName string, rate int32) *Config {
	return &Config{
		PathTemplate: settings.Path,
		Stream:       streamName,
		SampleRate:   int(rate),
		Buffer:       time.Duration(settings.Buffer) * time.Second,
		Interval:     DefaultInterval,
	}
}

// ValidateConfig validates a recorder configuration
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.Newf("export config is nil").
			Component("export").
			Category(errors.CategoryValidation).
			Build()
	}

	if config.PathTemplate == "" {
		return errors.Newf("export path is empty").
			Component("export").
			Category(errors.CategoryValidation).
			Build()
	}

	if config.SampleRate <= 0 {
		return errors.Newf("invalid export sample rate: %d", config.SampleRate).
			Component("export").
			Category(errors.CategoryValidation).
			Context("sample_rate", config.SampleRate).
			Build()
	}

	if config.Buffer <= 0 {
		return errors.Newf("invalid export buffer: %v", config.Buffer).
			Component("export").
			Category(errors.CategoryValidation).
			Context("buffer", config.Buffer.String()).
			Build()
	}

	if config.Interval <= 0 || config.Interval >= config.Buffer {
		return errors.Newf("export interval %v must be positive and shorter than the buffer", config.Interval).
			Component("export").
			Category(errors.CategoryValidation).
			Context("interval", config.Interval.String()).
			Build()
	}

	return nil
}

// RingBytes is the ring capacity needed to hold Buffer of audio.
func (c *Config) RingBytes() int {
	return int(c.Buffer.Seconds()*float64(c.SampleRate)) * BitDepth / 8 * NumChannels
}

// GenerateFileName expands the path template
func GenerateFileName(template, streamName string, timestamp time.Time) string {
	fileName := template

	fileName = strings.ReplaceAll(fileName, "{stream}", streamName)
	fileName = strings.ReplaceAll(fileName, "{date}", timestamp.Format("2006-01-02"))
	fileName = strings.ReplaceAll(fileName, "{time}", timestamp.Format("15-04-05"))
	fileName = strings.ReplaceAll(fileName, "{timestamp}", timestamp.Format("20060102_150405"))

	if !strings.EqualFold(filepath.Ext(fileName), ".wav") {
		fileName += ".wav"
	}

	return filepath.Clean(fileName)
}
