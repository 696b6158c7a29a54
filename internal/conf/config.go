// Package conf loads and validates xtmix settings.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/xtmix/internal/errors"
)

// Settings is the complete configuration.
type Settings struct {
	Debug     bool            `yaml:"debug"`
	Log       LogConfig       `yaml:"log"`
	Stream    StreamConfig    `yaml:"stream"`
	Aggregate AggregateConfig `yaml:"aggregate"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Export    ExportConfig    `yaml:"export"`
	Sentry    SentryConfig    `yaml:"sentry"`
}

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled     bool         `yaml:"enabled"`     // true to write a rotated log file
	Path        string       `yaml:"path"`        // Path to the log file
	Level       string       `yaml:"level"`       // trace, debug, info, warn, error
	Rotation    RotationType `yaml:"rotation"`    // Type of log rotation
	MaxSize     int64        `yaml:"maxsize"`     // Max size in bytes for RotationSize
	RotationDay string       `yaml:"rotationday"` // Day of the week for RotationWeekly
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// StreamConfig selects the backend and negotiated format of the primary
// stream.
type StreamConfig struct {
	Backend     string  `yaml:"backend"` // virtual or malgo
	Device      string  `yaml:"device"`
	Rate        int32   `yaml:"rate"`
	Sample      string  `yaml:"sample"`
	Inputs      int32   `yaml:"inputs"`
	InMask      uint64  `yaml:"inmask"`
	Outputs     int32   `yaml:"outputs"`
	OutMask     uint64  `yaml:"outmask"`
	Interleaved bool    `yaml:"interleaved"`
	Raw         bool    `yaml:"raw"`
	Buffer      float64 `yaml:"buffer"` // period length in milliseconds
}

// AggregateDevice is one physical device of an aggregate stream.
type AggregateDevice struct {
	Device  string  `yaml:"device"`
	Inputs  int32   `yaml:"inputs"`
	InMask  uint64  `yaml:"inmask"`
	Outputs int32   `yaml:"outputs"`
	OutMask uint64  `yaml:"outmask"`
	Buffer  float64 `yaml:"buffer"`
}

// AggregateConfig turns the primary stream into an aggregate of several
// devices when Devices is not empty.
type AggregateConfig struct {
	Devices     []AggregateDevice `yaml:"devices"`
	Master      int               `yaml:"master"`
	RingPeriods int               `yaml:"ringperiods"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// ExportConfig controls recording of the mixed bus to a WAV file.
type ExportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// Buffer is the recorder ring size in seconds of audio.
	Buffer int `yaml:"buffer"`
}

// SentryConfig controls error telemetry.
type SentryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configuration into a Settings struct. An explicit path must
// exist; without one the default search paths are tried and a missing file
// leaves the defaults in place.
func Load(v *viper.Viper, path string) (*Settings, error) {
	SetDefaults(v)
	v.SetEnvPrefix("XTMIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.New(err).
				Component("configuration").
				Category(errors.CategoryConfiguration).
				Context("operation", "read_config").
				Context("path", path).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryValidation).
			Build()
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

// GetSettings returns the most recently loaded settings, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// DefaultSettings returns the settings produced by the defaults alone.
func DefaultSettings() *Settings {
	v := viper.New()
	SetDefaults(v)
	settings := &Settings{}
	_ = v.Unmarshal(settings)
	return settings
}

// WriteDefault writes the default configuration as YAML to path. Existing
// files are not overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.New(nil).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("error", "config file already exists").
			Context("path", path).
			Build()
	}

	data, err := yaml.Marshal(DefaultSettings())
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "create_config_dir").
			Build()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "write_config").
			Build()
	}
	return nil
}

// DefaultConfigPaths lists the directories searched for config.yaml.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "xtmix"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "xtmix"))
	}
	return paths
}
