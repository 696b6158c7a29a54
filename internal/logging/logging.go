package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tphakala/xtmix/internal/conf"
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

// Add trace and fatal level names.
var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

var (
	mu                  sync.RWMutex
	structuredLogger    *slog.Logger
	humanReadableLogger *slog.Logger
	structuredOut       io.Writer = os.Stdout
	humanReadableOut    io.Writer = os.Stderr

	// levels are shared by both handlers so SetLevel takes effect without
	// rebuilding them.
	structuredLevel    = new(slog.LevelVar)
	humanReadableLevel = new(slog.LevelVar)
)

// replaceLevelNames renders the custom TRACE and FATAL levels by name.
func replaceLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if !ok {
			return a
		}
		label, exists := levelNames[level]
		if !exists {
			label = level.String()
		}
		a.Value = slog.StringValue(label)
	}
	return a
}

func build() {
	structuredLogger = slog.New(slog.NewJSONHandler(structuredOut, &slog.HandlerOptions{
		Level:       structuredLevel,
		ReplaceAttr: replaceLevelNames,
	}))
	humanReadableLogger = slog.New(slog.NewTextHandler(humanReadableOut, &slog.HandlerOptions{
		Level:       humanReadableLevel,
		ReplaceAttr: replaceLevelNames,
	}))
	slog.SetDefault(structuredLogger)
}

// Init initializes the logging system with structured and human-readable loggers.
// It configures JSON output for structured logs and Text output for human-readable logs.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	structuredLevel.Set(slog.LevelDebug)
	humanReadableLevel.Set(slog.LevelInfo)
	build()
}

// SetLevel sets the minimum logging level for both structured and human-readable loggers.
func SetLevel(level slog.Level) {
	structuredLevel.Set(level)
	humanReadableLevel.Set(level)
}

// SetOutput redirects both loggers, keeping their levels.
func SetOutput(structuredOutput, humanReadableOutput io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	structuredOut = structuredOutput
	humanReadableOut = humanReadableOutput
	build()
}

// ParseLevel maps a configuration level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Structured returns the globally configured structured (JSON) logger.
// Returns nil if Init() has not been called.
func Structured() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return structuredLogger
}

// HumanReadable returns the globally configured human-readable (Text) logger.
// Returns nil if Init() has not been called.
func HumanReadable() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return humanReadableLogger
}

// ForService returns a logger carrying the 'service' attribute. Before Init
// it falls back to the slog default logger.
func ForService(serviceName string) *slog.Logger {
	base := Structured()
	if base == nil {
		base = slog.Default()
	}
	return base.With("service", serviceName)
}

// Fatal logs a fatal message using the custom Fatal level and then exits.
func Fatal(msg string, args ...any) {
	slog.Log(context.Background(), LevelFatal, msg, args...)
	os.Exit(1)
}

// Trace logs a trace message using the custom Trace level.
func Trace(msg string, args ...any) {
	slog.Log(context.Background(), LevelTrace, msg, args...)
}

// NewFileLogger creates a JSON logger writing to filePath with lumberjack
// rotation derived from cfg. It returns the logger and a function closing
// the underlying writer.
func NewFileLogger(filePath, serviceName string, level slog.Level, cfg conf.LogConfig) (*slog.Logger, func() error, error) {
	// lumberjack doesn't create directories
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	logWriter := &lumberjack.Logger{
		Filename: filePath,
		Compress: false,
	}
	logWriter.MaxSize, logWriter.MaxBackups, logWriter.MaxAge = rotationLimits(cfg)

	fileHandler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})
	logger := slog.New(fileHandler).With("service", serviceName)

	return logger, logWriter.Close, nil
}

// rotationLimits returns max size in MB, max backups and max age in days.
func rotationLimits(cfg conf.LogConfig) (maxSizeMB, maxBackups, maxAge int) {
	maxSizeMB, maxBackups, maxAge = 100, 3, 28
	if mb := int(cfg.MaxSize / (1024 * 1024)); mb > 0 {
		maxSizeMB = mb
	}

	switch cfg.Rotation {
	case conf.RotationDaily:
		maxAge, maxBackups = 1, 30
	case conf.RotationWeekly:
		maxAge, maxBackups = 7, 4
	case conf.RotationSize:
	default:
		slog.Warn("Unknown log rotation type in config, using size-based defaults", "configuredType", cfg.Rotation)
	}
	return maxSizeMB, maxBackups, maxAge
}
