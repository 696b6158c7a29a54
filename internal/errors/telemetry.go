// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
	hub     *sentry.Hub
}

// NewSentryReporter creates a reporter that sends through the current Sentry hub
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled, hub: sentry.CurrentHub()}
}

// NewSentryReporterWithHub creates a reporter bound to a specific hub
func NewSentryReporterWithHub(enabled bool, hub *sentry.Hub) *SentryReporter {
	return &SentryReporter{enabled: enabled, hub: hub}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy protection
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}
	sr.hub.CaptureEvent(buildEvent(ee))
	ee.MarkReported()
}

// buildEvent converts an enhanced error into a scrubbed Sentry event
func buildEvent(ee *EnhancedError) *sentry.Event {
	message := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Error()))
	title := generateErrorTitle(ee)
	level := getErrorLevel(ee.Category)

	event := sentry.NewEvent()
	event.Message = message
	event.Level = level
	event.Fingerprint = []string{title, ee.GetComponent(), string(ee.Category)}
	event.Tags = map[string]string{
		"error_title": title,
		"component":   ee.GetComponent(),
		"category":    string(ee.Category),
		"error_type":  fmt.Sprintf("%T", ee.Err),
	}
	if ee.Priority != "" {
		event.Tags["priority"] = ee.Priority
	}
	for key, value := range ee.GetContext() {
		if s, ok := value.(string); ok {
			value = scrubMessageForPrivacy(s)
		}
		event.Contexts[key] = sentry.Context{"value": value}
	}
	event.Exception = []sentry.Exception{{Type: title, Value: message}}
	return event
}

// generateErrorTitle creates a grouping title from component, category and operation
func generateErrorTitle(ee *EnhancedError) string {
	var parts []string
	if c := ee.GetComponent(); c != "" && c != ComponentUnknown {
		parts = append(parts, titleCase(c))
	}
	if ct := formatCategoryForTitle(ee.Category); ct != "" {
		parts = append(parts, ct)
	}
	if op, ok := ee.GetContext()["operation"].(string); ok && op != "" {
		parts = append(parts, formatOperationForTitle(op))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}
	return strings.Join(parts, " ")
}

func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryValidation:
		return "Validation Error"
	case CategoryConfiguration:
		return "Configuration Error"
	case CategoryAudio:
		return "Audio Processing Error"
	case CategoryAudioSource:
		return "Audio Source Error"
	case CategoryBuffer:
		return "Audio Buffer Error"
	case CategoryFileIO:
		return "File I/O Error"
	case CategoryNetwork:
		return "Network Error"
	case CategorySystem:
		return "System Error"
	default:
		return string(category)
	}
}

func formatOperationForTitle(operation string) string {
	words := strings.Fields(strings.ReplaceAll(operation, "_", " "))
	for i, word := range words {
		words[i] = titleCase(word)
	}
	return strings.Join(words, " ")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// getErrorLevel returns appropriate Sentry level based on category
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryAudioSource, CategoryNetwork, CategoryFileIO:
		return sentry.LevelWarning // Often transient
	case CategoryBuffer, CategoryLimit:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

var (
	telemetryMu             sync.RWMutex
	globalTelemetryReporter TelemetryReporter
)

// SetTelemetryReporter sets the global telemetry reporter. Passing nil
// disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	globalTelemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	telemetryMu.RLock()
	defer telemetryMu.RUnlock()
	return globalTelemetryReporter
}

func reportToTelemetry(ee *EnhancedError) {
	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

var (
	urlQueryRegex   = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	credentialRegex = regexp.MustCompile(`(?i)(dsn|token|api[_-]?key|auth)[=:]\S+`)
	longHexRegex    = regexp.MustCompile(`[0-9a-fA-F]{32,}`)
)

// scrubMessageForPrivacy removes query strings, credentials and key-like hex strings
func scrubMessageForPrivacy(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = credentialRegex.ReplaceAllString(scrubbed, "[API_KEY_REDACTED]")
	return longHexRegex.ReplaceAllString(scrubbed, "[API_KEY_REDACTED]")
}
