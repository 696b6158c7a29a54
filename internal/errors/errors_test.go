package errors

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu      sync.Mutex
	enabled bool
	got     []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ee)
}

func (r *recordingReporter) IsEnabled() bool { return r.enabled }

type deviceLost struct{}

func (deviceLost) Error() string                { return "endpoint gone" }
func (deviceLost) ErrorCategory() ErrorCategory { return CategoryAudioSource }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()
	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestBuilderContext(t *testing.T) {
	t.Parallel()

	base := fmt.Errorf("open failed")
	ee := New(base).
		Component("stream").
		Category(CategoryAudioSource).
		Priority("bogus").
		Context("device", "hw:0").
		Build()

	assert.Equal(t, "stream", ee.GetComponent())
	assert.Equal(t, PriorityMedium, ee.GetPriority())
	assert.Equal(t, "hw:0", ee.GetContext()["device"])
	assert.ErrorIs(t, ee, base)
	assert.True(t, IsCategory(ee, CategoryAudioSource))
	assert.False(t, IsNotFound(ee))

	other := New(fmt.Errorf("x")).Category(CategoryAudioSource).Build()
	assert.ErrorIs(t, ee, other)
}

func TestBuildWithoutCause(t *testing.T) {
	t.Parallel()

	ee := New(nil).Category(CategoryState).Context("error", "stream already running").Build()
	assert.Equal(t, "stream already running", ee.Error())

	op := New(nil).Context("operation", "start_device").Build()
	assert.Equal(t, "start_device failed", op.Error())
}

func TestTelemetryPath(t *testing.T) {
	reporter := &recordingReporter{enabled: true}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(deviceLost{}).Build()
	assert.Equal(t, CategoryAudioSource, ee.Category)

	require.Len(t, reporter.got, 1)
	assert.Same(t, ee, reporter.got[0])

	wrapped := New(fmt.Errorf("wrap: %w", ee)).Build()
	assert.Equal(t, CategoryAudioSource, wrapped.Category)

	invalid := New(fmt.Errorf("invalid channel mask")).Build()
	assert.Equal(t, CategoryValidation, invalid.Category)
}

func TestDisabledReporterKeepsFastPath(t *testing.T) {
	reporter := &recordingReporter{enabled: false}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	_ = New(fmt.Errorf("quiet")).Build()
	assert.Empty(t, reporter.got)
}

func TestScrubMessage(t *testing.T) {
	t.Parallel()

	scrubbed := scrubMessageForPrivacy("Error at https://sentry.example.com?dsn=secret123&token=abc")
	assert.Equal(t, "Error at https://sentry.example.com?[REDACTED]", scrubbed)

	scrubbed = scrubMessageForPrivacy("config error: api_key=secret123 is invalid")
	assert.Contains(t, scrubbed, "[API_KEY_REDACTED]")
	assert.NotContains(t, scrubbed, "secret123")

	hex := strings.Repeat("ab", 20)
	assert.NotContains(t, scrubMessageForPrivacy("key "+hex), hex)
}

func TestSentryEvent(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("device hw:1 failed")).
		Component("malgo").
		Category(CategoryAudioSource).
		Context("operation", "init_device").
		Context("url", "https://host/x?token=abc").
		Build()

	event := buildEvent(ee)
	assert.Equal(t, "Malgo Audio Source Error Init Device", event.Exception[0].Type)
	assert.Equal(t, sentry.LevelWarning, event.Level)
	assert.Equal(t, "malgo", event.Tags["component"])
	assert.Equal(t, sentry.Context{"value": "https://host/x?[REDACTED]"}, event.Contexts["url"])

	reporter := NewSentryReporterWithHub(true, sentry.NewHub(nil, sentry.NewScope()))
	reporter.ReportError(ee)
	assert.True(t, ee.IsReported())
}
