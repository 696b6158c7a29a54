package virtual

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/xtmix/internal/audiocore/engine"
	"github.com/tphakala/xtmix/internal/audiocore/sample"
)

func duplex(f sample.Format) engine.Format {
	return engine.Format{
		Mix:      engine.Mix{Rate: 48000, Sample: f},
		Channels: engine.Channels{Inputs: 2, Outputs: 2},
	}
}

func TestOpenStreamDefaults(t *testing.T) {
	t.Parallel()

	e := New()
	s, err := e.OpenStream(engine.StreamParams{Format: duplex(sample.Int16), Interleaved: true}, 1, 1,
		engine.Callbacks{OnBuffer: func(engine.Handle, *engine.Buffer, uintptr) {}})
	require.NoError(t, err)
	defer s.Destroy()

	frames, err := s.Frames()
	require.NoError(t, err)
	assert.Equal(t, int32(480), frames)

	l, err := s.Latency()
	require.NoError(t, err)
	assert.InDelta(t, 10.0, l.Input, 1e-9)
	assert.InDelta(t, 10.0, l.Output, 1e-9)
	assert.Equal(t, engine.SystemNull, e.System())
	assert.Equal(t, []string{DefaultDevice}, e.Devices())
}

func TestOpenStreamErrors(t *testing.T) {
	t.Parallel()

	cb := engine.Callbacks{OnBuffer: func(engine.Handle, *engine.Buffer, uintptr) {}}

	_, err := New().OpenStream(engine.StreamParams{Device: "missing", Format: duplex(sample.Int16)}, 1, 1, cb)
	var nerr *engine.Error
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, engine.CauseEndpoint, nerr.Cause)

	_, err = New().OpenStream(engine.StreamParams{Format: engine.Format{Mix: engine.Mix{Rate: 48000, Sample: sample.Int16}}}, 1, 1, cb)
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, engine.CauseFormat, nerr.Cause)

	injected := &engine.Error{System: engine.SystemNull, Cause: engine.CauseService, Fault: 9, Text: "down"}
	_, err = New(WithOpenError(injected)).OpenStream(engine.StreamParams{Format: duplex(sample.Int16)}, 1, 1, cb)
	assert.Same(t, injected, err)
}

func TestStepDeliversGeneratedInput(t *testing.T) {
	t.Parallel()

	var got []float64
	var outFrames int
	e := New(WithDevice("ramp", DeviceConfig{
		Frames: 4,
		Generator: func(position uint64, ch int, _ int32) float64 {
			return float64(position)/8 - float64(ch)/2
		},
		Sink: func(out engine.Region, frames int) { outFrames = frames },
	}))

	var positions []uint64
	cb := engine.Callbacks{OnBuffer: func(h engine.Handle, buf *engine.Buffer, user uintptr) {
		assert.Equal(t, engine.Handle(7), h)
		assert.Equal(t, uintptr(7), user)
		positions = append(positions, buf.Position)
		for i := 0; i < int(buf.Frames)*2; i++ {
			got = append(got, sample.Decode(buf.Input[0][i*4:], sample.Float32))
		}
	}}
	s, err := e.OpenStream(engine.StreamParams{Device: "ramp", Format: duplex(sample.Float32), Interleaved: true}, 7, 7, cb)
	require.NoError(t, err)
	defer s.Destroy()

	vs := s.(*Stream)
	require.Error(t, vs.Step(), "stepping a stopped stream")
	require.NoError(t, s.Start())
	require.NoError(t, vs.Step())
	require.NoError(t, vs.Step())

	assert.Equal(t, []uint64{0, 4}, positions)
	assert.Equal(t, 4, outFrames)
	require.Len(t, got, 16)
	assert.InDelta(t, 0.0, got[0], 1e-6)
	assert.InDelta(t, -0.5, got[1], 1e-6)
	assert.InDelta(t, 0.125, got[2], 1e-6)
	assert.InDelta(t, 0.875-0.5, got[15], 1e-6)
}

func TestNonInterleavedPlanes(t *testing.T) {
	t.Parallel()

	e := New(WithDevice("dc", DeviceConfig{
		Frames:    3,
		Generator: func(_ uint64, ch int, _ int32) float64 { return float64(ch+1) / 4 },
	}))
	var planes int
	var second float64
	cb := engine.Callbacks{OnBuffer: func(_ engine.Handle, buf *engine.Buffer, _ uintptr) {
		planes = len(buf.Input)
		second = sample.Decode(buf.Input[1][2*2:], sample.Int16)
	}}
	s, err := e.OpenStream(engine.StreamParams{Device: "dc", Format: duplex(sample.Int16)}, 1, 1, cb)
	require.NoError(t, err)
	defer s.Destroy()

	require.NoError(t, s.Start())
	require.NoError(t, s.(*Stream).Step())
	assert.Equal(t, 2, planes)
	assert.InDelta(t, 0.5, second, sample.Step(sample.Int16))
}

func TestInjectErrorAndXRun(t *testing.T) {
	t.Parallel()

	var codes []uint64
	var xruns []int32
	cb := engine.Callbacks{
		OnBuffer: func(_ engine.Handle, buf *engine.Buffer, _ uintptr) {
			codes = append(codes, buf.Error)
			if buf.Error != 0 {
				assert.Nil(t, buf.Input)
				assert.Nil(t, buf.Output)
			}
		},
		OnXRun: func(index int32, _ uintptr) { xruns = append(xruns, index) },
	}
	s, err := New().OpenStream(engine.StreamParams{Format: duplex(sample.Int32), Interleaved: true}, 1, 1, cb)
	require.NoError(t, err)
	defer s.Destroy()
	vs := s.(*Stream)
	require.NoError(t, s.Start())

	fail := &engine.Error{System: engine.SystemNull, Cause: engine.CauseService, Fault: 42}
	vs.InjectError(fail)
	vs.InjectXRun(-1)
	require.NoError(t, vs.Step())
	require.NoError(t, vs.Step())

	assert.Equal(t, []uint64{engine.ErrorInfo(fail), 0}, codes)
	assert.Equal(t, []int32{-1}, xruns)
}

func TestClockedStreamStops(t *testing.T) {
	t.Parallel()

	var periods atomic.Int32
	e := New(WithClock(true), WithDevice("fast", DeviceConfig{Frames: 48}))
	cb := engine.Callbacks{OnBuffer: func(engine.Handle, *engine.Buffer, uintptr) { periods.Add(1) }}
	s, err := e.OpenStream(engine.StreamParams{Device: "fast", Format: duplex(sample.Int16), Interleaved: true}, 1, 1, cb)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.Error(t, s.(*Stream).Step())
	assert.Eventually(t, func() bool { return periods.Load() >= 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Stop())

	after := periods.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, periods.Load(), "no periods after Stop")

	require.NoError(t, e.Close())
	assert.Error(t, s.Start(), "destroyed by engine close")
}

func TestSine(t *testing.T) {
	t.Parallel()

	g := Sine(12000, 0.5)
	assert.InDelta(t, 0.0, g(0, 0, 48000), 1e-12)
	assert.InDelta(t, 0.5, g(1, 0, 48000), 1e-12)
	assert.InDelta(t, -0.5, g(3, 1, 48000), 1e-12)
}
