package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/xtmix/internal/audiocore/engine"
	"github.com/tphakala/xtmix/internal/audiocore/mixer"
	"github.com/tphakala/xtmix/internal/audiocore/sample"
	"github.com/tphakala/xtmix/internal/audiocore/sources/virtual"
	"github.com/tphakala/xtmix/internal/audiocore/stream"
	"github.com/tphakala/xtmix/internal/errors"
)

const frames = 4

func constant(v float64) virtual.Generator {
	return func(uint64, int, int32) float64 { return v }
}

// capture keeps the last output period a virtual device produced.
type capture struct {
	interleaved bool
	channels    int
	values      [][]float64
}

func (c *capture) sink(out engine.Region, n int) {
	c.values = make([][]float64, c.channels)
	for ch := range c.values {
		c.values[ch] = make([]float64, n)
		for f := 0; f < n; f++ {
			c.values[ch][f] = sample.Decode(sampleAt(out, c.interleaved, c.channels, f, ch, 4), sample.Float32)
		}
	}
}

// recorder writes 0.1*(ch+1) to every output channel and keeps the last
// input it saw.
type recorder struct {
	inputs [][]float64
	faults []uint64
	xruns  int
}

func (r *recorder) OnBuffer(p *stream.Period) {
	if p.Error != 0 {
		r.faults = append(r.faults, p.Error)
		return
	}
	r.inputs = make([][]float64, p.Input.Channels())
	for ch := range r.inputs {
		r.inputs[ch] = make([]float64, p.Frames)
		for f := 0; f < p.Frames; f++ {
			r.inputs[ch][f] = p.Input.At(f, ch)
		}
	}
	for f := 0; f < p.Frames; f++ {
		for ch := 0; ch < p.Output.Channels(); ch++ {
			p.Output.Set(f, ch, 0.1*float64(ch+1))
		}
	}
}

func (r *recorder) OnXRun(int32) { r.xruns++ }

type rig struct {
	engine *virtual.Engine
	stream *Stream
	master *virtual.Stream
	slave  *virtual.Stream
	mic    *capture
	line   *capture
}

func newRig(t *testing.T, interleaved bool, handler stream.Handler) *rig {
	t.Helper()
	r := &rig{
		mic:  &capture{interleaved: interleaved, channels: 1},
		line: &capture{interleaved: interleaved, channels: 2},
	}
	r.engine = virtual.New(
		virtual.WithDevice("mic", virtual.DeviceConfig{Frames: frames, Generator: constant(0.25), Sink: r.mic.sink}),
		virtual.WithDevice("line", virtual.DeviceConfig{Frames: frames, Generator: constant(0.5), Sink: r.line.sink}),
	)
	s, err := Open(r.engine, Params{
		Mix:         engine.Mix{Rate: 48000, Sample: sample.Float32},
		Interleaved: interleaved,
		Devices: []DeviceParams{
			{Device: "mic", Channels: engine.Channels{Inputs: 1, Outputs: 1}},
			{Device: "line", Channels: engine.Channels{Inputs: 1, Outputs: 2}},
		},
		Master: 0,
		Name:   "rig",
	}, handler)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Destroy()
		_ = r.engine.Close()
	})
	r.stream = s
	r.master = s.Device(0).(*virtual.Stream)
	r.slave = s.Device(1).(*virtual.Stream)
	return r
}

func (r *rig) cycle(t *testing.T) {
	t.Helper()
	require.NoError(t, r.slave.Step())
	require.NoError(t, r.master.Step())
}

func TestAggregateCombinesDevices(t *testing.T) {
	t.Parallel()

	for _, interleaved := range []bool{true, false} {
		h := &recorder{}
		r := newRig(t, interleaved, h)

		format := r.stream.Format()
		assert.Equal(t, int32(2), format.Channels.Inputs)
		assert.Equal(t, int32(3), format.Channels.Outputs)
		n, err := r.stream.Frames()
		require.NoError(t, err)
		assert.Equal(t, int32(frames), n)

		require.NoError(t, r.stream.Start())
		assert.True(t, r.stream.Running())

		r.cycle(t)
		require.Len(t, h.inputs, 2)
		for f := 0; f < frames; f++ {
			assert.InDelta(t, 0.25, h.inputs[0][f], 1e-6, "mic channel")
			assert.InDelta(t, 0.5, h.inputs[1][f], 1e-6, "line channel")
		}
		// Nothing was queued for output yet in the first cycle.
		assert.Equal(t, 2, h.xruns)
		assert.Equal(t, []float64{0, 0, 0, 0}, r.line.values[0])

		r.cycle(t)
		assert.Equal(t, 2, h.xruns, "no shortfall once the rings are primed")
		for f := 0; f < frames; f++ {
			assert.InDelta(t, 0.1, r.mic.values[0][f], 1e-6)
			assert.InDelta(t, 0.2, r.line.values[0][f], 1e-6)
			assert.InDelta(t, 0.3, r.line.values[1][f], 1e-6)
		}

		require.NoError(t, r.stream.Stop())
		assert.False(t, r.stream.Running())
		assert.False(t, r.master.Running())
		assert.False(t, r.slave.Running())
	}
}

func TestAggregateWithMixer(t *testing.T) {
	t.Parallel()

	m := mixer.New(frames)
	r := newRig(t, true, m)
	require.NoError(t, r.stream.Start())
	r.cycle(t)
	r.cycle(t)

	for f := 0; f < frames; f++ {
		assert.InDelta(t, 0.75, r.mic.values[0][f], 1e-6)
		assert.InDelta(t, 0.75, r.line.values[0][f], 1e-6)
		assert.InDelta(t, 0.75, r.line.values[1][f], 1e-6)
	}
	assert.InDelta(t, 1.0, m.Attenuation(), 0)
	assert.Equal(t, int64(2), m.XRuns())
}

func TestAggregateFaultForwardsAndSilences(t *testing.T) {
	t.Parallel()

	h := &recorder{}
	r := newRig(t, true, h)
	require.NoError(t, r.stream.Start())
	r.cycle(t)
	r.cycle(t)

	fail := &engine.Error{System: engine.SystemNull, Cause: engine.CauseService, Fault: 11}
	r.slave.InjectError(fail)
	require.NoError(t, r.slave.Step())
	assert.Empty(t, h.faults, "slave faults wait for the master thread")
	assert.False(t, r.stream.Running())
	require.NotNil(t, r.stream.Fault())
	assert.Equal(t, int32(11), r.stream.Fault().Fault)

	// A second fault before restart is not delivered again.
	r.slave.InjectError(fail)
	require.NoError(t, r.slave.Step())

	h.inputs = nil
	require.NoError(t, r.master.Step())
	assert.Equal(t, []uint64{engine.ErrorInfo(fail)}, h.faults)
	assert.Nil(t, h.inputs, "no consumer period after a fault")
	assert.Equal(t, []float64{0, 0, 0, 0}, r.mic.values[0])

	require.NoError(t, r.master.Step())
	assert.Len(t, h.faults, 1)

	require.NoError(t, r.stream.Stop())
	assert.False(t, r.master.Running())

	// A restart clears the fault.
	require.NoError(t, r.stream.Start())
	assert.Nil(t, r.stream.Fault())
}

func TestAggregateLatencyIncludesRings(t *testing.T) {
	t.Parallel()

	r := newRig(t, true, &recorder{})
	period := float64(frames) * 1000 / 48000

	l, err := r.stream.Latency()
	require.NoError(t, err)
	assert.InDelta(t, period, l.Input, 1e-9)
	assert.InDelta(t, period, l.Output, 1e-9)

	require.NoError(t, r.stream.Start())
	require.NoError(t, r.slave.Step())
	l, err = r.stream.Latency()
	require.NoError(t, err)
	assert.InDelta(t, 2*period, l.Input, 1e-9, "line input queued for the master")
	assert.InDelta(t, period, l.Output, 1e-9)
}

func TestAggregateCallbacksSkipBusyRings(t *testing.T) {
	t.Parallel()

	h := &recorder{}
	r := newRig(t, true, h)
	require.NoError(t, r.stream.Start())
	release := hold(t, r.stream.devices[1].inRing.buf)

	done := make(chan error, 1)
	go func() { done <- r.slave.Step() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "device callback waited for a held ring")
	}

	l, err := r.stream.Latency()
	require.NoError(t, err)
	assert.InDelta(t, float64(frames)*1000/48000, l.Input, 1e-9, "nothing queued")
	assert.Zero(t, h.xruns, "slave xruns wait for the master thread")

	release()
	require.NoError(t, r.master.Step())
	// Slave input and output shortfalls, then master output and the missing
	// slave input in the mix.
	assert.Equal(t, 4, h.xruns)
}

func TestAggregateStopAndDestroyAreIdempotent(t *testing.T) {
	t.Parallel()

	r := newRig(t, true, &recorder{})
	require.NoError(t, r.stream.Stop(), "stop before start")
	require.NoError(t, r.stream.Start())
	require.NoError(t, r.stream.Start())
	require.NoError(t, r.stream.Stop())
	require.NoError(t, r.stream.Stop())

	r.stream.Destroy()
	r.stream.Destroy()
	err := r.stream.Start()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestAggregateStoppedDevicesWriteSilence(t *testing.T) {
	t.Parallel()

	r := newRig(t, true, &recorder{})
	require.NoError(t, r.stream.Start())
	r.cycle(t)
	r.cycle(t)
	require.NoError(t, r.stream.Stop())

	// Drive the member directly as a backend would while stopping.
	buf := &engine.Buffer{
		Output: engine.Region{make([]byte, frames*2*4)},
		Frames: frames,
	}
	for i := range buf.Output[0] {
		buf.Output[0][i] = 0xAA
	}
	r.stream.onBuffer(1, buf, 1)
	assert.Equal(t, make([]byte, frames*2*4), buf.Output[0])
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	e := virtual.New()
	mix := engine.Mix{Rate: 48000, Sample: sample.Int16}
	one := []DeviceParams{{Device: virtual.DefaultDevice, Channels: engine.Channels{Inputs: 1}}}

	cases := []struct {
		name   string
		params Params
	}{
		{"no devices", Params{Mix: mix}},
		{"master out of range", Params{Mix: mix, Devices: one, Master: 1}},
		{"bad mix", Params{Mix: engine.Mix{Rate: 0, Sample: sample.Int16}, Devices: one}},
		{"empty device", Params{Mix: mix, Devices: []DeviceParams{{Device: virtual.DefaultDevice}}}},
		{"bad mask", Params{Mix: mix, Devices: []DeviceParams{{
			Device:   virtual.DefaultDevice,
			Channels: engine.Channels{Inputs: 1, InMask: 0b11},
		}}}},
	}
	for _, tc := range cases {
		_, err := Open(e, tc.params, &recorder{})
		require.Error(t, err, tc.name)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation), tc.name)
	}

	_, err := Open(e, Params{Mix: mix, Devices: one}, nil)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestOpenFailureReleasesOpenedDevices(t *testing.T) {
	t.Parallel()

	e := virtual.New()
	defer func() { _ = e.Close() }()
	_, err := Open(e, Params{
		Mix: engine.Mix{Rate: 48000, Sample: sample.Int16},
		Devices: []DeviceParams{
			{Device: virtual.DefaultDevice, Channels: engine.Channels{Inputs: 1}},
			{Device: "missing", Channels: engine.Channels{Outputs: 1}},
		},
	}, &recorder{})
	require.Error(t, err)
	var nerr *engine.Error
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, engine.CauseEndpoint, nerr.Cause)
	assert.True(t, errors.IsCategory(err, errors.CategoryAudioSource))
}

func TestWeaveRoundTrip(t *testing.T) {
	t.Parallel()

	const size = 2
	for _, interleaved := range []bool{true, false} {
		combined := engine.NewRegion(sample.Int16, 3, 2, interleaved)
		// Device with two channels placed at offset 1.
		src := []byte{1, 0, 2, 0, 3, 0, 4, 0}
		weave(combined, interleaved, 3, 1, src, 2, 2, size)

		assert.Equal(t, []byte{0, 0}, sampleAt(combined, interleaved, 3, 0, 0, size))
		assert.Equal(t, []byte{1, 0}, sampleAt(combined, interleaved, 3, 0, 1, size))
		assert.Equal(t, []byte{4, 0}, sampleAt(combined, interleaved, 3, 1, 2, size))

		dst := make([]byte, len(src))
		unweave(dst, combined, interleaved, 3, 1, 2, 2, size)
		assert.Equal(t, src, dst)

		native := engine.NewRegion(sample.Int16, 2, 2, interleaved)
		scatter(native, src, interleaved, 2, 2, size)
		back := make([]byte, len(src))
		gather(back, native, interleaved, 2, 2, size)
		assert.Equal(t, src, back)
	}
}
