package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/xtmix/internal/audiocore/engine"
	"github.com/tphakala/xtmix/internal/audiocore/sample"
)

var allFormats = []sample.Format{sample.UInt8, sample.Int16, sample.Int24, sample.Int32, sample.Float32}

func testFormat(f sample.Format, ins, outs int32) engine.Format {
	return engine.Format{
		Mix:      engine.Mix{Rate: 48000, Sample: f},
		Channels: engine.Channels{Inputs: ins, Outputs: outs},
	}
}

// fill writes value(frame, ch) into a native region in the given layout.
func fill(r engine.Region, f sample.Format, channels, frames int, interleaved bool, value func(frame, ch int) float64) {
	size := f.Size()
	for fr := 0; fr < frames; fr++ {
		for ch := 0; ch < channels; ch++ {
			if interleaved {
				sample.Encode(r[0][(fr*channels+ch)*size:], value(fr, ch), f)
				continue
			}
			sample.Encode(r[ch][fr*size:], value(fr, ch), f)
		}
	}
}

func ramp(frame, ch int) float64 {
	return float64(frame+1)*0.05 - float64(ch)*0.3
}

func TestLockDecodesNativeSamples(t *testing.T) {
	t.Parallel()

	for _, f := range allFormats {
		for _, interleaved := range []bool{true, false} {
			for _, raw := range []bool{false, true} {
				t.Run(f.String(), func(t *testing.T) {
					t.Parallel()
					const channels, frames = 3, 8
					a := NewAdapter(testFormat(f, channels, 0), frames, interleaved, raw)
					buf := &engine.Buffer{Frames: frames, Input: engine.NewRegion(f, channels, frames, interleaved)}
					fill(buf.Input, f, channels, frames, interleaved, ramp)

					in := a.Lock(buf)
					require.NotNil(t, in)
					assert.Equal(t, frames, in.Frames())
					assert.Equal(t, channels, in.Channels())
					assert.Equal(t, interleaved, in.Interleaved())
					for fr := 0; fr < frames; fr++ {
						for ch := 0; ch < channels; ch++ {
							assert.InDelta(t, ramp(fr, ch), in.At(fr, ch), sample.Step(f)+1e-7)
						}
					}
				})
			}
		}
	}
}

func TestLayoutEquivalence(t *testing.T) {
	t.Parallel()

	for _, f := range allFormats {
		t.Run(f.String(), func(t *testing.T) {
			t.Parallel()
			const channels, frames = 2, 16
			il := NewAdapter(testFormat(f, channels, 0), frames, true, false)
			ni := NewAdapter(testFormat(f, channels, 0), frames, false, false)

			ilBuf := &engine.Buffer{Frames: frames, Input: engine.NewRegion(f, channels, frames, true)}
			niBuf := &engine.Buffer{Frames: frames, Input: engine.NewRegion(f, channels, frames, false)}
			fill(ilBuf.Input, f, channels, frames, true, ramp)
			fill(niBuf.Input, f, channels, frames, false, ramp)

			a, b := il.Lock(ilBuf), ni.Lock(niBuf)
			for fr := 0; fr < frames; fr++ {
				for ch := 0; ch < channels; ch++ {
					assert.Equal(t, a.At(fr, ch), b.At(fr, ch), "frame %d channel %d", fr, ch)
				}
			}
		})
	}
}

func TestUnlockEncodesOutput(t *testing.T) {
	t.Parallel()

	for _, f := range allFormats {
		for _, interleaved := range []bool{true, false} {
			t.Run(f.String(), func(t *testing.T) {
				t.Parallel()
				const channels, frames = 2, 4
				a := NewAdapter(testFormat(f, 0, channels), frames, interleaved, false)
				buf := &engine.Buffer{Frames: frames, Output: engine.NewRegion(f, channels, frames, interleaved)}

				assert.Nil(t, a.Lock(buf))
				out := a.Output(buf)
				require.NotNil(t, out)
				for fr := 0; fr < frames; fr++ {
					for ch := 0; ch < channels; ch++ {
						out.Set(fr, ch, ramp(fr, ch))
					}
				}
				a.Unlock(buf)

				view := NewAdapter(testFormat(f, channels, 0), frames, interleaved, true)
				back := view.Lock(&engine.Buffer{Frames: frames, Input: buf.Output})
				for fr := 0; fr < frames; fr++ {
					for ch := 0; ch < channels; ch++ {
						assert.InDelta(t, ramp(fr, ch), back.At(fr, ch), sample.Step(f)+1e-7)
					}
				}
			})
		}
	}
}

func TestOnlyPeriodFramesTouched(t *testing.T) {
	t.Parallel()

	const channels, capacity = 2, 8
	f := sample.Int16
	a := NewAdapter(testFormat(f, 0, channels), capacity, true, false)
	buf := &engine.Buffer{Frames: 3, Output: engine.NewRegion(f, channels, capacity, true)}
	for i := range buf.Output[0] {
		buf.Output[0][i] = 0xAA
	}

	out := a.Output(buf)
	assert.Equal(t, 3, out.Frames())
	for fr := 0; fr < 3; fr++ {
		out.Set(fr, 0, 0)
		out.Set(fr, 1, 0)
	}
	a.Unlock(buf)

	written := 3 * channels * f.Size()
	for i, b := range buf.Output[0] {
		if i < written {
			assert.Equal(t, byte(0), b, "byte %d", i)
			continue
		}
		assert.Equal(t, byte(0xAA), b, "byte %d", i)
	}
}

func TestAbsentDirections(t *testing.T) {
	t.Parallel()

	a := NewAdapter(testFormat(sample.Float32, 2, 2), 4, true, false)
	buf := &engine.Buffer{Frames: 4}
	assert.Nil(t, a.Lock(buf))
	assert.Nil(t, a.Output(buf))
	assert.NotPanics(t, func() { a.Unlock(buf) })

	noInputs := NewAdapter(testFormat(sample.Float32, 0, 2), 4, true, false)
	withInput := &engine.Buffer{Frames: 4, Input: engine.NewRegion(sample.Float32, 2, 4, true)}
	assert.Nil(t, noInputs.Lock(withInput))
}

func TestFramesOverCapacityPanics(t *testing.T) {
	t.Parallel()

	a := NewAdapter(testFormat(sample.Int32, 1, 1), 4, false, false)
	buf := &engine.Buffer{
		Frames: 5,
		Input:  engine.NewRegion(sample.Int32, 1, 8, false),
		Output: engine.NewRegion(sample.Int32, 1, 8, false),
	}
	assert.Panics(t, func() { a.Lock(buf) })
	assert.Panics(t, func() { a.Unlock(buf) })
}

func TestRawModeWritesThrough(t *testing.T) {
	t.Parallel()

	f := sample.Int16
	a := NewAdapter(testFormat(f, 0, 2), 4, false, true)
	buf := &engine.Buffer{Frames: 4, Output: engine.NewRegion(f, 2, 4, false)}

	out := a.Output(buf)
	require.IsType(t, &Raw{}, out)
	out.Set(2, 1, 0.5)

	raw := out.(*Raw)
	assert.Equal(t, int16(16384), raw.View(1).Int16(2))
	assert.Equal(t, buf.Output, raw.Region())

	a.Unlock(buf)
	assert.Equal(t, int16(16384), raw.View(1).Int16(2))
}

func TestTypedPlanes(t *testing.T) {
	t.Parallel()

	a := NewAdapter(testFormat(sample.Int16, 2, 0), 2, true, false)
	buf := &engine.Buffer{Frames: 2, Input: engine.NewRegion(sample.Int16, 2, 2, true)}
	v := sample.MustView(buf.Input[0], sample.Int16, 4)
	v.SetInt16(0, 10000)
	v.SetInt16(1, 5000)
	v.SetInt16(2, -20000)
	v.SetInt16(3, 5000)

	in := a.Lock(buf).(*Adapted)
	assert.Equal(t, []int16{10000, 5000, -20000, 5000}, in.Int16Plane(0))
	assert.Equal(t, 1, in.Planes())
	assert.Nil(t, in.Float32Plane(0))

	i24 := NewAdapted(sample.Int24, 2, 3, false)
	assert.Len(t, i24.Int24Plane(1), 9)
	assert.Equal(t, 2, i24.Planes())
}

func TestLockUnlockDoNotAllocate(t *testing.T) {
	const channels, frames = 2, 64
	f := sample.Float32
	a := NewAdapter(testFormat(f, channels, channels), frames, false, false)
	buf := &engine.Buffer{
		Frames: frames,
		Input:  engine.NewRegion(f, channels, frames, false),
		Output: engine.NewRegion(f, channels, frames, false),
	}

	allocs := testing.AllocsPerRun(100, func() {
		in := a.Lock(buf)
		out := a.Output(buf)
		for fr := 0; fr < frames; fr++ {
			out.Set(fr, 0, in.At(fr, 1))
		}
		a.Unlock(buf)
	})
	assert.Zero(t, allocs)
}
