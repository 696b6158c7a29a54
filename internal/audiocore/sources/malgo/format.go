package malgo

import (
	"math"
	"runtime"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/xtmix/internal/audiocore/engine"
	"github.com/tphakala/xtmix/internal/audiocore/sample"
)

// formatType maps a sample format to its malgo equivalent.
func formatType(f sample.Format) malgo.FormatType {
	switch f {
	case sample.UInt8:
		return malgo.FormatU8
	case sample.Int16:
		return malgo.FormatS16
	case sample.Int24:
		return malgo.FormatS24
	case sample.Int32:
		return malgo.FormatS32
	case sample.Float32:
		return malgo.FormatF32
	default:
		return malgo.FormatUnknown
	}
}

// sampleFormat is the inverse of formatType.
func sampleFormat(f malgo.FormatType) (sample.Format, bool) {
	switch f {
	case malgo.FormatU8:
		return sample.UInt8, true
	case malgo.FormatS16:
		return sample.Int16, true
	case malgo.FormatS24:
		return sample.Int24, true
	case malgo.FormatS32:
		return sample.Int32, true
	case malgo.FormatF32:
		return sample.Float32, true
	default:
		return 0, false
	}
}

// platformBackend returns the appropriate malgo backend for the current platform
func platformBackend() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}

// systemOf names the host system a malgo backend talks to.
func systemOf(b malgo.Backend) engine.System {
	switch b {
	case malgo.BackendAlsa:
		return engine.SystemALSA
	case malgo.BackendWasapi:
		return engine.SystemWASAPI
	case malgo.BackendCoreaudio:
		return engine.SystemCoreAudio
	case malgo.BackendPulseaudio:
		return engine.SystemPulseAudio
	case malgo.BackendJack:
		return engine.SystemJACK
	case malgo.BackendDsound:
		return engine.SystemDirectSound
	default:
		return engine.SystemNull
	}
}

// deviceType picks capture, playback or duplex from the channel counts.
func deviceType(c engine.Channels) malgo.DeviceType {
	switch {
	case c.Inputs > 0 && c.Outputs > 0:
		return malgo.Duplex
	case c.Inputs > 0:
		return malgo.Capture
	default:
		return malgo.Playback
	}
}

// periodFrames converts a period length in milliseconds to frames.
func periodFrames(rate int32, ms float64) uint32 {
	if ms <= 0 {
		ms = DefaultBufferSize
	}
	return uint32(max(math.Round(float64(rate)*ms/1000), 1))
}

// deinterleave splits frames of interleaved samples into planes.
func deinterleave(planes [][]byte, src []byte, channels, frames, size int) {
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			off := (f*channels + ch) * size
			copy(planes[ch][f*size:(f+1)*size], src[off:off+size])
		}
	}
}

// interleave merges planes into interleaved samples.
func interleave(dst []byte, planes [][]byte, channels, frames, size int) {
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			off := (f*channels + ch) * size
			copy(dst[off:off+size], planes[ch][f*size:(f+1)*size])
		}
	}
}
