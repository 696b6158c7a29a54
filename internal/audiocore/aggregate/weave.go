package aggregate

import "github.com/tphakala/xtmix/internal/audiocore/engine"

// sampleAt returns the bytes of one sample inside a native region.
func sampleAt(r engine.Region, interleaved bool, channels, frame, ch, size int) []byte {
	if interleaved {
		off := (frame*channels + ch) * size
		return r[0][off : off+size]
	}
	off := frame * size
	return r[ch][off : off+size]
}

// gather copies frames of a native region into interleaved bytes.
func gather(dst []byte, src engine.Region, interleaved bool, channels, frames, size int) {
	if interleaved {
		copy(dst[:frames*channels*size], src[0])
		return
	}
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			off := (f*channels + ch) * size
			copy(dst[off:off+size], src[ch][f*size:])
		}
	}
}

// scatter copies interleaved bytes into a native region.
func scatter(dst engine.Region, src []byte, interleaved bool, channels, frames, size int) {
	if interleaved {
		copy(dst[0], src[:frames*channels*size])
		return
	}
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			off := (f*channels + ch) * size
			copy(dst[ch][f*size:], src[off:off+size])
		}
	}
}

// weave places the channels of one device, stored interleaved in src, at
// channel offset first of the combined region dst.
func weave(dst engine.Region, interleaved bool, total, first int, src []byte, channels, frames, size int) {
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			off := (f*channels + ch) * size
			copy(sampleAt(dst, interleaved, total, f, first+ch, size), src[off:off+size])
		}
	}
}

// unweave extracts the channels of one device from the combined region src
// into interleaved bytes.
func unweave(dst []byte, src engine.Region, interleaved bool, total, first, channels, frames, size int) {
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			off := (f*channels + ch) * size
			copy(dst[off:off+size], sampleAt(src, interleaved, total, f, first+ch, size))
		}
	}
}

func zeroRegion(r engine.Region) {
	for _, plane := range r {
		clear(plane)
	}
}
