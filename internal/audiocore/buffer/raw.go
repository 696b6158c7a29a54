package buffer

import (
	"github.com/tphakala/xtmix/internal/audiocore/engine"
	"github.com/tphakala/xtmix/internal/audiocore/sample"
)

// Raw exposes a native region directly, without copying.
type Raw struct {
	format      sample.Format
	channels    int
	frames      int
	interleaved bool
	region      engine.Region
	views       []sample.View
}

func newRaw(f sample.Format, channels int, interleaved bool) *Raw {
	planes := channels
	if interleaved {
		planes = 1
	}
	return &Raw{
		format:      f,
		channels:    channels,
		interleaved: interleaved,
		views:       make([]sample.View, planes),
	}
}

// bind points the view at region for frames frames. A region too small for
// the negotiated layout is a contract violation and panics.
func (r *Raw) bind(region engine.Region, frames int) {
	if len(region) < len(r.views) {
		panic("buffer: native region has fewer planes than channels")
	}
	per := frames
	if r.interleaved {
		per = frames * r.channels
	}
	for i := range r.views {
		r.views[i] = sample.MustView(region[i], r.format, per)
	}
	r.region = region
	r.frames = frames
}

func (r *Raw) Format() sample.Format { return r.format }
func (r *Raw) Channels() int         { return r.channels }
func (r *Raw) Frames() int           { return r.frames }
func (r *Raw) Interleaved() bool     { return r.interleaved }

// Region returns the native memory of the current period.
func (r *Raw) Region() engine.Region { return r.region }

// View returns the sample view over plane p.
func (r *Raw) View(p int) sample.View { return r.views[p] }

func (r *Raw) At(frame, ch int) float64 {
	if r.interleaved {
		return r.views[0].At(frame*r.channels + ch)
	}
	return r.views[ch].At(frame)
}

func (r *Raw) Set(frame, ch int, v float64) {
	if r.interleaved {
		r.views[0].Set(frame*r.channels+ch, v)
		return
	}
	r.views[ch].Set(frame, v)
}
