package aggregate

import (
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
)

// lockAttempts bounds how often a device thread retries a ring held by the
// other side before giving up on the period.
const lockAttempts = 8

// ring is the byte queue between one member device and the master. Audio
// threads only ever try the lock: a ring that stays busy counts as a short
// transfer. fill mirrors the queued byte count so Latency never touches the
// lock.
type ring struct {
	buf  *ringbuffer.RingBuffer
	fill atomic.Int64
}

func newRing(size int) *ring {
	return &ring{buf: ringbuffer.New(size)}
}

// write queues as much of p as fits and returns the byte count.
func (r *ring) write(p []byte) int {
	for i := 0; i < lockAttempts; i++ {
		n, err := r.buf.TryWrite(p)
		if err == ringbuffer.ErrAcquireLock {
			continue
		}
		r.fill.Add(int64(n))
		return n
	}
	return 0
}

// read fills p from the queue and returns the byte count.
func (r *ring) read(p []byte) int {
	for i := 0; i < lockAttempts; i++ {
		n, err := r.buf.TryRead(p)
		if err == ringbuffer.ErrAcquireLock {
			continue
		}
		r.fill.Add(-int64(n))
		return n
	}
	return 0
}

// queued is the byte count waiting in the ring.
func (r *ring) queued() int { return int(r.fill.Load()) }

// reset empties the ring. Only call it while no device is running.
func (r *ring) reset() {
	r.buf.Reset()
	r.fill.Store(0)
}
