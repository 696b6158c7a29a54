package aggregate

import (
	"io"
	"sync"
	"testing"

	"github.com/smallnest/ringbuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stalledReader parks ReadFrom, which holds the ring lock while it reads.
type stalledReader struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *stalledReader) Read([]byte) (int, error) {
	r.once.Do(func() { close(r.entered) })
	<-r.release
	return 0, io.EOF
}

// hold keeps the lock of rb taken from another goroutine until the returned
// function is called.
func hold(t *testing.T, rb *ringbuffer.RingBuffer) func() {
	t.Helper()
	rb.SetBlocking(true)
	r := &stalledReader{entered: make(chan struct{}), release: make(chan struct{})}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = rb.ReadFrom(r)
	}()
	<-r.entered

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(r.release)
			<-done
			rb.SetBlocking(false)
		})
	}
	t.Cleanup(release)
	return release
}

func TestRingTracksFill(t *testing.T) {
	t.Parallel()

	r := newRing(8)
	assert.Equal(t, 6, r.write([]byte{1, 2, 3, 4, 5, 6}))
	assert.Equal(t, 6, r.queued())
	assert.Equal(t, 2, r.write([]byte{7, 8, 9}), "only what fits")
	assert.Equal(t, 8, r.queued())

	p := make([]byte, 5)
	assert.Equal(t, 5, r.read(p))
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, p)
	assert.Equal(t, 3, r.queued())

	r.reset()
	assert.Equal(t, 0, r.queued())
	assert.Equal(t, 0, r.read(p), "empty after reset")
}

func TestRingGivesUpOnBusyLock(t *testing.T) {
	t.Parallel()

	r := newRing(8)
	require.Equal(t, 4, r.write([]byte{1, 2, 3, 4}))
	release := hold(t, r.buf)

	assert.Equal(t, 0, r.write([]byte{5, 6}))
	assert.Equal(t, 0, r.read(make([]byte, 4)))
	assert.Equal(t, 4, r.queued(), "fill is readable while the lock is held")

	release()
	p := make([]byte, 4)
	assert.Equal(t, 4, r.read(p))
	assert.Equal(t, []byte{1, 2, 3, 4}, p)
	assert.Equal(t, 0, r.queued())
}
