package export

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/xtmix/internal/audiocore/stream"
	"github.com/tphakala/xtmix/internal/errors"
	"github.com/tphakala/xtmix/internal/logging"
	"github.com/tphakala/xtmix/internal/observability/metrics"
)

// drainChunk bounds how long the drain goroutine holds the ring lock per read.
const drainChunk = 4096

// writeAttempts bounds how often the callback retries a ring the drain
// goroutine holds.
const writeAttempts = 8

// Recorder wraps a stream handler and records output channel 0 of every
// period. The callback side never waits for the ring lock: audio that does
// not fit in the ring, or finds it busy, is dropped and counted.
type Recorder struct {
	inner   stream.Handler
	config  Config
	ring    *ringbuffer.RingBuffer
	scratch []byte
	metrics *metrics.StreamRecorder
	log     *slog.Logger

	written atomic.Int64
	dropped atomic.Int64

	mu      sync.Mutex
	path    string
	cancel  context.CancelFunc
	done    chan error
	started bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithRecorderMetrics reports written and dropped bytes.
func WithRecorderMetrics(r *metrics.StreamRecorder) Option {
	return func(rec *Recorder) { rec.metrics = r }
}

// NewRecorder wraps inner. maxFrames is the largest period the stream
// delivers.
func NewRecorder(inner stream.Handler, config *Config, maxFrames int, opts ...Option) (*Recorder, error) {
	if inner == nil {
		return nil, errors.Newf("recorder requires a handler").
			Component("export").
			Category(errors.CategoryValidation).
			Build()
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	r := &Recorder{
		inner:   inner,
		config:  *config,
		ring:    ringbuffer.New(config.RingBytes()),
		scratch: make([]byte, maxFrames*BitDepth/8),
		log:     logging.ForService("export"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Path is the file being written. It is empty before Start.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Written is the number of bytes queued for the file.
func (r *Recorder) Written() int64 { return r.written.Load() }

// Dropped is the number of bytes lost to a full ring.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

func (r *Recorder) OnBuffer(p *stream.Period) {
	r.inner.OnBuffer(p)
	if p.Error != 0 || p.Output == nil || p.Output.Channels() == 0 {
		return
	}

	n := min(p.Frames, len(r.scratch)/2)
	for f := 0; f < n; f++ {
		binary.LittleEndian.PutUint16(r.scratch[f*2:], uint16(toInt16(p.Output.At(f, 0))))
	}
	want := n * 2
	written := r.push(r.scratch[:want])
	r.written.Add(int64(written))
	if written < want {
		r.dropped.Add(int64(want - written))
	}
	r.metrics.RecordRecorderWrite(written, want-written)
}

func (r *Recorder) push(p []byte) int {
	for i := 0; i < writeAttempts; i++ {
		n, err := r.ring.TryWrite(p)
		if err != ringbuffer.ErrAcquireLock {
			return n
		}
	}
	return 0
}

func (r *Recorder) OnXRun(index int32) { r.inner.OnXRun(index) }

func toInt16(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-1, math.Min(1, v))
	return int16(math.Round(v * math.MaxInt16))
}

// Start creates the output file and runs the drain goroutine until ctx is
// done or Close is called.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.Newf("recorder already started").
			Component("export").
			Category(errors.CategoryState).
			Build()
	}

	path := GenerateFileName(r.config.PathTemplate, r.config.Stream, time.Now())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Component("export").
			Category(errors.CategoryFileIO).
			Context("operation", "create_directory").
			Context("path", path).
			Build()
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.New(err).
			Component("export").
			Category(errors.CategoryFileIO).
			Context("operation", "create_file").
			Context("path", path).
			Build()
	}

	ctx, cancel := context.WithCancel(ctx)
	r.path = path
	r.cancel = cancel
	r.done = make(chan error, 1)
	r.started = true

	enc := wav.NewEncoder(file, r.config.SampleRate, BitDepth, NumChannels, 1)
	go func() { r.done <- r.drain(ctx, file, enc) }()

	r.log.Info("bus recording started", "path", path, "rate", r.config.SampleRate)
	return nil
}

func (r *Recorder) drain(ctx context.Context, file *os.File, enc *wav.Encoder) error {
	chunk := make([]byte, min(r.ring.Capacity(), drainChunk))
	buf := &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: r.config.SampleRate, NumChannels: NumChannels},
		Data:           make([]int, len(chunk)/2),
		SourceBitDepth: BitDepth,
	}

	flush := func() error {
		for {
			n, _ := r.ring.Read(chunk)
			if n == 0 {
				return nil
			}
			samples := n / 2
			for i := 0; i < samples; i++ {
				buf.Data[i] = int(int16(binary.LittleEndian.Uint16(chunk[i*2:])))
			}
			full := buf.Data
			buf.Data = full[:samples]
			err := enc.Write(buf)
			buf.Data = full
			if err != nil {
				return errors.New(err).
					Component("export").
					Category(errors.CategoryFileIO).
					Context("operation", "encode_wav").
					Build()
			}
		}
	}

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	var werr error
	for werr == nil {
		select {
		case <-ctx.Done():
			werr = flush()
			return finalize(enc, file, werr)
		case <-ticker.C:
			werr = flush()
		}
	}
	return finalize(enc, file, werr)
}

func finalize(enc *wav.Encoder, file *os.File, werr error) error {
	cerr := enc.Close()
	ferr := file.Close()
	if werr != nil {
		return werr
	}
	if cerr != nil {
		return errors.New(cerr).
			Component("export").
			Category(errors.CategoryFileIO).
			Context("operation", "finalize_wav").
			Build()
	}
	if ferr != nil {
		return errors.New(ferr).
			Component("export").
			Category(errors.CategoryFileIO).
			Context("operation", "close_file").
			Build()
	}
	return nil
}

// Close flushes queued audio and finalizes the file. It is a no-op before
// Start and safe to call twice.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.started || r.cancel == nil {
		r.mu.Unlock()
		return nil
	}
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	err := <-done
	r.log.Info("bus recording finished",
		"path", r.Path(),
		"bytes", r.written.Load(),
		"dropped", r.dropped.Load())
	return err
}

var _ stream.Handler = (*Recorder)(nil)
