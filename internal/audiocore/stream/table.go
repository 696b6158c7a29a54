package stream

import (
	"sync"
	"sync/atomic"

	"github.com/tphakala/xtmix/internal/audiocore/engine"
	"github.com/tphakala/xtmix/internal/errors"
)

// DefaultCapacity is the slot count of a Dispatcher's table.
const DefaultCapacity = 64

type slot[T any] struct {
	value atomic.Pointer[T]
	gen   atomic.Uint32
}

// Table maps handles to values. Reserve and Release serialize on a mutex;
// Lookup is a pair of atomic loads and never blocks or allocates.
//
// A handle packs the slot generation in its upper 32 bits and the slot index
// in the lower 32. Releasing a slot bumps its generation, so stale handles
// resolve to nil.
type Table[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
	used  int
}

// NewTable allocates a table with a fixed number of slots.
func NewTable[T any](capacity int) *Table[T] {
	t := &Table[T]{
		slots: make([]slot[T], capacity),
		free:  make([]uint32, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		t.slots[i].gen.Store(1)
		t.free = append(t.free, uint32(i))
	}
	return t
}

func makeHandle(index, gen uint32) engine.Handle {
	return engine.Handle(uint64(gen)<<32 | uint64(index))
}

// Reserve claims a free slot. The slot resolves to nil until Publish.
func (t *Table[T]) Reserve() (engine.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.free) == 0 {
		return 0, errors.New(nil).
			Component("stream").
			Category(errors.CategoryLimit).
			Context("error", "stream table full").
			Context("capacity", len(t.slots)).
			Build()
	}
	index := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	t.used++
	return makeHandle(index, t.slots[index].gen.Load()), nil
}

// Publish makes v visible to Lookup under h. It reports false for a handle
// that no longer owns its slot.
func (t *Table[T]) Publish(h engine.Handle, v *T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.slot(h)
	if s == nil {
		return false
	}
	s.value.Store(v)
	return true
}

// Lookup resolves h. It returns nil for unknown, unpublished or released
// handles.
func (t *Table[T]) Lookup(h engine.Handle) *T {
	index, gen := uint32(h), uint32(h>>32)
	if int(index) >= len(t.slots) {
		return nil
	}
	s := &t.slots[index]
	if s.gen.Load() != gen {
		return nil
	}
	v := s.value.Load()
	if s.gen.Load() != gen {
		return nil
	}
	return v
}

// At resolves the value currently published in slot index, whatever its
// generation. Like Lookup it never blocks or allocates.
func (t *Table[T]) At(index uint32) *T {
	if int(index) >= len(t.slots) {
		return nil
	}
	s := &t.slots[index]
	for {
		gen := s.gen.Load()
		v := s.value.Load()
		if s.gen.Load() == gen {
			return v
		}
	}
}

// Release frees the slot behind h. Releasing a stale handle is a no-op.
func (t *Table[T]) Release(h engine.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.slot(h)
	if s == nil {
		return
	}
	s.value.Store(nil)
	next := s.gen.Add(1)
	if next == 0 {
		s.gen.Store(1)
	}
	t.free = append(t.free, uint32(h))
	t.used--
}

// Len returns the number of reserved slots.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

// Cap returns the slot count.
func (t *Table[T]) Cap() int { return len(t.slots) }

func (t *Table[T]) slot(h engine.Handle) *slot[T] {
	index, gen := uint32(h), uint32(h>>32)
	if int(index) >= len(t.slots) {
		return nil
	}
	s := &t.slots[index]
	if s.gen.Load() != gen {
		return nil
	}
	return s
}
