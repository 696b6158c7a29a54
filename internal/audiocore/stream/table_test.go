package stream

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/xtmix/internal/audiocore/engine"
	"github.com/tphakala/xtmix/internal/errors"
)

func TestTableLifecycle(t *testing.T) {
	t.Parallel()

	tbl := NewTable[int](2)
	h, err := tbl.Reserve()
	require.NoError(t, err)
	assert.Nil(t, tbl.Lookup(h), "reserved but unpublished")

	v := 42
	require.True(t, tbl.Publish(h, &v))
	assert.Same(t, &v, tbl.Lookup(h))
	assert.Equal(t, 1, tbl.Len())
	assert.Equal(t, 2, tbl.Cap())

	tbl.Release(h)
	assert.Nil(t, tbl.Lookup(h))
	assert.False(t, tbl.Publish(h, &v), "stale handle cannot publish")
	assert.Equal(t, 0, tbl.Len())

	// The slot is reused under a new generation.
	h2, err := tbl.Reserve()
	require.NoError(t, err)
	h3, err := tbl.Reserve()
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
	assert.NotEqual(t, h2, h3)
	assert.Nil(t, tbl.Lookup(h))

	tbl.Release(h) // stale, no-op
	assert.Equal(t, 2, tbl.Len())
}

func TestTableFull(t *testing.T) {
	t.Parallel()

	tbl := NewTable[int](1)
	_, err := tbl.Reserve()
	require.NoError(t, err)
	_, err = tbl.Reserve()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryLimit))
}

func TestTableLookupRejectsGarbage(t *testing.T) {
	t.Parallel()

	tbl := NewTable[int](4)
	assert.Nil(t, tbl.Lookup(0))
	assert.Nil(t, tbl.Lookup(engine.Handle(1<<32|99)))
	assert.Nil(t, tbl.Lookup(engine.Handle(7<<32|1)))
}

func TestTableLookupDoesNotAllocate(t *testing.T) {
	tbl := NewTable[int](8)
	h, err := tbl.Reserve()
	require.NoError(t, err)
	v := 1
	tbl.Publish(h, &v)

	allocs := testing.AllocsPerRun(1000, func() {
		if tbl.Lookup(h) == nil {
			t.Fatal("lookup failed")
		}
	})
	assert.Zero(t, allocs)
}

func TestTableConcurrentLookupAndRelease(t *testing.T) {
	t.Parallel()

	tbl := NewTable[int](4)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				h, err := tbl.Reserve()
				if err != nil {
					continue
				}
				v := i
				tbl.Publish(h, &v)
				if got := tbl.Lookup(h); got != nil {
					assert.Equal(t, i, *got)
				}
				tbl.Release(h)
				assert.Nil(t, tbl.Lookup(h))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, tbl.Len())
}

func TestTableAtResolvesBySlot(t *testing.T) {
	t.Parallel()

	tbl := NewTable[int](2)
	h, err := tbl.Reserve()
	require.NoError(t, err)
	assert.Nil(t, tbl.At(uint32(h)), "reserved but unpublished")

	v := 7
	require.True(t, tbl.Publish(h, &v))
	assert.Same(t, &v, tbl.At(uint32(h)))
	assert.Nil(t, tbl.At(5), "out of range")

	tbl.Release(h)
	assert.Nil(t, tbl.At(uint32(h)))
}
