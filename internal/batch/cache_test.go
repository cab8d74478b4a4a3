package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memscope-index/internal/format"
	"github.com/memscope-index/internal/parser"
)

var ptrSize = format.NewFieldSet(format.FieldPtr, format.FieldSize)

func record(offset, ptr uint64) *parser.PartialRecord {
	return &parser.PartialRecord{
		Offset: offset,
		Ptr:    parser.Some(ptr),
		Size:   parser.Some(ptr * 2),
	}
}

func TestCache_EvictsLeastAccessed(t *testing.T) {
	now := time.Unix(100, 0)
	c := NewCache(2)

	c.Put(10, record(10, 1), ptrSize, 40, now)
	c.Put(20, record(20, 2), ptrSize, 40, now.Add(time.Second))
	_, _, ok := c.Get(10, ptrSize)
	require.True(t, ok)

	assert.Equal(t, 1, c.Put(30, record(30, 3), ptrSize, 40, now.Add(2*time.Second)))
	assert.True(t, c.Contains(10, ptrSize))
	assert.False(t, c.Contains(20, ptrSize))
	assert.True(t, c.Contains(30, ptrSize))
}

func TestCache_TieBreaks(t *testing.T) {
	t.Run("older insertion first", func(t *testing.T) {
		now := time.Unix(100, 0)
		c := NewCache(2)
		c.Put(10, record(10, 1), ptrSize, 1, now)
		c.Put(20, record(20, 2), ptrSize, 1, now.Add(-time.Second))
		c.Put(30, record(30, 3), ptrSize, 1, now)

		assert.True(t, c.Contains(10, ptrSize))
		assert.False(t, c.Contains(20, ptrSize))
	})

	t.Run("same time uses insertion order", func(t *testing.T) {
		now := time.Unix(100, 0)
		c := NewCache(2)
		c.Put(10, record(10, 1), ptrSize, 1, now)
		c.Put(20, record(20, 2), ptrSize, 1, now)
		c.Put(30, record(30, 3), ptrSize, 1, now)

		assert.False(t, c.Contains(10, ptrSize))
		assert.True(t, c.Contains(20, ptrSize))
	})
}

func TestCache_CoverageAndProjection(t *testing.T) {
	c := NewCache(4)
	c.Put(10, record(10, 7), ptrSize, 40, time.Unix(0, 0))

	got, size, ok := c.Get(10, format.NewFieldSet(format.FieldPtr))
	require.True(t, ok)
	assert.Equal(t, uint64(40), size)
	assert.Equal(t, uint64(7), got.Ptr.OrElse(0))
	assert.Equal(t, parser.NotRequested, got.Size.State())

	_, _, ok = c.Get(10, format.NewFieldSet(format.FieldVarName))
	assert.False(t, ok)
	_, _, ok = c.Get(99, ptrSize)
	assert.False(t, ok)
}

func TestCache_IsolatesCallers(t *testing.T) {
	c := NewCache(4)
	rec := record(10, 7)
	c.Put(10, rec, ptrSize, 40, time.Unix(0, 0))
	rec.Ptr = parser.Some[uint64](1)

	got, _, ok := c.Get(10, ptrSize)
	require.True(t, ok)
	assert.Equal(t, uint64(7), got.Ptr.OrElse(0))

	got.Ptr = parser.Some[uint64](2)
	again, _, _ := c.Get(10, ptrSize)
	assert.Equal(t, uint64(7), again.Ptr.OrElse(0))
}

func TestCache_ReplaceAndClear(t *testing.T) {
	c := NewCache(4)
	c.Put(10, record(10, 1), ptrSize, 40, time.Unix(0, 0))
	c.Put(10, record(10, 1), format.FullFieldSet, 40, time.Unix(1, 0))

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Contains(10, format.NewFieldSet(format.FieldVarName)))

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Contains(10, ptrSize))
}

func TestCache_Bound(t *testing.T) {
	c := NewCache(10)
	evicted := 0
	for i := uint64(0); i < 100; i++ {
		evicted += c.Put(i*64, record(i*64, i), ptrSize, 64, time.Unix(int64(i), 0))
		if i%3 == 0 {
			c.Get(i*64, ptrSize)
		}
		assert.LessOrEqual(t, c.Len(), 10)
	}
	assert.Equal(t, 90, evicted)
	assert.Len(t, c.queue, c.Len())
}
