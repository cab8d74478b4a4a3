package batch

import (
	"container/heap"
	"time"

	"github.com/memscope-index/internal/format"
	"github.com/memscope-index/internal/parser"
)

type cacheEntry struct {
	offset      uint64
	record      *parser.PartialRecord
	fields      format.FieldSet
	size        uint64
	insertedAt  time.Time
	accessCount uint64
	seq         uint64
	index       int
}

// evictionQueue is a min-heap on (access count, insertion time, sequence).
type evictionQueue []*cacheEntry

var _ heap.Interface = (*evictionQueue)(nil)

func (q evictionQueue) Len() int { return len(q) }

func (q evictionQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.accessCount != b.accessCount {
		return a.accessCount < b.accessCount
	}
	if !a.insertedAt.Equal(b.insertedAt) {
		return a.insertedAt.Before(b.insertedAt)
	}
	return a.seq < b.seq
}

func (q evictionQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}

func (q *evictionQueue) Push(x any) {
	e := x.(*cacheEntry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *evictionQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// Cache maps record offsets to parsed records. A lookup hits only when the
// cached field set covers the requested one, and returns a projection so
// callers never share the cached record.
type Cache struct {
	capacity int
	entries  map[uint64]*cacheEntry
	queue    evictionQueue
	seq      uint64
}

// NewCache creates a cache holding at most capacity records.
func NewCache(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		entries:  make(map[uint64]*cacheEntry),
	}
}

// Get returns the record at offset projected onto fields, and its byte
// size.
func (c *Cache) Get(offset uint64, fields format.FieldSet) (*parser.PartialRecord, uint64, bool) {
	e, ok := c.entries[offset]
	if !ok || !e.fields.Covers(fields) {
		return nil, 0, false
	}
	e.accessCount++
	heap.Fix(&c.queue, e.index)
	return e.record.Project(fields), e.size, true
}

// Contains reports whether Get would hit, without counting an access.
func (c *Cache) Contains(offset uint64, fields format.FieldSet) bool {
	e, ok := c.entries[offset]
	return ok && e.fields.Covers(fields)
}

// Put stores a copy of rec, replacing any older entry for the offset.
// It returns the number of entries evicted to make room.
func (c *Cache) Put(offset uint64, rec *parser.PartialRecord, fields format.FieldSet, size uint64, now time.Time) int {
	if c.capacity <= 0 {
		return 0
	}
	if old, ok := c.entries[offset]; ok {
		heap.Remove(&c.queue, old.index)
		delete(c.entries, offset)
	}

	evicted := 0
	for len(c.queue) >= c.capacity {
		victim := heap.Pop(&c.queue).(*cacheEntry)
		delete(c.entries, victim.offset)
		evicted++
	}

	c.seq++
	e := &cacheEntry{
		offset:     offset,
		record:     rec.Clone(),
		fields:     fields,
		size:       size,
		insertedAt: now,
		seq:        c.seq,
	}
	heap.Push(&c.queue, e)
	c.entries[offset] = e
	return evicted
}

// Len returns the number of cached records.
func (c *Cache) Len() int { return len(c.entries) }

// Clear drops every entry.
func (c *Cache) Clear() {
	c.entries = make(map[uint64]*cacheEntry)
	c.queue = nil
}
