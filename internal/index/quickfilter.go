package index

import "sort"

// Range is an inclusive [Min, Max] interval.
type Range struct {
	Min uint64 `json:"min"`
	Max uint64 `json:"max"`
}

// Contains reports whether v lies in r.
func (r Range) Contains(v uint64) bool { return v >= r.Min && v <= r.Max }

// Overlaps reports whether r intersects [lo, hi].
func (r Range) Overlaps(lo, hi uint64) bool { return lo <= r.Max && hi >= r.Min }

// QuickFilterData summarises fixed-size batches of consecutive index
// entries so whole batches can be ruled out without reading records.
// Batch b covers entries [b*BatchSize, (b+1)*BatchSize).
type QuickFilterData struct {
	BatchSize       int            `json:"batch_size"`
	PtrRanges       []Range        `json:"ptr_ranges"`
	SizeRanges      []Range        `json:"size_ranges"`
	TimestampRanges []Range        `json:"timestamp_ranges"`
	ThreadBlooms    []*BloomFilter `json:"thread_blooms"`
	TypeBlooms      []*BloomFilter `json:"type_blooms"`
	Params          BloomParams    `json:"params"`
}

// BatchCount returns the number of summarised batches.
func (q *QuickFilterData) BatchCount() int { return len(q.PtrRanges) }

func (q *QuickFilterData) valid(batch int) bool {
	return batch >= 0 && batch < q.BatchCount()
}

// PtrMightBeInBatch reports whether a record with pointer ptr may be in batch.
func (q *QuickFilterData) PtrMightBeInBatch(batch int, ptr uint64) bool {
	return q.valid(batch) && q.PtrRanges[batch].Contains(ptr)
}

// SizeMightBeInBatch reports whether a record of the given size may be in batch.
func (q *QuickFilterData) SizeMightBeInBatch(batch int, size uint64) bool {
	return q.valid(batch) && q.SizeRanges[batch].Contains(size)
}

// TimestampMightBeInBatch reports whether an allocation at ts may be in batch.
func (q *QuickFilterData) TimestampMightBeInBatch(batch int, ts uint64) bool {
	return q.valid(batch) && q.TimestampRanges[batch].Contains(ts)
}

// ThreadMightBeInBatch consults the thread-id bloom filter of batch.
func (q *QuickFilterData) ThreadMightBeInBatch(batch int, threadID string) bool {
	return q.valid(batch) && q.ThreadBlooms[batch].MayContain(threadID)
}

// TypeMightBeInBatch consults the type-name bloom filter of batch.
func (q *QuickFilterData) TypeMightBeInBatch(batch int, typeName string) bool {
	return q.valid(batch) && q.TypeBlooms[batch].MayContain(typeName)
}

// Query selects records by any combination of criteria. Nil criteria
// match everything; size and timestamp bounds are inclusive.
type Query struct {
	Ptr          *uint64
	MinSize      *uint64
	MaxSize      *uint64
	MinTimestamp *uint64
	MaxTimestamp *uint64
	ThreadID     *string
	TypeName     *string
}

// CandidateBatches returns, in ascending order, every batch that may hold
// a record matching all criteria of q.
func (q *QuickFilterData) CandidateBatches(query Query) []int {
	var out []int
	for b := 0; b < q.BatchCount(); b++ {
		if q.batchMayMatch(b, query) {
			out = append(out, b)
		}
	}
	return out
}

func (q *QuickFilterData) batchMayMatch(b int, query Query) bool {
	if query.Ptr != nil && !q.PtrMightBeInBatch(b, *query.Ptr) {
		return false
	}
	if query.MinSize != nil || query.MaxSize != nil {
		lo, hi := bounds(query.MinSize, query.MaxSize)
		if !q.SizeRanges[b].Overlaps(lo, hi) {
			return false
		}
	}
	if query.MinTimestamp != nil || query.MaxTimestamp != nil {
		lo, hi := bounds(query.MinTimestamp, query.MaxTimestamp)
		if !q.TimestampRanges[b].Overlaps(lo, hi) {
			return false
		}
	}
	if query.ThreadID != nil && !q.ThreadMightBeInBatch(b, *query.ThreadID) {
		return false
	}
	if query.TypeName != nil && !q.TypeMightBeInBatch(b, *query.TypeName) {
		return false
	}
	return true
}

// MemoryUsage estimates the size of the filters in bytes.
func (q *QuickFilterData) MemoryUsage() int {
	n := q.BatchCount() * 3 * 16
	for _, bf := range q.ThreadBlooms {
		n += bf.SizeBytes()
	}
	for _, bf := range q.TypeBlooms {
		n += bf.SizeBytes()
	}
	return n
}

func bounds(lo, hi *uint64) (uint64, uint64) {
	l, h := uint64(0), ^uint64(0)
	if lo != nil {
		l = *lo
	}
	if hi != nil {
		h = *hi
	}
	return l, h
}

func sortedUnique(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	n := 0
	for i, v := range out {
		if i == 0 || v != out[n-1] {
			out[n] = v
			n++
		}
	}
	return out[:n]
}

// RecordMetadata is what the scan feeds the accumulator for one record.
type RecordMetadata struct {
	Ptr       uint64
	Size      uint64
	Timestamp uint64
	ThreadID  *string
	TypeName  *string
}

// quickFilterAccumulator builds QuickFilterData while the scan streams
// records, keeping only the current batch open.
type quickFilterAccumulator struct {
	data    *QuickFilterData
	pending int
	ptr     Range
	size    Range
	ts      Range
	threads *BloomFilter
	types   *BloomFilter
}

func newQuickFilterAccumulator(batchSize int, params BloomParams) *quickFilterAccumulator {
	params = params.normalized()
	return &quickFilterAccumulator{
		data: &QuickFilterData{BatchSize: batchSize, Params: params},
	}
}

func (a *quickFilterAccumulator) add(m RecordMetadata) {
	if a.pending == 0 {
		a.ptr = Range{Min: m.Ptr, Max: m.Ptr}
		a.size = Range{Min: m.Size, Max: m.Size}
		a.ts = Range{Min: m.Timestamp, Max: m.Timestamp}
		a.threads = newBloomFilter(a.data.Params)
		a.types = newBloomFilter(a.data.Params)
	} else {
		widen(&a.ptr, m.Ptr)
		widen(&a.size, m.Size)
		widen(&a.ts, m.Timestamp)
	}
	if m.ThreadID != nil {
		a.threads.add(*m.ThreadID)
	}
	if m.TypeName != nil {
		a.types.add(*m.TypeName)
	}

	a.pending++
	if a.pending == a.data.BatchSize {
		a.flush()
	}
}

func (a *quickFilterAccumulator) flush() {
	if a.pending == 0 {
		return
	}
	d := a.data
	d.PtrRanges = append(d.PtrRanges, a.ptr)
	d.SizeRanges = append(d.SizeRanges, a.size)
	d.TimestampRanges = append(d.TimestampRanges, a.ts)
	d.ThreadBlooms = append(d.ThreadBlooms, a.threads)
	d.TypeBlooms = append(d.TypeBlooms, a.types)
	a.pending = 0
	a.threads, a.types = nil, nil
}

// finish flushes the partial last batch and returns the filters.
func (a *quickFilterAccumulator) finish() *QuickFilterData {
	a.flush()
	return a.data
}

func widen(r *Range, v uint64) {
	if v < r.Min {
		r.Min = v
	}
	if v > r.Max {
		r.Max = v
	}
}
