package cmd

import (
	"github.com/memscope-index/internal/format"
	"github.com/memscope-index/internal/index"
	"github.com/memscope-index/internal/parser"
)

// recordFilter applies an index.Query to parsed records. The quick filter
// only narrows batches, so every candidate record is checked again here.
type recordFilter struct {
	q index.Query
}

// fields returns the fields a record must carry for match to decide.
func (f recordFilter) fields() format.FieldSet {
	var fs format.FieldSet
	if f.q.Ptr != nil {
		fs = fs.With(format.FieldPtr)
	}
	if f.q.MinSize != nil || f.q.MaxSize != nil {
		fs = fs.With(format.FieldSize)
	}
	if f.q.MinTimestamp != nil || f.q.MaxTimestamp != nil {
		fs = fs.With(format.FieldTimestampAlloc)
	}
	if f.q.ThreadID != nil {
		fs = fs.With(format.FieldThreadID)
	}
	if f.q.TypeName != nil {
		fs = fs.With(format.FieldTypeName)
	}
	return fs
}

func (f recordFilter) match(r *parser.PartialRecord) bool {
	q := f.q
	if q.Ptr != nil && r.Ptr.OrElse(0) != *q.Ptr {
		return false
	}
	if !inRange(r.Size, q.MinSize, q.MaxSize) {
		return false
	}
	if !inRange(r.TimestampAlloc, q.MinTimestamp, q.MaxTimestamp) {
		return false
	}
	if q.ThreadID != nil {
		if v, ok := r.ThreadID.Get(); !ok || v != *q.ThreadID {
			return false
		}
	}
	if q.TypeName != nil {
		if v, ok := r.TypeName.Get(); !ok || v != *q.TypeName {
			return false
		}
	}
	return true
}

func inRange(v parser.Value[uint64], lo, hi *uint64) bool {
	if lo == nil && hi == nil {
		return true
	}
	x, ok := v.Get()
	if !ok {
		return false
	}
	return (lo == nil || x >= *lo) && (hi == nil || x <= *hi)
}

// candidateOffsets returns the offsets of records that may match q: those
// of the candidate batches when the index has quick filters, otherwise all.
func candidateOffsets(idx *index.BinaryIndex, q index.Query) []uint64 {
	if !idx.HasQuickFilter() {
		return idx.Offsets()
	}
	return idx.OffsetsForBatches(idx.Allocations.QuickFilter.CandidateBatches(q))
}
