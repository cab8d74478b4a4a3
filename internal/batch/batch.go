package batch

import (
	"time"

	"github.com/memscope-index/internal/format"
	"github.com/memscope-index/internal/parser"
)

// Metadata describes a RecordBatch. StartOffset and EndOffset are the
// frame offsets of the first and last record; TotalSize is the sum of
// their frame sizes.
type Metadata struct {
	StartOffset uint64          `json:"start_offset"`
	EndOffset   uint64          `json:"end_offset"`
	RecordCount int             `json:"record_count"`
	TotalSize   uint64          `json:"total_size"`
	Fields      format.FieldSet `json:"-"`
}

// RecordBatch holds records in ascending offset order.
type RecordBatch struct {
	Records  []*parser.PartialRecord `json:"records"`
	Metadata Metadata                `json:"metadata"`
}

func newRecordBatch(fields format.FieldSet, capacity int) *RecordBatch {
	return &RecordBatch{
		Records:  make([]*parser.PartialRecord, 0, capacity),
		Metadata: Metadata{Fields: fields},
	}
}

func (b *RecordBatch) add(offset uint64, rec *parser.PartialRecord, size uint64) {
	if len(b.Records) == 0 {
		b.Metadata.StartOffset = offset
	}
	b.Records = append(b.Records, rec)
	b.Metadata.EndOffset = offset
	b.Metadata.RecordCount++
	b.Metadata.TotalSize += size
}

// Stats accumulates processor counters for one session.
type Stats struct {
	BatchesProcessed    uint64        `json:"batches_processed"`
	RecordsProcessed    uint64        `json:"records_processed"`
	CacheHits           uint64        `json:"cache_hits"`
	CacheMisses         uint64        `json:"cache_misses"`
	CacheEvictions      uint64        `json:"cache_evictions"`
	PrefetchOperations  uint64        `json:"prefetch_operations"`
	PrefetchTruncations uint64        `json:"prefetch_truncations"`
	BytesPrefetched     uint64        `json:"bytes_prefetched"`
	ProcessingTime      time.Duration `json:"processing_time"`
	Parser              parser.Stats  `json:"parser"`
}

// CacheHitRate returns hits as a percentage of lookups.
func (s Stats) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total) * 100
}

// AvgRecordsPerBatch returns RecordsProcessed divided by BatchesProcessed.
func (s Stats) AvgRecordsPerBatch() float64 {
	if s.BatchesProcessed == 0 {
		return 0
	}
	return float64(s.RecordsProcessed) / float64(s.BatchesProcessed)
}
