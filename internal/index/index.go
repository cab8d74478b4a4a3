// Package index builds and queries the offset index of an allocation
// file. A BinaryIndex is immutable once built and may be shared between
// goroutines.
package index

import (
	"time"

	"github.com/memscope-index/internal/format"
)

// FormatVersion is the version of the BinaryIndex structure itself.
const FormatVersion uint32 = 1

// BinaryIndex locates every valid record of one allocation file.
type BinaryIndex struct {
	Version        uint32                 `json:"version"`
	FilePath       string                 `json:"file_path"`
	FileHash       uint64                 `json:"file_hash"`
	FileSize       int64                  `json:"file_size"`
	Header         format.FileHeader      `json:"header"`
	StringTable    format.StringTableInfo `json:"string_table"`
	Allocations    AllocationIndex        `json:"allocations"`
	CreatedAt      time.Time              `json:"created_at"`
	SkippedRecords uint32                 `json:"skipped_records"`
}

// RecordEntry is one record position. Size covers the frame and body.
type RecordEntry struct {
	Offset uint64 `json:"o"`
	Size   uint32 `json:"s"`
}

// AllocationIndex is the ordered record table plus optional quick filters.
type AllocationIndex struct {
	RecordsStart uint64           `json:"records_start"`
	Entries      []RecordEntry    `json:"entries"`
	QuickFilter  *QuickFilterData `json:"quick_filter,omitempty"`
}

// RecordCount returns the number of indexed records.
func (idx *BinaryIndex) RecordCount() int {
	return len(idx.Allocations.Entries)
}

// RecordOffset returns the offset of record i.
func (idx *BinaryIndex) RecordOffset(i int) (uint64, bool) {
	if i < 0 || i >= len(idx.Allocations.Entries) {
		return 0, false
	}
	return idx.Allocations.Entries[i].Offset, true
}

// RecordSize returns the on-disk size of record i.
func (idx *BinaryIndex) RecordSize(i int) (uint32, bool) {
	if i < 0 || i >= len(idx.Allocations.Entries) {
		return 0, false
	}
	return idx.Allocations.Entries[i].Size, true
}

// Offsets returns all record offsets in file order.
func (idx *BinaryIndex) Offsets() []uint64 {
	out := make([]uint64, len(idx.Allocations.Entries))
	for i, e := range idx.Allocations.Entries {
		out[i] = e.Offset
	}
	return out
}

// HasQuickFilter reports whether batch filters were built.
func (idx *BinaryIndex) HasQuickFilter() bool {
	return idx.Allocations.QuickFilter != nil
}

// IsValidFor reports whether the file at path still has the content hash
// this index was built from.
func (idx *BinaryIndex) IsValidFor(path string) bool {
	h, err := ContentHash(path)
	if err != nil {
		return false
	}
	return h.Hash == idx.FileHash && h.Size == idx.FileSize
}

// OffsetsForBatches returns, in file order, the offsets of the records in
// the given quick-filter batches. Out of range batches are ignored.
func (idx *BinaryIndex) OffsetsForBatches(batches []int) []uint64 {
	qf := idx.Allocations.QuickFilter
	if qf == nil || qf.BatchSize <= 0 {
		return nil
	}

	var out []uint64
	for _, b := range sortedUnique(batches) {
		if b < 0 || b >= qf.BatchCount() {
			continue
		}
		start := b * qf.BatchSize
		end := start + qf.BatchSize
		if end > len(idx.Allocations.Entries) {
			end = len(idx.Allocations.Entries)
		}
		for _, e := range idx.Allocations.Entries[start:end] {
			out = append(out, e.Offset)
		}
	}
	return out
}

// MemoryUsage estimates the in-memory size of the index in bytes.
func (idx *BinaryIndex) MemoryUsage() int {
	const entrySize = 16
	n := 128 + len(idx.FilePath) + len(idx.Allocations.Entries)*entrySize
	if qf := idx.Allocations.QuickFilter; qf != nil {
		n += qf.MemoryUsage()
	}
	return n
}
