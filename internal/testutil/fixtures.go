// Package testutil writes allocation files for tests.
package testutil

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/memscope-index/internal/format"
	"github.com/memscope-index/pkg/model"
)

// WriteAllocationFile writes allocs with the paired writer into a fresh
// temp directory and returns the path and the record locations.
func WriteAllocationFile(t *testing.T, allocs []model.Allocation, opts ...format.WriterOption) (string, []format.RecordLocation) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "allocations.memscope")
	locs, err := format.WriteFile(path, allocs, nil, opts...)
	if err != nil {
		t.Fatalf("failed to write allocation file: %v", err)
	}
	return path, locs
}

// WriteAllocationFileWithStrings is WriteAllocationFile with a string table.
func WriteAllocationFileWithStrings(t *testing.T, allocs []model.Allocation, strs []string, opts ...format.WriterOption) (string, []format.RecordLocation) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "allocations.memscope")
	locs, err := format.WriteFile(path, allocs, strs, opts...)
	if err != nil {
		t.Fatalf("failed to write allocation file: %v", err)
	}
	return path, locs
}

// WriteRawFile writes data to a fresh temp file.
func WriteRawFile(t *testing.T, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "raw.memscope")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}

// PatchBytes overwrites the file at path starting at offset.
func PatchBytes(t *testing.T, path string, offset int64, b []byte) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteAt(b, offset); err != nil {
		t.Fatalf("failed to patch %s: %v", path, err)
	}
}

// PatchU32 overwrites a little-endian u32 at offset.
func PatchU32(t *testing.T, path string, offset int64, v uint32) {
	t.Helper()
	PatchBytes(t, path, offset, binary.LittleEndian.AppendUint32(nil, v))
}

// Truncate cuts the file at path to size bytes.
func Truncate(t *testing.T, path string, size int64) {
	t.Helper()
	if err := os.Truncate(path, size); err != nil {
		t.Fatalf("failed to truncate %s: %v", path, err)
	}
}

// ReadFile returns the contents of path.
func ReadFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return b
}
