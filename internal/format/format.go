// Package format defines the on-disk layout of allocation files: the file
// header, the string-table section, record frames and the advanced field
// payloads. It provides the primitive reader used by the index builder
// and the field parser, and the paired writer that produces files.
package format

import (
	"encoding/binary"
	"io"

	"github.com/memscope-index/pkg/errors"
)

const (
	// Magic opens every allocation file.
	Magic = "MEMSCOPE"

	CurrentVersion      uint32 = 2
	MinSupportedVersion uint32 = 1

	// HeaderSize is the fixed size of FileHeader on disk.
	HeaderSize = 24

	// AllocationRecordTag is the frame tag of an allocation record.
	AllocationRecordTag byte = 0x01

	// FrameSize is the tag byte plus the u32 body length.
	FrameSize = 5

	// DefaultMaxRecordLength bounds a plausible record body.
	DefaultMaxRecordLength uint32 = 1 << 20

	// MinRecordLength is ptr + size + alloc timestamp.
	MinRecordLength uint32 = 24

	StringTableMarker   = "STBL"
	NoStringTableMarker = "NONE"
)

// ExportMode records which allocations the producer exported.
type ExportMode uint8

const (
	ExportUserOnly ExportMode = 0
	ExportFull     ExportMode = 1
)

func (m ExportMode) String() string {
	switch m {
	case ExportUserOnly:
		return "user_only"
	case ExportFull:
		return "full"
	default:
		return "unknown"
	}
}

// FileHeader is the fixed 24-byte file prefix.
//
//	magic[8] version:u32 total_count:u32 export_mode:u8
//	user_count:u16 system_count:u16 reserved[3]
type FileHeader struct {
	Version     uint32     `json:"version"`
	TotalCount  uint32     `json:"total_count"`
	ExportMode  ExportMode `json:"export_mode"`
	UserCount   uint16     `json:"user_count"`
	SystemCount uint16     `json:"system_count"`
}

// NewFileHeader returns a current-version header for count records.
func NewFileHeader(count uint32, mode ExportMode, user, system uint16) FileHeader {
	return FileHeader{
		Version:     CurrentVersion,
		TotalCount:  count,
		ExportMode:  mode,
		UserCount:   user,
		SystemCount: system,
	}
}

// Encode returns the on-disk form of h.
func (h FileHeader) Encode() []byte {
	b := make([]byte, HeaderSize)
	copy(b, Magic)
	binary.LittleEndian.PutUint32(b[8:], h.Version)
	binary.LittleEndian.PutUint32(b[12:], h.TotalCount)
	b[16] = byte(h.ExportMode)
	binary.LittleEndian.PutUint16(b[17:], h.UserCount)
	binary.LittleEndian.PutUint16(b[19:], h.SystemCount)
	return b
}

// DecodeHeader parses and validates a header. It fails with
// INVALID_MAGIC or UNSUPPORTED_VERSION.
func DecodeHeader(b []byte) (FileHeader, error) {
	if len(b) < HeaderSize {
		return FileHeader{}, errors.Corrupted(errors.StageHeader, 0, "header needs %d bytes, got %d", HeaderSize, len(b))
	}
	if string(b[:8]) != Magic {
		return FileHeader{}, errors.InvalidMagic(Magic, string(b[:8]))
	}

	h := FileHeader{
		Version:     binary.LittleEndian.Uint32(b[8:]),
		TotalCount:  binary.LittleEndian.Uint32(b[12:]),
		ExportMode:  ExportMode(b[16]),
		UserCount:   binary.LittleEndian.Uint16(b[17:]),
		SystemCount: binary.LittleEndian.Uint16(b[19:]),
	}
	if h.Version < MinSupportedVersion || h.Version > CurrentVersion {
		return FileHeader{}, errors.UnsupportedVersion(h.Version, MinSupportedVersion, CurrentVersion)
	}
	return h, nil
}

// ReadHeader reads the header from the current position of r.
func ReadHeader(r io.Reader) (FileHeader, error) {
	b := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, b)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// A truncated header that still shows the wrong magic is
		// reported as such.
		if n >= 8 && string(b[:8]) != Magic {
			return FileHeader{}, errors.InvalidMagic(Magic, string(b[:8]))
		}
		return FileHeader{}, errors.Corrupted(errors.StageHeader, 0, "header needs %d bytes, got %d", HeaderSize, n)
	}
	if err != nil {
		return FileHeader{}, errors.IO(errors.StageHeader, 0, "read header", err)
	}
	return DecodeHeader(b)
}
