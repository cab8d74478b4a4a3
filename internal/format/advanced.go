package format

import (
	"encoding/binary"

	"github.com/memscope-index/pkg/errors"
	"github.com/memscope-index/pkg/model"
)

// Advanced field tags. Each advanced field is framed as
// tag:u8 length:u32 payload[length].
const (
	TagLifetime         byte = 0x10
	TagBorrowInfo       byte = 0x11
	TagCloneInfo        byte = 0x12
	TagOwnershipHistory byte = 0x13

	// Analysis payloads are JSON documents; their tags follow field order
	// starting at TagAnalysisBase.
	TagAnalysisBase byte = 0x20
)

// AdvancedFrameSize is the tag byte plus the u32 payload length.
const AdvancedFrameSize = 5

// TagForField returns the advanced tag of f.
func TagForField(f Field) (byte, bool) {
	switch {
	case f == FieldLifetimeMs:
		return TagLifetime, true
	case f == FieldBorrowInfo:
		return TagBorrowInfo, true
	case f == FieldCloneInfo:
		return TagCloneInfo, true
	case f == FieldOwnershipHistoryAvailable:
		return TagOwnershipHistory, true
	case f.IsAnalysis():
		return TagAnalysisBase + byte(f-FieldSmartPointerInfo), true
	}
	return 0, false
}

// FieldForTag is the inverse of TagForField. Unknown tags report false.
func FieldForTag(tag byte) (Field, bool) {
	switch tag {
	case TagLifetime:
		return FieldLifetimeMs, true
	case TagBorrowInfo:
		return FieldBorrowInfo, true
	case TagCloneInfo:
		return FieldCloneInfo, true
	case TagOwnershipHistory:
		return FieldOwnershipHistoryAvailable, true
	}
	if tag >= TagAnalysisBase {
		f := FieldSmartPointerInfo + Field(tag-TagAnalysisBase)
		if f.IsAnalysis() {
			return f, true
		}
	}
	return 0, false
}

// EncodeBorrowInfo returns the payload of a borrow info field:
// immutable:u32 mutable:u32 max_concurrent:u32 has_last:u8 [last:u64].
func EncodeBorrowInfo(b *model.BorrowInfo) []byte {
	out := make([]byte, 0, 21)
	out = binary.LittleEndian.AppendUint32(out, b.ImmutableBorrows)
	out = binary.LittleEndian.AppendUint32(out, b.MutableBorrows)
	out = binary.LittleEndian.AppendUint32(out, b.MaxConcurrentBorrows)
	return appendOptionalU64(out, b.LastBorrowTimestamp)
}

// DecodeBorrowInfo parses a borrow info payload located at offset.
func DecodeBorrowInfo(p []byte, offset int64) (*model.BorrowInfo, error) {
	if len(p) < 13 {
		return nil, errors.Corrupted(errors.StageRecord, offset, "borrow info payload too short: %d bytes", len(p))
	}
	b := &model.BorrowInfo{
		ImmutableBorrows:     binary.LittleEndian.Uint32(p[0:]),
		MutableBorrows:       binary.LittleEndian.Uint32(p[4:]),
		MaxConcurrentBorrows: binary.LittleEndian.Uint32(p[8:]),
	}
	last, err := decodeOptionalU64(p[12:], offset+12)
	if err != nil {
		return nil, err
	}
	b.LastBorrowTimestamp = last
	return b, nil
}

// EncodeCloneInfo returns the payload of a clone info field:
// clone_count:u32 is_clone:u8 has_original:u8 [original_ptr:u64].
func EncodeCloneInfo(c *model.CloneInfo) []byte {
	out := make([]byte, 0, 14)
	out = binary.LittleEndian.AppendUint32(out, c.CloneCount)
	out = append(out, boolByte(c.IsClone))
	return appendOptionalU64(out, c.OriginalPtr)
}

// DecodeCloneInfo parses a clone info payload located at offset.
func DecodeCloneInfo(p []byte, offset int64) (*model.CloneInfo, error) {
	if len(p) < 6 {
		return nil, errors.Corrupted(errors.StageRecord, offset, "clone info payload too short: %d bytes", len(p))
	}
	c := &model.CloneInfo{
		CloneCount: binary.LittleEndian.Uint32(p[0:]),
		IsClone:    p[4] != 0,
	}
	orig, err := decodeOptionalU64(p[5:], offset+5)
	if err != nil {
		return nil, err
	}
	c.OriginalPtr = orig
	return c, nil
}

// DecodeU64Payload parses a fixed u64 payload such as the lifetime.
func DecodeU64Payload(p []byte, offset int64) (uint64, error) {
	if len(p) != 8 {
		return 0, errors.Corrupted(errors.StageRecord, offset, "expected 8-byte payload, got %d", len(p))
	}
	return binary.LittleEndian.Uint64(p), nil
}

// DecodeBoolPayload parses a single-byte flag payload.
func DecodeBoolPayload(p []byte, offset int64) (bool, error) {
	if len(p) != 1 {
		return false, errors.Corrupted(errors.StageRecord, offset, "expected 1-byte payload, got %d", len(p))
	}
	return p[0] != 0, nil
}

func appendOptionalU64(out []byte, v *uint64) []byte {
	if v == nil {
		return append(out, 0)
	}
	out = append(out, 1)
	return binary.LittleEndian.AppendUint64(out, *v)
}

func decodeOptionalU64(p []byte, offset int64) (*uint64, error) {
	if len(p) == 0 {
		return nil, errors.Corrupted(errors.StageRecord, offset, "missing presence byte")
	}
	switch p[0] {
	case 0:
		return nil, nil
	case 1:
		if len(p) < 9 {
			return nil, errors.Corrupted(errors.StageRecord, offset+1, "optional u64 truncated")
		}
		v := binary.LittleEndian.Uint64(p[1:])
		return &v, nil
	default:
		return nil, errors.Corrupted(errors.StageRecord, offset, "invalid presence byte 0x%02x", p[0])
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
