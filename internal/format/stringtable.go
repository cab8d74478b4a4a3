package format

import (
	"encoding/binary"
	"io"

	"github.com/memscope-index/pkg/compression"
	"github.com/memscope-index/pkg/errors"
)

// StringTableInfo locates the string-table section without its strings.
//
//	"STBL" size:u32 compression:u8 count:u32 payload[size-5]
//	"NONE" 0:u32
type StringTableInfo struct {
	Present     bool             `json:"present"`
	Offset      int64            `json:"offset"`
	Size        uint32           `json:"size"`
	Count       uint32           `json:"count"`
	Compression compression.Type `json:"compression"`
}

// stringTablePrefix is the marker plus the u32 size.
const stringTablePrefix = 8

// stringTableMeta is the compression flag plus the u32 count.
const stringTableMeta = 5

// End returns the offset of the first byte after the section.
func (s StringTableInfo) End() int64 {
	return s.Offset + stringTablePrefix + int64(s.Size)
}

// PayloadOffset returns the offset of the (possibly compressed) strings.
func (s StringTableInfo) PayloadOffset() int64 {
	return s.Offset + stringTablePrefix + stringTableMeta
}

// ReadStringTableInfo reads the section locator at the reader position and
// leaves the reader at the first record. fileSize bounds the section.
func ReadStringTableInfo(r *Reader, fileSize int64) (StringTableInfo, error) {
	r.SetStage(errors.StageStringTable)
	info := StringTableInfo{Offset: r.Pos()}

	marker, err := r.Bytes(4)
	if err != nil {
		return info, err
	}
	size, err := r.U32()
	if err != nil {
		return info, err
	}
	info.Size = size

	switch string(marker) {
	case NoStringTableMarker:
		if size != 0 {
			return info, errors.Corrupted(errors.StageStringTable, info.Offset, "NONE marker with non-zero size %d", size)
		}
		return info, nil
	case StringTableMarker:
	default:
		return info, errors.Corrupted(errors.StageStringTable, info.Offset, "unknown string table marker %q", marker)
	}

	if size < stringTableMeta {
		return info, errors.Corrupted(errors.StageStringTable, info.Offset, "string table size %d below minimum %d", size, stringTableMeta)
	}
	if info.End() > fileSize {
		return info, errors.Corrupted(errors.StageStringTable, info.Offset, "string table of %d bytes runs past end of file", size)
	}

	flag, err := r.U8()
	if err != nil {
		return info, err
	}
	count, err := r.U32()
	if err != nil {
		return info, err
	}
	info.Present = true
	info.Compression = compression.Type(flag)
	info.Count = count

	if err := r.Skip(int64(size) - stringTableMeta); err != nil {
		return info, err
	}
	return info, nil
}

// LoadStringTable reads and decodes the strings located by info.
func LoadStringTable(rs io.ReadSeeker, info StringTableInfo) ([]string, error) {
	if !info.Present {
		return nil, nil
	}
	if _, err := rs.Seek(info.PayloadOffset(), io.SeekStart); err != nil {
		return nil, errors.IO(errors.StageStringTable, info.PayloadOffset(), "seek string table", err)
	}
	r, err := NewReader(rs, errors.StageStringTable)
	if err != nil {
		return nil, err
	}
	payload, err := r.Bytes(int(info.Size - stringTableMeta))
	if err != nil {
		return nil, err
	}

	if info.Compression != compression.TypeNone {
		payload, err = compression.Decompress(info.Compression, payload)
		if err != nil {
			return nil, errors.CorruptedWrap(errors.StageStringTable, info.PayloadOffset(), err, "decompress string table")
		}
	}

	out := make([]string, 0, info.Count)
	p := payload
	for i := uint32(0); i < info.Count; i++ {
		if len(p) < 4 {
			return nil, errors.Corrupted(errors.StageStringTable, info.PayloadOffset(), "string %d truncated", i)
		}
		n := binary.LittleEndian.Uint32(p)
		p = p[4:]
		if uint64(n) > uint64(len(p)) {
			return nil, errors.Corrupted(errors.StageStringTable, info.PayloadOffset(), "string %d length %d overruns table", i, n)
		}
		out = append(out, string(p[:n]))
		p = p[n:]
	}
	return out, nil
}

// encodeStringTable returns the full section for strs.
func encodeStringTable(strs []string, c compression.Compressor) ([]byte, error) {
	if len(strs) == 0 {
		out := []byte(NoStringTableMarker)
		return binary.LittleEndian.AppendUint32(out, 0), nil
	}

	var payload []byte
	for _, s := range strs {
		payload = binary.LittleEndian.AppendUint32(payload, uint32(len(s)))
		payload = append(payload, s...)
	}

	flag := compression.TypeNone
	if c != nil && c.Type() != compression.TypeNone {
		compressed, err := c.Compress(payload)
		if err != nil {
			return nil, err
		}
		payload = compressed
		flag = c.Type()
	}

	out := []byte(StringTableMarker)
	out = binary.LittleEndian.AppendUint32(out, uint32(stringTableMeta+len(payload)))
	out = append(out, byte(flag))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(strs)))
	return append(out, payload...), nil
}
