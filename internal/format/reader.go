package format

import (
	"encoding/binary"
	"io"

	"github.com/memscope-index/pkg/errors"
)

// Reader decodes little-endian primitives from a seekable stream while
// tracking the absolute position. A short read fails with CORRUPTED_DATA
// naming the offset where the read started; any other failure is
// IO_ERROR.
type Reader struct {
	rs    io.ReadSeeker
	pos   int64
	stage errors.Stage
	buf   [8]byte
}

// NewReader wraps rs, taking the current stream position as the start.
func NewReader(rs io.ReadSeeker, stage errors.Stage) (*Reader, error) {
	pos, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errors.IO(stage, errors.NoOffset, "query stream position", err)
	}
	return &Reader{rs: rs, pos: pos, stage: stage}, nil
}

// Pos returns the absolute stream position.
func (r *Reader) Pos() int64 { return r.pos }

// SetStage changes the stage reported by subsequent errors.
func (r *Reader) SetStage(s errors.Stage) { r.stage = s }

// ReadFull fills p.
func (r *Reader) ReadFull(p []byte) error {
	start := r.pos
	n, err := io.ReadFull(r.rs, p)
	r.pos += int64(n)
	if err == nil {
		return nil
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Corrupted(r.stage, start, "short read: wanted %d bytes, got %d", len(p), n)
	}
	return errors.IO(r.stage, start, "read", err)
}

// Bytes reads n bytes into a new slice.
func (r *Reader) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := r.ReadFull(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Reader) U8() (uint8, error) {
	if err := r.ReadFull(r.buf[:1]); err != nil {
		return 0, err
	}
	return r.buf[0], nil
}

func (r *Reader) U16() (uint16, error) {
	if err := r.ReadFull(r.buf[:2]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(r.buf[:2]), nil
}

func (r *Reader) U32() (uint32, error) {
	if err := r.ReadFull(r.buf[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(r.buf[:4]), nil
}

func (r *Reader) U64() (uint64, error) {
	if err := r.ReadFull(r.buf[:8]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(r.buf[:8]), nil
}

// Skip advances n bytes with a relative seek.
func (r *Reader) Skip(n int64) error {
	if n == 0 {
		return nil
	}
	pos, err := r.rs.Seek(n, io.SeekCurrent)
	if err != nil {
		return errors.IO(r.stage, r.pos, "skip", err)
	}
	r.pos = pos
	return nil
}

// SeekTo moves to an absolute offset.
func (r *Reader) SeekTo(offset int64) error {
	if offset == r.pos {
		return nil
	}
	pos, err := r.rs.Seek(offset, io.SeekStart)
	if err != nil {
		return errors.IO(r.stage, offset, "seek", err)
	}
	r.pos = pos
	return nil
}

// Frame reads a record frame and returns its tag and body length.
func (r *Reader) Frame() (tag byte, length uint32, err error) {
	if tag, err = r.U8(); err != nil {
		return 0, 0, err
	}
	if length, err = r.U32(); err != nil {
		return 0, 0, err
	}
	return tag, length, nil
}

// Presence reads a presence byte. Values other than 0 and 1 are corrupt.
func (r *Reader) Presence() (bool, error) {
	at := r.pos
	b, err := r.U8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.Corrupted(r.stage, at, "invalid presence byte 0x%02x", b)
	}
}

// StringLen reads a u32 string length and checks it against limit.
func (r *Reader) StringLen(limit int64) (uint32, error) {
	at := r.pos
	n, err := r.U32()
	if err != nil {
		return 0, err
	}
	if int64(n) > limit {
		return 0, errors.Corrupted(r.stage, at, "length %d overruns record (%d bytes left)", n, limit)
	}
	return n, nil
}

// String reads a u32-length-prefixed string that must fit in limit bytes
// including the prefix.
func (r *Reader) String(limit int64) (string, error) {
	n, err := r.StringLen(limit - 4)
	if err != nil {
		return "", err
	}
	b, err := r.Bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SkipString skips a length-prefixed string and returns the bytes consumed.
func (r *Reader) SkipString(limit int64) (int64, error) {
	n, err := r.StringLen(limit - 4)
	if err != nil {
		return 0, err
	}
	if err := r.Skip(int64(n)); err != nil {
		return 0, err
	}
	return 4 + int64(n), nil
}
