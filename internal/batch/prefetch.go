package batch

import (
	"fmt"
	"io"
)

// prefetchReader serves reads inside [base, base+len(buf)) from buf and
// falls through to the stream elsewhere. Seeks only move the logical
// position; the stream is repositioned lazily before a read outside the
// buffer.
type prefetchReader struct {
	rs     io.ReadSeeker
	base   int64
	buf    []byte
	pos    int64
	synced bool
}

func newPrefetchReader(rs io.ReadSeeker, base int64, buf []byte) *prefetchReader {
	return &prefetchReader{rs: rs, base: base, buf: buf, pos: base}
}

func (r *prefetchReader) Read(p []byte) (int, error) {
	if r.pos >= r.base && r.pos < r.base+int64(len(r.buf)) {
		n := copy(p, r.buf[r.pos-r.base:])
		r.pos += int64(n)
		r.synced = false
		return n, nil
	}
	if !r.synced {
		if _, err := r.rs.Seek(r.pos, io.SeekStart); err != nil {
			return 0, err
		}
		r.synced = true
	}
	n, err := r.rs.Read(p)
	r.pos += int64(n)
	return n, err
}

func (r *prefetchReader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.pos + offset
	case io.SeekEnd:
		end, err := r.rs.Seek(offset, io.SeekEnd)
		if err != nil {
			return 0, err
		}
		r.pos, r.synced = end, true
		return end, nil
	default:
		return 0, fmt.Errorf("prefetch reader: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("prefetch reader: negative position %d", abs)
	}
	if abs != r.pos {
		r.synced = false
	}
	r.pos = abs
	return abs, nil
}
