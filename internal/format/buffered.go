package format

import (
	"bufio"
	"io"
)

// DefaultBufferSize is the read buffer used for sequential scans.
const DefaultBufferSize = 64 * 1024

// BufferedReadSeeker adds a read buffer to an io.ReadSeeker. Forward
// seeks that land inside the buffered bytes are served by discarding
// instead of hitting the underlying stream.
type BufferedReadSeeker struct {
	rs  io.ReadSeeker
	br  *bufio.Reader
	pos int64
}

// NewBufferedReadSeeker wraps rs, which must be positioned at offset 0.
func NewBufferedReadSeeker(rs io.ReadSeeker, size int) *BufferedReadSeeker {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &BufferedReadSeeker{rs: rs, br: bufio.NewReaderSize(rs, size)}
}

// Read implements io.Reader.
func (b *BufferedReadSeeker) Read(p []byte) (int, error) {
	n, err := b.br.Read(p)
	b.pos += int64(n)
	return n, err
}

// Seek implements io.Seeker.
func (b *BufferedReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = b.pos + offset
	default:
		pos, err := b.rs.Seek(offset, whence)
		if err != nil {
			return b.pos, err
		}
		b.br.Reset(b.rs)
		b.pos = pos
		return pos, nil
	}

	if delta := target - b.pos; delta >= 0 && delta <= int64(b.br.Buffered()) {
		n, _ := b.br.Discard(int(delta))
		b.pos += int64(n)
		return b.pos, nil
	}

	pos, err := b.rs.Seek(target, io.SeekStart)
	if err != nil {
		return b.pos, err
	}
	b.br.Reset(b.rs)
	b.pos = pos
	return pos, nil
}
