package index

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/memscope-index/pkg/errors"
)

const (
	hashBoundary = 1024
	// Files at most this large only contribute their first bytes.
	hashTailThreshold = 2 * hashBoundary
)

// FileHash identifies the content of an allocation file cheaply.
type FileHash struct {
	Hash    uint64
	Size    int64
	ModTime int64
}

// ContentHash hashes the size, modification time (unix nanoseconds), the
// first KiB and, for files over 2 KiB, the last KiB of path.
func ContentHash(path string) (FileHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileHash{}, errors.IO(errors.StageHeader, errors.NoOffset, "open "+path, err)
	}
	defer f.Close()
	return contentHash(f)
}

func contentHash(f *os.File) (FileHash, error) {
	st, err := f.Stat()
	if err != nil {
		return FileHash{}, errors.IO(errors.StageHeader, errors.NoOffset, "stat", err)
	}
	fh := FileHash{Size: st.Size(), ModTime: st.ModTime().UnixNano()}

	d := xxhash.New()
	var meta [16]byte
	binary.LittleEndian.PutUint64(meta[0:], uint64(fh.Size))
	binary.LittleEndian.PutUint64(meta[8:], uint64(fh.ModTime))
	_, _ = d.Write(meta[:])

	head := fh.Size
	if head > hashBoundary {
		head = hashBoundary
	}
	if err := hashRange(d, f, 0, head); err != nil {
		return FileHash{}, err
	}
	if fh.Size > hashTailThreshold {
		if err := hashRange(d, f, fh.Size-hashBoundary, hashBoundary); err != nil {
			return FileHash{}, err
		}
	}

	fh.Hash = d.Sum64()
	return fh, nil
}

func hashRange(d *xxhash.Digest, f *os.File, off, n int64) error {
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, off); err != nil && err != io.EOF {
		return errors.IO(errors.StageHeader, off, "read hash boundary", err)
	}
	_, _ = d.Write(buf)
	return nil
}
