package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"

	"github.com/memscope-index/internal/format"
	"github.com/memscope-index/pkg/errors"
	"github.com/memscope-index/pkg/telemetry"
	"github.com/memscope-index/pkg/utils"
)

const (
	DefaultQuickFilterThreshold uint32 = 1000
	DefaultQuickFilterBatchSize        = 1000

	resyncWindow = 64 * 1024
)

// Builder scans allocation files and produces BinaryIndex values. A
// Builder holds no per-file state and may build several files
// concurrently.
type Builder struct {
	threshold    uint32
	batchSize    int
	bloom        BloomParams
	maxRecordLen uint32
	bufferSize   int
	logger       utils.Logger
	clock        utils.Clock
}

// Option configures a Builder.
type Option func(*Builder)

// WithQuickFilterThreshold sets the record count from which quick
// filters are built.
func WithQuickFilterThreshold(n uint32) Option {
	return func(b *Builder) { b.threshold = n }
}

// WithQuickFilterBatchSize sets how many records one filter batch covers.
func WithQuickFilterBatchSize(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithBloomParams sizes the bloom filters.
func WithBloomParams(p BloomParams) Option {
	return func(b *Builder) { b.bloom = p.normalized() }
}

// WithMaxRecordLength bounds plausible record bodies.
func WithMaxRecordLength(n uint32) Option {
	return func(b *Builder) {
		if n >= format.MinRecordLength {
			b.maxRecordLen = n
		}
	}
}

// WithBufferSize sets the scan read buffer.
func WithBufferSize(n int) Option {
	return func(b *Builder) { b.bufferSize = n }
}

func WithLogger(l utils.Logger) Option {
	return func(b *Builder) { b.logger = utils.OrNull(l) }
}

func WithClock(c utils.Clock) Option {
	return func(b *Builder) { b.clock = c }
}

// NewBuilder creates a Builder with defaults overridden by opts.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		threshold:    DefaultQuickFilterThreshold,
		batchSize:    DefaultQuickFilterBatchSize,
		bloom:        DefaultBloomParams,
		maxRecordLen: format.DefaultMaxRecordLength,
		bufferSize:   format.DefaultBufferSize,
		logger:       &utils.NullLogger{},
		clock:        utils.NewRealClock(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildIndex scans the file at path. Header and string-table errors are
// fatal; corrupt records are logged, skipped and counted.
func (b *Builder) BuildIndex(ctx context.Context, path string) (*BinaryIndex, error) {
	ctx, span := telemetry.StartSpan(ctx, "index.BuildIndex", attribute.String("file.path", path))
	idx, err := b.build(ctx, path)
	if idx != nil {
		span.SetAttributes(
			attribute.Int("index.records", idx.RecordCount()),
			attribute.Int("index.skipped", int(idx.SkippedRecords)),
		)
	}
	telemetry.EndSpan(span, err)
	return idx, err
}

func (b *Builder) build(ctx context.Context, path string) (*BinaryIndex, error) {
	log := b.logger.WithField("file", path)
	timer := utils.NewTimer("index build", utils.WithLogger(log), utils.WithClock(b.clock))
	defer timer.PrintSummary()

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.IO(errors.StageHeader, errors.NoOffset, "open "+path, err)
	}
	defer f.Close()

	phase := timer.Start("hash")
	fh, err := contentHash(f)
	phase.Stop()
	if err != nil {
		return nil, err
	}

	rs := format.NewBufferedReadSeeker(f, b.bufferSize)

	phase = timer.Start("header")
	header, err := format.ReadHeader(rs)
	phase.Stop()
	if err != nil {
		return nil, err
	}

	r, err := format.NewReader(rs, errors.StageStringTable)
	if err != nil {
		return nil, err
	}
	phase = timer.Start("string_table")
	st, err := format.ReadStringTableInfo(r, fh.Size)
	phase.Stop()
	if err != nil {
		return nil, err
	}

	s := &scanner{
		b:       b,
		r:       r,
		ra:      f,
		size:    fh.Size,
		log:     log,
		entries: make([]RecordEntry, 0, estimateRecords(header.TotalCount, fh.Size-r.Pos())),
	}
	if header.TotalCount >= b.threshold {
		s.acc = newQuickFilterAccumulator(b.batchSize, b.bloom)
	}

	recordsStart := r.Pos()
	phase = timer.Start("scan")
	err = s.scan(ctx, header.TotalCount)
	phase.Stop()
	if err != nil {
		return nil, err
	}

	idx := &BinaryIndex{
		Version:     FormatVersion,
		FilePath:    path,
		FileHash:    fh.Hash,
		FileSize:    fh.Size,
		Header:      header,
		StringTable: st,
		Allocations: AllocationIndex{
			RecordsStart: uint64(recordsStart),
			Entries:      s.entries,
		},
		CreatedAt:      b.clock.Now(),
		SkippedRecords: s.skipped,
	}
	if s.acc != nil {
		idx.Allocations.QuickFilter = s.acc.finish()
	}

	log.Info("indexed %d of %d records (%d skipped)", len(s.entries), header.TotalCount, s.skipped)
	return idx, nil
}

func estimateRecords(declared uint32, remaining int64) int {
	most := remaining / int64(format.FrameSize+format.MinRecordLength)
	if most < int64(declared) {
		return int(most)
	}
	return int(declared)
}

type scanner struct {
	b       *Builder
	r       *format.Reader
	ra      io.ReaderAt
	size    int64
	log     utils.Logger
	entries []RecordEntry
	skipped uint32
	acc     *quickFilterAccumulator
}

func (s *scanner) scan(ctx context.Context, total uint32) error {
	s.r.SetStage(errors.StageRecord)

	for i := uint32(0); i < total; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		offset := s.r.Pos()
		if offset+format.FrameSize > s.size {
			s.log.Warn("file ends after %d of %d declared records", i, total)
			return nil
		}

		tag, length, err := s.r.Frame()
		if err != nil {
			return err
		}
		end := offset + format.FrameSize + int64(length)
		plausible := length <= s.b.maxRecordLen && end <= s.size

		switch {
		case tag != format.AllocationRecordTag && plausible:
			s.skip(offset, "unexpected record tag 0x%02x", tag)
			if err := s.r.SeekTo(end); err != nil {
				return err
			}
			continue
		case tag != format.AllocationRecordTag:
			s.skip(offset, "unexpected record tag 0x%02x with implausible length %d", tag, length)
		case length == 0:
			s.skip(offset, "zero-length record")
			continue
		case !plausible:
			s.skip(offset, "implausible record length %d", length)
		default:
			meta, err := s.decodeMetadata(offset, end)
			if err == nil {
				if err := s.r.SeekTo(end); err != nil {
					return err
				}
				s.entries = append(s.entries, RecordEntry{Offset: uint64(offset), Size: uint32(end - offset)})
				if s.acc != nil {
					s.acc.add(meta)
				}
				continue
			}
			if !errors.IsCorruptedData(err) {
				return err
			}
			s.skip(offset, "undecodable record: %v", err)
		}

		next, found, err := s.resync(offset + 1)
		if err != nil {
			return err
		}
		if !found {
			s.log.Warn("no record frame after offset %d, ending scan", offset)
			return nil
		}
		s.log.Debug("resynchronised at offset %d", next)
		if err := s.r.SeekTo(next); err != nil {
			return err
		}
	}
	return nil
}

func (s *scanner) skip(offset int64, reason string, args ...interface{}) {
	s.skipped++
	s.log.WithField("offset", offset).Warn("skipping record: "+reason, args...)
}

// decodeMetadata reads the fixed fields and the optional fields up to the
// thread id. The reader is left inside the record.
func (s *scanner) decodeMetadata(offset, end int64) (RecordMetadata, error) {
	var m RecordMetadata
	r := s.r
	left := func() int64 { return end - r.Pos() }
	need := func(n int64) error {
		if left() < n {
			return errors.Corrupted(errors.StageRecord, r.Pos(), "field of %d bytes overruns record at %d", n, offset)
		}
		return nil
	}

	if err := need(int64(format.MinRecordLength)); err != nil {
		return m, err
	}
	var err error
	if m.Ptr, err = r.U64(); err != nil {
		return m, err
	}
	if m.Size, err = r.U64(); err != nil {
		return m, err
	}
	if m.Timestamp, err = r.U64(); err != nil {
		return m, err
	}

	optional := func(read func() error) error {
		if err := need(1); err != nil {
			return err
		}
		present, err := r.Presence()
		if err != nil || !present {
			return err
		}
		return read()
	}

	steps := []func() error{
		func() error { // dealloc timestamp
			if err := need(8); err != nil {
				return err
			}
			return r.Skip(8)
		},
		func() error { // var name
			_, err := r.SkipString(left())
			return err
		},
		func() error {
			v, err := r.String(left())
			m.TypeName = &v
			return err
		},
		func() error { // scope name
			_, err := r.SkipString(left())
			return err
		},
		func() error {
			v, err := r.String(left())
			m.ThreadID = &v
			return err
		},
	}
	for _, step := range steps {
		if err := optional(step); err != nil {
			return RecordMetadata{}, err
		}
	}
	return m, nil
}

// resync finds the first offset at or after from holding a plausible
// record frame: the allocation tag, a length within bounds that ends
// inside the file, and either end of file or another tag right after.
func (s *scanner) resync(from int64) (int64, bool, error) {
	buf := make([]byte, resyncWindow+format.FrameSize)
	for pos := from; pos+format.FrameSize <= s.size; pos += resyncWindow {
		n, err := s.ra.ReadAt(buf, pos)
		if err != nil && err != io.EOF {
			return 0, false, errors.IO(errors.StageRecord, pos, "resync read", err)
		}
		for i := 0; i+format.FrameSize <= n && i < resyncWindow; i++ {
			if buf[i] != format.AllocationRecordTag {
				continue
			}
			at := pos + int64(i)
			ok, err := s.plausibleFrame(at, binary.LittleEndian.Uint32(buf[i+1:]))
			if err != nil {
				return 0, false, err
			}
			if ok {
				return at, true, nil
			}
		}
	}
	return 0, false, nil
}

func (s *scanner) plausibleFrame(at int64, length uint32) (bool, error) {
	if length < format.MinRecordLength || length > s.b.maxRecordLen {
		return false, nil
	}
	end := at + format.FrameSize + int64(length)
	if end > s.size {
		return false, nil
	}
	if end == s.size {
		return true, nil
	}
	var next [1]byte
	if _, err := s.ra.ReadAt(next[:], end); err != nil {
		return false, errors.IO(errors.StageRecord, end, "resync probe", err)
	}
	return next[0] == format.AllocationRecordTag, nil
}

// String describes the builder settings for logs.
func (b *Builder) String() string {
	return fmt.Sprintf("index.Builder{threshold=%d batch=%d bloom=%d/%d max_record=%d}",
		b.threshold, b.batchSize, b.bloom.Bits, b.bloom.Hashes, b.maxRecordLen)
}
