package batch

import (
	"io"
	"slices"

	"github.com/memscope-index/internal/format"
	"github.com/memscope-index/internal/parser"
	"github.com/memscope-index/pkg/collections"
	"github.com/memscope-index/pkg/errors"
	"github.com/memscope-index/pkg/utils"
)

type statsReporter interface {
	Stats() parser.Stats
	ResetStats()
}

// Processor materializes records for one query session. It owns its
// cache and statistics and is not safe for concurrent use.
type Processor struct {
	cfg    Config
	parser parser.RecordParser
	cache  *Cache
	stats  Stats
	logger utils.Logger
	clock  utils.Clock
}

// Option configures a Processor.
type Option func(*Processor)

// WithParser replaces the default FieldParser.
func WithParser(p parser.RecordParser) Option {
	return func(pr *Processor) { pr.parser = p }
}

func WithLogger(l utils.Logger) Option {
	return func(pr *Processor) { pr.logger = utils.OrNull(l) }
}

func WithClock(c utils.Clock) Option {
	return func(pr *Processor) { pr.clock = c }
}

// NewProcessor creates a Processor.
func NewProcessor(cfg Config, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Processor{
		cfg:    cfg,
		logger: &utils.NullLogger{},
		clock:  utils.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.parser == nil {
		p.parser = parser.NewFieldParser(parser.WithClock(p.clock))
	}
	if cfg.EnableCaching {
		p.cache = NewCache(cfg.MaxCacheSize)
	}
	return p, nil
}

// Config returns the processor configuration.
func (p *Processor) Config() Config { return p.cfg }

// ProcessBatch parses the records at offsets. Records come back in
// ascending offset order, not in request order.
func (p *Processor) ProcessBatch(rs io.ReadSeeker, offsets []uint64, fields format.FieldSet) (*RecordBatch, error) {
	start := p.clock.Now()
	defer func() { p.stats.ProcessingTime += p.clock.Since(start) }()

	sorted := sortedOffsets(offsets)
	defer collections.PutUint64Slice(sorted)

	b := newRecordBatch(fields, len(*sorted))
	for _, chunk := range chunks(*sorted, p.cfg.BatchSize) {
		if err := p.processChunk(rs, chunk, fields, b); err != nil {
			return nil, err
		}
	}
	p.stats.BatchesProcessed++
	return b, nil
}

// ProcessWithPrefetch is ProcessBatch with one larger read per window of
// PrefetchCount offsets. A window is at most BufferSize bytes, so records
// past it are read from the stream directly. Without prefetching enabled
// it behaves like ProcessBatch.
func (p *Processor) ProcessWithPrefetch(rs io.ReadSeeker, offsets []uint64, fields format.FieldSet) (*RecordBatch, error) {
	if !p.cfg.EnablePrefetch {
		return p.ProcessBatch(rs, offsets, fields)
	}

	start := p.clock.Now()
	defer func() { p.stats.ProcessingTime += p.clock.Since(start) }()

	sorted := sortedOffsets(offsets)
	defer collections.PutUint64Slice(sorted)

	b := newRecordBatch(fields, len(*sorted))
	for _, window := range chunks(*sorted, p.cfg.PrefetchCount) {
		if err := p.processWindow(rs, window, fields, b); err != nil {
			return nil, err
		}
	}
	p.stats.BatchesProcessed++
	return b, nil
}

// ProcessStreaming parses offsets one sorted chunk at a time and hands each
// chunk to fn. Processing stops when fn returns false or an error. It
// returns the number of records handed to fn.
func (p *Processor) ProcessStreaming(rs io.ReadSeeker, offsets []uint64, fields format.FieldSet, fn func(*RecordBatch) (bool, error)) (int, error) {
	start := p.clock.Now()
	defer func() { p.stats.ProcessingTime += p.clock.Since(start) }()

	sorted := sortedOffsets(offsets)
	defer collections.PutUint64Slice(sorted)

	delivered := 0
	for _, chunk := range chunks(*sorted, p.cfg.BatchSize) {
		b := newRecordBatch(fields, len(chunk))
		if err := p.processChunk(rs, chunk, fields, b); err != nil {
			return delivered, err
		}
		p.stats.BatchesProcessed++

		cont, err := fn(b)
		delivered += len(b.Records)
		if err != nil {
			return delivered, err
		}
		if !cont {
			break
		}
	}
	return delivered, nil
}

// Stats returns the session statistics, including the parser's when it
// reports them.
func (p *Processor) Stats() Stats {
	s := p.stats
	if sr, ok := p.parser.(statsReporter); ok {
		s.Parser = sr.Stats()
	}
	return s
}

// ResetStats zeroes the session and parser statistics. The cache is kept.
func (p *Processor) ResetStats() {
	p.stats = Stats{}
	if sr, ok := p.parser.(statsReporter); ok {
		sr.ResetStats()
	}
}

// ClearCache drops every cached record.
func (p *Processor) ClearCache() {
	if p.cache != nil {
		p.cache.Clear()
	}
}

// CacheSize returns the number of cached records.
func (p *Processor) CacheSize() int {
	if p.cache == nil {
		return 0
	}
	return p.cache.Len()
}

func (p *Processor) processChunk(rs io.ReadSeeker, chunk []uint64, fields format.FieldSet, b *RecordBatch) error {
	for _, off := range chunk {
		rec, size, err := p.fetch(rs, off, fields)
		if err != nil {
			return err
		}
		b.add(off, rec, size)
	}
	return nil
}

func (p *Processor) processWindow(rs io.ReadSeeker, window []uint64, fields format.FieldSet, b *RecordBatch) error {
	if p.allCached(window, fields) {
		return p.processChunk(rs, window, fields, b)
	}

	first, last := window[0], window[len(window)-1]
	want := last - first + prefetchTail
	if want > uint64(p.cfg.BufferSize) {
		want = uint64(p.cfg.BufferSize)
	}

	if _, err := rs.Seek(int64(first), io.SeekStart); err != nil {
		return errors.IO(errors.StageRecord, int64(first), "seek to prefetch window", err)
	}
	buf := collections.GetBytes(int(want))
	defer collections.PutBytes(buf)

	n, err := io.ReadFull(rs, *buf)
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		p.stats.PrefetchTruncations++
		p.logger.Debug("prefetch window at %d truncated to %d of %d bytes", first, n, want)
	case err != nil:
		return errors.IO(errors.StageRecord, int64(first), "prefetch read", err)
	}
	p.stats.PrefetchOperations++
	p.stats.BytesPrefetched += uint64(n)

	return p.processChunk(newPrefetchReader(rs, int64(first), (*buf)[:n]), window, fields, b)
}

func (p *Processor) allCached(offsets []uint64, fields format.FieldSet) bool {
	if p.cache == nil {
		return false
	}
	for _, off := range offsets {
		if !p.cache.Contains(off, fields) {
			return false
		}
	}
	return true
}

func (p *Processor) fetch(rs io.ReadSeeker, off uint64, fields format.FieldSet) (*parser.PartialRecord, uint64, error) {
	p.stats.RecordsProcessed++
	if p.cache != nil {
		if rec, size, ok := p.cache.Get(off, fields); ok {
			p.stats.CacheHits++
			return rec, size, nil
		}
		p.stats.CacheMisses++
	}

	if _, err := rs.Seek(int64(off), io.SeekStart); err != nil {
		return nil, 0, errors.IO(errors.StageRecord, int64(off), "seek to record", err)
	}
	rec, err := p.parser.ParseSelectiveFields(rs, fields)
	if err != nil {
		return nil, 0, err
	}
	end, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, errors.IO(errors.StageRecord, int64(off), "query record end", err)
	}
	size := uint64(end) - off

	if p.cache != nil {
		p.stats.CacheEvictions += uint64(p.cache.Put(off, rec, fields, size, p.clock.Now()))
	}
	return rec, size, nil
}

func sortedOffsets(offsets []uint64) *[]uint64 {
	s := collections.GetUint64Slice()
	*s = append(*s, offsets...)
	slices.Sort(*s)
	return s
}

func chunks(s []uint64, size int) [][]uint64 {
	var out [][]uint64
	for len(s) > 0 {
		n := size
		if n > len(s) {
			n = len(s)
		}
		out = append(out, s[:n])
		s = s[n:]
	}
	return out
}
