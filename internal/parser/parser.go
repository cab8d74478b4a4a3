// Package parser decodes the caller-requested subset of an allocation
// record and seeks over the rest.
package parser

import (
	"encoding/json"
	"io"
	"time"

	"github.com/memscope-index/internal/format"
	"github.com/memscope-index/pkg/errors"
	"github.com/memscope-index/pkg/utils"
)

// RecordParser parses one record at the current stream position.
type RecordParser interface {
	ParseSelectiveFields(rs io.ReadSeeker, fields format.FieldSet) (*PartialRecord, error)
}

// FieldParser is a RecordParser that keeps statistics. It is not safe
// for concurrent use; each session owns its parser and stream.
type FieldParser struct {
	stats        Stats
	clock        utils.Clock
	perByteCost  time.Duration
	maxRecordLen uint32
}

// Option configures a FieldParser.
type Option func(*FieldParser)

func WithClock(c utils.Clock) Option {
	return func(p *FieldParser) { p.clock = c }
}

// WithPerByteCost sets the decode cost used for EstimatedTimeSaved.
func WithPerByteCost(d time.Duration) Option {
	return func(p *FieldParser) { p.perByteCost = d }
}

// WithMaxRecordLength bounds the record length accepted from the frame.
func WithMaxRecordLength(n uint32) Option {
	return func(p *FieldParser) { p.maxRecordLen = n }
}

// NewFieldParser creates a parser.
func NewFieldParser(opts ...Option) *FieldParser {
	p := &FieldParser{
		clock:        utils.NewRealClock(),
		perByteCost:  DefaultPerByteCost,
		maxRecordLen: format.DefaultMaxRecordLength,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseSelectiveFields reads the record whose frame starts at the current
// position of rs and decodes the fields in fields. On success the stream
// is left at the end of the record. After a failure the stream position
// is undefined.
func (p *FieldParser) ParseSelectiveFields(rs io.ReadSeeker, fields format.FieldSet) (*PartialRecord, error) {
	start := p.clock.Now()
	defer func() { p.stats.ParseTime += p.clock.Since(start) }()

	r, err := format.NewReader(rs, errors.StageRecord)
	if err != nil {
		return nil, err
	}
	offset := r.Pos()
	tag, length, err := r.Frame()
	if err != nil {
		return nil, err
	}
	if tag != format.AllocationRecordTag {
		return nil, unexpectedTag(offset, tag)
	}
	if length > p.maxRecordLen {
		return nil, lengthTooLarge(offset, length, p.maxRecordLen)
	}

	d := &decoder{
		r:      r,
		fields: fields,
		offset: offset,
		end:    offset + format.FrameSize + int64(length),
		rec:    &PartialRecord{Offset: uint64(offset)},
	}
	if err := d.decode(); err != nil {
		return nil, err
	}
	d.rec.markAbsent(fields)

	p.stats.RecordsParsed++
	p.stats.FieldsParsed += d.parsed
	p.stats.FieldsSkipped += d.skipped
	p.stats.BytesSkipped += d.bytesSkipped
	return d.rec, nil
}

// ParseFullRecord parses every known field.
func (p *FieldParser) ParseFullRecord(rs io.ReadSeeker) (*PartialRecord, error) {
	return p.ParseSelectiveFields(rs, format.FullFieldSet)
}

// Stats returns the accumulated statistics.
func (p *FieldParser) Stats() Stats {
	s := p.stats
	s.EstimatedTimeSaved = time.Duration(s.BytesSkipped) * p.perByteCost
	return s
}

// ResetStats zeroes the statistics.
func (p *FieldParser) ResetStats() {
	p.stats = Stats{}
}

// decoder walks one record body. Skips are accumulated in pending and
// turned into a single seek before the next read.
type decoder struct {
	r       *format.Reader
	fields  format.FieldSet
	offset  int64
	end     int64
	pending int64
	rec     *PartialRecord

	parsed       uint64
	skipped      uint64
	bytesSkipped uint64
}

func (d *decoder) decode() error {
	rec := d.rec
	if err := d.fixed(format.FieldPtr, &rec.Ptr); err != nil {
		return err
	}
	if err := d.fixed(format.FieldSize, &rec.Size); err != nil {
		return err
	}
	if err := d.fixed(format.FieldTimestampAlloc, &rec.TimestampAlloc); err != nil {
		return err
	}

	steps := []struct {
		field  format.Field
		decode func() error
		skip   func() error
	}{
		{format.FieldTimestampDealloc, func() error {
			v, err := d.u64()
			rec.TimestampDealloc = Some(v)
			return err
		}, func() error { return d.skipBytes(8) }},
		{format.FieldVarName, d.stringInto(&rec.VarName), d.skipString},
		{format.FieldTypeName, d.stringInto(&rec.TypeName), d.skipString},
		{format.FieldScopeName, d.stringInto(&rec.ScopeName), d.skipString},
		{format.FieldThreadID, d.stringInto(&rec.ThreadID), d.skipString},
		{format.FieldStackTrace, d.stackTrace, d.skipStackTrace},
		{format.FieldBorrowCount, func() error {
			v, err := d.u32()
			rec.BorrowCount = Some(v)
			return err
		}, func() error { return d.skipBytes(4) }},
		{format.FieldIsLeaked, func() error {
			v, err := d.u8()
			rec.IsLeaked = Some(v != 0)
			return err
		}, func() error { return d.skipBytes(1) }},
	}
	for _, s := range steps {
		if err := d.optional(s.field, s.decode, s.skip); err != nil {
			return err
		}
	}

	if err := d.advanced(); err != nil {
		return err
	}
	return d.finish()
}

func (d *decoder) pos() int64  { return d.r.Pos() + d.pending }
func (d *decoder) left() int64 { return d.end - d.pos() }

func (d *decoder) need(n int64) error {
	if d.left() < n {
		return overrun(d.pos(), d.offset, n)
	}
	return nil
}

func (d *decoder) sync() error {
	if d.pending == 0 {
		return nil
	}
	n := d.pending
	d.pending = 0
	return d.r.Skip(n)
}

// finish leaves the stream at the end of the record. The last skipped
// byte is read rather than seeked over so a truncated tail is reported.
func (d *decoder) finish() error {
	if d.pending == 0 {
		return nil
	}
	d.pending--
	if err := d.sync(); err != nil {
		return err
	}
	_, err := d.r.U8()
	return err
}

func (d *decoder) skipBytes(n int64) error {
	if err := d.need(n); err != nil {
		return err
	}
	d.pending += n
	d.bytesSkipped += uint64(n)
	return nil
}

func (d *decoder) read(n int64) error {
	if err := d.need(n); err != nil {
		return err
	}
	return d.sync()
}

func (d *decoder) u8() (uint8, error) {
	if err := d.read(1); err != nil {
		return 0, err
	}
	return d.r.U8()
}

func (d *decoder) u32() (uint32, error) {
	if err := d.read(4); err != nil {
		return 0, err
	}
	return d.r.U32()
}

func (d *decoder) u64() (uint64, error) {
	if err := d.read(8); err != nil {
		return 0, err
	}
	return d.r.U64()
}

func (d *decoder) bytes(n int64) ([]byte, error) {
	if err := d.read(n); err != nil {
		return nil, err
	}
	return d.r.Bytes(int(n))
}

func (d *decoder) fixed(f format.Field, slot *Value[uint64]) error {
	if !d.fields.Has(f) {
		d.skipped++
		return d.skipBytes(8)
	}
	v, err := d.u64()
	if err != nil {
		return err
	}
	*slot = Some(v)
	d.parsed++
	return nil
}

// optional consumes a presence byte and then decodes or skips the value.
// A requested field whose presence byte is 0 is left for markAbsent.
func (d *decoder) optional(f format.Field, decode, skip func() error) error {
	if err := d.read(1); err != nil {
		return err
	}
	present, err := d.r.Presence()
	if err != nil {
		return err
	}
	if !d.fields.Has(f) {
		d.skipped++
		if !present {
			return nil
		}
		return skip()
	}
	d.parsed++
	if !present {
		return nil
	}
	return decode()
}

func (d *decoder) stringLen() (int64, error) {
	at := d.pos()
	n, err := d.u32()
	if err != nil {
		return 0, err
	}
	if int64(n) > d.left() {
		return 0, overrun(at, d.offset, int64(n))
	}
	return int64(n), nil
}

func (d *decoder) str() (string, error) {
	n, err := d.stringLen()
	if err != nil {
		return "", err
	}
	b, err := d.bytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) stringInto(slot *Value[string]) func() error {
	return func() error {
		s, err := d.str()
		if err != nil {
			return err
		}
		*slot = Some(s)
		return nil
	}
}

func (d *decoder) skipString() error {
	n, err := d.stringLen()
	if err != nil {
		return err
	}
	return d.skipBytes(n)
}

func (d *decoder) frameCount() (uint32, error) {
	at := d.pos()
	n, err := d.u32()
	if err != nil {
		return 0, err
	}
	// Every frame carries at least its u32 length.
	if int64(n)*4 > d.left() {
		return 0, overrun(at, d.offset, int64(n)*4)
	}
	return n, nil
}

func (d *decoder) stackTrace() error {
	n, err := d.frameCount()
	if err != nil {
		return err
	}
	frames := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := d.str()
		if err != nil {
			return err
		}
		frames = append(frames, s)
	}
	d.rec.StackTrace = Some(frames)
	return nil
}

func (d *decoder) skipStackTrace() error {
	n, err := d.frameCount()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if err := d.skipString(); err != nil {
			return err
		}
	}
	return nil
}

// advanced handles the tagged fields between the optional fields and the
// end of the record. Without a requested advanced field the whole region
// is passed over with one seek.
func (d *decoder) advanced() error {
	if !d.fields.HasAdvanced() {
		if rem := d.left(); rem > 0 {
			d.skipped++
			return d.skipBytes(rem)
		}
		return nil
	}

	for d.left() > 0 {
		if err := d.need(format.AdvancedFrameSize); err != nil {
			return err
		}
		tag, err := d.u8()
		if err != nil {
			return err
		}
		n, err := d.stringLen()
		if err != nil {
			return err
		}

		f, known := format.FieldForTag(tag)
		if !known || !d.fields.Has(f) {
			d.skipped++
			if err := d.skipBytes(n); err != nil {
				return err
			}
			continue
		}

		at := d.pos()
		payload, err := d.bytes(n)
		if err != nil {
			return err
		}
		if err := d.setAdvanced(f, payload, at); err != nil {
			return err
		}
		d.parsed++
	}
	return nil
}

func (d *decoder) setAdvanced(f format.Field, payload []byte, at int64) error {
	rec := d.rec
	switch f {
	case format.FieldLifetimeMs:
		v, err := format.DecodeU64Payload(payload, at)
		if err != nil {
			return err
		}
		rec.LifetimeMs = Some(v)
	case format.FieldBorrowInfo:
		v, err := format.DecodeBorrowInfo(payload, at)
		if err != nil {
			return err
		}
		rec.BorrowInfo = Some(*v)
	case format.FieldCloneInfo:
		v, err := format.DecodeCloneInfo(payload, at)
		if err != nil {
			return err
		}
		rec.CloneInfo = Some(*v)
	case format.FieldOwnershipHistoryAvailable:
		v, err := format.DecodeBoolPayload(payload, at)
		if err != nil {
			return err
		}
		rec.OwnershipHistoryAvailable = Some(v)
	default:
		rec.setAnalysis(f, Some(json.RawMessage(payload)))
	}
	return nil
}
