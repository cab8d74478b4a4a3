package format

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/memscope-index/pkg/compression"
	"github.com/memscope-index/pkg/errors"
	"github.com/memscope-index/pkg/model"
)

// RecordLocation is where the writer placed one record.
type RecordLocation struct {
	Offset uint64
	Size   uint32
}

// Writer produces allocation files: header, string table, then records.
type Writer struct {
	w         io.Writer
	pos       int64
	declared  uint32
	written   uint32
	locations []RecordLocation
	strings   compression.Compressor
	stage     int
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithStringTableCompressor compresses the string table with c.
func WithStringTableCompressor(c compression.Compressor) WriterOption {
	return func(w *Writer) {
		w.strings = c
	}
}

// NewWriter creates a Writer on w.
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	wr := &Writer{w: w}
	for _, opt := range opts {
		opt(wr)
	}
	return wr
}

const (
	stageHeader = iota
	stageStrings
	stageRecords
)

// WriteHeader writes h. It must be the first call.
func (w *Writer) WriteHeader(h FileHeader) error {
	if w.stage != stageHeader {
		return errors.New(errors.CodeInvalidInput, "header already written")
	}
	w.declared = h.TotalCount
	w.stage = stageStrings
	return w.write(h.Encode())
}

// WriteStringTable writes the string table; an empty list writes the NONE
// marker. It must follow WriteHeader.
func (w *Writer) WriteStringTable(strs []string) error {
	if w.stage != stageStrings {
		return errors.New(errors.CodeInvalidInput, "string table must follow the header")
	}
	section, err := encodeStringTable(strs, w.strings)
	if err != nil {
		return errors.Wrap(errors.CodeIOError, "encode string table", err)
	}
	w.stage = stageRecords
	return w.write(section)
}

// WriteAllocation appends one framed record.
func (w *Writer) WriteAllocation(a *model.Allocation) error {
	if w.stage == stageStrings {
		if err := w.WriteStringTable(nil); err != nil {
			return err
		}
	}
	if w.stage != stageRecords {
		return errors.New(errors.CodeInvalidInput, "records must follow the header")
	}
	frame, err := EncodeRecord(a)
	if err != nil {
		return err
	}
	loc := RecordLocation{Offset: uint64(w.pos), Size: uint32(len(frame))}
	if err := w.write(frame); err != nil {
		return err
	}
	w.locations = append(w.locations, loc)
	w.written++
	return nil
}

// WriteRaw appends bytes verbatim. Tests use it to plant corrupt frames.
func (w *Writer) WriteRaw(b []byte) error {
	return w.write(b)
}

// Locations returns where each record was written, in order.
func (w *Writer) Locations() []RecordLocation {
	return append([]RecordLocation(nil), w.locations...)
}

// Written returns the number of records written.
func (w *Writer) Written() uint32 { return w.written }

// Declared returns the record count declared in the header.
func (w *Writer) Declared() uint32 { return w.declared }

func (w *Writer) write(b []byte) error {
	n, err := w.w.Write(b)
	w.pos += int64(n)
	if err != nil {
		return errors.IO(errors.StageNone, w.pos, "write", err)
	}
	return nil
}

// EncodeRecord returns the complete frame (tag, length, body) for a.
func EncodeRecord(a *model.Allocation) ([]byte, error) {
	body, err := EncodeBody(a)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, FrameSize+len(body))
	out = append(out, AllocationRecordTag)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...), nil
}

// EncodeBody returns the record body for a.
func EncodeBody(a *model.Allocation) ([]byte, error) {
	b := make([]byte, 0, 128)
	b = binary.LittleEndian.AppendUint64(b, a.Ptr)
	b = binary.LittleEndian.AppendUint64(b, a.Size)
	b = binary.LittleEndian.AppendUint64(b, a.TimestampAlloc)

	b = appendOptionalU64(b, a.TimestampDealloc)
	b = appendOptionalString(b, a.VarName)
	b = appendOptionalString(b, a.TypeName)
	b = appendOptionalString(b, a.ScopeName)
	b = appendOptionalString(b, a.ThreadID)

	if a.StackTrace == nil {
		b = append(b, 0)
	} else {
		b = append(b, 1)
		b = binary.LittleEndian.AppendUint32(b, uint32(len(a.StackTrace)))
		for _, frame := range a.StackTrace {
			b = appendString(b, frame)
		}
	}

	if a.BorrowCount == nil {
		b = append(b, 0)
	} else {
		b = append(b, 1)
		b = binary.LittleEndian.AppendUint32(b, *a.BorrowCount)
	}

	if a.IsLeaked == nil {
		b = append(b, 0)
	} else {
		b = append(b, 1, boolByte(*a.IsLeaked))
	}

	if a.LifetimeMs != nil {
		b = appendAdvanced(b, TagLifetime, binary.LittleEndian.AppendUint64(nil, *a.LifetimeMs))
	}
	if a.BorrowInfo != nil {
		b = appendAdvanced(b, TagBorrowInfo, EncodeBorrowInfo(a.BorrowInfo))
	}
	if a.CloneInfo != nil {
		b = appendAdvanced(b, TagCloneInfo, EncodeCloneInfo(a.CloneInfo))
	}
	if a.OwnershipHistoryAvailable != nil {
		b = appendAdvanced(b, TagOwnershipHistory, []byte{boolByte(*a.OwnershipHistoryAvailable)})
	}

	names := make([]string, 0, len(a.Analyses))
	for name := range a.Analyses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f, err := ParseField(name)
		if err != nil || !f.IsAnalysis() {
			return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown analysis %q", name))
		}
		tag, _ := TagForField(f)
		b = appendAdvanced(b, tag, a.Analyses[name])
	}

	if uint64(len(b)) > uint64(DefaultMaxRecordLength) {
		return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("record body of %d bytes exceeds %d", len(b), DefaultMaxRecordLength))
	}
	return b, nil
}

// WriteFile writes allocs to path as a complete file with a full-mode
// header. An empty strs writes the NONE marker.
func WriteFile(path string, allocs []model.Allocation, strs []string, opts ...WriterOption) ([]RecordLocation, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.IO(errors.StageNone, errors.NoOffset, "create allocation file", err)
	}
	defer f.Close()

	locs, err := WriteAll(f, allocs, strs, opts...)
	if err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, errors.IO(errors.StageNone, errors.NoOffset, "sync allocation file", err)
	}
	return locs, nil
}

// WriteAll writes a complete file to w.
func WriteAll(w io.Writer, allocs []model.Allocation, strs []string, opts ...WriterOption) ([]RecordLocation, error) {
	var user uint16
	for i := range allocs {
		if allocs[i].VarName != nil && user < ^uint16(0) {
			user++
		}
	}
	system := uint16(0)
	if n := len(allocs) - int(user); n > 0 {
		if n > int(^uint16(0)) {
			n = int(^uint16(0))
		}
		system = uint16(n)
	}

	wr := NewWriter(w, opts...)
	if err := wr.WriteHeader(NewFileHeader(uint32(len(allocs)), ExportFull, user, system)); err != nil {
		return nil, err
	}
	if err := wr.WriteStringTable(strs); err != nil {
		return nil, err
	}
	for i := range allocs {
		if err := wr.WriteAllocation(&allocs[i]); err != nil {
			return nil, err
		}
	}
	return wr.Locations(), nil
}

func appendString(b []byte, s string) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

func appendOptionalString(b []byte, s *string) []byte {
	if s == nil {
		return append(b, 0)
	}
	return appendString(append(b, 1), *s)
}

func appendAdvanced(b []byte, tag byte, payload []byte) []byte {
	b = append(b, tag)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(payload)))
	return append(b, payload...)
}
