package parser

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memscope-index/internal/format"
	"github.com/memscope-index/internal/synth"
	apperrors "github.com/memscope-index/pkg/errors"
	"github.com/memscope-index/pkg/model"
	"github.com/memscope-index/pkg/utils"
)

func encode(t *testing.T, a model.Allocation) []byte {
	t.Helper()
	b, err := format.EncodeRecord(&a)
	require.NoError(t, err)
	return b
}

func frame(body []byte) []byte {
	out := []byte{format.AllocationRecordTag}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...)
}

func position(t *testing.T, rs io.Seeker) int64 {
	t.Helper()
	pos, err := rs.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	return pos
}

func TestParseFullRecord_RoundTrip(t *testing.T) {
	p := NewFieldParser()
	for i, a := range synth.Generate(40, synth.DefaultOptions()) {
		data := encode(t, a)
		rs := bytes.NewReader(data)

		rec, err := p.ParseFullRecord(rs)
		require.NoError(t, err, "record %d", i)
		assert.Equal(t, a, rec.ToAllocation(), "record %d", i)
		assert.Equal(t, format.FullFieldSet, rec.Requested())
		assert.Equal(t, int64(len(data)), position(t, rs))
	}
}

func TestParseSelectiveFields_SingleFieldSubsets(t *testing.T) {
	allocs := synth.Generate(16, synth.DefaultOptions())
	p := NewFieldParser()

	for _, f := range format.AllFields() {
		fs := format.NewFieldSet(f)
		t.Run(f.String(), func(t *testing.T) {
			for i, a := range allocs {
				data := encode(t, a)

				full, err := p.ParseFullRecord(bytes.NewReader(data))
				require.NoError(t, err)

				rs := bytes.NewReader(data)
				sel, err := p.ParseSelectiveFields(rs, fs)
				require.NoError(t, err, "record %d", i)

				assert.Equal(t, full.Project(fs), sel, "record %d", i)
				assert.Equal(t, fs, sel.Requested())
				assert.NotEqual(t, NotRequested, sel.State(f))
				assert.Equal(t, int64(len(data)), position(t, rs))
			}
		})
	}
}

func TestParseSelectiveFields_MixedSubsets(t *testing.T) {
	allocs := synth.Generate(24, synth.DefaultOptions())
	sets := []format.FieldSet{
		format.BasicFields,
		format.NewFieldSet(format.FieldPtr, format.FieldThreadID, format.FieldLifetimeMs),
		format.NewFieldSet(format.FieldStackTrace, format.FieldMemoryLayout),
		format.NewFieldSet(format.FieldIsLeaked, format.FieldCloneInfo, format.FieldLifecycleTracking),
		format.AdvancedFields,
	}
	p := NewFieldParser()

	for _, fs := range sets {
		for i, a := range allocs {
			data := encode(t, a)
			full, err := p.ParseFullRecord(bytes.NewReader(data))
			require.NoError(t, err)

			sel, err := p.ParseSelectiveFields(bytes.NewReader(data), fs)
			require.NoError(t, err, "set %s record %d", fs, i)
			assert.Equal(t, full.Project(fs), sel, "set %s record %d", fs, i)
		}
	}
}

func TestParseSelectiveFields_EmptySet(t *testing.T) {
	a := synth.Generate(1, synth.DefaultOptions())[0]
	data := encode(t, a)
	rs := bytes.NewReader(data)
	p := NewFieldParser()

	rec, err := p.ParseSelectiveFields(rs, 0)
	require.NoError(t, err)
	assert.True(t, rec.Requested().IsEmpty())
	assert.Equal(t, uint64(0), rec.Offset)
	assert.Equal(t, int64(len(data)), position(t, rs))

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.RecordsParsed)
	assert.Equal(t, uint64(0), stats.FieldsParsed)
	// 3 fixed, 8 optional, 1 advanced region.
	assert.Equal(t, uint64(12), stats.FieldsSkipped)
	// Presence bytes are read, everything else is skipped.
	assert.Equal(t, uint64(len(data)-format.FrameSize-8), stats.BytesSkipped)
}

func TestParseSelectiveFields_AbsentFields(t *testing.T) {
	a := model.Allocation{Ptr: 0x10, Size: 8, TimestampAlloc: 1}
	rec, err := NewFieldParser().ParseFullRecord(bytes.NewReader(encode(t, a)))
	require.NoError(t, err)

	assert.Equal(t, uint64(0x10), rec.Ptr.OrElse(0))
	assert.True(t, rec.VarName.IsAbsent())
	assert.True(t, rec.StackTrace.IsAbsent())
	assert.True(t, rec.LifetimeMs.IsAbsent())
	assert.True(t, rec.BorrowInfo.IsAbsent())
	assert.True(t, rec.Analysis(format.FieldDropChainAnalysis).IsAbsent())
	for _, f := range format.AllFields() {
		assert.NotEqual(t, NotRequested, rec.State(f), f.String())
	}
}

func TestParseSelectiveFields_EmptyStackTrace(t *testing.T) {
	a := model.Allocation{Ptr: 1, StackTrace: []string{}}
	rec, err := NewFieldParser().ParseSelectiveFields(bytes.NewReader(encode(t, a)), format.NewFieldSet(format.FieldStackTrace))
	require.NoError(t, err)

	st, ok := rec.StackTrace.Get()
	assert.True(t, ok)
	assert.Empty(t, st)
}

func TestParseSelectiveFields_AbsoluteOffset(t *testing.T) {
	prefix := make([]byte, 100)
	a := synth.Scenario()[0]
	data := append(prefix, encode(t, a)...)
	rs := bytes.NewReader(data)
	_, err := rs.Seek(100, io.SeekStart)
	require.NoError(t, err)

	rec, err := NewFieldParser().ParseSelectiveFields(rs, format.BasicFields)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), rec.Offset)
	assert.Equal(t, "var_0", rec.VarName.OrElse(""))
}

func TestParseSelectiveFields_ConsecutiveRecords(t *testing.T) {
	allocs := synth.Scenario()
	var data []byte
	for _, a := range allocs {
		data = append(data, encode(t, a)...)
	}
	rs := bytes.NewReader(data)
	p := NewFieldParser()

	for i := range allocs {
		rec, err := p.ParseSelectiveFields(rs, format.NewFieldSet(format.FieldSize))
		require.NoError(t, err)
		assert.Equal(t, 1024+uint64(i)*100, rec.Size.OrElse(0))
	}
	assert.Equal(t, int64(len(data)), position(t, rs))
}

func TestParseSelectiveFields_UnknownAdvancedTag(t *testing.T) {
	a := model.Allocation{Ptr: 1, Size: 2, TimestampAlloc: 3, LifetimeMs: model.U64(9)}
	body, err := format.EncodeBody(&a)
	require.NoError(t, err)
	body = append(body, 0x7f, 3, 0, 0, 0, 'a', 'b', 'c')
	data := frame(body)

	p := NewFieldParser()
	rs := bytes.NewReader(data)
	rec, err := p.ParseFullRecord(rs)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), rec.LifetimeMs.OrElse(0))
	assert.Equal(t, int64(len(data)), position(t, rs))
	assert.Equal(t, uint64(1), p.Stats().FieldsSkipped)
	assert.Equal(t, uint64(3), p.Stats().BytesSkipped)
}

func TestParseSelectiveFields_Errors(t *testing.T) {
	valid := encode(t, synth.Scenario()[0])
	withAdvanced := encode(t, synth.Generate(1, synth.DefaultOptions())[0])

	tests := []struct {
		name   string
		data   []byte
		opts   []Option
		fields format.FieldSet
		offset int64
	}{
		{
			name:   "wrong record tag",
			data:   append([]byte{0x02}, valid[1:]...),
			fields: format.FullFieldSet,
			offset: 0,
		},
		{
			name:   "length over maximum",
			data:   valid,
			opts:   []Option{WithMaxRecordLength(16)},
			fields: format.FullFieldSet,
			offset: 0,
		},
		{
			name:   "short read in fixed field",
			data:   frame(make([]byte, 32))[:25],
			fields: format.FullFieldSet,
			offset: 21,
		},
		{
			name:   "truncated skipped tail",
			data:   withAdvanced[:len(withAdvanced)-2],
			fields: 0,
			offset: int64(len(withAdvanced) - 1),
		},
		{
			name:   "string overruns record",
			data:   frame(append(make([]byte, 24), 0, 1, 0xff, 0, 0, 0)),
			fields: format.FullFieldSet,
			offset: 31,
		},
		{
			name:   "invalid presence byte",
			data:   frame(append(make([]byte, 24), 7, 0, 0, 0, 0, 0, 0, 0)),
			fields: format.FullFieldSet,
			offset: 29,
		},
		{
			name:   "short frame",
			data:   []byte{format.AllocationRecordTag, 1},
			fields: format.FullFieldSet,
			offset: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFieldParser(tt.opts...).ParseSelectiveFields(bytes.NewReader(tt.data), tt.fields)
			require.Error(t, err)
			assert.True(t, apperrors.IsCorruptedData(err), err.Error())
			assert.Equal(t, apperrors.StageRecord, apperrors.StageOf(err))
			assert.Equal(t, tt.offset, apperrors.OffsetOf(err))
		})
	}
}

type failingReader struct {
	io.ReadSeeker
	after int64
	read  int64
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.read >= r.after {
		return 0, errors.New("device gone")
	}
	if rem := r.after - r.read; int64(len(p)) > rem {
		p = p[:rem]
	}
	n, err := r.ReadSeeker.Read(p)
	r.read += int64(n)
	return n, err
}

func TestParseSelectiveFields_IOError(t *testing.T) {
	rs := &failingReader{ReadSeeker: bytes.NewReader(encode(t, synth.Scenario()[0])), after: 10}

	_, err := NewFieldParser().ParseFullRecord(rs)
	require.Error(t, err)
	assert.True(t, apperrors.IsIOError(err))
	assert.False(t, apperrors.IsCorruptedData(err))
}

func TestFieldParser_Stats(t *testing.T) {
	clock := utils.NewMockClock(time.Unix(0, 0))
	p := NewFieldParser(WithClock(clock), WithPerByteCost(10*time.Nanosecond))

	data := encode(t, synth.Scenario()[0])
	_, err := p.ParseSelectiveFields(bytes.NewReader(data), format.NewFieldSet(format.FieldPtr))
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.RecordsParsed)
	assert.Equal(t, uint64(1), stats.FieldsParsed)
	assert.Equal(t, uint64(10), stats.FieldsSkipped)
	assert.Greater(t, stats.BytesSkipped, uint64(16))
	assert.Equal(t, time.Duration(stats.BytesSkipped)*10*time.Nanosecond, stats.EstimatedTimeSaved)
	assert.InDelta(t, 100*10.0/11.0, stats.Efficiency(), 0.001)
	assert.Equal(t, time.Duration(0), stats.ParseTime)

	p.ResetStats()
	assert.Equal(t, Stats{}, p.Stats())
}

func TestStats_Helpers(t *testing.T) {
	var zero Stats
	assert.Equal(t, 0.0, zero.Efficiency())
	assert.Equal(t, time.Duration(0), zero.AvgParseTimePerRecord())

	a := Stats{RecordsParsed: 2, FieldsParsed: 1, FieldsSkipped: 3, ParseTime: 4 * time.Millisecond}
	sum := a.Add(a)
	assert.Equal(t, uint64(4), sum.RecordsParsed)
	assert.Equal(t, 2*time.Millisecond, sum.AvgParseTimePerRecord())
	assert.Equal(t, 75.0, sum.Efficiency())
}

func TestValue(t *testing.T) {
	var zero Value[uint64]
	assert.Equal(t, NotRequested, zero.State())
	assert.False(t, zero.IsRequested())
	assert.Nil(t, zero.Ptr())
	assert.Equal(t, uint64(7), zero.OrElse(7))

	some := Some[uint64](3)
	v, ok := some.Get()
	assert.True(t, ok)
	assert.Equal(t, uint64(3), v)
	assert.Equal(t, uint64(3), *some.Ptr())

	none := None[string]()
	assert.True(t, none.IsAbsent())
	assert.True(t, none.IsRequested())

	zero.markAbsent()
	assert.True(t, zero.IsAbsent())
	some.markAbsent()
	assert.True(t, some.IsPresent())

	assert.Equal(t, "present", Present.String())
	assert.Equal(t, "invalid", State(9).String())
}

func TestPartialRecord_MarshalJSON(t *testing.T) {
	a := model.Allocation{Ptr: 0x1000, Size: 64, TimestampAlloc: 1, VarName: model.Str("buf")}
	data := encode(t, a)
	rec, err := NewFieldParser().ParseSelectiveFields(bytes.NewReader(data),
		format.NewFieldSet(format.FieldPtr, format.FieldVarName, format.FieldTypeName, format.FieldGenericInfo))
	require.NoError(t, err)

	out, err := json.Marshal(rec)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Len(t, got, 5)
	assert.Equal(t, float64(0), got["offset"])
	assert.Equal(t, float64(0x1000), got["ptr"])
	assert.Equal(t, "buf", got["var_name"])
	assert.Nil(t, got["type_name"])
	assert.Contains(t, got, "generic_info")
	assert.NotContains(t, got, "size")
}

func TestPartialRecord_CloneIsDeep(t *testing.T) {
	a := synth.Generate(2, synth.DefaultOptions())[1]
	rec, err := NewFieldParser().ParseFullRecord(bytes.NewReader(encode(t, a)))
	require.NoError(t, err)

	c := rec.Clone()
	st, _ := c.StackTrace.Get()
	st[0] = "changed"
	orig, _ := rec.StackTrace.Get()
	assert.Equal(t, "alloc::alloc", orig[0])
}
