package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memscope-index/internal/batch"
	"github.com/memscope-index/internal/format"
	"github.com/memscope-index/internal/index"
	"github.com/memscope-index/internal/parser"
	"github.com/memscope-index/internal/synth"
	"github.com/memscope-index/internal/testutil"
)

func u64(v uint64) *uint64 { return &v }
func str(v string) *string { return &v }

func buildScenarioIndex(t *testing.T, opts ...index.Option) *index.BinaryIndex {
	t.Helper()
	path, _ := testutil.WriteAllocationFile(t, synth.Scenario())
	idx, err := index.NewBuilder(opts...).BuildIndex(context.Background(), path)
	require.NoError(t, err)
	return idx
}

func newTestProcessor(t *testing.T) *batch.Processor {
	t.Helper()
	p, err := batch.NewProcessor(batch.DefaultConfig())
	require.NoError(t, err)
	return p
}

func decodeLines(t *testing.T, b []byte) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestRecordFilter_Fields(t *testing.T) {
	f := recordFilter{q: index.Query{Ptr: u64(1), MaxSize: u64(10), TypeName: str("i32")}}
	fs := f.fields()

	assert.True(t, fs.Has(format.FieldPtr))
	assert.True(t, fs.Has(format.FieldSize))
	assert.True(t, fs.Has(format.FieldTypeName))
	assert.False(t, fs.Has(format.FieldThreadID))
	assert.False(t, fs.Has(format.FieldTimestampAlloc))
	assert.True(t, recordFilter{}.fields().IsEmpty())
}

func TestRecordFilter_Match(t *testing.T) {
	rec := &parser.PartialRecord{
		Ptr:            parser.Some(uint64(0x1000)),
		Size:           parser.Some(uint64(1024)),
		TimestampAlloc: parser.Some(uint64(1000)),
		ThreadID:       parser.Some("main"),
		TypeName:       parser.None[string](),
	}

	tests := []struct {
		name string
		q    index.Query
		want bool
	}{
		{"empty query", index.Query{}, true},
		{"ptr match", index.Query{Ptr: u64(0x1000)}, true},
		{"ptr mismatch", index.Query{Ptr: u64(0x2000)}, false},
		{"size inside range", index.Query{MinSize: u64(1000), MaxSize: u64(2000)}, true},
		{"size bounds inclusive", index.Query{MinSize: u64(1024), MaxSize: u64(1024)}, true},
		{"size below min", index.Query{MinSize: u64(2000)}, false},
		{"timestamp above max", index.Query{MaxTimestamp: u64(999)}, false},
		{"thread match", index.Query{ThreadID: str("main")}, true},
		{"thread mismatch", index.Query{ThreadID: str("worker")}, false},
		{"absent type never matches", index.Query{TypeName: str("i32")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, recordFilter{q: tt.q}.match(rec))
		})
	}
}

func TestCandidateOffsets_WithoutQuickFilter(t *testing.T) {
	idx := buildScenarioIndex(t)
	require.False(t, idx.HasQuickFilter())

	assert.Equal(t, idx.Offsets(), candidateOffsets(idx, index.Query{Ptr: u64(0x1200)}))
}

func TestCandidateOffsets_WithQuickFilter(t *testing.T) {
	idx := buildScenarioIndex(t, index.WithQuickFilterThreshold(1), index.WithQuickFilterBatchSize(1))
	require.True(t, idx.HasQuickFilter())

	got := candidateOffsets(idx, index.Query{Ptr: u64(0x1200)})
	require.Len(t, got, 1)
	assert.Equal(t, idx.Allocations.Entries[2].Offset, got[0])

	assert.Empty(t, candidateOffsets(idx, index.Query{Ptr: u64(0x9999)}))
}

func TestQueryRecords(t *testing.T) {
	idx := buildScenarioIndex(t)
	basic, err := format.ParseFieldSet("ptr,var_name")
	require.NoError(t, err)

	t.Run("filters and projects", func(t *testing.T) {
		var out bytes.Buffer
		res, err := queryRecords(context.Background(), idx, newTestProcessor(t), queryRequest{
			query:  index.Query{MinSize: u64(1200)},
			fields: basic,
		}, &out)
		require.NoError(t, err)

		assert.Equal(t, 5, res.Candidates)
		assert.Equal(t, 3, res.Matched)

		lines := decodeLines(t, out.Bytes())
		require.Len(t, lines, 3)
		assert.Equal(t, "var_2", lines[0]["var_name"])
		assert.Equal(t, float64(0x1200), lines[0]["ptr"])
		// size was parsed for the filter but not requested
		_, hasSize := lines[0]["size"]
		assert.False(t, hasSize)
	})

	t.Run("limit stops early", func(t *testing.T) {
		var out bytes.Buffer
		res, err := queryRecords(context.Background(), idx, newTestProcessor(t), queryRequest{
			fields: basic,
			limit:  2,
		}, &out)
		require.NoError(t, err)

		assert.Equal(t, 2, res.Matched)
		assert.Len(t, decodeLines(t, out.Bytes()), 2)
	})

	t.Run("no candidates", func(t *testing.T) {
		qidx := buildScenarioIndex(t, index.WithQuickFilterThreshold(1), index.WithQuickFilterBatchSize(1))
		var out bytes.Buffer
		res, err := queryRecords(context.Background(), qidx, newTestProcessor(t), queryRequest{
			query:  index.Query{Ptr: u64(0x9999)},
			fields: basic,
		}, &out)
		require.NoError(t, err)

		assert.Zero(t, res.Candidates)
		assert.Zero(t, out.Len())
	})
}

func TestParseAll(t *testing.T) {
	idx := buildScenarioIndex(t)
	proc := newTestProcessor(t)

	n, err := parseAll(idx, proc, format.BasicFields, 0)
	require.NoError(t, err)

	assert.Equal(t, 5, n)
	assert.Equal(t, uint64(5), proc.Stats().RecordsProcessed)
}
