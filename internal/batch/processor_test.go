package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memscope-index/internal/format"
	"github.com/memscope-index/internal/index"
	"github.com/memscope-index/internal/mock"
	"github.com/memscope-index/internal/parser"
	"github.com/memscope-index/internal/synth"
	"github.com/memscope-index/internal/testutil"
	apperrors "github.com/memscope-index/pkg/errors"
	"github.com/memscope-index/pkg/model"
	"github.com/memscope-index/pkg/utils"
)

type fixture struct {
	file    *os.File
	offsets []uint64
	locs    []format.RecordLocation
	allocs  []model.Allocation
}

func newFixture(t *testing.T, allocs []model.Allocation) *fixture {
	t.Helper()
	path, locs := testutil.WriteAllocationFile(t, allocs)

	idx, err := index.NewBuilder().BuildIndex(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, len(allocs), idx.RecordCount())

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return &fixture{file: f, offsets: idx.Offsets(), locs: locs, allocs: allocs}
}

func newProcessor(t *testing.T, cfg Config, opts ...Option) *Processor {
	t.Helper()
	p, err := NewProcessor(cfg, opts...)
	require.NoError(t, err)
	return p
}

func TestProcessBatch_Scenario(t *testing.T) {
	fx := newFixture(t, synth.Scenario())
	p := newProcessor(t, DefaultConfig())

	b, err := p.ProcessBatch(fx.file, fx.offsets, ptrSize)
	require.NoError(t, err)
	require.Len(t, b.Records, 5)
	for i, rec := range b.Records {
		assert.Equal(t, 0x1000+uint64(i)*0x100, rec.Ptr.OrElse(0))
		assert.Equal(t, 1024+uint64(i)*100, rec.Size.OrElse(0))
		assert.Equal(t, parser.NotRequested, rec.VarName.State())
	}

	names := format.NewFieldSet(format.FieldVarName)
	b, err = p.ProcessBatch(fx.file, fx.offsets, names)
	require.NoError(t, err)
	require.Len(t, b.Records, 5)
	for i, rec := range b.Records {
		assert.Equal(t, fx.allocs[i].VarName, rec.VarName.Ptr())
		assert.Equal(t, parser.NotRequested, rec.Ptr.State())
		assert.Equal(t, parser.NotRequested, rec.Size.State())
	}
	assert.Equal(t, uint64(10), p.Stats().CacheMisses)
}

func TestProcessBatch_RoundTrip(t *testing.T) {
	fx := newFixture(t, synth.Generate(60, synth.DefaultOptions()))
	p := newProcessor(t, DefaultConfig())

	b, err := p.ProcessBatch(fx.file, fx.offsets, format.FullFieldSet)
	require.NoError(t, err)
	require.Len(t, b.Records, len(fx.allocs))
	for i, rec := range b.Records {
		assert.Equal(t, fx.allocs[i], rec.ToAllocation(), "record %d", i)
	}
}

func TestProcessBatch_SortsAndDescribes(t *testing.T) {
	fx := newFixture(t, synth.Scenario())
	p := newProcessor(t, DefaultConfig())

	shuffled := []uint64{fx.offsets[3], fx.offsets[0], fx.offsets[4], fx.offsets[1], fx.offsets[2]}
	b, err := p.ProcessBatch(fx.file, shuffled, ptrSize)
	require.NoError(t, err)

	var total uint64
	for i, rec := range b.Records {
		assert.Equal(t, fx.offsets[i], rec.Offset)
		total += uint64(fx.locs[i].Size)
	}
	assert.Equal(t, fx.offsets[0], b.Metadata.StartOffset)
	assert.Equal(t, fx.offsets[4], b.Metadata.EndOffset)
	assert.Equal(t, 5, b.Metadata.RecordCount)
	assert.Equal(t, total, b.Metadata.TotalSize)
	assert.Equal(t, ptrSize, b.Metadata.Fields)

	// The caller's slice is left untouched.
	assert.Equal(t, fx.offsets[3], shuffled[0])
}

func TestProcessBatch_Empty(t *testing.T) {
	fx := newFixture(t, synth.Scenario())
	p := newProcessor(t, DefaultConfig())

	b, err := p.ProcessBatch(fx.file, nil, ptrSize)
	require.NoError(t, err)
	assert.Empty(t, b.Records)
	assert.Equal(t, 0, b.Metadata.RecordCount)
}

func TestProcessBatch_Idempotent(t *testing.T) {
	fx := newFixture(t, synth.Generate(30, synth.DefaultOptions()))
	p := newProcessor(t, DefaultConfig())
	fields := format.BasicFields.With(format.FieldMemoryLayout)

	first, err := p.ProcessBatch(fx.file, fx.offsets, fields)
	require.NoError(t, err)
	before := p.Stats()

	second, err := p.ProcessBatch(fx.file, fx.offsets, fields)
	require.NoError(t, err)
	after := p.Stats()

	a, err := json.Marshal(first.Records)
	require.NoError(t, err)
	b, err := json.Marshal(second.Records)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, first.Records, second.Records)

	assert.Equal(t, before.CacheHits+30, after.CacheHits)
	assert.Equal(t, before.CacheMisses, after.CacheMisses)
	assert.Equal(t, 100.0*30/60, after.CacheHitRate())
}

func TestProcessBatch_CoveredSubsetHits(t *testing.T) {
	fx := newFixture(t, synth.Scenario())
	p := newProcessor(t, DefaultConfig())

	_, err := p.ProcessBatch(fx.file, fx.offsets, format.FullFieldSet)
	require.NoError(t, err)
	b, err := p.ProcessBatch(fx.file, fx.offsets, format.NewFieldSet(format.FieldThreadID))
	require.NoError(t, err)

	assert.Equal(t, uint64(5), p.Stats().CacheHits)
	for _, rec := range b.Records {
		assert.Equal(t, "main", rec.ThreadID.OrElse(""))
		assert.Equal(t, format.NewFieldSet(format.FieldThreadID), rec.Requested())
	}
}

func TestProcessBatch_CacheBound(t *testing.T) {
	fx := newFixture(t, synth.Generate(50, synth.DefaultOptions()))
	cfg := DefaultConfig()
	cfg.MaxCacheSize = 10
	p := newProcessor(t, cfg)

	for i := range fx.offsets {
		_, err := p.ProcessBatch(fx.file, fx.offsets[i:i+1], ptrSize)
		require.NoError(t, err)
		assert.LessOrEqual(t, p.CacheSize(), 10)
	}
	assert.Equal(t, 10, p.CacheSize())
	assert.Equal(t, uint64(40), p.Stats().CacheEvictions)
}

func TestProcessBatch_CachingDisabled(t *testing.T) {
	fx := newFixture(t, synth.Scenario())
	cfg := DefaultConfig()
	cfg.EnableCaching = false
	cfg.MaxCacheSize = 0
	p := newProcessor(t, cfg)

	for i := 0; i < 2; i++ {
		_, err := p.ProcessBatch(fx.file, fx.offsets, ptrSize)
		require.NoError(t, err)
	}
	stats := p.Stats()
	assert.Equal(t, 0, p.CacheSize())
	assert.Equal(t, uint64(0), stats.CacheHits)
	assert.Equal(t, uint64(0), stats.CacheMisses)
	assert.Equal(t, uint64(10), stats.Parser.RecordsParsed)
}

func TestProcessBatch_Chunks(t *testing.T) {
	fx := newFixture(t, synth.Generate(25, synth.DefaultOptions()))
	cfg := DefaultConfig()
	cfg.BatchSize = 4
	p := newProcessor(t, cfg)

	b, err := p.ProcessBatch(fx.file, fx.offsets, ptrSize)
	require.NoError(t, err)
	assert.Len(t, b.Records, 25)
	assert.Equal(t, uint64(1), p.Stats().BatchesProcessed)
	assert.Equal(t, uint64(25), p.Stats().RecordsProcessed)
}

func TestProcessBatch_Errors(t *testing.T) {
	fx := newFixture(t, synth.Scenario())

	t.Run("offset inside a record", func(t *testing.T) {
		p := newProcessor(t, DefaultConfig())
		_, err := p.ProcessBatch(fx.file, []uint64{fx.offsets[0] + 3}, ptrSize)
		require.Error(t, err)
		assert.True(t, apperrors.IsCorruptedData(err))
		assert.Equal(t, 0, p.CacheSize())
	})

	t.Run("parser failure propagates", func(t *testing.T) {
		mp := &mock.MockRecordParser{}
		boom := apperrors.IO(apperrors.StageRecord, 40, "read", errors.New("device gone"))
		mp.ExpectParse(ptrSize, nil, boom)

		p := newProcessor(t, DefaultConfig(), WithParser(mp))
		_, err := p.ProcessBatch(fx.file, fx.offsets, ptrSize)
		assert.ErrorIs(t, err, boom)
		mp.AssertNumberOfCalls(t, "ParseSelectiveFields", 1)
	})
}

func TestProcessWithPrefetch_MatchesProcessBatch(t *testing.T) {
	fx := newFixture(t, synth.Generate(40, synth.DefaultOptions()))

	tests := []struct {
		name       string
		bufferSize int
	}{
		{"buffer covers windows", DefaultBufferSize},
		{"buffer smaller than a window", 64},
	}

	direct := newProcessor(t, DefaultConfig())
	want, err := direct.ProcessBatch(fx.file, fx.offsets, format.FullFieldSet)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.PrefetchCount = 3
			cfg.BufferSize = tt.bufferSize
			cfg.EnableCaching = false
			p := newProcessor(t, cfg)

			got, err := p.ProcessWithPrefetch(fx.file, fx.offsets, format.FullFieldSet)
			require.NoError(t, err)
			assert.Equal(t, want.Records, got.Records)
			assert.Equal(t, want.Metadata, got.Metadata)
			assert.Equal(t, uint64(14), p.Stats().PrefetchOperations)
		})
	}
}

func TestProcessWithPrefetch_TruncatesAtEOF(t *testing.T) {
	fx := newFixture(t, synth.Scenario())
	var buf bytes.Buffer
	logger := utils.NewDefaultLogger(utils.LevelDebug, &buf)

	cfg := DefaultConfig()
	cfg.PrefetchCount = 5
	p := newProcessor(t, cfg, WithLogger(logger))

	b, err := p.ProcessWithPrefetch(fx.file, fx.offsets, format.BasicFields)
	require.NoError(t, err)
	assert.Len(t, b.Records, 5)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.PrefetchOperations)
	assert.Equal(t, uint64(1), stats.PrefetchTruncations)
	assert.Contains(t, buf.String(), "[DEBUG]")
	assert.Contains(t, buf.String(), "truncated")
}

func TestProcessWithPrefetch_SkipsCachedWindows(t *testing.T) {
	fx := newFixture(t, synth.Scenario())
	p := newProcessor(t, DefaultConfig())

	_, err := p.ProcessWithPrefetch(fx.file, fx.offsets, ptrSize)
	require.NoError(t, err)
	_, err = p.ProcessWithPrefetch(fx.file, fx.offsets, ptrSize)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), p.Stats().PrefetchOperations)
	assert.Equal(t, uint64(5), p.Stats().CacheHits)
}

func TestProcessWithPrefetch_Disabled(t *testing.T) {
	fx := newFixture(t, synth.Scenario())
	cfg := DefaultConfig()
	cfg.EnablePrefetch = false
	p := newProcessor(t, cfg)

	b, err := p.ProcessWithPrefetch(fx.file, fx.offsets, ptrSize)
	require.NoError(t, err)
	assert.Len(t, b.Records, 5)
	assert.Equal(t, uint64(0), p.Stats().PrefetchOperations)
}

func TestProcessStreaming(t *testing.T) {
	fx := newFixture(t, synth.Scenario())
	cfg := DefaultConfig()
	cfg.BatchSize = 2

	t.Run("all chunks", func(t *testing.T) {
		p := newProcessor(t, cfg)
		var sizes []int
		n, err := p.ProcessStreaming(fx.file, fx.offsets, ptrSize, func(b *RecordBatch) (bool, error) {
			sizes = append(sizes, b.Metadata.RecordCount)
			return true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, []int{2, 2, 1}, sizes)
		assert.Equal(t, uint64(3), p.Stats().BatchesProcessed)
	})

	t.Run("early stop", func(t *testing.T) {
		p := newProcessor(t, cfg)
		calls := 0
		n, err := p.ProcessStreaming(fx.file, fx.offsets, ptrSize, func(b *RecordBatch) (bool, error) {
			calls++
			return false, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 2, n)
		assert.Equal(t, uint64(2), p.Stats().RecordsProcessed)
	})

	t.Run("callback error", func(t *testing.T) {
		p := newProcessor(t, cfg)
		stop := errors.New("sink closed")
		n, err := p.ProcessStreaming(fx.file, fx.offsets, ptrSize, func(b *RecordBatch) (bool, error) {
			return true, stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 2, n)
	})

	t.Run("parse error", func(t *testing.T) {
		p := newProcessor(t, cfg)
		bad := append(append([]uint64{}, fx.offsets...), fx.offsets[4]+1)
		n, err := p.ProcessStreaming(fx.file, bad, ptrSize, func(b *RecordBatch) (bool, error) {
			return true, nil
		})
		assert.True(t, apperrors.IsCorruptedData(err))
		assert.Equal(t, 4, n)
	})
}

func TestProcessor_ResetAndClear(t *testing.T) {
	fx := newFixture(t, synth.Scenario())
	clock := utils.NewMockClock(time.Unix(0, 0))
	p := newProcessor(t, DefaultConfig(), WithClock(clock))

	_, err := p.ProcessBatch(fx.file, fx.offsets, ptrSize)
	require.NoError(t, err)
	assert.Equal(t, 5, p.CacheSize())
	assert.Equal(t, uint64(5), p.Stats().Parser.RecordsParsed)

	p.ResetStats()
	assert.Equal(t, Stats{}, p.Stats())
	assert.Equal(t, 5, p.CacheSize())

	p.ClearCache()
	assert.Equal(t, 0, p.CacheSize())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }, true},
		{"zero buffer", func(c *Config) { c.BufferSize = 0 }, true},
		{"zero prefetch count", func(c *Config) { c.PrefetchCount = 0 }, true},
		{"zero prefetch count when disabled", func(c *Config) { c.EnablePrefetch = false; c.PrefetchCount = 0 }, false},
		{"zero cache size", func(c *Config) { c.MaxCacheSize = 0 }, true},
		{"zero cache size when disabled", func(c *Config) { c.EnableCaching = false; c.MaxCacheSize = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := NewProcessor(Config{})
	assert.Error(t, err)
}

func TestStats_Rates(t *testing.T) {
	var s Stats
	assert.Equal(t, 0.0, s.CacheHitRate())
	assert.Equal(t, 0.0, s.AvgRecordsPerBatch())

	s = Stats{BatchesProcessed: 2, RecordsProcessed: 9, CacheHits: 1, CacheMisses: 3}
	assert.Equal(t, 25.0, s.CacheHitRate())
	assert.Equal(t, 4.5, s.AvgRecordsPerBatch())
}
