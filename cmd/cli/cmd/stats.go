package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/memscope-index/internal/batch"
	"github.com/memscope-index/internal/format"
	"github.com/memscope-index/internal/index"
	"github.com/memscope-index/internal/indexcache"
	"github.com/memscope-index/pkg/utils"
	"github.com/memscope-index/pkg/writer"
)

var (
	statsFields  string
	statsNoCache bool
	statsJSON    bool
)

// statsCmd parses a whole file and reports processing statistics.
var statsCmd = &cobra.Command{
	Use:   "stats <file>",
	Short: "Parse every record and report parser and batch statistics",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringVarP(&statsFields, "fields", "f", "basic", "Fields to parse")
	statsCmd.Flags().BoolVar(&statsNoCache, "no-cache", false, "Bypass the persistent index cache")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print the report as JSON")
}

// statsReport is the output of the stats command.
type statsReport struct {
	Index  indexSummary     `json:"index"`
	Fields string           `json:"fields"`
	Parsed int              `json:"records_parsed"`
	Batch  batch.Stats      `json:"batch"`
	Cache  indexcache.Stats `json:"index_cache"`
	Timing map[string]int64 `json:"timing_us"`
}

func runStats(cmd *cobra.Command, args []string) error {
	fields, err := format.ParseFieldSet(statsFields)
	if err != nil {
		return err
	}

	svc, err := openIndexService(cfg, logger, statsNoCache)
	if err != nil {
		return err
	}
	defer svc.Close()

	proc, err := newProcessor(cfg, logger)
	if err != nil {
		return err
	}

	timer := utils.NewTimer("stats", utils.WithLogger(logger))
	var idx *index.BinaryIndex
	if _, err := timer.TimeFuncWithError("index", func() error {
		var err error
		idx, err = svc.cache.GetOrBuild(cmd.Context(), args[0])
		return err
	}); err != nil {
		return err
	}

	var parsed int
	if _, err := timer.TimeFuncWithError("parse", func() error {
		var err error
		parsed, err = parseAll(idx, proc, fields, cfg.Batch.BufferSize)
		return err
	}); err != nil {
		return err
	}
	timer.PrintSummary()

	report := statsReport{
		Index:  summarize(args[0], idx, timer.Duration("index")),
		Fields: fields.String(),
		Parsed: parsed,
		Batch:  proc.Stats(),
		Cache:  svc.cache.Stats(),
		Timing: make(map[string]int64),
	}
	for _, p := range timer.Phases() {
		report.Timing[p.Name] = p.Duration.Microseconds()
	}

	out := cmd.OutOrStdout()
	if statsJSON {
		return writer.NewPrettyJSONWriter[statsReport]().Write(report, out)
	}
	printStats(out, report)
	return nil
}

// parseAll runs every indexed record through proc with prefetching.
func parseAll(idx *index.BinaryIndex, proc *batch.Processor, fields format.FieldSet, bufferSize int) (int, error) {
	f, err := os.Open(idx.FilePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", idx.FilePath, err)
	}
	defer f.Close()

	b, err := proc.ProcessWithPrefetch(format.NewBufferedReadSeeker(f, bufferSize), idx.Offsets(), fields)
	if err != nil {
		return 0, err
	}
	return len(b.Records), nil
}

func printStats(out io.Writer, r statsReport) {
	ps := r.Batch.Parser
	fmt.Fprintf(out, "file:            %s (%d bytes, format v%d)\n", r.Index.File, r.Index.FileSize, r.Index.FormatVersion)
	fmt.Fprintf(out, "records:         %d indexed, %d declared, %d skipped\n", r.Index.Records, r.Index.Declared, r.Index.Skipped)
	fmt.Fprintf(out, "quick filter:    %d batches\n", r.Index.FilterBatches)
	fmt.Fprintf(out, "fields:          %s\n", r.Fields)
	fmt.Fprintf(out, "parsed:          %d records, %d fields parsed, %d skipped (%.1f%% efficiency)\n",
		r.Parsed, ps.FieldsParsed, ps.FieldsSkipped, ps.Efficiency())
	fmt.Fprintf(out, "bytes skipped:   %d (est. %v saved)\n", ps.BytesSkipped, ps.EstimatedTimeSaved)
	fmt.Fprintf(out, "avg parse time:  %v/record\n", ps.AvgParseTimePerRecord())
	fmt.Fprintf(out, "batches:         %d (%.1f records/batch), prefetches %d, truncated %d\n",
		r.Batch.BatchesProcessed, r.Batch.AvgRecordsPerBatch(), r.Batch.PrefetchOperations, r.Batch.PrefetchTruncations)
	fmt.Fprintf(out, "record cache:    %.1f%% hit rate, %d evictions\n", r.Batch.CacheHitRate(), r.Batch.CacheEvictions)
	fmt.Fprintf(out, "index cache:     %d hits, %d misses, %.1f%% hit rate\n", r.Cache.Hits, r.Cache.Misses, r.Cache.HitRate())
	fmt.Fprintf(out, "timing:          index=%v parse=%v\n",
		time.Duration(r.Timing["index"])*time.Microsecond, time.Duration(r.Timing["parse"])*time.Microsecond)
}
