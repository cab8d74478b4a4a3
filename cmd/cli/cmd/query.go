package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/memscope-index/internal/batch"
	"github.com/memscope-index/internal/format"
	"github.com/memscope-index/internal/index"
	"github.com/memscope-index/internal/parser"
	"github.com/memscope-index/pkg/telemetry"
	"github.com/memscope-index/pkg/writer"
)

var (
	queryFields  string
	queryPtr     uint64
	queryMinSize uint64
	queryMaxSize uint64
	queryMinTS   uint64
	queryMaxTS   uint64
	queryThread  string
	queryType    string
	queryLimit   int
	queryOutput  string
	queryNoCache bool
)

// queryCmd streams matching records as JSON lines.
var queryCmd = &cobra.Command{
	Use:   "query <file>",
	Short: "Stream matching records as JSON lines",
	Long: `Select candidate record batches with the quick filter, parse only the
requested fields and write one JSON object per matching record.

Fields are a comma separated list of field names, "basic" (ptr, size,
timestamp_alloc) or "all".`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	f := queryCmd.Flags()
	f.StringVarP(&queryFields, "fields", "f", "basic", "Fields to output")
	f.Uint64Var(&queryPtr, "ptr", 0, "Exact pointer (accepts 0x prefix)")
	f.Uint64Var(&queryMinSize, "min-size", 0, "Minimum allocation size")
	f.Uint64Var(&queryMaxSize, "max-size", 0, "Maximum allocation size")
	f.Uint64Var(&queryMinTS, "min-timestamp", 0, "Minimum allocation timestamp")
	f.Uint64Var(&queryMaxTS, "max-timestamp", 0, "Maximum allocation timestamp")
	f.StringVar(&queryThread, "thread", "", "Thread id")
	f.StringVar(&queryType, "type", "", "Type name")
	f.IntVar(&queryLimit, "limit", 0, "Stop after this many matches (0 = no limit)")
	f.StringVarP(&queryOutput, "output", "o", "-", "Output path, - for stdout, .gz suffix compresses")
	f.BoolVar(&queryNoCache, "no-cache", false, "Bypass the persistent index cache")
}

// buildQuery turns the flags that were set into an index.Query.
func buildQuery(cmd *cobra.Command) index.Query {
	var q index.Query
	changed := cmd.Flags().Changed
	if changed("ptr") {
		q.Ptr = &queryPtr
	}
	if changed("min-size") {
		q.MinSize = &queryMinSize
	}
	if changed("max-size") {
		q.MaxSize = &queryMaxSize
	}
	if changed("min-timestamp") {
		q.MinTimestamp = &queryMinTS
	}
	if changed("max-timestamp") {
		q.MaxTimestamp = &queryMaxTS
	}
	if changed("thread") {
		q.ThreadID = &queryThread
	}
	if changed("type") {
		q.TypeName = &queryType
	}
	return q
}

func runQuery(cmd *cobra.Command, args []string) error {
	fields, err := format.ParseFieldSet(queryFields)
	if err != nil {
		return err
	}

	svc, err := openIndexService(cfg, logger, queryNoCache)
	if err != nil {
		return err
	}
	defer svc.Close()

	idx, err := svc.cache.GetOrBuild(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	proc, err := newProcessor(cfg, logger)
	if err != nil {
		return err
	}

	out, err := writer.OpenOutput(queryOutput)
	if err != nil {
		return err
	}
	res, err := queryRecords(cmd.Context(), idx, proc, queryRequest{
		query:      buildQuery(cmd),
		fields:     fields,
		limit:      queryLimit,
		bufferSize: cfg.Batch.BufferSize,
	}, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	logger.Info("%d of %d candidate records matched (%d records indexed)",
		res.Matched, res.Candidates, idx.RecordCount())
	return nil
}

type queryRequest struct {
	query      index.Query
	fields     format.FieldSet
	limit      int
	bufferSize int
}

type queryResult struct {
	Candidates int
	Scanned    int
	Matched    int
}

// queryRecords streams the records of idx that match req to out.
func queryRecords(ctx context.Context, idx *index.BinaryIndex, proc *batch.Processor, req queryRequest, out io.Writer) (queryResult, error) {
	_, span := telemetry.StartSpan(ctx, "cli.queryRecords",
		attribute.String("file.path", idx.FilePath),
		attribute.String("query.fields", req.fields.String()))

	res, err := streamMatches(ctx, idx, proc, req, out)
	span.SetAttributes(
		attribute.Int("query.candidates", res.Candidates),
		attribute.Int("query.matched", res.Matched),
	)
	telemetry.EndSpan(span, err)
	return res, err
}

func streamMatches(ctx context.Context, idx *index.BinaryIndex, proc *batch.Processor, req queryRequest, out io.Writer) (queryResult, error) {
	filter := recordFilter{q: req.query}
	offsets := candidateOffsets(idx, req.query)
	res := queryResult{Candidates: len(offsets)}
	if len(offsets) == 0 {
		return res, nil
	}

	f, err := os.Open(idx.FilePath)
	if err != nil {
		return res, fmt.Errorf("failed to open %s: %w", idx.FilePath, err)
	}
	defer f.Close()

	lw := writer.NewLineWriter[*parser.PartialRecord](out)
	scanned, err := proc.ProcessStreaming(
		format.NewBufferedReadSeeker(f, req.bufferSize),
		offsets,
		req.fields.Union(filter.fields()),
		func(b *batch.RecordBatch) (bool, error) {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			for _, rec := range b.Records {
				if !filter.match(rec) {
					continue
				}
				if err := lw.Write(rec.Project(req.fields)); err != nil {
					return false, err
				}
				if req.limit > 0 && lw.Count() >= req.limit {
					return false, nil
				}
			}
			return true, nil
		},
	)
	res.Scanned = scanned
	res.Matched = lw.Count()
	if ferr := lw.Flush(); err == nil {
		err = ferr
	}
	return res, err
}
