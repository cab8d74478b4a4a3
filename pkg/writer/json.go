// Package writer provides the JSON outputs used by the CLI: one document,
// or one JSON value per line, optionally gzipped.
package writer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// JSONWriter writes data as a single JSON document.
type JSONWriter[T any] struct {
	// Indent specifies the indentation for pretty printing.
	// Empty string means compact output.
	Indent string
}

// NewJSONWriter creates a new JSON writer with compact output.
func NewJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: ""}
}

// NewPrettyJSONWriter creates a JSON writer with pretty printing.
func NewPrettyJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: "  "}
}

// Write writes the data as JSON to the writer.
func (w *JSONWriter[T]) Write(data T, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	if w.Indent != "" {
		encoder.SetIndent("", w.Indent)
	}
	return encoder.Encode(data)
}

// LineWriter writes one compact JSON value per line.
type LineWriter[T any] struct {
	buf   *bufio.Writer
	enc   *json.Encoder
	count int
}

// NewLineWriter creates a LineWriter over w. Call Flush when done.
func NewLineWriter[T any](w io.Writer) *LineWriter[T] {
	buf := bufio.NewWriter(w)
	return &LineWriter[T]{buf: buf, enc: json.NewEncoder(buf)}
}

// Write encodes v followed by a newline.
func (w *LineWriter[T]) Write(v T) error {
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode line %d: %w", w.count+1, err)
	}
	w.count++
	return nil
}

// Count returns the number of lines written.
func (w *LineWriter[T]) Count() int { return w.count }

// Flush writes any buffered data.
func (w *LineWriter[T]) Flush() error { return w.buf.Flush() }

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type gzipFile struct {
	gz   *gzip.Writer
	file io.Closer
}

func (g *gzipFile) Write(p []byte) (int, error) { return g.gz.Write(p) }

func (g *gzipFile) Close() error {
	if err := g.gz.Close(); err != nil {
		g.file.Close()
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return g.file.Close()
}

// OpenOutput opens path for writing; "" or "-" means stdout, which is
// never closed. Paths ending in ".gz" are gzip-compressed.
func OpenOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	if strings.HasSuffix(path, ".gz") {
		return &gzipFile{gz: gzip.NewWriter(file), file: file}, nil
	}
	return file, nil
}
