// Package batch turns sets of record offsets into parsed records with
// sorted seeks, optional prefetching and a bounded per-session cache.
package batch

import (
	"fmt"

	"github.com/memscope-index/pkg/errors"
)

// Defaults.
const (
	DefaultBatchSize     = 1000
	DefaultBufferSize    = 64 * 1024
	DefaultPrefetchCount = 100
	DefaultMaxCacheSize  = 5000

	// prefetchTail is read past the last offset of a prefetch window so
	// the last record is usually covered.
	prefetchTail = 1024
)

// Config configures a Processor.
type Config struct {
	BatchSize      int
	BufferSize     int
	EnablePrefetch bool
	PrefetchCount  int
	EnableCaching  bool
	MaxCacheSize   int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:      DefaultBatchSize,
		BufferSize:     DefaultBufferSize,
		EnablePrefetch: true,
		PrefetchCount:  DefaultPrefetchCount,
		EnableCaching:  true,
		MaxCacheSize:   DefaultMaxCacheSize,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return invalid("batch size must be positive, got %d", c.BatchSize)
	}
	if c.BufferSize <= 0 {
		return invalid("buffer size must be positive, got %d", c.BufferSize)
	}
	if c.EnablePrefetch && c.PrefetchCount <= 0 {
		return invalid("prefetch count must be positive, got %d", c.PrefetchCount)
	}
	if c.EnableCaching && c.MaxCacheSize <= 0 {
		return invalid("max cache size must be positive, got %d", c.MaxCacheSize)
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return errors.New(errors.CodeConfigError, fmt.Sprintf(format, args...))
}
