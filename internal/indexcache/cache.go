// Package indexcache persists built indexes so that reopening an
// unchanged allocation file skips the scan. Artifacts live in a
// storage.Storage and are tracked by a catalog of entries keyed by the
// absolute file path.
package indexcache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/memscope-index/internal/index"
	"github.com/memscope-index/internal/repository"
	"github.com/memscope-index/internal/storage"
	"github.com/memscope-index/pkg/compression"
	"github.com/memscope-index/pkg/config"
	"github.com/memscope-index/pkg/errors"
	"github.com/memscope-index/pkg/telemetry"
	"github.com/memscope-index/pkg/utils"
)

// Config controls entry validity and the size of the cache.
type Config struct {
	Enabled bool
	// MaxEntries bounds the catalog. Zero means unbounded.
	MaxEntries int
	// MaxAge expires entries by creation time. Zero means never.
	MaxAge      time.Duration
	Compression compression.Type
	KeyPrefix   string
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		MaxEntries:  1000,
		MaxAge:      24 * time.Hour,
		Compression: compression.TypeZstd,
		KeyPrefix:   "indexes/",
	}
}

// FromConfig converts the application cache settings.
func FromConfig(c config.CacheConfig) (Config, error) {
	t, err := compression.ParseType(c.Compression)
	if err != nil {
		return Config{}, errors.Wrap(errors.CodeConfigError, "invalid cache compression", err)
	}
	return Config{
		Enabled:     c.Enabled,
		MaxEntries:  c.MaxEntries,
		MaxAge:      c.MaxAge,
		Compression: t,
		KeyPrefix:   c.KeyPrefix,
	}, nil
}

// Stats counts cache activity since creation.
type Stats struct {
	Hits            uint64 `json:"hits"`
	Misses          uint64 `json:"misses"`
	Builds          uint64 `json:"builds"`
	StaleEntries    uint64 `json:"stale_entries"`
	CorruptEntries  uint64 `json:"corrupt_entries"`
	Evictions       uint64 `json:"evictions"`
	Invalidations   uint64 `json:"invalidations"`
	PersistFailures uint64 `json:"persist_failures"`
}

// HitRate returns hits as a percentage of lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// IndexBuilder builds an index from scratch.
type IndexBuilder interface {
	BuildIndex(ctx context.Context, path string) (*index.BinaryIndex, error)
}

// Cache returns persisted indexes when still valid and builds otherwise.
// It is safe for concurrent use; concurrent lookups of one file share a
// single build.
type Cache struct {
	cfg        Config
	builder    IndexBuilder
	store      storage.Storage
	catalog    repository.CatalogRepository
	compressor compression.Compressor
	logger     utils.Logger
	clock      utils.Clock
	group      singleflight.Group

	mu    sync.Mutex
	stats Stats
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l utils.Logger) Option {
	return func(c *Cache) { c.logger = utils.OrNull(l) }
}

// WithClock sets the time source used for entry ages and access times.
func WithClock(clock utils.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// New creates a Cache. store and catalog may be nil only when the cache
// is disabled.
func New(cfg Config, builder IndexBuilder, store storage.Storage, catalog repository.CatalogRepository, opts ...Option) (*Cache, error) {
	if builder == nil {
		return nil, errors.New(errors.CodeConfigError, "index cache requires a builder")
	}
	if cfg.Enabled && (store == nil || catalog == nil) {
		return nil, errors.New(errors.CodeConfigError, "enabled index cache requires storage and a catalog")
	}
	if cfg.MaxEntries < 0 {
		return nil, errors.New(errors.CodeConfigError, "max_entries must not be negative")
	}
	if cfg.MaxAge < 0 {
		return nil, errors.New(errors.CodeConfigError, "max_age must not be negative")
	}

	comp, err := compression.New(cfg.Compression, compression.LevelDefault)
	if err != nil {
		return nil, errors.Wrap(errors.CodeConfigError, "invalid cache compression", err)
	}

	c := &Cache{
		cfg:        cfg,
		builder:    builder,
		store:      store,
		catalog:    catalog,
		compressor: comp,
		logger:     &utils.NullLogger{},
		clock:      utils.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the compressor.
func (c *Cache) Close() {
	compression.Close(c.compressor)
}

// CacheKey returns the catalog key of an absolute file path.
func CacheKey(absPath string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(absPath))
}

func formatHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}

// GetOrBuild returns the index of the file at path. A catalog entry is
// used when its content hash matches the file and it is not older than
// MaxAge; otherwise the index is rebuilt and persisted. Persisting is
// best effort: failures are logged and counted, and the built index is
// still returned.
func (c *Cache) GetOrBuild(ctx context.Context, path string) (*index.BinaryIndex, error) {
	ctx, span := telemetry.StartSpan(ctx, "indexcache.GetOrBuild", attribute.String("file.path", path))
	idx, hit, err := c.getOrBuild(ctx, path)
	span.SetAttributes(attribute.Bool("cache.hit", hit))
	telemetry.EndSpan(span, err)
	return idx, err
}

type lookupResult struct {
	idx *index.BinaryIndex
	hit bool
}

func (c *Cache) getOrBuild(ctx context.Context, path string) (*index.BinaryIndex, bool, error) {
	if !c.cfg.Enabled {
		idx, err := c.builder.BuildIndex(ctx, path)
		return idx, false, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false, errors.Wrap(errors.CodeInvalidInput, "resolve path "+path, err)
	}
	key := CacheKey(abs)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		idx, hit, err := c.lookupOrBuild(ctx, abs, key)
		return lookupResult{idx: idx, hit: hit}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(lookupResult)
	return r.idx, r.hit, nil
}

func (c *Cache) lookupOrBuild(ctx context.Context, abs, key string) (*index.BinaryIndex, bool, error) {
	log := c.logger.WithField("file", abs)

	fh, err := index.ContentHash(abs)
	if err != nil {
		return nil, false, err
	}
	now := c.clock.Now()

	entry, err := c.catalog.Get(ctx, key)
	switch {
	case err == nil:
		if idx, ok := c.load(ctx, log, entry, fh, now); ok {
			c.count(func(s *Stats) { s.Hits++ })
			if err := c.catalog.Touch(ctx, key, now); err != nil {
				log.Warn("failed to record index cache access: %v", err)
			}
			log.Debug("index cache hit (%d records)", idx.RecordCount())
			return idx, true, nil
		}
	case errors.IsNotFound(err):
	default:
		log.Warn("index cache lookup failed: %v", err)
	}
	c.count(func(s *Stats) { s.Misses++ })

	idx, err := c.builder.BuildIndex(ctx, abs)
	if err != nil {
		return nil, false, err
	}
	c.count(func(s *Stats) { s.Builds++ })

	if err := c.persist(ctx, key, abs, idx, now); err != nil {
		c.count(func(s *Stats) { s.PersistFailures++ })
		log.Warn("failed to persist index: %v", err)
		return idx, false, nil
	}
	if err := c.enforceLimit(ctx, key); err != nil {
		log.Warn("index cache eviction failed: %v", err)
	}
	return idx, false, nil
}

// load returns the cached index when entry is still valid for fh.
func (c *Cache) load(ctx context.Context, log utils.Logger, entry *repository.IndexCacheEntry, fh index.FileHash, now time.Time) (*index.BinaryIndex, bool) {
	if entry.FileHash != formatHash(fh.Hash) || entry.FileSize != fh.Size {
		log.Debug("cached index is stale: file content changed")
		c.dropStale(ctx, log, entry)
		return nil, false
	}
	if c.cfg.MaxAge > 0 && entry.Age(now) > c.cfg.MaxAge {
		log.Debug("cached index is stale: age %v exceeds %v", entry.Age(now), c.cfg.MaxAge)
		c.dropStale(ctx, log, entry)
		return nil, false
	}

	data, err := c.store.Get(ctx, entry.ArtifactKey)
	if err != nil {
		c.count(func(s *Stats) { s.CorruptEntries++ })
		log.Warn("failed to read cached index %s: %v", c.store.URL(entry.ArtifactKey), err)
		return nil, false
	}
	idx, err := decodeArtifact(data)
	if err == nil && idx.FileHash != fh.Hash {
		err = cacheError("artifact does not match catalog entry", nil)
	}
	if err != nil {
		c.count(func(s *Stats) { s.CorruptEntries++ })
		log.Warn("discarding cached index %s: %v", c.store.URL(entry.ArtifactKey), err)
		return nil, false
	}
	return idx, true
}

// dropStale removes the artifact. The catalog row is overwritten by the
// rebuild that follows.
func (c *Cache) dropStale(ctx context.Context, log utils.Logger, entry *repository.IndexCacheEntry) {
	c.count(func(s *Stats) { s.StaleEntries++ })
	if err := c.store.Delete(ctx, entry.ArtifactKey); err != nil {
		log.Warn("failed to delete stale index %s: %v", entry.ArtifactKey, err)
	}
}

func (c *Cache) persist(ctx context.Context, key, abs string, idx *index.BinaryIndex, now time.Time) error {
	data, err := encodeArtifact(idx, c.compressor)
	if err != nil {
		return err
	}

	artifactKey := c.cfg.KeyPrefix + key + artifactExt
	if err := c.store.Put(ctx, artifactKey, data); err != nil {
		return errors.Wrap(errors.CodeCacheError, "store index artifact", err)
	}

	entry := &repository.IndexCacheEntry{
		CacheKey:     key,
		FilePath:     abs,
		FileHash:     formatHash(idx.FileHash),
		FileSize:     idx.FileSize,
		ArtifactKey:  artifactKey,
		ArtifactSize: int64(len(data)),
		Compression:  c.compressor.Type().String(),
		RecordCount:  idx.RecordCount(),
		CreatedAt:    now,
		LastAccessed: now,
	}
	if err := c.catalog.Upsert(ctx, entry); err != nil {
		return errors.Wrap(errors.CodeCacheError, "record catalog entry", err)
	}
	return nil
}

// enforceLimit evicts the least recently accessed entries beyond
// MaxEntries. The entry under keep is never chosen.
func (c *Cache) enforceLimit(ctx context.Context, keep string) error {
	if c.cfg.MaxEntries <= 0 {
		return nil
	}
	n, err := c.catalog.Count(ctx)
	if err != nil {
		return err
	}
	excess := int(n) - c.cfg.MaxEntries
	if excess <= 0 {
		return nil
	}

	victims, err := c.catalog.ListLRU(ctx, excess+1)
	if err != nil {
		return err
	}
	evicted := 0
	for _, e := range victims {
		if evicted == excess {
			break
		}
		if e.CacheKey == keep {
			continue
		}
		if err := c.remove(ctx, e); err != nil {
			return err
		}
		evicted++
		c.logger.Debug("evicted cached index for %s", e.FilePath)
	}
	c.count(func(s *Stats) { s.Evictions += uint64(evicted) })
	return nil
}

func (c *Cache) remove(ctx context.Context, e *repository.IndexCacheEntry) error {
	if err := c.store.Delete(ctx, e.ArtifactKey); err != nil {
		return errors.Wrap(errors.CodeCacheError, "delete index artifact", err)
	}
	if err := c.catalog.Delete(ctx, e.CacheKey); err != nil {
		return errors.Wrap(errors.CodeCacheError, "delete catalog entry", err)
	}
	return nil
}

// Invalidate drops the cached index of path, if any.
func (c *Cache) Invalidate(ctx context.Context, path string) error {
	if !c.cfg.Enabled {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(errors.CodeInvalidInput, "resolve path "+path, err)
	}

	entry, err := c.catalog.Get(ctx, CacheKey(abs))
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}
	if err := c.remove(ctx, entry); err != nil {
		return err
	}
	c.count(func(s *Stats) { s.Invalidations++ })
	return nil
}

// Clear drops every cached index and returns how many were removed.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	if !c.cfg.Enabled {
		return 0, nil
	}
	entries, err := c.catalog.ListLRU(ctx, 0)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if err := c.remove(ctx, e); err != nil {
			return i, err
		}
	}
	c.logger.Info("cleared %d cached indexes", len(entries))
	return len(entries), nil
}

// Entries returns the number of catalog entries.
func (c *Cache) Entries(ctx context.Context) (int64, error) {
	if !c.cfg.Enabled {
		return 0, nil
	}
	return c.catalog.Count(ctx)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache) count(f func(*Stats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}
