package cmd

import (
	"github.com/memscope-index/internal/batch"
	"github.com/memscope-index/internal/index"
	"github.com/memscope-index/internal/indexcache"
	"github.com/memscope-index/internal/parser"
	"github.com/memscope-index/internal/repository"
	"github.com/memscope-index/internal/storage"
	"github.com/memscope-index/pkg/config"
	"github.com/memscope-index/pkg/utils"
)

func newBuilder(c config.IndexConfig, log utils.Logger) *index.Builder {
	return index.NewBuilder(
		index.WithQuickFilterThreshold(c.QuickFilterThreshold),
		index.WithQuickFilterBatchSize(c.QuickFilterBatchSize),
		index.WithBloomParams(index.BloomParams{Bits: uint32(c.BloomBits), Hashes: uint32(c.BloomHashes)}),
		index.WithMaxRecordLength(c.MaxRecordLength),
		index.WithBufferSize(c.BufferSize),
		index.WithLogger(log),
	)
}

func batchConfig(c config.BatchConfig) batch.Config {
	return batch.Config{
		BatchSize:      c.BatchSize,
		BufferSize:     c.BufferSize,
		EnablePrefetch: c.EnablePrefetch,
		PrefetchCount:  c.PrefetchCount,
		EnableCaching:  c.EnableCaching,
		MaxCacheSize:   c.MaxCacheSize,
	}
}

func newProcessor(c *config.Config, log utils.Logger) (*batch.Processor, error) {
	p := parser.NewFieldParser(parser.WithMaxRecordLength(c.Index.MaxRecordLength))
	return batch.NewProcessor(batchConfig(c.Batch), batch.WithParser(p), batch.WithLogger(log))
}

// indexService wires the builder to the persistent cache and owns the
// catalog connection.
type indexService struct {
	cache *indexcache.Cache
	repos *repository.Repositories
}

// openIndexService opens storage and the catalog when the cache is
// enabled. noCache bypasses both.
func openIndexService(c *config.Config, log utils.Logger, noCache bool) (*indexService, error) {
	cacheCfg, err := indexcache.FromConfig(c.Cache)
	if err != nil {
		return nil, err
	}
	if noCache {
		cacheCfg.Enabled = false
	}
	builder := newBuilder(c.Index, log)

	svc := &indexService{}
	var (
		store   storage.Storage
		catalog repository.CatalogRepository
	)
	if cacheCfg.Enabled {
		if err := c.EnsureDataDirs(); err != nil {
			return nil, err
		}
		store, err = storage.NewStorage(&c.Storage)
		if err != nil {
			return nil, err
		}
		svc.repos, err = repository.Open(&c.Database)
		if err != nil {
			return nil, err
		}
		catalog = svc.repos.Catalog
	}

	svc.cache, err = indexcache.New(cacheCfg, builder, store, catalog,
		indexcache.WithLogger(log.WithField("component", "indexcache")))
	if err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

func (s *indexService) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
	if s.repos != nil {
		if err := s.repos.Close(); err != nil {
			logger.Warn("failed to close catalog: %v", err)
		}
	}
}
