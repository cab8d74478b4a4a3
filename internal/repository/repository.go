// Package repository keeps the catalog of persisted index artifacts in a
// SQL database through GORM.
package repository

import (
	"context"
	"time"
)

// CatalogRepository defines the catalog operations used by the index cache.
type CatalogRepository interface {
	// Get returns the entry stored under cacheKey. A missing entry is NOT_FOUND.
	Get(ctx context.Context, cacheKey string) (*IndexCacheEntry, error)

	// Upsert inserts entry or replaces the entry with the same cache key.
	Upsert(ctx context.Context, entry *IndexCacheEntry) error

	// Touch records an access at the given time.
	Touch(ctx context.Context, cacheKey string, at time.Time) error

	// Delete removes the entry. Deleting a missing entry succeeds.
	Delete(ctx context.Context, cacheKey string) error

	// ListLRU returns up to limit entries, least recently accessed first.
	// A limit <= 0 returns every entry.
	ListLRU(ctx context.Context, limit int) ([]*IndexCacheEntry, error)

	// Count returns the number of entries.
	Count(ctx context.Context) (int64, error)
}
