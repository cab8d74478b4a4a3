package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/memscope-index/pkg/errors"
)

// GormCatalogRepository implements CatalogRepository using GORM.
type GormCatalogRepository struct {
	db *gorm.DB
}

// NewGormCatalogRepository creates a new GormCatalogRepository.
func NewGormCatalogRepository(db *gorm.DB) *GormCatalogRepository {
	return &GormCatalogRepository{db: db}
}

// Get retrieves the entry stored under cacheKey.
func (r *GormCatalogRepository) Get(ctx context.Context, cacheKey string) (*IndexCacheEntry, error) {
	var entry IndexCacheEntry

	err := r.db.WithContext(ctx).Where("cache_key = ?", cacheKey).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("catalog entry not found: %s", cacheKey))
		}
		return nil, fmt.Errorf("failed to get catalog entry: %w", err)
	}

	return &entry, nil
}

// Upsert inserts entry or overwrites the row with the same cache key.
func (r *GormCatalogRepository) Upsert(ctx context.Context, entry *IndexCacheEntry) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"file_path", "file_hash", "file_size", "artifact_key", "artifact_size",
				"compression", "record_count", "access_count", "created_at", "last_accessed",
			}),
		}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to upsert catalog entry: %w", err)
	}
	return nil
}

// Touch bumps the access count and the last access time.
func (r *GormCatalogRepository) Touch(ctx context.Context, cacheKey string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&IndexCacheEntry{}).
		Where("cache_key = ?", cacheKey).
		Updates(map[string]interface{}{
			"last_accessed": at,
			"access_count":  gorm.Expr("access_count + ?", 1),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to touch catalog entry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("catalog entry not found: %s", cacheKey))
	}
	return nil
}

// Delete removes the entry stored under cacheKey.
func (r *GormCatalogRepository) Delete(ctx context.Context, cacheKey string) error {
	err := r.db.WithContext(ctx).Where("cache_key = ?", cacheKey).Delete(&IndexCacheEntry{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete catalog entry: %w", err)
	}
	return nil
}

// ListLRU returns the least recently accessed entries first.
func (r *GormCatalogRepository) ListLRU(ctx context.Context, limit int) ([]*IndexCacheEntry, error) {
	var entries []*IndexCacheEntry

	q := r.db.WithContext(ctx).Order("last_accessed ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list catalog entries: %w", err)
	}
	return entries, nil
}

// Count returns the number of catalog entries.
func (r *GormCatalogRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&IndexCacheEntry{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count catalog entries: %w", err)
	}
	return count, nil
}
