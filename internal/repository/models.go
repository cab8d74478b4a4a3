package repository

import "time"

// IndexCacheEntry represents the index_cache_entries table. FileHash is
// kept as hex text because database/sql cannot carry uint64 values with
// the high bit set.
type IndexCacheEntry struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	CacheKey     string    `gorm:"column:cache_key;type:varchar(64);uniqueIndex"`
	FilePath     string    `gorm:"column:file_path;type:varchar(1024)"`
	FileHash     string    `gorm:"column:file_hash;type:varchar(16)"`
	FileSize     int64     `gorm:"column:file_size"`
	ArtifactKey  string    `gorm:"column:artifact_key;type:varchar(512)"`
	ArtifactSize int64     `gorm:"column:artifact_size"`
	Compression  string    `gorm:"column:compression;type:varchar(16)"`
	RecordCount  int       `gorm:"column:record_count"`
	AccessCount  int64     `gorm:"column:access_count"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	LastAccessed time.Time `gorm:"column:last_accessed;index"`
}

// TableName returns the table name for IndexCacheEntry.
func (IndexCacheEntry) TableName() string {
	return "index_cache_entries"
}

// Age returns how long ago the entry was created.
func (e *IndexCacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}
