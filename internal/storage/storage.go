// Package storage keeps index cache artifacts in a local directory or a
// Tencent Cloud COS bucket.
package storage

import (
	"context"
	"fmt"

	"github.com/memscope-index/pkg/config"
	"github.com/memscope-index/pkg/errors"
)

// Storage defines the artifact store operations used by the index cache.
type Storage interface {
	// Put stores data under key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object at key. A missing object is NOT_FOUND.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object at key. Deleting a missing object succeeds.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns a location for key, for logs and the catalog.
	URL(key string) string
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeCOS   StorageType = "cos"
)

// NewStorage creates a new Storage instance based on the configuration.
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch StorageType(cfg.Type) {
	case StorageTypeCOS:
		return NewCOSStorage(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
		})
	default:
		return NewLocalStorage(cfg.LocalPath)
	}
}

// ValidateConfig validates the storage configuration.
func ValidateConfig(cfg *config.StorageConfig) error {
	if cfg == nil {
		return errors.New(errors.CodeConfigError, "storage config is nil")
	}

	storageType := StorageType(cfg.Type)
	if storageType == "" {
		storageType = StorageTypeLocal
	}

	switch storageType {
	case StorageTypeCOS:
		if cfg.Bucket == "" {
			return errors.New(errors.CodeConfigError, "COS bucket is required")
		}
		if cfg.Region == "" {
			return errors.New(errors.CodeConfigError, "COS region is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return errors.New(errors.CodeConfigError, "COS credentials are required")
		}
	case StorageTypeLocal:
		if cfg.LocalPath == "" {
			return errors.New(errors.CodeConfigError, "local storage path is required")
		}
	default:
		return errors.New(errors.CodeConfigError, fmt.Sprintf("unsupported storage type: %s", cfg.Type))
	}
	return nil
}

func notFound(key string) error {
	return errors.New(errors.CodeNotFound, fmt.Sprintf("artifact not found: %s", key)).At(errors.StageIndexCache, errors.NoOffset)
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
