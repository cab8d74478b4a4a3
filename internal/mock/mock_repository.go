package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/memscope-index/internal/repository"
)

// MockCatalog is a mock implementation of the CatalogRepository interface.
type MockCatalog struct {
	mock.Mock
}

// Get mocks the Get method.
func (m *MockCatalog) Get(ctx context.Context, cacheKey string) (*repository.IndexCacheEntry, error) {
	args := m.Called(ctx, cacheKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.IndexCacheEntry), args.Error(1)
}

// Upsert mocks the Upsert method.
func (m *MockCatalog) Upsert(ctx context.Context, entry *repository.IndexCacheEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// Touch mocks the Touch method.
func (m *MockCatalog) Touch(ctx context.Context, cacheKey string, at time.Time) error {
	args := m.Called(ctx, cacheKey, at)
	return args.Error(0)
}

// Delete mocks the Delete method.
func (m *MockCatalog) Delete(ctx context.Context, cacheKey string) error {
	args := m.Called(ctx, cacheKey)
	return args.Error(0)
}

// ListLRU mocks the ListLRU method.
func (m *MockCatalog) ListLRU(ctx context.Context, limit int) ([]*repository.IndexCacheEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repository.IndexCacheEntry), args.Error(1)
}

// Count mocks the Count method.
func (m *MockCatalog) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}
