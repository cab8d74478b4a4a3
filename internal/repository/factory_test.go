package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memscope-index/pkg/config"
)

func TestNewDialector(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.DatabaseConfig
		wantName string
		wantErr  string
	}{
		{"sqlite", config.DatabaseConfig{Type: "sqlite", Path: ":memory:"}, "sqlite", ""},
		{"empty type is sqlite", config.DatabaseConfig{Path: ":memory:"}, "sqlite", ""},
		{"sqlite without path", config.DatabaseConfig{Type: "sqlite"}, "", "sqlite database path is required"},
		{"postgres", config.DatabaseConfig{Type: "postgres", Host: "db", Port: 5432}, "postgres", ""},
		{"postgresql alias", config.DatabaseConfig{Type: "postgresql", Host: "db", Port: 5432}, "postgres", ""},
		{"mysql", config.DatabaseConfig{Type: "mysql", Host: "db", Port: 3306}, "mysql", ""},
		{"unknown", config.DatabaseConfig{Type: "oracle"}, "", "unsupported database type: oracle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDialector(&tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, d.Name())
		})
	}
}

func TestOpen_SQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalog.db")

	repos, err := Open(&config.DatabaseConfig{Type: "sqlite", Path: path})
	require.NoError(t, err)
	require.NotNil(t, repos.Catalog)
	assert.NotNil(t, repos.DB())
	assert.NotNil(t, repos.GormDB())
	assert.NoError(t, repos.HealthCheck(context.Background()))
	assert.True(t, repos.GormDB().Migrator().HasTable(&IndexCacheEntry{}))

	assert.NoError(t, repos.Close())
	assert.FileExists(t, path)

	// Reopening migrates an existing schema without error.
	repos, err = Open(&config.DatabaseConfig{Type: "sqlite", Path: path})
	require.NoError(t, err)
	assert.NoError(t, repos.Close())
}

func TestRepositories_CloseWithoutDB(t *testing.T) {
	repos := &Repositories{}
	assert.NoError(t, repos.Close())
}
