// Package config provides configuration management for memscope-index.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/memscope-index/pkg/compression"
	"github.com/memscope-index/pkg/errors"
)

// Config holds all configuration for the application.
type Config struct {
	Index    IndexConfig    `mapstructure:"index"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      LogConfig      `mapstructure:"log"`
}

// IndexConfig holds index builder settings.
type IndexConfig struct {
	QuickFilterThreshold uint32 `mapstructure:"quick_filter_threshold"`
	QuickFilterBatchSize int    `mapstructure:"quick_filter_batch_size"`
	BloomBits            uint   `mapstructure:"bloom_bits"`
	BloomHashes          uint   `mapstructure:"bloom_hashes"`
	MaxRecordLength      uint32 `mapstructure:"max_record_length"`
	BufferSize           int    `mapstructure:"buffer_size"`
}

// BatchConfig holds batch processor settings.
type BatchConfig struct {
	BatchSize      int  `mapstructure:"batch_size"`
	BufferSize     int  `mapstructure:"buffer_size"`
	EnablePrefetch bool `mapstructure:"enable_prefetch"`
	PrefetchCount  int  `mapstructure:"prefetch_count"`
	EnableCaching  bool `mapstructure:"enable_caching"`
	MaxCacheSize   int  `mapstructure:"max_cache_size"`
}

// CacheConfig holds persistent index cache settings.
type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxEntries  int           `mapstructure:"max_entries"`
	MaxAge      time.Duration `mapstructure:"max_age"`
	Compression string        `mapstructure:"compression"` // zstd, gzip or none
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

// DatabaseConfig holds the index cache catalog connection.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // sqlite, postgres or mysql
	Path     string `mapstructure:"path"` // sqlite file
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig holds the artifact store configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"`     // e.g., "https" or "http"
	LocalPath string `mapstructure:"local_path"` // for local storage
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"` // empty means stderr
}

// Load reads configuration from the specified file path. A missing file
// falls back to defaults. Environment variables prefixed MEMSCOPE_
// override file values, e.g. MEMSCOPE_DATABASE_HOST.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/memscope-index")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Fprintln(os.Stderr, "Config file not found, using defaults")
		} else if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Config file %s not found, using defaults\n", configPath)
		} else {
			return nil, errors.Wrap(errors.CodeConfigError, "failed to read config file", err)
		}
	}

	return unmarshal(v)
}

// LoadFromReader loads configuration from content (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, errors.Wrap(errors.CodeConfigError, "failed to read config", err)
	}
	return unmarshal(v)
}

// Default returns the default configuration.
func Default() *Config {
	cfg, err := unmarshal(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MEMSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.CodeConfigError, "failed to unmarshal config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Index defaults
	v.SetDefault("index.quick_filter_threshold", 1000)
	v.SetDefault("index.quick_filter_batch_size", 1000)
	v.SetDefault("index.bloom_bits", 8192)
	v.SetDefault("index.bloom_hashes", 3)
	v.SetDefault("index.max_record_length", 1<<20)
	v.SetDefault("index.buffer_size", 64*1024)

	// Batch defaults
	v.SetDefault("batch.batch_size", 1000)
	v.SetDefault("batch.buffer_size", 64*1024)
	v.SetDefault("batch.enable_prefetch", true)
	v.SetDefault("batch.prefetch_count", 100)
	v.SetDefault("batch.enable_caching", true)
	v.SetDefault("batch.max_cache_size", 5000)

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.max_age", "24h")
	v.SetDefault("cache.compression", "zstd")
	v.SetDefault("cache.key_prefix", "indexes/")

	// Database defaults
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./data/catalog.db")
	v.SetDefault("database.max_conns", 10)

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./data/artifacts")

	// Log defaults
	v.SetDefault("log.level", "info")
}

func invalid(format string, args ...interface{}) error {
	return errors.New(errors.CodeConfigError, fmt.Sprintf(format, args...))
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite":
		if c.Database.Path == "" {
			return invalid("database path is required for sqlite")
		}
	case "postgres", "mysql":
		if c.Database.Host == "" {
			return invalid("database host is required")
		}
	default:
		return invalid("unsupported database type: %s", c.Database.Type)
	}

	// Storage config validation is delegated to storage package

	if c.Index.QuickFilterBatchSize < 1 {
		return invalid("index quick filter batch size must be at least 1")
	}
	if c.Index.MaxRecordLength < 24 {
		return invalid("index max record length must be at least 24")
	}
	if c.Batch.BatchSize < 1 {
		return invalid("batch size must be at least 1")
	}
	if c.Batch.BufferSize < 1 {
		return invalid("batch buffer size must be at least 1")
	}
	if c.Batch.EnablePrefetch && c.Batch.PrefetchCount < 1 {
		return invalid("prefetch count must be at least 1")
	}
	if c.Batch.EnableCaching && c.Batch.MaxCacheSize < 1 {
		return invalid("max cache size must be at least 1")
	}

	if c.Cache.Enabled {
		if c.Cache.MaxEntries < 1 {
			return invalid("cache max entries must be at least 1")
		}
		if c.Cache.MaxAge <= 0 {
			return invalid("cache max age must be positive")
		}
		if _, err := compression.ParseType(c.Cache.Compression); err != nil {
			return errors.Wrap(errors.CodeConfigError, "invalid cache compression", err)
		}
	}

	return nil
}

// EnsureDataDirs creates the sqlite catalog directory and the local
// artifact directory when they are configured.
func (c *Config) EnsureDataDirs() error {
	if c.Database.Type == "sqlite" && c.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(c.Database.Path), 0755); err != nil {
			return err
		}
	}
	if c.Storage.Type == "local" && c.Storage.LocalPath != "" {
		return os.MkdirAll(c.Storage.LocalPath, 0755)
	}
	return nil
}
