package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server  ServerConfig
	Torrent TorrentConfig
	Fetch   FetchConfig
	Stream  StreamConfig
	Catalog CatalogConfig
	Redis   RedisConfig
	MinIO   MinIOConfig
}

type ServerConfig struct {
	Port        int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	// WriteTimeout is zero so long streams are bounded by the client only.
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"0"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
}

type TorrentConfig struct {
	DataDir         string        `envconfig:"TORRENT_DATA_DIR" default:"/tmp/torrentstream"`
	ListenPort      int           `envconfig:"TORRENT_LISTEN_PORT" default:"42069"`
	NoUpload        bool          `envconfig:"TORRENT_NO_UPLOAD" default:"false"`
	Seed            bool          `envconfig:"TORRENT_SEED" default:"false"`
	Readahead       int64         `envconfig:"TORRENT_READAHEAD" default:"4194304"`
	MetadataTimeout time.Duration `envconfig:"TORRENT_METADATA_TIMEOUT" default:"2m"`
}

type FetchConfig struct {
	Timeout       time.Duration `envconfig:"FETCH_TIMEOUT" default:"10s"`
	MaxRetries    int           `envconfig:"FETCH_MAX_RETRIES" default:"3"`
	MaxBytes      int64         `envconfig:"FETCH_MAX_BYTES" default:"10485760"`
	DescriptorTTL time.Duration `envconfig:"FETCH_DESCRIPTOR_TTL" default:"24h"`
	// DescriptorCacheSize bounds how many fetched descriptors are kept.
	DescriptorCacheSize int `envconfig:"FETCH_DESCRIPTOR_CACHE_SIZE" default:"1024"`
}

type StreamConfig struct {
	ChunkSize    uint64 `envconfig:"STREAM_CHUNK_SIZE" default:"1000000"`
	MaxEntrySize uint64 `envconfig:"STREAM_MAX_ENTRY_SIZE" default:"52428800"`
}

type CatalogConfig struct {
	CacheTTL        time.Duration `envconfig:"CATALOG_CACHE_TTL" default:"24h"`
	CacheMaxEntries int           `envconfig:"CATALOG_CACHE_MAX_ENTRIES" default:"1024"`
	// CacheBackend is "memory" or "redis".
	CacheBackend    string `envconfig:"CATALOG_CACHE_BACKEND" default:"memory"`
	ArchiveMaxBytes int64  `envconfig:"ARCHIVE_MAX_BYTES" default:"536870912"`
	// ArchiveCacheTTL and ArchiveCacheMaxEntries bound the buffered archives
	// kept for streaming archive members.
	ArchiveCacheTTL        time.Duration `envconfig:"ARCHIVE_CACHE_TTL" default:"5m"`
	ArchiveCacheMaxEntries int           `envconfig:"ARCHIVE_CACHE_MAX_ENTRIES" default:"2"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type MinIOConfig struct {
	// Endpoint enables s3:// identifiers when set.
	Endpoint  string `envconfig:"MINIO_ENDPOINT" default:""`
	AccessKey string `envconfig:"MINIO_ACCESS_KEY" default:"minioadmin"`
	SecretKey string `envconfig:"MINIO_SECRET_KEY" default:"minioadmin"`
	Bucket    string `envconfig:"MINIO_BUCKET" default:""`
	UseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
}

func (c MinIOConfig) Enabled() bool {
	return c.Endpoint != ""
}

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Catalog.CacheBackend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("invalid CATALOG_CACHE_BACKEND %q: want %q or %q",
			c.Catalog.CacheBackend, CacheBackendMemory, CacheBackendRedis)
	}
	if c.Stream.ChunkSize == 0 {
		return fmt.Errorf("STREAM_CHUNK_SIZE must be positive")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	return nil
}
