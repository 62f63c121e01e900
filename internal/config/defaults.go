package config

import (
	"fmt"
	"time"
)

// Storage, embedding and quota backend names.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendNone   = "none"

	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderONNX   = "onnx"
	ProviderMock   = "mock"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Server.PrincipalHeader == "" {
		cfg.Server.PrincipalHeader = "X-Principal"
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendSQLite
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/docvec/data/docs.db"
	}
	if cfg.Storage.RollbackTimeout == 0 {
		cfg.Storage.RollbackTimeout = 10 * time.Second
	}
	if cfg.Storage.Redis.Addr == "" {
		cfg.Storage.Redis.Addr = "localhost:6379"
	}
	if cfg.Storage.Redis.SearchMode == "" {
		cfg.Storage.Redis.SearchMode = "scan"
	}
	if cfg.Storage.Redis.Index == "" {
		cfg.Storage.Redis.Index = "data_vector_idx"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderOpenAI
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case ProviderOpenAI:
			cfg.Embedding.Model = "text-embedding-ada-002"
		case ProviderOllama:
			cfg.Embedding.Model = "nomic-embed-text"
		}
	}
	if cfg.Embedding.Dimensions == 0 {
		switch cfg.Embedding.Provider {
		case ProviderOpenAI:
			cfg.Embedding.Dimensions = 1536
		case ProviderOllama:
			cfg.Embedding.Dimensions = 768
		default:
			cfg.Embedding.Dimensions = 384
		}
	}
	if cfg.Embedding.BaseURL == "" && cfg.Embedding.Provider == ProviderOllama {
		cfg.Embedding.BaseURL = "http://localhost:11434"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}

	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.JoinConcurrency == 0 {
		cfg.Search.JoinConcurrency = 8
	}

	if cfg.Quota.Backend == "" {
		cfg.Quota.Backend = BackendNone
	}
	if cfg.Quota.Window == 0 {
		cfg.Quota.Window = 30 * 24 * time.Hour
	}
	if cfg.Quota.Timeout == 0 {
		cfg.Quota.Timeout = 2 * time.Second
	}

	if cfg.Reconcile.GracePeriod == 0 {
		cfg.Reconcile.GracePeriod = 10 * time.Minute
	}

	if cfg.Dispatch.BaseTags == nil {
		cfg.Dispatch.BaseTags = []string{"demo", "chat"}
	}
	if cfg.Dispatch.DefaultApp == "" {
		cfg.Dispatch.DefaultApp = "chat"
	}

	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx", ".pptx", ".odp", ".ods"}
	}
	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = 4
	}
	if cfg.Ingest.MaxFileBytes == 0 {
		cfg.Ingest.MaxFileBytes = 32 << 20
	}
	if cfg.Ingest.Debounce == 0 {
		cfg.Ingest.Debounce = 500 * time.Millisecond
	}
}

// Validate checks backend names and numeric ranges.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q: must be one of sqlite, redis, memory", c.Storage.Backend)
	}
	switch c.Storage.Redis.SearchMode {
	case "scan", "redisearch":
	default:
		return fmt.Errorf("storage.redis.search_mode %q: must be scan or redisearch", c.Storage.Redis.SearchMode)
	}
	switch c.Embedding.Provider {
	case ProviderOpenAI, ProviderOllama, ProviderONNX, ProviderMock:
	default:
		return fmt.Errorf("embedding.provider %q: must be one of openai, ollama, onnx, mock", c.Embedding.Provider)
	}
	switch c.Quota.Backend {
	case BackendRedis, BackendMemory, BackendNone:
	default:
		return fmt.Errorf("quota.backend %q: must be one of redis, memory, none", c.Quota.Backend)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search limits: need 0 < default_limit <= max_limit")
	}
	if c.Search.JoinConcurrency < 0 {
		return fmt.Errorf("search.join_concurrency must be non-negative")
	}
	if c.Reconcile.Interval < 0 || c.Reconcile.GracePeriod < 0 {
		return fmt.Errorf("reconcile durations must be non-negative")
	}
	if c.Ingest.ChunkSize < 0 || c.Ingest.ChunkOverlap < 0 || (c.Ingest.ChunkSize > 0 && c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize) {
		return fmt.Errorf("ingest: need chunk_overlap < chunk_size, or chunk_size 0 to disable chunking")
	}
	if c.Ingest.Debounce < 0 {
		return fmt.Errorf("ingest.debounce must be non-negative")
	}
	return nil
}
