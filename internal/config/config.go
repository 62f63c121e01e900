// Package config provides configuration loading and structs for the docvec server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides: DOCVEC_STORAGE__BACKEND sets storage.backend.
const EnvPrefix = "DOCVEC_"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug" koanf:"debug"`
	Server    ServerConfig    `yaml:"server" koanf:"server"`
	Storage   StorageConfig   `yaml:"storage" koanf:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding" koanf:"embedding"`
	Search    SearchConfig    `yaml:"search" koanf:"search"`
	Quota     QuotaConfig     `yaml:"quota" koanf:"quota"`
	Reconcile ReconcileConfig `yaml:"reconcile" koanf:"reconcile"`
	Dispatch  DispatchConfig  `yaml:"dispatch" koanf:"dispatch"`
	Ingest    IngestConfig    `yaml:"ingest" koanf:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host" koanf:"host"`
	Port            int           `yaml:"port" koanf:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout" koanf:"request_timeout"`
	PrincipalHeader string        `yaml:"principal_header" koanf:"principal_header"`
}

// StorageConfig selects and configures the record store backend.
type StorageConfig struct {
	Backend         string        `yaml:"backend" koanf:"backend"`
	DatabasePath    string        `yaml:"database_path" koanf:"database_path"`
	RollbackTimeout time.Duration `yaml:"rollback_timeout" koanf:"rollback_timeout"`
	Redis           RedisConfig   `yaml:"redis" koanf:"redis"`
}

// RedisConfig holds Redis connection settings shared by the redis storage backend and quota ledger.
type RedisConfig struct {
	Addr       string `yaml:"addr" koanf:"addr"`
	Password   string `yaml:"password,omitempty" koanf:"password"`
	DB         int    `yaml:"db" koanf:"db"`
	SearchMode string `yaml:"search_mode" koanf:"search_mode"`
	Index      string `yaml:"index" koanf:"index"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider" koanf:"provider"`
	Model      string        `yaml:"model" koanf:"model"`
	Dimensions int           `yaml:"dimensions" koanf:"dimensions"`
	BaseURL    string        `yaml:"base_url,omitempty" koanf:"base_url"`
	APIKey     string        `yaml:"api_key,omitempty" koanf:"api_key"`
	Timeout    time.Duration `yaml:"timeout" koanf:"timeout"`
	CacheSize  int           `yaml:"cache_size" koanf:"cache_size"`
	ModelPath  string        `yaml:"model_path,omitempty" koanf:"model_path"`
	MaxTokens  int           `yaml:"max_tokens" koanf:"max_tokens"`
}

// SearchConfig holds search limits.
type SearchConfig struct {
	DefaultLimit    int `yaml:"default_limit" koanf:"default_limit"`
	MaxLimit        int `yaml:"max_limit" koanf:"max_limit"`
	JoinConcurrency int `yaml:"join_concurrency" koanf:"join_concurrency"`
}

// QuotaConfig configures the usage ledger and which operations consult it.
type QuotaConfig struct {
	Backend         string           `yaml:"backend" koanf:"backend"`
	Allowance       int64            `yaml:"allowance" koanf:"allowance"`
	ScopeAllowances map[string]int64 `yaml:"scope_allowances,omitempty" koanf:"scope_allowances"`
	Window          time.Duration    `yaml:"window" koanf:"window"`
	Timeout         time.Duration    `yaml:"timeout" koanf:"timeout"`
	CheckSearch     *bool            `yaml:"check_search" koanf:"check_search"`
	CheckAdd        *bool            `yaml:"check_add" koanf:"check_add"`
	CheckList       *bool            `yaml:"check_list" koanf:"check_list"`
}

// CheckSearchOrDefault returns whether search is quota gated; defaults to true when unset.
func (q *QuotaConfig) CheckSearchOrDefault() bool {
	return boolOr(q.CheckSearch, true)
}

// CheckAddOrDefault returns whether add is quota gated; defaults to false when unset.
func (q *QuotaConfig) CheckAddOrDefault() bool {
	return boolOr(q.CheckAdd, false)
}

// CheckListOrDefault returns whether list is quota gated; defaults to false when unset.
func (q *QuotaConfig) CheckListOrDefault() bool {
	return boolOr(q.CheckList, false)
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

// ReconcileConfig configures the background repair sweep.
type ReconcileConfig struct {
	// Interval between sweeps in the server; 0 disables the sweeper.
	Interval    time.Duration `yaml:"interval" koanf:"interval"`
	GracePeriod time.Duration `yaml:"grace_period" koanf:"grace_period"`
}

// DispatchConfig holds how the HTTP layer composes search scopes.
type DispatchConfig struct {
	BaseTags   []string `yaml:"base_tags" koanf:"base_tags"`
	DefaultApp string   `yaml:"default_app" koanf:"default_app"`
}

// IngestConfig controls file ingestion by the add and watch commands.
// StatePath is where watch records which items each file produced.
type IngestConfig struct {
	Extensions   []string      `yaml:"extensions" koanf:"extensions"`
	ChunkSize    int           `yaml:"chunk_size" koanf:"chunk_size"`
	ChunkOverlap int           `yaml:"chunk_overlap" koanf:"chunk_overlap"`
	Concurrency  int           `yaml:"concurrency" koanf:"concurrency"`
	MaxFileBytes int64         `yaml:"max_file_bytes" koanf:"max_file_bytes"`
	StatePath    string        `yaml:"state_path" koanf:"state_path"`
	Debounce     time.Duration `yaml:"debounce" koanf:"debounce"`
}

// Load reads the config file at path, overlays DOCVEC_* environment variables,
// applies defaults, expands paths and validates the result.
// A missing file is not an error; defaults and environment still apply.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Ingest.StatePath == "" {
		cfg.Ingest.StatePath = filepath.Join(filepath.Dir(cfg.Storage.DatabasePath), "sources.yaml")
	}
	cfg.Ingest.StatePath = expandPath(cfg.Ingest.StatePath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// envKey maps DOCVEC_STORAGE__DATABASE_PATH to storage.database_path.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the config to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
