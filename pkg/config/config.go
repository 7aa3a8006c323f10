// Package config loads and validates the engine configuration from YAML,
// with environment overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lifelog-ai/recall/pkg/retry"
	"github.com/lifelog-ai/recall/pkg/timebucket"
)

// Backend names for the vector index.
const (
	IndexBackendMemory = "memory"
	IndexBackendMilvus = "milvus"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Store     StoreConfig     `yaml:"store"`
	Retry     RetryConfig     `yaml:"retry"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// EmbeddingConfig configures the embedding provider client.
type EmbeddingConfig struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Dimension      int    `yaml:"dimension"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-attempt timeout as a duration.
func (c EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	Backend string       `yaml:"backend"`
	Milvus  MilvusConfig `yaml:"milvus"`
}

// MilvusConfig configures the Milvus backend.
type MilvusConfig struct {
	Address    string `yaml:"address"`
	Collection string `yaml:"collection"`
}

// StoreConfig configures the observation record store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RetryConfig configures the backoff policy for external calls.
type RetryConfig struct {
	MaxAttempts int  `yaml:"max_attempts"`
	BaseDelayMS int  `yaml:"base_delay_ms"`
	Jitter      bool `yaml:"jitter"`
}

// Policy converts the config into a retry policy.
func (c RetryConfig) Policy() retry.Policy {
	p := retry.Default()
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.BaseDelayMS > 0 {
		p.BaseDelay = time.Duration(c.BaseDelayMS) * time.Millisecond
	}
	p.Jitter = c.Jitter
	return p
}

// RetrievalConfig tunes the orchestrator.
type RetrievalConfig struct {
	ChatThreshold        float32 `yaml:"chat_threshold"`
	FanoutTimeoutSeconds int     `yaml:"fanout_timeout_seconds"`
	MaxConcurrency       int     `yaml:"max_concurrency"`
}

// FanoutTimeout returns the query-level fan-out timeout as a duration.
func (c RetrievalConfig) FanoutTimeout() time.Duration {
	return time.Duration(c.FanoutTimeoutSeconds) * time.Second
}

// IngestConfig configures the scheduled ingestion run.
type IngestConfig struct {
	// Schedule is a cron expression (robfig/cron syntax, "@every 5m"
	// shorthand included). Empty disables scheduled ingestion.
	Schedule string `yaml:"schedule"`
}

// LoggingConfig configures log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: ":8088"},
		Embedding: EmbeddingConfig{
			Endpoint:       "http://localhost:8080/embed",
			Model:          "all-MiniLM-L6-v2",
			Dimension:      384,
			TimeoutSeconds: 30,
		},
		Index: IndexConfig{
			Backend: IndexBackendMemory,
			Milvus: MilvusConfig{
				Address:    "localhost:19530",
				Collection: "observations",
			},
		},
		Store: StoreConfig{Path: "recall.db"},
		Retry: RetryConfig{MaxAttempts: 3, BaseDelayMS: 100, Jitter: true},
		Retrieval: RetrievalConfig{
			ChatThreshold:        0.7,
			FanoutTimeoutSeconds: 30,
			MaxConcurrency:       8,
		},
		Ingest:  IngestConfig{Schedule: "@every 5m"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads YAML from path over the defaults, applies environment
// overrides, and validates the result. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides deployment-specific values from the environment, so
// secrets and addresses stay out of config files.
func (c *Config) applyEnv() {
	if v := os.Getenv("RECALL_EMBEDDING_ENDPOINT"); v != "" {
		c.Embedding.Endpoint = v
	}
	if v := os.Getenv("RECALL_EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("RECALL_MILVUS_ADDRESS"); v != "" {
		c.Index.Milvus.Address = v
	}
	if v := os.Getenv("RECALL_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("RECALL_LISTEN"); v != "" {
		c.Server.Listen = v
	}
}

// Validate checks the configuration, including the period table the
// retrieval engine depends on. Period misconfiguration is fatal here
// rather than at query time.
func (c *Config) Validate() error {
	if c.Embedding.Endpoint == "" {
		return fmt.Errorf("embedding.endpoint is required")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive")
	}
	switch c.Index.Backend {
	case IndexBackendMemory:
	case IndexBackendMilvus:
		if c.Index.Milvus.Address == "" {
			return fmt.Errorf("index.milvus.address is required for the milvus backend")
		}
		if c.Index.Milvus.Collection == "" {
			return fmt.Errorf("index.milvus.collection is required for the milvus backend")
		}
	default:
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}
	if c.Retrieval.ChatThreshold < 0 || c.Retrieval.ChatThreshold > 1 {
		return fmt.Errorf("retrieval.chat_threshold must be within [0, 1]")
	}
	if err := timebucket.ValidatePeriods(); err != nil {
		return fmt.Errorf("period table is invalid: %w", err)
	}
	return nil
}
