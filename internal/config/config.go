// Package config loads the mesh configuration: a YAML file with environment
// overrides, plus hot reload for the tunables that are safe to change at
// runtime.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full grantmesh configuration tree.
type Config struct {
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Fanout   FanoutConfig   `mapstructure:"fanout" yaml:"fanout"`
	Hybrid   HybridConfig   `mapstructure:"hybrid" yaml:"hybrid"`
	Routing  RoutingConfig  `mapstructure:"routing" yaml:"routing"`
	Embedder EmbedderConfig `mapstructure:"embedder" yaml:"embedder"`
	Vector   VectorConfig   `mapstructure:"vector" yaml:"vector"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// CacheConfig tunes the result cache.
type CacheConfig struct {
	TTLSeconds   int    `mapstructure:"ttl_seconds" yaml:"ttl_seconds"`
	MaxEntries   int    `mapstructure:"max_entries" yaml:"max_entries"`
	RedisEnabled bool   `mapstructure:"redis_enabled" yaml:"redis_enabled"`
	RedisAddr    string `mapstructure:"redis_addr" yaml:"redis_addr"`
}

// TTL returns the cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSeconds) * time.Second }

// FanoutConfig tunes per-agent calls during a query.
type FanoutConfig struct {
	TimeoutSeconds     int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries         int `mapstructure:"max_retries" yaml:"max_retries"`
	BackoffBaseSeconds int `mapstructure:"backoff_base_seconds" yaml:"backoff_base_seconds"`
	MaxInflight        int `mapstructure:"max_inflight" yaml:"max_inflight"`
}

func (f FanoutConfig) Timeout() time.Duration { return time.Duration(f.TimeoutSeconds) * time.Second }
func (f FanoutConfig) BackoffBase() time.Duration {
	return time.Duration(f.BackoffBaseSeconds) * time.Second
}

// HybridConfig tunes the blended search score. Hot-reloadable.
type HybridConfig struct {
	SemanticWeight      float64 `mapstructure:"semantic_weight" yaml:"semantic_weight"`
	KeywordWeight       float64 `mapstructure:"keyword_weight" yaml:"keyword_weight"`
	OverfetchMultiplier int     `mapstructure:"overfetch_multiplier" yaml:"overfetch_multiplier"`
}

// RoutingConfig selects the strategy and its keyword triggers.
// KeywordTriggers is hot-reloadable.
type RoutingConfig struct {
	Strategy        string              `mapstructure:"strategy" yaml:"strategy"`
	KeywordTriggers map[string][]string `mapstructure:"keyword_triggers" yaml:"keyword_triggers"`
}

// EmbedderConfig points at the embedding service.
type EmbedderConfig struct {
	BaseURL         string `mapstructure:"base_url" yaml:"base_url"`
	ModelName       string `mapstructure:"model_name" yaml:"model_name"`
	BatchSize       int    `mapstructure:"batch_size" yaml:"batch_size"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
	LRUSize         int    `mapstructure:"lru_size" yaml:"lru_size"`
	RedisEnabled    bool   `mapstructure:"redis_enabled" yaml:"redis_enabled"`
	RedisAddr       string `mapstructure:"redis_addr" yaml:"redis_addr"`
}

// VectorConfig points at the vector backend. Mode "memory" runs the mesh
// without external services.
type VectorConfig struct {
	Mode           string `mapstructure:"mode" yaml:"mode"` // qdrant | memory
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	UpsertRate     int    `mapstructure:"upsert_rate" yaml:"upsert_rate"`
	ExpectedDim    int    `mapstructure:"expected_dim" yaml:"expected_dim"`
}

// LogConfig controls the query log.
type LogConfig struct {
	QueryLogPath       string `mapstructure:"query_log_path" yaml:"query_log_path"`
	EnableQueryLogging bool   `mapstructure:"enable_query_logging" yaml:"enable_query_logging"`
	PostgresEnabled    bool   `mapstructure:"postgres_enabled" yaml:"postgres_enabled"`
	PostgresDSN        string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

// TracingConfig controls OTLP trace export.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName  string `mapstructure:"service_name" yaml:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// LoggingConfig controls process logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // json | console
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("fanout.timeout_seconds", 5)
	v.SetDefault("fanout.max_retries", 3)
	v.SetDefault("fanout.backoff_base_seconds", 1)
	v.SetDefault("fanout.max_inflight", 32)
	v.SetDefault("hybrid.semantic_weight", 0.7)
	v.SetDefault("hybrid.keyword_weight", 0.3)
	v.SetDefault("hybrid.overfetch_multiplier", 3)
	v.SetDefault("routing.strategy", "silo")
	v.SetDefault("embedder.base_url", "http://localhost:8000")
	v.SetDefault("embedder.model_name", "all-MiniLM-L6-v2")
	v.SetDefault("embedder.batch_size", 32)
	v.SetDefault("embedder.timeout_seconds", 30)
	v.SetDefault("embedder.cache_ttl_seconds", 3600)
	v.SetDefault("embedder.lru_size", 4096)
	v.SetDefault("vector.mode", "memory")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6333)
	v.SetDefault("vector.timeout_seconds", 10)
	v.SetDefault("vector.upsert_rate", 50)
	v.SetDefault("vector.expected_dim", 384)
	v.SetDefault("log.query_log_path", "logs/queries.ndjson")
	v.SetDefault("log.enable_query_logging", true)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)
	v.SetDefault("tracing.service_name", "grantmesh")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads the configuration file named by CONFIG_PATH (default
// config/grantmesh.yaml), applies GRANTMESH_* environment overrides, and
// validates the result. A missing file is not an error: defaults plus env
// cover local mode.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/grantmesh.yaml"
	}
	return LoadFile(path)
}

// LoadFile loads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GRANTMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the mesh cannot run with.
func (c *Config) Validate() error {
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be positive, got %d", c.Cache.TTLSeconds)
	}
	if c.Fanout.TimeoutSeconds <= 0 {
		return fmt.Errorf("fanout.timeout_seconds must be positive, got %d", c.Fanout.TimeoutSeconds)
	}
	if c.Fanout.MaxRetries < 1 {
		return fmt.Errorf("fanout.max_retries must be at least 1, got %d", c.Fanout.MaxRetries)
	}
	if w := c.Hybrid.SemanticWeight + c.Hybrid.KeywordWeight; w < 0.99 || w > 1.01 {
		return fmt.Errorf("hybrid weights must sum to 1.0, got %.2f", w)
	}
	switch c.Routing.Strategy {
	case "silo", "keyword", "broadcast":
	default:
		return fmt.Errorf("unknown routing.strategy %q", c.Routing.Strategy)
	}
	switch c.Vector.Mode {
	case "qdrant", "memory":
	default:
		return fmt.Errorf("unknown vector.mode %q", c.Vector.Mode)
	}
	return nil
}
