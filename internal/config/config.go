// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.devrecall/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Embedding: dense model + dimension, sparse encoder endpoint
//   - Storage: PostgreSQL connection (see storage.go)
//   - Hybrid: global and per-data-type alpha defaults
//   - Rerank: provider chain, score weight, circuit-breaker knobs
//   - Recency: default recency weight
//   - Limits: per-dependency request/token budgets
//   - Worker: queue concurrency, retries, timeouts
//
// Security: sensitive data (passwords, API keys) are never logged; config
// directory uses 0750 permissions.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder dimension is out of range.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidAlpha indicates a hybrid alpha default is out of [0,1].
	ErrInvalidAlpha = errors.New("invalid hybrid alpha")

	// ErrInvalidRerankProvider indicates the rerank provider name is unknown.
	ErrInvalidRerankProvider = errors.New("invalid rerank provider")

	// ErrInvalidScoreWeight indicates the rerank score weight is out of [0,1].
	ErrInvalidScoreWeight = errors.New("invalid rerank score weight")

	// ErrInvalidBreaker indicates circuit-breaker settings are out of range.
	ErrInvalidBreaker = errors.New("invalid circuit breaker settings")

	// ErrInvalidRecencyWeight indicates an unknown recency weight label.
	ErrInvalidRecencyWeight = errors.New("invalid recency weight")

	// ErrInvalidLimit indicates a rate-limit budget is out of range.
	ErrInvalidLimit = errors.New("invalid rate limit")

	// ErrInvalidWorker indicates worker settings are out of range.
	ErrInvalidWorker = errors.New("invalid worker settings")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

const (
	// DefaultEmbedderModel is the default dense embedding model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation via OutputDimensionality (Matryoshka Representation Learning).
	// Our pgvector schema uses DefaultEmbedderDimension.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultEmbedderDimension is the pinned dense vector dimension.
	DefaultEmbedderDimension = 768

	// DefaultScoreWeight blends rerank and semantic scores:
	// final = w*rerank + (1-w)*semantic.
	DefaultScoreWeight = 0.7
)

// Rerank provider identifiers used in RerankConfig.
const (
	RerankProviderCohere = "cohere"
	RerankProviderJina   = "jina"
	RerankProviderNone   = "none"
)

// HybridConfig holds dense/sparse blend settings.
type HybridConfig struct {
	Enabled      bool               `mapstructure:"enabled" json:"enabled"`
	DefaultAlpha float64            `mapstructure:"default_alpha" json:"default_alpha"`
	TypeAlpha    map[string]float64 `mapstructure:"type_alpha" json:"type_alpha"`
}

// RerankConfig holds rerank orchestration settings.
type RerankConfig struct {
	// Provider selects the primary provider: "cohere", "jina" or "none".
	// "none" disables external reranking (passthrough only).
	Provider    string  `mapstructure:"provider" json:"provider"`
	ScoreWeight float64 `mapstructure:"score_weight" json:"score_weight"`
	TopN        int     `mapstructure:"top_n" json:"top_n"`

	// Circuit breaker knobs, applied per provider.
	FailureThreshold int           `mapstructure:"failure_threshold" json:"failure_threshold"`
	ResetWindow      time.Duration `mapstructure:"reset_window" json:"reset_window"`

	CohereEndpoint string `mapstructure:"cohere_endpoint" json:"cohere_endpoint"`
	CohereAPIKey   string `mapstructure:"cohere_api_key" json:"cohere_api_key"` // SENSITIVE: masked in MarshalJSON
	CohereModel    string `mapstructure:"cohere_model" json:"cohere_model"`

	JinaEndpoint string `mapstructure:"jina_endpoint" json:"jina_endpoint"`
	JinaAPIKey   string `mapstructure:"jina_api_key" json:"jina_api_key"` // SENSITIVE: masked in MarshalJSON
	JinaModel    string `mapstructure:"jina_model" json:"jina_model"`

	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// RecencyConfig holds time-weighting settings.
type RecencyConfig struct {
	// DefaultWeight is one of none/light/normal/heavy/critical.
	DefaultWeight string `mapstructure:"default_weight" json:"default_weight"`
}

// ExpansionConfig holds query-expansion settings.
type ExpansionConfig struct {
	LLMEnabled  bool `mapstructure:"llm_enabled" json:"llm_enabled"`
	MaxSynonyms int  `mapstructure:"max_synonyms" json:"max_synonyms"`
	MaxRelated  int  `mapstructure:"max_related" json:"max_related"`
}

// LimitConfig is a per-dependency rate budget.
// Zero TokensPerMinute or DailyCap disables that dimension.
type LimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute" json:"requests_per_minute"`
	TokensPerMinute   int `mapstructure:"tokens_per_minute" json:"tokens_per_minute"`
	DailyCap          int `mapstructure:"daily_cap" json:"daily_cap"`
}

// LimitsConfig holds rate budgets for every external dependency.
type LimitsConfig struct {
	Dense  LimitConfig `mapstructure:"dense" json:"dense"`
	Sparse LimitConfig `mapstructure:"sparse" json:"sparse"`
	Rerank LimitConfig `mapstructure:"rerank" json:"rerank"`
	LLM    LimitConfig `mapstructure:"llm" json:"llm"`
}

// WorkerConfig holds queue-consumer settings.
type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency" json:"concurrency"`
	MaxRetries        int           `mapstructure:"max_retries" json:"max_retries"`
	PollInterval      time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	ItemTimeout       time.Duration `mapstructure:"item_timeout" json:"item_timeout"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" json:"visibility_timeout"`
	BatchSize         int           `mapstructure:"batch_size" json:"batch_size"`
}

// OtelConfig holds tracing settings.
type OtelConfig struct {
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys), update MarshalJSON.
type Config struct {
	// Embedding configuration
	EmbedderModel     string        `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int           `mapstructure:"embedder_dimension" json:"embedder_dimension"`
	SparseEndpoint    string        `mapstructure:"sparse_endpoint" json:"sparse_endpoint"`
	SparseAPIKey      string        `mapstructure:"sparse_api_key" json:"sparse_api_key"` // SENSITIVE: masked in MarshalJSON
	SparseTimeout     time.Duration `mapstructure:"sparse_timeout" json:"sparse_timeout"`

	// Tagging / expansion LLM
	TaggerModel string `mapstructure:"tagger_model" json:"tagger_model"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	Hybrid    HybridConfig    `mapstructure:"hybrid" json:"hybrid"`
	Rerank    RerankConfig    `mapstructure:"rerank" json:"rerank"`
	Recency   RecencyConfig   `mapstructure:"recency" json:"recency"`
	Expansion ExpansionConfig `mapstructure:"expansion" json:"expansion"`
	Limits    LimitsConfig    `mapstructure:"limits" json:"limits"`
	Worker    WorkerConfig    `mapstructure:"worker" json:"worker"`
	Otel      OtelConfig      `mapstructure:"otel" json:"otel"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".devrecall")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Embedding defaults
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedder_dimension", DefaultEmbedderDimension)
	viper.SetDefault("sparse_endpoint", "")
	viper.SetDefault("sparse_timeout", 5*time.Second)
	viper.SetDefault("tagger_model", "gemini-2.5-flash")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "devrecall")
	viper.SetDefault("postgres_password", "devrecall_dev_password")
	viper.SetDefault("postgres_db_name", "devrecall")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Hybrid defaults
	viper.SetDefault("hybrid.enabled", true)
	viper.SetDefault("hybrid.default_alpha", 0.7)
	viper.SetDefault("hybrid.type_alpha", map[string]float64{
		"code":   0.5,
		"error":  0.4,
		"config": 0.5,
		"metric": 0.6,
	})

	// Rerank defaults
	viper.SetDefault("rerank.provider", RerankProviderCohere)
	viper.SetDefault("rerank.score_weight", DefaultScoreWeight)
	viper.SetDefault("rerank.top_n", 10)
	viper.SetDefault("rerank.failure_threshold", 3)
	viper.SetDefault("rerank.reset_window", time.Minute)
	viper.SetDefault("rerank.cohere_endpoint", "https://api.cohere.com/v2/rerank")
	viper.SetDefault("rerank.cohere_model", "rerank-v3.5")
	viper.SetDefault("rerank.jina_endpoint", "https://api.jina.ai/v1/rerank")
	viper.SetDefault("rerank.jina_model", "jina-reranker-v2-base-multilingual")
	viper.SetDefault("rerank.timeout", 10*time.Second)

	// Recency defaults
	viper.SetDefault("recency.default_weight", "normal")

	// Expansion defaults
	viper.SetDefault("expansion.llm_enabled", false)
	viper.SetDefault("expansion.max_synonyms", 2)
	viper.SetDefault("expansion.max_related", 2)

	// Rate-limit defaults (provider free-tier shaped)
	viper.SetDefault("limits.dense.requests_per_minute", 100)
	viper.SetDefault("limits.dense.tokens_per_minute", 30000)
	viper.SetDefault("limits.sparse.requests_per_minute", 100)
	viper.SetDefault("limits.rerank.requests_per_minute", 60)
	viper.SetDefault("limits.llm.requests_per_minute", 15)
	viper.SetDefault("limits.llm.tokens_per_minute", 32000)
	viper.SetDefault("limits.llm.daily_cap", 1500)

	// Worker defaults
	viper.SetDefault("worker.concurrency", 2)
	viper.SetDefault("worker.max_retries", 3)
	viper.SetDefault("worker.poll_interval", 5*time.Second)
	viper.SetDefault("worker.item_timeout", 2*time.Minute)
	viper.SetDefault("worker.visibility_timeout", 10*time.Minute)
	viper.SetDefault("worker.batch_size", 10)

	// Otel defaults
	viper.SetDefault("otel.endpoint", "localhost:4318")
	viper.SetDefault("otel.environment", "dev")
	viper.SetDefault("otel.service_name", "devrecall")
}

// bindEnvVariables binds sensitive environment variables explicitly.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("rerank.cohere_api_key", "COHERE_API_KEY")
	mustBind("rerank.jina_api_key", "JINA_API_KEY")
	mustBind("rerank.provider", "DEVRECALL_RERANK_PROVIDER")
	mustBind("sparse_endpoint", "DEVRECALL_SPARSE_ENDPOINT")
	mustBind("sparse_api_key", "DEVRECALL_SPARSE_API_KEY")
	mustBind("hybrid.enabled", "DEVRECALL_HYBRID_ENABLED")
	mustBind("expansion.llm_enabled", "DEVRECALL_EXPANSION_LLM")
	mustBind("recency.default_weight", "DEVRECALL_RECENCY_WEIGHT")

	// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper.
	// Validation checks its presence in cfg.Validate().
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid substring matching against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters for secrets longer than 8 chars,
// fully masks shorter ones to prevent substring matching.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//   - SparseAPIKey
//   - Rerank.CohereAPIKey / Rerank.JinaAPIKey
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.SparseAPIKey = maskSecret(a.SparseAPIKey)
	a.Rerank.CohereAPIKey = maskSecret(a.Rerank.CohereAPIKey)
	a.Rerank.JinaAPIKey = maskSecret(a.Rerank.JinaAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
