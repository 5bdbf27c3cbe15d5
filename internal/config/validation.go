package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// validRecencyWeights are the accepted recency.default_weight labels.
var validRecencyWeights = []string{"none", "light", "normal", "heavy", "critical"}

// validRerankProviders are the accepted rerank.provider values.
var validRerankProviders = []string{RerankProviderCohere, RerankProviderJina, RerankProviderNone}

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. API key validation. GEMINI_API_KEY powers the dense embedder and the
	// tagging LLM; without it no ingestion or query embedding is possible.
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	// 2. Embedding configuration
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedderDimension < 1 || c.EmbedderDimension > 4096 {
		return fmt.Errorf("%w: must be between 1 and 4096, got %d",
			ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}

	// 3. Hybrid configuration. Config-level defaults allow the full [0,1]
	// range; the coordinator clamps auto-tuned values to [0.1, 0.9].
	if c.Hybrid.DefaultAlpha < 0 || c.Hybrid.DefaultAlpha > 1 {
		return fmt.Errorf("%w: default_alpha must be in [0,1], got %.2f",
			ErrInvalidAlpha, c.Hybrid.DefaultAlpha)
	}
	for dt, a := range c.Hybrid.TypeAlpha {
		if a < 0 || a > 1 {
			return fmt.Errorf("%w: type_alpha[%s] must be in [0,1], got %.2f",
				ErrInvalidAlpha, dt, a)
		}
	}

	// 4. Rerank configuration
	if !slices.Contains(validRerankProviders, c.Rerank.Provider) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidRerankProvider, c.Rerank.Provider, validRerankProviders)
	}
	if c.Rerank.ScoreWeight < 0 || c.Rerank.ScoreWeight > 1 {
		return fmt.Errorf("%w: must be in [0,1], got %.2f",
			ErrInvalidScoreWeight, c.Rerank.ScoreWeight)
	}
	if c.Rerank.FailureThreshold < 1 {
		return fmt.Errorf("%w: failure_threshold must be >= 1, got %d",
			ErrInvalidBreaker, c.Rerank.FailureThreshold)
	}
	if c.Rerank.ResetWindow <= 0 {
		return fmt.Errorf("%w: reset_window must be positive, got %s",
			ErrInvalidBreaker, c.Rerank.ResetWindow)
	}
	if c.Rerank.Provider == RerankProviderCohere && c.Rerank.CohereAPIKey == "" {
		slog.Warn("rerank provider is cohere but COHERE_API_KEY is not set; " +
			"rerank calls will fail and degrade to passthrough")
	}

	// 5. Recency configuration
	if !slices.Contains(validRecencyWeights, c.Recency.DefaultWeight) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidRecencyWeight, c.Recency.DefaultWeight, validRecencyWeights)
	}

	// 6. Rate limits
	for _, l := range []struct {
		name string
		cfg  LimitConfig
	}{
		{"dense", c.Limits.Dense},
		{"sparse", c.Limits.Sparse},
		{"rerank", c.Limits.Rerank},
		{"llm", c.Limits.LLM},
	} {
		if l.cfg.RequestsPerMinute < 1 {
			return fmt.Errorf("%w: limits.%s.requests_per_minute must be >= 1, got %d",
				ErrInvalidLimit, l.name, l.cfg.RequestsPerMinute)
		}
		if l.cfg.TokensPerMinute < 0 || l.cfg.DailyCap < 0 {
			return fmt.Errorf("%w: limits.%s budgets must be non-negative", ErrInvalidLimit, l.name)
		}
	}

	// 7. Worker configuration
	if c.Worker.Concurrency < 1 || c.Worker.Concurrency > 32 {
		return fmt.Errorf("%w: concurrency must be between 1 and 32, got %d",
			ErrInvalidWorker, c.Worker.Concurrency)
	}
	if c.Worker.MaxRetries < 0 || c.Worker.MaxRetries > 10 {
		return fmt.Errorf("%w: max_retries must be between 0 and 10, got %d",
			ErrInvalidWorker, c.Worker.MaxRetries)
	}
	if c.Worker.ItemTimeout <= 0 || c.Worker.PollInterval <= 0 {
		return fmt.Errorf("%w: item_timeout and poll_interval must be positive", ErrInvalidWorker)
	}
	if c.Worker.BatchSize < 1 {
		return fmt.Errorf("%w: batch_size must be >= 1, got %d", ErrInvalidWorker, c.Worker.BatchSize)
	}

	// 8. PostgreSQL configuration
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "devrecall_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable).
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
