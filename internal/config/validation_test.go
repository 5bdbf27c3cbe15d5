package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		EmbedderModel:     DefaultEmbedderModel,
		EmbedderDimension: DefaultEmbedderDimension,
		PostgresHost:      "localhost",
		PostgresPort:      5432,
		PostgresUser:      "devrecall",
		PostgresPassword:  "a_long_enough_password",
		PostgresDBName:    "devrecall",
		PostgresSSLMode:   "disable",
		Hybrid: HybridConfig{
			Enabled:      true,
			DefaultAlpha: 0.7,
			TypeAlpha:    map[string]float64{"code": 0.5},
		},
		Rerank: RerankConfig{
			Provider:         RerankProviderNone,
			ScoreWeight:      DefaultScoreWeight,
			TopN:             10,
			FailureThreshold: 3,
			ResetWindow:      time.Minute,
			Timeout:          10 * time.Second,
		},
		Recency:   RecencyConfig{DefaultWeight: "normal"},
		Expansion: ExpansionConfig{MaxSynonyms: 2, MaxRelated: 2},
		Limits: LimitsConfig{
			Dense:  LimitConfig{RequestsPerMinute: 100, TokensPerMinute: 30000},
			Sparse: LimitConfig{RequestsPerMinute: 100},
			Rerank: LimitConfig{RequestsPerMinute: 60},
			LLM:    LimitConfig{RequestsPerMinute: 15, DailyCap: 1500},
		},
		Worker: WorkerConfig{
			Concurrency:       2,
			MaxRetries:        3,
			PollInterval:      5 * time.Second,
			ItemTimeout:       2 * time.Minute,
			VisibilityTimeout: 10 * time.Minute,
			BatchSize:         10,
		},
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	require.NoError(t, validConfig().Validate())
}

func TestValidateNilConfig(t *testing.T) {
	var c *Config
	assert.ErrorIs(t, c.Validate(), ErrConfigNil)
}

func TestValidateMissingGeminiKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	assert.ErrorIs(t, validConfig().Validate(), ErrMissingAPIKey)
}

func TestValidateRejects(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"empty embedder model", func(c *Config) { c.EmbedderModel = "" }, ErrInvalidEmbedderModel},
		{"zero dimension", func(c *Config) { c.EmbedderDimension = 0 }, ErrInvalidEmbedderDimension},
		{"oversized dimension", func(c *Config) { c.EmbedderDimension = 5000 }, ErrInvalidEmbedderDimension},
		{"alpha above one", func(c *Config) { c.Hybrid.DefaultAlpha = 1.5 }, ErrInvalidAlpha},
		{"negative type alpha", func(c *Config) { c.Hybrid.TypeAlpha["code"] = -0.1 }, ErrInvalidAlpha},
		{"unknown rerank provider", func(c *Config) { c.Rerank.Provider = "voyage" }, ErrInvalidRerankProvider},
		{"score weight out of range", func(c *Config) { c.Rerank.ScoreWeight = 1.2 }, ErrInvalidScoreWeight},
		{"zero failure threshold", func(c *Config) { c.Rerank.FailureThreshold = 0 }, ErrInvalidBreaker},
		{"zero reset window", func(c *Config) { c.Rerank.ResetWindow = 0 }, ErrInvalidBreaker},
		{"unknown recency weight", func(c *Config) { c.Recency.DefaultWeight = "extreme" }, ErrInvalidRecencyWeight},
		{"zero dense rpm", func(c *Config) { c.Limits.Dense.RequestsPerMinute = 0 }, ErrInvalidLimit},
		{"negative daily cap", func(c *Config) { c.Limits.LLM.DailyCap = -1 }, ErrInvalidLimit},
		{"zero worker concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, ErrInvalidWorker},
		{"excessive worker concurrency", func(c *Config) { c.Worker.Concurrency = 64 }, ErrInvalidWorker},
		{"zero batch size", func(c *Config) { c.Worker.BatchSize = 0 }, ErrInvalidWorker},
		{"empty postgres host", func(c *Config) { c.PostgresHost = "" }, ErrInvalidPostgresHost},
		{"port out of range", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"empty db name", func(c *Config) { c.PostgresDBName = "" }, ErrInvalidPostgresDBName},
		{"empty password", func(c *Config) { c.PostgresPassword = "" }, ErrInvalidPostgresPassword},
		{"short password", func(c *Config) { c.PostgresPassword = "short" }, ErrInvalidPostgresPassword},
		{"deprecated ssl mode", func(c *Config) { c.PostgresSSLMode = "prefer" }, ErrInvalidPostgresSSLMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			assert.ErrorIs(t, c.Validate(), tt.wantErr)
		})
	}
}

func TestMaskSecret(t *testing.T) {
	assert.Empty(t, maskSecret(""))
	assert.Equal(t, maskedValue, maskSecret("short"))
	assert.Equal(t, maskedValue, maskSecret("12345678"))

	long := maskSecret("sk-abcdefghijklmnop")
	assert.Contains(t, long, maskedValue)
	assert.NotContains(t, long, "abcdefgh")
	// Leading and trailing characters survive for identification.
	assert.Equal(t, "sk", long[:2])
	assert.Equal(t, "op", long[len(long)-2:])
}

func TestConfigStringMasksSecrets(t *testing.T) {
	c := validConfig()
	c.PostgresPassword = "super_secret_password"
	c.SparseAPIKey = "sparse_secret_value"
	c.Rerank.CohereAPIKey = "cohere_secret_value"

	s := c.String()
	assert.NotContains(t, s, "super_secret_password")
	assert.NotContains(t, s, "sparse_secret_value")
	assert.NotContains(t, s, "cohere_secret_value")
}
