// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (ECHOBASE_* prefix, runtime override)
//  2. Config file (~/.echobase/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, generation model, embedder model
//   - Postgres: document and vector storage connection (see storage.go)
//   - Ingest: chunking and embedding policy for the ingestion pipeline
//   - Retrieval: search defaults and relevance floor
//   - API: HTTP server address
//
// Validation lives in validation.go and uses sentinel errors so callers can
// check failure categories with errors.Is().
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Default values applied when neither environment nor config file set a key.
const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default but supports
	// truncation via OutputDimensionality; embed calls request
	// vector.Dimension (768) to match the pgvector schema.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultModelName is the default generation model.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultMaxChunkSize is the chunking limit in characters. Chunks are
	// cut on word boundaries, so a single oversize token may exceed it.
	DefaultMaxChunkSize = 1000

	// DefaultEmbedConcurrency bounds concurrent embedding calls per document.
	DefaultEmbedConcurrency = 4

	// DefaultEmbedRate is the embedding request rate limit (requests/second).
	DefaultEmbedRate = 10.0

	// DefaultMaxAttempts bounds retries of transient embed/upsert failures.
	DefaultMaxAttempts = 3

	// DefaultMaxParallel bounds concurrent document ingestions.
	DefaultMaxParallel = 2

	// DefaultMaxFetchBytes caps the size of a fetched source document (32 MiB).
	DefaultMaxFetchBytes = 32 << 20

	// DefaultTopK is the default number of passages returned by retrieval.
	DefaultTopK = 5

	// DefaultAPIAddr is the default HTTP listen address.
	DefaultAPIAddr = "127.0.0.1:3500"
)

// IngestConfig holds ingestion pipeline policy.
type IngestConfig struct {
	MaxChunkSize     int     `mapstructure:"max_chunk_size"`
	EmbedConcurrency int     `mapstructure:"embed_concurrency"`
	EmbedRate        float64 `mapstructure:"embed_rate"`
	MaxAttempts      int     `mapstructure:"max_attempts"`
	MaxParallel      int     `mapstructure:"max_parallel"`
	MaxFetchBytes    int64   `mapstructure:"max_fetch_bytes"`
}

// RetrievalConfig holds query-time policy.
type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`

	// ScoreFloor drops matches below this similarity score. The useful value
	// is provider-specific; 0 disables the floor.
	ScoreFloor float64 `mapstructure:"score_floor"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config stores application configuration.
// SECURITY: the Postgres password must never be logged; see storage.go.
type Config struct {
	Provider      string `mapstructure:"provider"`
	ModelName     string `mapstructure:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model"`

	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	Ingest    IngestConfig    `mapstructure:"ingest"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	API       APIConfig       `mapstructure:"api"`
}

// FullModelName returns the provider-qualified model name for genkit,
// e.g. "googleai/gemini-2.5-flash". A ModelName that already contains a
// "/" is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return "googleai/" + c.ModelName
}

// Load reads configuration from defaults, the optional config file, and
// environment variables, then validates the result.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	home, err := os.UserHomeDir()
	if err == nil {
		v.AddConfigPath(filepath.Join(home, ".echobase"))
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("ECHOBASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; anything else is a real error.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "gemini")
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "echobase")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_dbname", "echobase")
	v.SetDefault("postgres_sslmode", "disable")

	v.SetDefault("ingest.max_chunk_size", DefaultMaxChunkSize)
	v.SetDefault("ingest.embed_concurrency", DefaultEmbedConcurrency)
	v.SetDefault("ingest.embed_rate", DefaultEmbedRate)
	v.SetDefault("ingest.max_attempts", DefaultMaxAttempts)
	v.SetDefault("ingest.max_parallel", DefaultMaxParallel)
	v.SetDefault("ingest.max_fetch_bytes", DefaultMaxFetchBytes)

	v.SetDefault("retrieval.top_k", DefaultTopK)
	v.SetDefault("retrieval.score_floor", 0.0)

	v.SetDefault("api.addr", DefaultAPIAddr)
}
