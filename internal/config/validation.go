package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the generation model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidChunkSize indicates the chunk size is out of range.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidConcurrency indicates a concurrency bound is out of range.
	ErrInvalidConcurrency = errors.New("invalid concurrency")

	// ErrInvalidRetryAttempts indicates the retry attempt count is out of range.
	ErrInvalidRetryAttempts = errors.New("invalid retry attempts")

	// ErrInvalidScoreFloor indicates the retrieval score floor is out of range.
	ErrInvalidScoreFloor = errors.New("invalid score floor")

	// ErrInvalidTopK indicates the retrieval top-k default is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")
)

// Chunking bounds. The lower bound keeps chunks large enough to embed
// meaningfully; the upper bound keeps them inside embedder token limits.
const (
	MinChunkSize = 50
	MaxChunkSize = 8000
)

// MaxEmbedConcurrency caps per-document embedding parallelism.
const MaxEmbedConcurrency = 64

// MaxRetryAttempts caps the transient-failure retry budget.
const MaxRetryAttempts = 10

var validProviders = map[string]bool{
	"gemini":   true,
	"googleai": true,
}

var validSSLModes = map[string]bool{
	"disable":     true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration for out-of-range or missing values.
// Returns a sentinel error (wrapped with details) on the first failure.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if !validProviders[c.Provider] {
		return fmt.Errorf("%w: %q (supported: gemini, googleai)", ErrInvalidProvider, c.Provider)
	}
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model is empty", ErrInvalidEmbedderModel)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if c.Ingest.MaxChunkSize < MinChunkSize || c.Ingest.MaxChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: %d (must be %d-%d)", ErrInvalidChunkSize,
			c.Ingest.MaxChunkSize, MinChunkSize, MaxChunkSize)
	}
	if c.Ingest.EmbedConcurrency < 1 || c.Ingest.EmbedConcurrency > MaxEmbedConcurrency {
		return fmt.Errorf("%w: embed_concurrency %d (must be 1-%d)", ErrInvalidConcurrency,
			c.Ingest.EmbedConcurrency, MaxEmbedConcurrency)
	}
	if c.Ingest.MaxParallel < 1 || c.Ingest.MaxParallel > MaxEmbedConcurrency {
		return fmt.Errorf("%w: max_parallel %d (must be 1-%d)", ErrInvalidConcurrency,
			c.Ingest.MaxParallel, MaxEmbedConcurrency)
	}
	if c.Ingest.MaxAttempts < 1 || c.Ingest.MaxAttempts > MaxRetryAttempts {
		return fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidRetryAttempts,
			c.Ingest.MaxAttempts, MaxRetryAttempts)
	}

	if c.Retrieval.ScoreFloor < 0 || c.Retrieval.ScoreFloor > 1 {
		return fmt.Errorf("%w: %g (must be 0-1)", ErrInvalidScoreFloor, c.Retrieval.ScoreFloor)
	}
	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 100 {
		return fmt.Errorf("%w: %d (must be 1-100)", ErrInvalidTopK, c.Retrieval.TopK)
	}

	return nil
}
