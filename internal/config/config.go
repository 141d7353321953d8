package config

import (
	"context"
	"fmt"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Listener holds the HTTP listener settings.
type Listener struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

// Config holds all configuration for the engram service.
type Config struct {
	// Redis
	RedisURL string

	// Store backend type
	StoreType string // "redis"

	// Vector index
	VectorIndexName      string
	VectorDimensions     int
	VectorDistanceMetric string // "COSINE", "L2", or "IP"
	VectorAlgorithm      string // "HNSW" or "FLAT"
	IndexMigrateAtStart  bool

	// Embedding
	EmbedType        string // "ollama", "openai", or "disabled"
	EmbedTimeout     time.Duration
	OllamaBaseURL    string
	OllamaModelName  string
	OpenAIAPIKey     string
	OpenAIModelName  string
	OpenAIBaseURL    string
	OpenAIDimensions int

	// Judgment (curation LLM)
	JudgeType      string // "openai" or "disabled"
	JudgeModelName string
	JudgeTimeout   time.Duration

	// Search defaults
	SearchTopK                int
	SearchSimilarityThreshold float64
	ContentPreviewLength      int

	// Cleanup scheduler
	CleanupDailyInterval        time.Duration
	CleanupWeeklyInterval       time.Duration
	CleanupMonthlyInterval      time.Duration
	ConsolidationThreshold      int
	ConsolidationSuggestionTTL  time.Duration
	UnusedAccessAge             time.Duration
	UnusedAccessCountCeiling    int
	UnusedNeverAccessedAge      time.Duration
	ConsolidationScanBatchLimit int

	// Server
	Listener            Listener
	ManagementAccessLog bool
	DrainTimeout        time.Duration
	CORSEnabled         bool
	CORSOrigins         string
	MetricsLabels       string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RedisURL:                    "redis://localhost:6379",
		StoreType:                   "redis",
		VectorIndexName:             "engram_vector_idx",
		VectorDimensions:            1536,
		VectorDistanceMetric:        "COSINE",
		VectorAlgorithm:             "HNSW",
		IndexMigrateAtStart:         true,
		EmbedType:                   "ollama",
		EmbedTimeout:                30 * time.Second,
		OllamaBaseURL:               "http://localhost:11434",
		OllamaModelName:             "nomic-embed-text:latest",
		OpenAIModelName:             "text-embedding-3-small",
		OpenAIBaseURL:               "https://api.openai.com/v1",
		JudgeType:                   "disabled",
		JudgeModelName:              "gpt-4.1-nano",
		JudgeTimeout:                30 * time.Second,
		SearchTopK:                  10,
		SearchSimilarityThreshold:   0.7,
		ContentPreviewLength:        200,
		CleanupDailyInterval:        24 * time.Hour,
		CleanupWeeklyInterval:       7 * 24 * time.Hour,
		CleanupMonthlyInterval:      30 * 24 * time.Hour,
		ConsolidationThreshold:      5,
		ConsolidationSuggestionTTL:  7 * 24 * time.Hour,
		UnusedAccessAge:             30 * 24 * time.Hour,
		UnusedAccessCountCeiling:    2,
		UnusedNeverAccessedAge:      14 * 24 * time.Hour,
		ConsolidationScanBatchLimit: 50,
		Listener: Listener{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		DrainTimeout:  30 * time.Second,
		CORSOrigins:   "*",
		MetricsLabels: "service=engram-service",
	}
}

// Validate rejects configurations the store cannot operate under.
func (c *Config) Validate() error {
	if c.VectorDimensions <= 0 {
		return fmt.Errorf("vector dimensions must be positive, got %d", c.VectorDimensions)
	}
	switch c.VectorDistanceMetric {
	case "COSINE", "L2", "IP":
	default:
		return fmt.Errorf("unknown vector distance metric %q", c.VectorDistanceMetric)
	}
	switch c.VectorAlgorithm {
	case "HNSW", "FLAT":
	default:
		return fmt.Errorf("unknown vector algorithm %q", c.VectorAlgorithm)
	}
	return nil
}
