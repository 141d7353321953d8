package serve

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/entrained/engram-service/internal/config"
	registryembed "github.com/entrained/engram-service/internal/registry/embed"
	registryjudge "github.com/entrained/engram-service/internal/registry/judge"
	registrystore "github.com/entrained/engram-service/internal/registry/store"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/entrained/engram-service/internal/plugin/embed/disabled"
	_ "github.com/entrained/engram-service/internal/plugin/embed/ollama"
	_ "github.com/entrained/engram-service/internal/plugin/embed/openai"
	_ "github.com/entrained/engram-service/internal/plugin/judge/disabled"
	_ "github.com/entrained/engram-service/internal/plugin/judge/openai"
	_ "github.com/entrained/engram-service/internal/plugin/route/curating"
	_ "github.com/entrained/engram-service/internal/plugin/route/memories"
	_ "github.com/entrained/engram-service/internal/plugin/route/system"
	_ "github.com/entrained/engram-service/internal/plugin/store/redis"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the engram memory service HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("ENGRAM_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("ENGRAM_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.DurationFlag{
			Name:        "drain-timeout",
			Category:    "Server:",
			Sources:     cli.EnvVars("ENGRAM_DRAIN_TIMEOUT"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "How long to wait for in-flight requests on shutdown",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("ENGRAM_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.BoolFlag{
			Name:        "cors-enabled",
			Category:    "Server:",
			Sources:     cli.EnvVars("ENGRAM_CORS_ENABLED"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Enable CORS headers on API responses",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("ENGRAM_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Value:       cfg.CORSOrigins,
			Usage:       "Comma-separated list of allowed CORS origins, or * for any",
		},

		// ── Redis Store ───────────────────────────────────────────
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Redis Store:",
			Sources:     cli.EnvVars("ENGRAM_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Value:       cfg.RedisURL,
			Usage:       "Redis connection URL (redis://host:port)",
		},
		&cli.StringFlag{
			Name:        "store-kind",
			Category:    "Redis Store:",
			Sources:     cli.EnvVars("ENGRAM_STORE_KIND"),
			Destination: &cfg.StoreType,
			Value:       cfg.StoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},

		// ── Vector Index ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "vector-index-name",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("ENGRAM_VECTOR_INDEX_NAME"),
			Destination: &cfg.VectorIndexName,
			Value:       cfg.VectorIndexName,
			Usage:       "Name of the vector search index",
		},
		&cli.IntFlag{
			Name:        "vector-dimensions",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("ENGRAM_VECTOR_DIMENSIONS"),
			Destination: &cfg.VectorDimensions,
			Value:       cfg.VectorDimensions,
			Usage:       "Embedding vector dimensionality; must match the embedding model",
		},
		&cli.StringFlag{
			Name:        "vector-distance-metric",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("ENGRAM_VECTOR_DISTANCE_METRIC"),
			Destination: &cfg.VectorDistanceMetric,
			Value:       cfg.VectorDistanceMetric,
			Usage:       "Vector distance metric (COSINE|L2|IP)",
		},
		&cli.StringFlag{
			Name:        "vector-algorithm",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("ENGRAM_VECTOR_ALGORITHM"),
			Destination: &cfg.VectorAlgorithm,
			Value:       cfg.VectorAlgorithm,
			Usage:       "Vector index algorithm (HNSW|FLAT)",
		},
		&cli.BoolFlag{
			Name:        "index-migrate-at-start",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("ENGRAM_INDEX_MIGRATE_AT_START"),
			Destination: &cfg.IndexMigrateAtStart,
			Value:       cfg.IndexMigrateAtStart,
			Usage:       "Create or verify the vector index on startup",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("ENGRAM_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.DurationFlag{
			Name:        "embedding-timeout",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("ENGRAM_EMBEDDING_TIMEOUT"),
			Destination: &cfg.EmbedTimeout,
			Value:       cfg.EmbedTimeout,
			Usage:       "Timeout for embedding provider requests",
		},
		&cli.StringFlag{
			Name:        "ollama-base-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("ENGRAM_OLLAMA_BASE_URL"),
			Destination: &cfg.OllamaBaseURL,
			Value:       cfg.OllamaBaseURL,
			Usage:       "Base URL of the Ollama server",
		},
		&cli.StringFlag{
			Name:        "ollama-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("ENGRAM_OLLAMA_MODEL"),
			Destination: &cfg.OllamaModelName,
			Value:       cfg.OllamaModelName,
			Usage:       "Ollama embedding model name",
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("ENGRAM_OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key for embeddings and curation",
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("ENGRAM_OPENAI_MODEL"),
			Destination: &cfg.OpenAIModelName,
			Value:       cfg.OpenAIModelName,
			Usage:       "OpenAI embedding model name",
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("ENGRAM_OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL,
			Value:       cfg.OpenAIBaseURL,
			Usage:       "Base URL of the OpenAI-compatible API",
		},
		&cli.IntFlag{
			Name:        "openai-dimensions",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("ENGRAM_OPENAI_DIMENSIONS"),
			Destination: &cfg.OpenAIDimensions,
			Value:       cfg.OpenAIDimensions,
			Usage:       "Requested embedding dimensions; 0 uses the vector index dimensionality",
		},

		// ── Curation ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "judge-kind",
			Category:    "Curation:",
			Sources:     cli.EnvVars("ENGRAM_JUDGE_KIND"),
			Destination: &cfg.JudgeType,
			Value:       cfg.JudgeType,
			Usage:       "Curation judge provider (" + strings.Join(registryjudge.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "judge-model",
			Category:    "Curation:",
			Sources:     cli.EnvVars("ENGRAM_JUDGE_MODEL"),
			Destination: &cfg.JudgeModelName,
			Value:       cfg.JudgeModelName,
			Usage:       "Model used to judge whether a conversation is worth remembering",
		},
		&cli.DurationFlag{
			Name:        "judge-timeout",
			Category:    "Curation:",
			Sources:     cli.EnvVars("ENGRAM_JUDGE_TIMEOUT"),
			Destination: &cfg.JudgeTimeout,
			Value:       cfg.JudgeTimeout,
			Usage:       "Timeout for curation judge requests",
		},

		// ── Search ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "search-top-k",
			Category:    "Search:",
			Sources:     cli.EnvVars("ENGRAM_SEARCH_TOP_K"),
			Destination: &cfg.SearchTopK,
			Value:       cfg.SearchTopK,
			Usage:       "Default number of nearest neighbours per search",
		},
		&cli.FloatFlag{
			Name:        "search-similarity-threshold",
			Category:    "Search:",
			Sources:     cli.EnvVars("ENGRAM_SEARCH_SIMILARITY_THRESHOLD"),
			Destination: &cfg.SearchSimilarityThreshold,
			Value:       cfg.SearchSimilarityThreshold,
			Usage:       "Minimum cosine similarity for a hit to be returned",
		},
		&cli.IntFlag{
			Name:        "content-preview-length",
			Category:    "Search:",
			Sources:     cli.EnvVars("ENGRAM_CONTENT_PREVIEW_LENGTH"),
			Destination: &cfg.ContentPreviewLength,
			Value:       cfg.ContentPreviewLength,
			Usage:       "Maximum rune length of content previews in search results",
		},

		// ── Cleanup ───────────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "cleanup-daily-interval",
			Category:    "Cleanup:",
			Sources:     cli.EnvVars("ENGRAM_CLEANUP_DAILY_INTERVAL"),
			Destination: &cfg.CleanupDailyInterval,
			Value:       cfg.CleanupDailyInterval,
			Usage:       "Interval between expired-memory sweeps",
		},
		&cli.DurationFlag{
			Name:        "cleanup-weekly-interval",
			Category:    "Cleanup:",
			Sources:     cli.EnvVars("ENGRAM_CLEANUP_WEEKLY_INTERVAL"),
			Destination: &cfg.CleanupWeeklyInterval,
			Value:       cfg.CleanupWeeklyInterval,
			Usage:       "Interval between consolidation scans",
		},
		&cli.DurationFlag{
			Name:        "cleanup-monthly-interval",
			Category:    "Cleanup:",
			Sources:     cli.EnvVars("ENGRAM_CLEANUP_MONTHLY_INTERVAL"),
			Destination: &cfg.CleanupMonthlyInterval,
			Value:       cfg.CleanupMonthlyInterval,
			Usage:       "Interval between comprehensive maintenance runs",
		},
		&cli.IntFlag{
			Name:        "consolidation-threshold",
			Category:    "Cleanup:",
			Sources:     cli.EnvVars("ENGRAM_CONSOLIDATION_THRESHOLD"),
			Destination: &cfg.ConsolidationThreshold,
			Value:       cfg.ConsolidationThreshold,
			Usage:       "Memories of one storage type per entity before consolidation is suggested",
		},
		&cli.DurationFlag{
			Name:        "consolidation-suggestion-ttl",
			Category:    "Cleanup:",
			Sources:     cli.EnvVars("ENGRAM_CONSOLIDATION_SUGGESTION_TTL"),
			Destination: &cfg.ConsolidationSuggestionTTL,
			Value:       cfg.ConsolidationSuggestionTTL,
			Usage:       "How long recorded consolidation suggestions are kept",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("ENGRAM_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}
