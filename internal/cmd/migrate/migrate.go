package migrate

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/entrained/engram-service/internal/config"
	redisstore "github.com/entrained/engram-service/internal/plugin/store/redis"
	registrymigrate "github.com/entrained/engram-service/internal/registry/migrate"
	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or verify the vector search index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "redis-url",
				Sources:  cli.EnvVars("ENGRAM_REDIS_URL"),
				Usage:    "Redis connection URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "vector-index-name",
				Sources: cli.EnvVars("ENGRAM_VECTOR_INDEX_NAME"),
				Usage:   "Name of the vector search index",
			},
			&cli.IntFlag{
				Name:    "vector-dimensions",
				Sources: cli.EnvVars("ENGRAM_VECTOR_DIMENSIONS"),
				Usage:   "Embedding vector dimensionality",
			},
			&cli.StringFlag{
				Name:    "vector-distance-metric",
				Sources: cli.EnvVars("ENGRAM_VECTOR_DISTANCE_METRIC"),
				Usage:   "Vector distance metric (COSINE|L2|IP)",
			},
			&cli.StringFlag{
				Name:    "vector-algorithm",
				Sources: cli.EnvVars("ENGRAM_VECTOR_ALGORITHM"),
				Usage:   "Vector index algorithm (HNSW|FLAT)",
			},
			&cli.BoolFlag{
				Name:  "recreate-index",
				Usage: "Drop and recreate the index, then reindex existing memories. Destructive to index state, not to stored memories.",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.RedisURL = cmd.String("redis-url")
			if v := cmd.String("vector-index-name"); v != "" {
				cfg.VectorIndexName = v
			}
			if v := cmd.Int("vector-dimensions"); v != 0 {
				cfg.VectorDimensions = v
			}
			if v := cmd.String("vector-distance-metric"); v != "" {
				cfg.VectorDistanceMetric = v
			}
			if v := cmd.String("vector-algorithm"); v != "" {
				cfg.VectorAlgorithm = v
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx = config.WithContext(ctx, &cfg)

			if cmd.Bool("recreate-index") {
				return recreateIndex(ctx, &cfg)
			}

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}

func recreateIndex(ctx context.Context, cfg *config.Config) error {
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid redis URL: %w", err)
	}
	client := goredis.NewClient(opts)
	defer client.Close()

	s, err := redisstore.New(ctx, client, redisstore.Options{
		IndexName:      cfg.VectorIndexName,
		Dimensions:     cfg.VectorDimensions,
		DistanceMetric: cfg.VectorDistanceMetric,
		Algorithm:      cfg.VectorAlgorithm,
		PreviewLength:  cfg.ContentPreviewLength,
	})
	if err != nil {
		return err
	}

	log.Info("Recreating index", "index", cfg.VectorIndexName)
	if err := s.RecreateIndex(ctx); err != nil {
		return err
	}
	log.Info("Index recreated", "index", cfg.VectorIndexName)
	return nil
}
