package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/entrained/engram-service/internal/config"
	registrymigrate "github.com/entrained/engram-service/internal/registry/migrate"
	registrystore "github.com/entrained/engram-service/internal/registry/store"
	goredis "github.com/redis/go-redis/v9"
)

// indexMetaKey stores the shape the index was created with, so startup can
// detect a configuration/index mismatch instead of silently searching a
// wrong-dimension index.
func indexMetaKey(index string) string { return "engram:index_meta:" + index }

func init() {
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &indexMigrator{}})
}

// indexMigrator creates the vector index at startup when configured to.
type indexMigrator struct{}

func (m *indexMigrator) Name() string { return "redis-vector-index" }

func (m *indexMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.StoreType != "redis" || !cfg.IndexMigrateAtStart {
		return nil
	}
	log.Info("Running migration", "name", m.Name())

	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis migrate: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	defer client.Close()

	s, err := New(ctx, client, Options{
		IndexName:      cfg.VectorIndexName,
		Dimensions:     cfg.VectorDimensions,
		DistanceMetric: cfg.VectorDistanceMetric,
		Algorithm:      cfg.VectorAlgorithm,
	})
	if err != nil {
		return err
	}
	return s.EnsureIndex(ctx)
}

// EnsureIndex verifies the vector index exists with the configured shape,
// creating it if absent. A shape mismatch is an error demanding an explicit
// migration; existing data is never destroyed here.
func (s *Store) EnsureIndex(ctx context.Context) error {
	_, err := s.client.FTInfo(ctx, s.opts.IndexName).Result()
	if err == nil {
		return s.verifyIndexShape(ctx)
	}
	if !isNoSuchIndex(err) {
		return fmt.Errorf("inspect index %s: %w", s.opts.IndexName, err)
	}
	return s.createIndex(ctx)
}

func (s *Store) verifyIndexShape(ctx context.Context) error {
	meta, err := s.client.HGetAll(ctx, indexMetaKey(s.opts.IndexName)).Result()
	if err != nil {
		return fmt.Errorf("read index metadata: %w", err)
	}
	if len(meta) == 0 {
		// Index predates metadata tracking; record the configured shape.
		return s.writeIndexMeta(ctx)
	}
	dim, _ := strconv.Atoi(meta["dimensions"])
	if dim != s.opts.Dimensions || meta["distance_metric"] != s.opts.DistanceMetric {
		return fmt.Errorf(
			"index %s was created with dim=%d metric=%s but config wants dim=%d metric=%s; "+
				"run the migrate command with --recreate-index to rebuild (destructive: existing vectors become unsearchable until re-embedded)",
			s.opts.IndexName, dim, meta["distance_metric"], s.opts.Dimensions, s.opts.DistanceMetric)
	}
	return nil
}

func (s *Store) createIndex(ctx context.Context) error {
	vectorArgs := &goredis.FTVectorArgs{}
	switch s.opts.Algorithm {
	case "FLAT":
		vectorArgs.FlatOptions = &goredis.FTFlatOptions{
			Type:           "FLOAT32",
			Dim:            s.opts.Dimensions,
			DistanceMetric: s.opts.DistanceMetric,
		}
	default: // HNSW
		vectorArgs.HNSWOptions = &goredis.FTHNSWOptions{
			Type:           "FLOAT32",
			Dim:            s.opts.Dimensions,
			DistanceMetric: s.opts.DistanceMetric,
		}
	}

	err := s.client.FTCreate(ctx, s.opts.IndexName,
		&goredis.FTCreateOptions{
			OnHash: true,
			Prefix: []interface{}{memoryKeyPrefix},
		},
		&goredis.FieldSchema{FieldName: "witnessed_by", FieldType: goredis.SearchFieldTypeTag, Separator: ","},
		&goredis.FieldSchema{FieldName: "situation_id", FieldType: goredis.SearchFieldTypeTag, Separator: ","},
		&goredis.FieldSchema{FieldName: "situation_type", FieldType: goredis.SearchFieldTypeTag, Separator: ","},
		&goredis.FieldSchema{FieldName: "content", FieldType: goredis.SearchFieldTypeText},
		&goredis.FieldSchema{FieldName: "summary", FieldType: goredis.SearchFieldTypeText},
		&goredis.FieldSchema{FieldName: "timestamp", FieldType: goredis.SearchFieldTypeNumeric, Sortable: true},
		&goredis.FieldSchema{FieldName: "interaction_quality", FieldType: goredis.SearchFieldTypeNumeric, Sortable: true},
		&goredis.FieldSchema{FieldName: "duration_minutes", FieldType: goredis.SearchFieldTypeNumeric, Sortable: true},
		&goredis.FieldSchema{FieldName: "topic_tags", FieldType: goredis.SearchFieldTypeTag, Separator: ","},
		&goredis.FieldSchema{FieldName: "privacy_level", FieldType: goredis.SearchFieldTypeTag},
		&goredis.FieldSchema{FieldName: "storage_type", FieldType: goredis.SearchFieldTypeTag},
		&goredis.FieldSchema{FieldName: "embedding", FieldType: goredis.SearchFieldTypeVector, VectorArgs: vectorArgs},
	).Err()
	if err != nil {
		// A concurrent creator winning the race is fine.
		if strings.Contains(strings.ToLower(err.Error()), "index already exists") {
			return s.verifyIndexShape(ctx)
		}
		return fmt.Errorf("create index %s: %w", s.opts.IndexName, err)
	}

	log.Info("Created vector index",
		"name", s.opts.IndexName,
		"dimensions", s.opts.Dimensions,
		"metric", s.opts.DistanceMetric,
		"algorithm", s.opts.Algorithm)
	return s.writeIndexMeta(ctx)
}

func (s *Store) writeIndexMeta(ctx context.Context) error {
	return s.client.HSet(ctx, indexMetaKey(s.opts.IndexName), map[string]interface{}{
		"dimensions":      strconv.Itoa(s.opts.Dimensions),
		"distance_metric": s.opts.DistanceMetric,
		"algorithm":       s.opts.Algorithm,
	}).Err()
}

// RecreateIndex drops and recreates the vector index with the configured
// shape. Stored hashes are kept and picked up again by background indexing,
// but searches can miss until that completes. Only the explicit migrate
// command calls this; it is never automatic.
func (s *Store) RecreateIndex(ctx context.Context) error {
	log.Warn("DESTRUCTIVE: dropping vector index; existing memories will be unsearchable until re-indexed",
		"name", s.opts.IndexName)
	err := s.client.FTDropIndexWithArgs(ctx, s.opts.IndexName, &goredis.FTDropIndexOptions{DeleteDocs: false}).Err()
	if err != nil && !isNoSuchIndex(err) {
		return fmt.Errorf("drop index %s: %w", s.opts.IndexName, err)
	}
	if err := s.client.Del(ctx, indexMetaKey(s.opts.IndexName)).Err(); err != nil {
		return fmt.Errorf("clear index metadata: %w", err)
	}
	return s.createIndex(ctx)
}

func isNoSuchIndex(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such index") ||
		strings.Contains(msg, "unknown index name")
}

// withIndexRetry runs fn; when it fails because the index is missing, the
// index is created once and fn retried exactly once before the error
// surfaces as IndexUnavailableError.
func (s *Store) withIndexRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !isNoSuchIndex(err) {
		return err
	}
	log.Warn("Vector index missing, creating and retrying once", "name", s.opts.IndexName)
	if cerr := s.EnsureIndex(ctx); cerr != nil {
		return &registrystore.IndexUnavailableError{Index: s.opts.IndexName, Err: cerr}
	}
	if err = fn(); err != nil {
		return &registrystore.IndexUnavailableError{Index: s.opts.IndexName, Err: err}
	}
	return nil
}
