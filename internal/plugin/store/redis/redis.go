// Package redis implements the access-controlled memory store on Redis with
// the RediSearch query engine. Primary records are HASH keys under
// "memory:", vectors are indexed as binary FLOAT32 fields, and the witness
// predicate is evaluated by the index itself so an entity's search space is
// restricted to memories it witnessed.
//
// Secondary indices (per-entity access sets, per-situation membership) are
// best-effort and soft-consistent: failures updating them are logged, never
// rolled back, and a record whose primary hash is gone is treated as absent
// regardless of stale references.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/entrained/engram-service/internal/config"
	"github.com/entrained/engram-service/internal/identity"
	"github.com/entrained/engram-service/internal/model"
	registrystore "github.com/entrained/engram-service/internal/registry/store"
	"github.com/entrained/engram-service/internal/vectorcodec"
	goredis "github.com/redis/go-redis/v9"
)

const (
	memoryKeyPrefix    = "memory:"
	entityKeyPrefix    = "entity_access:"
	situationKeyPrefix = "situation:"
	suggestionPrefix   = "consolidation_suggestions:"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrystore.MemoryStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis store: ENGRAM_REDIS_URL is required")
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis store: invalid URL: %w", err)
	}
	return New(ctx, goredis.NewClient(opts), Options{
		IndexName:      cfg.VectorIndexName,
		Dimensions:     cfg.VectorDimensions,
		DistanceMetric: cfg.VectorDistanceMetric,
		Algorithm:      cfg.VectorAlgorithm,
		PreviewLength:  cfg.ContentPreviewLength,
	})
}

// Options configures a Store.
type Options struct {
	IndexName      string
	Dimensions     int
	DistanceMetric string // COSINE, L2, or IP
	Algorithm      string // HNSW or FLAT
	PreviewLength  int
}

// Store is the Redis-backed MemoryStore.
type Store struct {
	client *goredis.Client
	opts   Options
}

// New creates a Store and verifies connectivity. The vector index is not
// created here; EnsureIndex (or the migrate command) handles that.
func New(ctx context.Context, client *goredis.Client, opts Options) (*Store, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis store: ping failed: %w", err)
	}
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = 200
	}
	return &Store{client: client, opts: opts}, nil
}

func (s *Store) Name() string { return "redis" }

// Client exposes the underlying connection for test helpers.
func (s *Store) Client() *goredis.Client { return s.client }

func memoryKey(id string) string    { return memoryKeyPrefix + id }
func entityKey(token string) string { return entityKeyPrefix + token }
func situationKey(id string) string { return situationKeyPrefix + id }

// Store validates the memory, writes the primary hash with its indexed
// fields and binary vector, then best-effort updates the secondary indices.
func (s *Store) Store(ctx context.Context, m *model.Memory) (string, error) {
	if len(m.WitnessedBy) == 0 {
		return "", &registrystore.ValidationError{Field: "witnessedBy", Message: "memory must have at least one witness"}
	}
	if len(m.Vector) != s.opts.Dimensions {
		return "", &registrystore.ValidationError{
			Field:   "vector",
			Message: fmt.Sprintf("expected %d dimensions, got %d", s.opts.Dimensions, len(m.Vector)),
		}
	}

	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = model.NewMemoryID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.Situation.ID == "" {
		m.Situation.ID = model.NewSituationID()
	}
	if m.Situation.Type == "" {
		m.Situation.Type = "unknown"
	}
	if m.Metadata.Timestamp.IsZero() {
		m.Metadata.Timestamp = now
	}
	if m.AccessControl.PrivacyLevel == "" {
		m.AccessControl.PrivacyLevel = model.DefaultPrivacyLevel
	}
	if m.Metadata.ExpiresAt == nil && m.Metadata.RetentionPolicy != "" {
		m.Metadata.ExpiresAt = model.RetentionExpiry(m.Metadata.RetentionPolicy, m.CreatedAt)
	}

	witnessTokens := identity.NormalizeAll(m.WitnessedBy)

	payload, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode memory %s: %w", m.ID, err)
	}
	speakers, err := json.Marshal(m.Content.Speakers)
	if err != nil {
		return "", fmt.Errorf("encode speakers for %s: %w", m.ID, err)
	}

	fields := map[string]interface{}{
		"id":                  m.ID,
		"created_at":          m.CreatedAt.Format(time.RFC3339Nano),
		"witnessed_by":        strings.Join(witnessTokens, ","),
		"situation_id":        identity.Normalize(m.Situation.ID),
		"situation_type":      m.Situation.Type,
		"content":             m.Content.Text,
		"summary":             m.Content.Summary,
		"speakers_json":       string(speakers),
		"timestamp":           strconv.FormatInt(m.Metadata.Timestamp.UnixMilli(), 10),
		"interaction_quality": strconv.FormatFloat(m.Metadata.InteractionQuality, 'f', -1, 64),
		"topic_tags":          strings.Join(m.Metadata.TopicTags, ","),
		"privacy_level":       m.AccessControl.PrivacyLevel,
		"storage_type":        string(m.Metadata.StorageType),
		"retention_policy":    string(m.Metadata.RetentionPolicy),
		"access_count":        strconv.Itoa(m.Metadata.AccessCount),
		"memory_json":         string(payload),
		"embedding":           vectorcodec.Encode(m.Vector),
	}
	if m.Situation.DurationMinutes != nil {
		fields["duration_minutes"] = strconv.FormatFloat(*m.Situation.DurationMinutes, 'f', -1, 64)
	}
	if m.Metadata.ExpiresAt != nil {
		fields["expires_at"] = m.Metadata.ExpiresAt.Format(time.RFC3339Nano)
	}

	if err := s.client.HSet(ctx, memoryKey(m.ID), fields).Err(); err != nil {
		return "", fmt.Errorf("store memory %s: %w", m.ID, err)
	}

	// Best-effort secondary index updates. Soft consistency: log and move on.
	for _, token := range witnessTokens {
		if err := s.client.SAdd(ctx, entityKey(token), m.ID).Err(); err != nil {
			log.Warn("Entity access index update failed", "entity", token, "memory", m.ID, "err", err)
		}
	}
	s.indexSituation(ctx, m)

	log.Info("Stored memory", "id", m.ID, "witnesses", len(m.WitnessedBy), "situation", m.Situation.ID)
	return m.ID, nil
}

func (s *Store) indexSituation(ctx context.Context, m *model.Memory) {
	sitID := identity.Normalize(m.Situation.ID)
	participants, err := json.Marshal(m.WitnessedBy)
	if err != nil {
		participants = []byte("[]")
	}
	sitKey := situationKey(sitID)
	err = s.client.HSet(ctx, sitKey, map[string]interface{}{
		"participants":   string(participants),
		"created_at":     m.CreatedAt.Format(time.RFC3339Nano),
		"situation_type": m.Situation.Type,
	}).Err()
	if err != nil {
		log.Warn("Situation index update failed", "situation", sitID, "memory", m.ID, "err", err)
		return
	}
	if err := s.client.SAdd(ctx, sitKey+":memories", m.ID).Err(); err != nil {
		log.Warn("Situation membership update failed", "situation", sitID, "memory", m.ID, "err", err)
	}
}

// Get fetches a memory. The requesting entity must be in the witness set; a
// miss and a denied request are indistinguishable by design.
func (s *Store) Get(ctx context.Context, id, requestingEntity string) (*model.Memory, error) {
	data, err := s.client.HGetAll(ctx, memoryKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	if len(data) == 0 {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: id}
	}

	requesting := identity.Normalize(requestingEntity)
	if !witnessSetContains(data["witnessed_by"], requesting) {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: id}
	}

	m, err := decodeMemory(data)
	if err != nil {
		return nil, fmt.Errorf("decode memory %s: %w", id, err)
	}
	return m, nil
}

func witnessSetContains(joined, token string) bool {
	if token == "" {
		return false
	}
	for _, w := range strings.Split(joined, ",") {
		if w == token {
			return true
		}
	}
	return false
}

func decodeMemory(data map[string]string) (*model.Memory, error) {
	var m model.Memory
	if err := json.Unmarshal([]byte(data["memory_json"]), &m); err != nil {
		return nil, err
	}
	// The binary embedding field is authoritative for the vector; the JSON
	// payload copy survives float32 round trips identically but the binary
	// form is what the index searched.
	if raw := data["embedding"]; raw != "" {
		vector, err := vectorcodec.Decode([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("embedding field: %w", err)
		}
		m.Vector = vector
	}
	if n, err := strconv.Atoi(data["access_count"]); err == nil {
		m.Metadata.AccessCount = n
	}
	if raw := data["last_accessed"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			m.Metadata.LastAccessed = &t
		}
	}
	return &m, nil
}

// Delete removes the primary record and best-effort removes the id from the
// secondary indices. Deleting an absent id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	key := memoryKey(id)
	refs, err := s.client.HMGet(ctx, key, "witnessed_by", "situation_id").Result()
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}

	deleted, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	if deleted == 0 {
		return nil
	}

	if joined, ok := refs[0].(string); ok && joined != "" {
		for _, token := range strings.Split(joined, ",") {
			if err := s.client.SRem(ctx, entityKey(token), id).Err(); err != nil {
				log.Warn("Entity access index removal failed", "entity", token, "memory", id, "err", err)
			}
		}
	}
	if sitID, ok := refs[1].(string); ok && sitID != "" {
		if err := s.client.SRem(ctx, situationKey(sitID)+":memories", id).Err(); err != nil {
			log.Warn("Situation membership removal failed", "situation", sitID, "memory", id, "err", err)
		}
	}
	log.Info("Deleted memory", "id", id)
	return nil
}

var _ registrystore.MemoryStore = (*Store)(nil)
