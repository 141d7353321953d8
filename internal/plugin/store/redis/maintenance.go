package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/entrained/engram-service/internal/model"
	registrystore "github.com/entrained/engram-service/internal/registry/store"
	goredis "github.com/redis/go-redis/v9"
)

// scanKeys enumerates keys matching pattern with SCAN. The result is a
// snapshot: keys created or deleted mid-scan may be inconsistently observed,
// which the cleanup jobs tolerate by being idempotent.
func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// ListIDs enumerates all memory ids.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	keys, err := s.scanKeys(ctx, memoryKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = strings.TrimPrefix(k, memoryKeyPrefix)
	}
	return ids, nil
}

// Stats returns the maintenance view of a record without decoding the full
// payload.
func (s *Store) Stats(ctx context.Context, id string) (*registrystore.MemoryStats, error) {
	fields, err := s.client.HMGet(ctx, memoryKey(id),
		"witnessed_by", "situation_id", "storage_type", "created_at",
		"expires_at", "access_count", "last_accessed", "archived").Result()
	if err != nil {
		return nil, fmt.Errorf("stats for %s: %w", id, err)
	}

	str := func(i int) string {
		v, _ := fields[i].(string)
		return v
	}
	if str(0) == "" && str(3) == "" {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: id}
	}

	stats := &registrystore.MemoryStats{
		ID:          id,
		SituationID: str(1),
		StorageType: model.StorageType(str(2)),
		Archived:    str(7) == "true",
	}
	if joined := str(0); joined != "" {
		stats.WitnessedBy = strings.Split(joined, ",")
	}
	if t, err := time.Parse(time.RFC3339Nano, str(3)); err == nil {
		stats.CreatedAt = t
	}
	if raw := str(4); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			stats.ExpiresAt = &t
		}
	}
	if n, err := strconv.Atoi(str(5)); err == nil {
		stats.AccessCount = n
	}
	if raw := str(6); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			stats.LastAccessed = &t
		}
	}
	return stats, nil
}

// EntityIDs enumerates the normalized entity tokens that have an access set.
func (s *Store) EntityIDs(ctx context.Context) ([]string, error) {
	keys, err := s.scanKeys(ctx, entityKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	entities := make([]string, len(keys))
	for i, k := range keys {
		entities[i] = strings.TrimPrefix(k, entityKeyPrefix)
	}
	return entities, nil
}

// EntityMemoryIDs lists the memory ids in an entity's access index.
func (s *Store) EntityMemoryIDs(ctx context.Context, entity string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, entityKey(entity)).Result()
	if err != nil {
		return nil, fmt.Errorf("entity memories for %s: %w", entity, err)
	}
	return ids, nil
}

// Archive marks a memory archived instead of removing it.
func (s *Store) Archive(ctx context.Context, id string) error {
	return s.patchMemory(ctx, id, func(m *model.Memory) {
		now := time.Now().UTC()
		m.Metadata.Archived = true
		m.Metadata.ArchivedAt = &now
	}, map[string]interface{}{
		"archived": "true",
	})
}

// UpdateRetention rewrites a memory's retention policy and recomputes its
// expiry from the original creation time.
func (s *Store) UpdateRetention(ctx context.Context, id string, policy model.RetentionPolicy) error {
	var expiresField string
	err := s.patchMemory(ctx, id, func(m *model.Memory) {
		m.Metadata.RetentionPolicy = policy
		m.Metadata.ExpiresAt = model.RetentionExpiry(policy, m.CreatedAt)
		if m.Metadata.ExpiresAt != nil {
			expiresField = m.Metadata.ExpiresAt.Format(time.RFC3339Nano)
		}
	}, nil)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, memoryKey(id), map[string]interface{}{
		"retention_policy": string(policy),
		"expires_at":       expiresField,
	}).Err()
}

// MarkPotentiallyUnused flags a memory for review by retention tooling.
func (s *Store) MarkPotentiallyUnused(ctx context.Context, id string) error {
	return s.client.HSet(ctx, memoryKey(id), "potentially_unused", "true").Err()
}

// Consolidate rewrites the target memory's content, records the absorbed ids
// in consolidatedFrom, and hard-deletes the absorbed memories. Irreversible.
func (s *Store) Consolidate(ctx context.Context, targetID, newContent string, absorbed []string) error {
	err := s.patchMemory(ctx, targetID, func(m *model.Memory) {
		m.Content.Text = newContent
		m.Metadata.ConsolidatedFrom = append(m.Metadata.ConsolidatedFrom, absorbed...)
	}, map[string]interface{}{
		"content": newContent,
	})
	if err != nil {
		return err
	}
	for _, id := range absorbed {
		if id == targetID {
			continue
		}
		if err := s.Delete(ctx, id); err != nil {
			log.Warn("Consolidation: absorbed memory delete failed", "memory", id, "err", err)
		}
	}
	log.Info("Consolidated memories", "target", targetID, "absorbed", len(absorbed))
	return nil
}

// patchMemory applies mutate to the decoded payload, rewrites memory_json,
// and sets any extra hash fields alongside it.
func (s *Store) patchMemory(ctx context.Context, id string, mutate func(*model.Memory), extra map[string]interface{}) error {
	key := memoryKey(id)
	raw, err := s.client.HGet(ctx, key, "memory_json").Result()
	if err == goredis.Nil {
		return &registrystore.NotFoundError{Resource: "memory", ID: id}
	}
	if err != nil {
		return fmt.Errorf("load memory %s: %w", id, err)
	}
	var m model.Memory
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return fmt.Errorf("decode memory %s: %w", id, err)
	}
	mutate(&m)
	payload, err := json.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encode memory %s: %w", id, err)
	}
	fields := map[string]interface{}{"memory_json": string(payload)}
	for k, v := range extra {
		fields[k] = v
	}
	return s.client.HSet(ctx, key, fields).Err()
}

// CleanOrphanRefs removes entity-access and situation-membership entries
// that point at memory ids with no primary record.
func (s *Store) CleanOrphanRefs(ctx context.Context) (int, error) {
	ids, err := s.ListIDs(ctx)
	if err != nil {
		return 0, err
	}
	existing := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		existing[id] = struct{}{}
	}

	removed := 0
	prune := func(setKey string) error {
		members, err := s.client.SMembers(ctx, setKey).Result()
		if err != nil {
			return err
		}
		for _, id := range members {
			if _, ok := existing[id]; ok {
				continue
			}
			if err := s.client.SRem(ctx, setKey, id).Err(); err != nil {
				log.Warn("Orphan reference removal failed", "set", setKey, "memory", id, "err", err)
				continue
			}
			removed++
		}
		return nil
	}

	entityKeys, err := s.scanKeys(ctx, entityKeyPrefix+"*")
	if err != nil {
		return removed, err
	}
	for _, key := range entityKeys {
		if err := prune(key); err != nil {
			log.Warn("Orphan scan failed for entity set", "set", key, "err", err)
		}
	}

	situationSets, err := s.scanKeys(ctx, situationKeyPrefix+"*:memories")
	if err != nil {
		return removed, err
	}
	for _, key := range situationSets {
		if err := prune(key); err != nil {
			log.Warn("Orphan scan failed for situation set", "set", key, "err", err)
		}
	}
	return removed, nil
}

// PutCleanupSuggestions persists suggested cleanup actions for review, keyed
// by date, with a TTL.
func (s *Store) PutCleanupSuggestions(ctx context.Context, date string, actions []model.CleanupAction, ttl time.Duration) error {
	payload, err := json.Marshal(map[string]interface{}{
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"suggestions": actions,
	})
	if err != nil {
		return fmt.Errorf("encode cleanup suggestions: %w", err)
	}
	return s.client.Set(ctx, suggestionPrefix+date, payload, ttl).Err()
}

// MaintenanceTouch nudges the index's background optimization with a cheap
// probe query and logs its document count. Best-effort only.
func (s *Store) MaintenanceTouch(ctx context.Context) error {
	return s.withIndexRetry(ctx, func() error {
		info, err := s.client.FTInfo(ctx, s.opts.IndexName).Result()
		if err != nil {
			return err
		}
		_, err = s.client.FTSearchWithArgs(ctx, s.opts.IndexName, "*",
			&goredis.FTSearchOptions{LimitOffset: 0, Limit: 1}).Result()
		if err != nil {
			return err
		}
		log.Info("Vector index maintenance touch", "name", s.opts.IndexName, "docs", info.NumDocs)
		return nil
	})
}
