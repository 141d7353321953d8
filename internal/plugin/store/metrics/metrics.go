package metrics

import (
	"context"
	"time"

	"github.com/entrained/engram-service/internal/metrics"
	"github.com/entrained/engram-service/internal/model"
	"github.com/entrained/engram-service/internal/registry/store"
)

// Wrap returns a MemoryStore that records StoreLatency for every operation.
func Wrap(inner store.MemoryStore) store.MemoryStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.MemoryStore
}

func observe(op string, start time.Time) {
	if metrics.StoreLatency == nil {
		return
	}
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) Name() string { return m.inner.Name() }

func (m *metricsStore) Store(ctx context.Context, memory *model.Memory) (string, error) {
	defer observe("store", time.Now())
	return m.inner.Store(ctx, memory)
}

func (m *metricsStore) Get(ctx context.Context, id, requestingEntity string) (*model.Memory, error) {
	defer observe("get", time.Now())
	return m.inner.Get(ctx, id, requestingEntity)
}

func (m *metricsStore) Search(ctx context.Context, req store.SearchRequest) (*store.SearchResponse, error) {
	defer observe("search", time.Now())
	res, err := m.inner.Search(ctx, req)
	if err == nil && metrics.SearchResultsReturned != nil {
		metrics.SearchResultsReturned.Observe(float64(len(res.Memories)))
	}
	return res, err
}

func (m *metricsStore) Delete(ctx context.Context, id string) error {
	defer observe("delete", time.Now())
	return m.inner.Delete(ctx, id)
}

func (m *metricsStore) ListIDs(ctx context.Context) ([]string, error) {
	defer observe("list_ids", time.Now())
	return m.inner.ListIDs(ctx)
}

func (m *metricsStore) Stats(ctx context.Context, id string) (*store.MemoryStats, error) {
	defer observe("stats", time.Now())
	return m.inner.Stats(ctx, id)
}

func (m *metricsStore) EntityIDs(ctx context.Context) ([]string, error) {
	defer observe("entity_ids", time.Now())
	return m.inner.EntityIDs(ctx)
}

func (m *metricsStore) EntityMemoryIDs(ctx context.Context, entity string) ([]string, error) {
	defer observe("entity_memory_ids", time.Now())
	return m.inner.EntityMemoryIDs(ctx, entity)
}

func (m *metricsStore) Archive(ctx context.Context, id string) error {
	defer observe("archive", time.Now())
	return m.inner.Archive(ctx, id)
}

func (m *metricsStore) UpdateRetention(ctx context.Context, id string, policy model.RetentionPolicy) error {
	defer observe("update_retention", time.Now())
	return m.inner.UpdateRetention(ctx, id, policy)
}

func (m *metricsStore) Consolidate(ctx context.Context, targetID, newContent string, absorbed []string) error {
	defer observe("consolidate", time.Now())
	return m.inner.Consolidate(ctx, targetID, newContent, absorbed)
}

func (m *metricsStore) MarkPotentiallyUnused(ctx context.Context, id string) error {
	defer observe("mark_potentially_unused", time.Now())
	return m.inner.MarkPotentiallyUnused(ctx, id)
}

func (m *metricsStore) CleanOrphanRefs(ctx context.Context) (int, error) {
	defer observe("clean_orphan_refs", time.Now())
	return m.inner.CleanOrphanRefs(ctx)
}

func (m *metricsStore) PutCleanupSuggestions(ctx context.Context, date string, actions []model.CleanupAction, ttl time.Duration) error {
	defer observe("put_cleanup_suggestions", time.Now())
	return m.inner.PutCleanupSuggestions(ctx, date, actions, ttl)
}

func (m *metricsStore) MaintenanceTouch(ctx context.Context) error {
	defer observe("maintenance_touch", time.Now())
	return m.inner.MaintenanceTouch(ctx)
}
