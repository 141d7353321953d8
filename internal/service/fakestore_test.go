package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/entrained/engram-service/internal/identity"
	"github.com/entrained/engram-service/internal/model"
	registrystore "github.com/entrained/engram-service/internal/registry/store"
)

// fakeStore is an in-memory MemoryStore for scheduler and action tests.
type fakeStore struct {
	mu          sync.Mutex
	memories    map[string]*model.Memory
	stats       map[string]*registrystore.MemoryStats
	entitySets  map[string]map[string]struct{}
	unused      map[string]bool
	suggestions map[string][]model.CleanupAction
	touched     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		memories:    map[string]*model.Memory{},
		stats:       map[string]*registrystore.MemoryStats{},
		entitySets:  map[string]map[string]struct{}{},
		unused:      map[string]bool{},
		suggestions: map[string][]model.CleanupAction{},
	}
}

func (f *fakeStore) put(m *model.Memory, st *registrystore.MemoryStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memories[m.ID] = m
	st.ID = m.ID
	st.WitnessedBy = m.WitnessedBy
	f.stats[m.ID] = st
	for _, w := range m.WitnessedBy {
		token := identity.Normalize(w)
		if f.entitySets[token] == nil {
			f.entitySets[token] = map[string]struct{}{}
		}
		f.entitySets[token][m.ID] = struct{}{}
	}
}

func (f *fakeStore) Store(_ context.Context, m *model.Memory) (string, error) {
	if m.ID == "" {
		m.ID = model.NewMemoryID()
	}
	f.put(m, &registrystore.MemoryStats{CreatedAt: time.Now().UTC()})
	return m.ID, nil
}

func (f *fakeStore) Get(_ context.Context, id, requestingEntity string) (*model.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memories[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: id}
	}
	token := identity.Normalize(requestingEntity)
	for _, w := range m.WitnessedBy {
		if identity.Normalize(w) == token {
			return m, nil
		}
	}
	return nil, &registrystore.NotFoundError{Resource: "memory", ID: id}
}

func (f *fakeStore) Search(context.Context, registrystore.SearchRequest) (*registrystore.SearchResponse, error) {
	return &registrystore.SearchResponse{}, nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.memories, id)
	delete(f.stats, id)
	for _, set := range f.entitySets {
		delete(set, id)
	}
	return nil
}

func (f *fakeStore) ListIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.memories))
	for id := range f.memories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) Stats(_ context.Context, id string) (*registrystore.MemoryStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.stats[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: id}
	}
	return st, nil
}

func (f *fakeStore) EntityIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entities := make([]string, 0, len(f.entitySets))
	for e := range f.entitySets {
		entities = append(entities, e)
	}
	sort.Strings(entities)
	return entities, nil
}

func (f *fakeStore) EntityMemoryIDs(_ context.Context, entity string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.entitySets[entity]))
	for id := range f.entitySets[entity] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) Archive(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memories[id]
	if !ok {
		return &registrystore.NotFoundError{Resource: "memory", ID: id}
	}
	m.Metadata.Archived = true
	f.stats[id].Archived = true
	return nil
}

func (f *fakeStore) UpdateRetention(_ context.Context, id string, policy model.RetentionPolicy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memories[id]
	if !ok {
		return &registrystore.NotFoundError{Resource: "memory", ID: id}
	}
	m.Metadata.RetentionPolicy = policy
	m.Metadata.ExpiresAt = model.RetentionExpiry(policy, m.CreatedAt)
	f.stats[id].ExpiresAt = m.Metadata.ExpiresAt
	return nil
}

func (f *fakeStore) Consolidate(ctx context.Context, targetID, newContent string, absorbed []string) error {
	f.mu.Lock()
	m, ok := f.memories[targetID]
	if !ok {
		f.mu.Unlock()
		return &registrystore.NotFoundError{Resource: "memory", ID: targetID}
	}
	m.Content.Text = newContent
	m.Metadata.ConsolidatedFrom = append(m.Metadata.ConsolidatedFrom, absorbed...)
	f.mu.Unlock()

	for _, id := range absorbed {
		_ = f.Delete(ctx, id)
	}
	return nil
}

func (f *fakeStore) MarkPotentiallyUnused(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unused[id] = true
	return nil
}

func (f *fakeStore) CleanOrphanRefs(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	for _, set := range f.entitySets {
		for id := range set {
			if _, ok := f.memories[id]; !ok {
				delete(set, id)
				removed++
			}
		}
	}
	return removed, nil
}

func (f *fakeStore) PutCleanupSuggestions(_ context.Context, date string, actions []model.CleanupAction, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suggestions[date] = actions
	return nil
}

func (f *fakeStore) MaintenanceTouch(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched++
	return nil
}

func (f *fakeStore) Name() string { return "fake" }

var _ registrystore.MemoryStore = (*fakeStore)(nil)
