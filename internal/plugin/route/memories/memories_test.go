package memories

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/entrained/engram-service/internal/config"
	"github.com/entrained/engram-service/internal/model"
	registrystore "github.com/entrained/engram-service/internal/registry/store"
)

// stubStore overrides only the methods the routes exercise; anything else
// panics through the embedded nil interface.
type stubStore struct {
	registrystore.MemoryStore

	stored    *model.Memory
	searchReq *registrystore.SearchRequest
	memories  map[string]*model.Memory
	// entityIDs is keyed by normalized entity token, like the real store's
	// entity_access index.
	entityIDs map[string][]string
}

func (s *stubStore) Store(ctx context.Context, m *model.Memory) (string, error) {
	m.ID = "mem-test00000001"
	m.CreatedAt = time.Now().UTC()
	if m.AccessControl.PrivacyLevel == "" {
		m.AccessControl.PrivacyLevel = model.DefaultPrivacyLevel
	}
	s.stored = m
	return m.ID, nil
}

func (s *stubStore) Get(ctx context.Context, id, requestingEntity string) (*model.Memory, error) {
	m, ok := s.memories[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: id}
	}
	for _, w := range m.WitnessedBy {
		if w == requestingEntity {
			return m, nil
		}
	}
	return nil, &registrystore.NotFoundError{Resource: "memory", ID: id}
}

func (s *stubStore) Search(ctx context.Context, req registrystore.SearchRequest) (*registrystore.SearchResponse, error) {
	s.searchReq = &req
	return &registrystore.SearchResponse{
		Memories: []registrystore.SearchHit{
			{MemoryID: "mem-aaaaaaaaaaaa", Similarity: 0.93},
		},
		TotalFound: 1,
	}, nil
}

func (s *stubStore) EntityMemoryIDs(ctx context.Context, entity string) ([]string, error) {
	return s.entityIDs[entity], nil
}

type stubEmbedder struct {
	calls int
}

func (e *stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (e *stubEmbedder) ModelName() string { return "stub" }
func (e *stubEmbedder) Dimension() int    { return 4 }

func newTestRouter(store *stubStore, embedder *stubEmbedder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	r := gin.New()
	MountRoutes(r, store, embedder, &cfg)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestStoreMemory_EmbedsContentWhenVectorMissing(t *testing.T) {
	store := &stubStore{}
	embedder := &stubEmbedder{}
	r := newTestRouter(store, embedder)

	rec := postJSON(t, r, "/v1/memories", map[string]any{
		"witnessedBy":   []string{"claude-prime", "eric"},
		"situationType": "1:1_conversation",
		"content":       map[string]any{"text": "Eric prefers short answers."},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 1, embedder.calls)
	require.NotNil(t, store.stored)
	require.Equal(t, []float32{1, 0, 0, 0}, store.stored.Vector)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "mem-test00000001", resp["memoryId"])
	require.Equal(t, "stored", resp["status"])
	ac := resp["accessControl"].(map[string]any)
	require.Equal(t, model.DefaultPrivacyLevel, ac["privacyLevel"])
	require.Equal(t, float64(2), ac["witnessCount"])
}

func TestStoreMemory_RequiresWitnesses(t *testing.T) {
	r := newTestRouter(&stubStore{}, &stubEmbedder{})

	rec := postJSON(t, r, "/v1/memories", map[string]any{
		"content": map[string]any{"text": "orphaned"},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "witness")
}

func TestSearch_AppliesConfigDefaults(t *testing.T) {
	store := &stubStore{}
	r := newTestRouter(store, &stubEmbedder{})

	rec := postJSON(t, r, "/v1/memories/search", map[string]any{
		"requestingEntity": "claude-prime",
		"query":            "what does eric prefer",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.searchReq)
	require.Equal(t, 10, store.searchReq.TopK)
	require.InDelta(t, 0.7, store.searchReq.SimilarityThreshold, 1e-9)
	require.True(t, store.searchReq.ExcludeDenials)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, float64(1), resp["totalFound"])
	ev := resp["entityVerification"].(map[string]any)
	require.Equal(t, "witnessed_memories_only", ev["searchScope"])
	require.Equal(t, float64(1), ev["accessGrantedCount"])
}

func TestSearch_RetrievalOptionsOverride(t *testing.T) {
	store := &stubStore{}
	r := newTestRouter(store, &stubEmbedder{})

	rec := postJSON(t, r, "/v1/memories/search", map[string]any{
		"requestingEntity": "claude-prime",
		"vectors":          []map[string]any{{"vector": []float32{0, 1, 0, 0}, "weight": 1}},
		"retrievalOptions": map[string]any{
			"topK":                3,
			"similarityThreshold": 0.5,
			"excludeDenials":      false,
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 3, store.searchReq.TopK)
	require.InDelta(t, 0.5, store.searchReq.SimilarityThreshold, 1e-9)
	require.False(t, store.searchReq.ExcludeDenials)
}

func TestSearch_RequiresEntity(t *testing.T) {
	r := newTestRouter(&stubStore{}, &stubEmbedder{})

	rec := postJSON(t, r, "/v1/memories/search", map[string]any{
		"query": "anything",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "requestingEntity")
}

func TestGetMemory_NotWitnessedLooksMissing(t *testing.T) {
	store := &stubStore{memories: map[string]*model.Memory{
		"mem-aaaaaaaaaaaa": {ID: "mem-aaaaaaaaaaaa", WitnessedBy: []string{"eric"}},
	}}
	r := newTestRouter(store, &stubEmbedder{})

	req := httptest.NewRequest(http.MethodGet, "/v1/memories/mem-aaaaaaaaaaaa?requestingEntity=stranger", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "not_found")

	req = httptest.NewRequest(http.MethodGet, "/v1/memories/mem-aaaaaaaaaaaa?requestingEntity=eric", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestEntitySituations_Aggregates(t *testing.T) {
	store := &stubStore{
		entityIDs: map[string][]string{"eric": {"mem-1", "mem-2", "mem-3"}},
		memories: map[string]*model.Memory{
			"mem-1": {ID: "mem-1", WitnessedBy: []string{"eric"}, Situation: model.Situation{ID: "sit-a", Type: "group_chat"}},
			"mem-2": {ID: "mem-2", WitnessedBy: []string{"eric"}, Situation: model.Situation{ID: "sit-a", Type: "group_chat"}},
			// mem-3 is a stale reference with no primary record.
		},
	}
	r := newTestRouter(store, &stubEmbedder{})

	req := httptest.NewRequest(http.MethodGet, "/v1/memories/entities/eric/situations", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		EntityID        string `json:"entityId"`
		TotalSituations int    `json:"totalSituations"`
		Situations      []struct {
			SituationID string `json:"situationId"`
			MemoryCount int    `json:"memoryCount"`
		} `json:"situations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "eric", resp.EntityID)
	require.Equal(t, 1, resp.TotalSituations)
	require.Equal(t, "sit-a", resp.Situations[0].SituationID)
	require.Equal(t, 2, resp.Situations[0].MemoryCount)
}

func TestEntitySituations_NormalizesEntityID(t *testing.T) {
	// The access index is keyed by normalized token; a hyphenated id in the
	// URL must still find its situations.
	store := &stubStore{
		entityIDs: map[string][]string{"userlars": {"mem-1"}},
		memories: map[string]*model.Memory{
			"mem-1": {ID: "mem-1", WitnessedBy: []string{"user-lars"}, Situation: model.Situation{ID: "sit-a", Type: "1:1_conversation"}},
		},
	}
	r := newTestRouter(store, &stubEmbedder{})

	req := httptest.NewRequest(http.MethodGet, "/v1/memories/entities/user-lars/situations", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		EntityID        string `json:"entityId"`
		TotalSituations int    `json:"totalSituations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "user-lars", resp.EntityID)
	require.Equal(t, 1, resp.TotalSituations)
}
