package curating

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
	"github.com/entrained/engram-service/internal/curation"
	"github.com/entrained/engram-service/internal/model"
	registryjudge "github.com/entrained/engram-service/internal/registry/judge"
	registrystore "github.com/entrained/engram-service/internal/registry/store"
)

type stubStore struct {
	registrystore.MemoryStore

	deleted   []string
	stored    *model.Memory
	searchReq *registrystore.SearchRequest
}

func (s *stubStore) Get(ctx context.Context, id, requestingEntity string) (*model.Memory, error) {
	return &model.Memory{ID: id, WitnessedBy: []string{requestingEntity}}, nil
}

func (s *stubStore) Delete(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubStore) Store(ctx context.Context, m *model.Memory) (string, error) {
	m.ID = "mem-curated00001"
	m.CreatedAt = time.Now().UTC()
	s.stored = m
	return m.ID, nil
}

func (s *stubStore) Search(ctx context.Context, req registrystore.SearchRequest) (*registrystore.SearchResponse, error) {
	s.searchReq = &req
	return &registrystore.SearchResponse{
		Memories:   []registrystore.SearchHit{{MemoryID: "mem-aaaaaaaaaaaa", Similarity: 0.91}},
		TotalFound: 1,
	}, nil
}

func (s *stubStore) EntityMemoryIDs(ctx context.Context, entity string) ([]string, error) {
	return nil, nil
}

// stubJudge returns a canned JSON response and counts invocations.
type stubJudge struct {
	calls    int
	response string
}

func (j *stubJudge) Judge(ctx context.Context, system, prompt string) (json.RawMessage, error) {
	j.calls++
	return json.RawMessage(j.response), nil
}

func (j *stubJudge) ModelName() string { return "stub" }

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

func newTestRouter(store *stubStore, judge registryjudge.Judge) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	r := gin.New()
	MountRoutes(r, curation.New(judge, time.Second), store, &stubEmbedder{}, &cfg)
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

func TestAnalyze_FallbackWithoutJudge(t *testing.T) {
	r := newTestRouter(&stubStore{}, nil)

	rec := postJSON(t, r, "/v1/curation/analyze", map[string]any{
		"userInput": "I live in Lisbon now.",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ShouldStore bool                 `json:"shouldStore"`
		Decision    model.MemoryDecision `json:"decision"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Decision.RequiresReview)
}

func TestAnalyze_RequiresInput(t *testing.T) {
	r := newTestRouter(&stubStore{}, nil)
	rec := postJSON(t, r, "/v1/curation/analyze", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntent_RequiresQuery(t *testing.T) {
	r := newTestRouter(&stubStore{}, nil)
	rec := postJSON(t, r, "/v1/curation/intent", map[string]any{"context": "only context"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntent_FallbackShape(t *testing.T) {
	r := newTestRouter(&stubStore{}, nil)
	rec := postJSON(t, r, "/v1/curation/intent", map[string]any{"query": "what did we plan"})
	require.Equal(t, http.StatusOK, rec.Code)

	var intent model.RetrievalIntent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &intent))
	require.Equal(t, "mixed", intent.IntentType)
	require.NotEmpty(t, intent.StorageTypesNeeded)
}

func TestCuratedStore_FoldsDecisionIntoMetadata(t *testing.T) {
	judge := &stubJudge{response: `{
		"observations": [{
			"memory_type": "facts",
			"content": "Lars prefers dark roast",
			"confidence_score": 0.9,
			"ephemerality_score": 0.1,
			"contextual_value": 0.9,
			"tags": ["coffee"]
		}],
		"overall_reasoning": "stable preference"
	}`}
	store := &stubStore{}
	r := newTestRouter(store, judge)

	rec := postJSON(t, r, "/v1/curation/store", map[string]any{
		"witnessedBy":   []string{"claude-prime", "user-lars"},
		"situationType": "1:1_conversation",
		"content":       map[string]any{"text": "Lars said he prefers dark roast."},
		"userInput":     "I prefer dark roast coffee.",
		"agentResponse": "Noted, dark roast it is.",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 1, judge.calls)
	require.NotNil(t, store.stored)
	require.Equal(t, model.StorageFacts, store.stored.Metadata.StorageType)
	require.Equal(t, model.RetentionLongTerm, store.stored.Metadata.RetentionPolicy)
	require.NotNil(t, store.stored.Metadata.ExpiresAt)
	require.Contains(t, store.stored.Metadata.TopicTags, "coffee")
	require.Equal(t, []string{"Lars prefers dark roast"}, store.stored.Metadata.Extra["keyInformation"])

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "mem-curated00001", resp["memoryId"])
	decision := resp["curationDecision"].(map[string]any)
	require.Equal(t, "facts", decision["storageType"])
}

func TestCuratedStore_RejectedByCuration(t *testing.T) {
	judge := &stubJudge{response: `{
		"observations": [{
			"memory_type": "temporary",
			"content": "talked about the weather",
			"confidence_score": 0.9,
			"ephemerality_score": 0.95,
			"contextual_value": 0.1
		}],
		"overall_reasoning": "small talk"
	}`}
	store := &stubStore{}
	r := newTestRouter(store, judge)

	rec := postJSON(t, r, "/v1/curation/store", map[string]any{
		"witnessedBy":   []string{"claude-prime", "user-lars"},
		"content":       map[string]any{"text": "Nice weather today."},
		"userInput":     "Nice weather today.",
		"agentResponse": "It really is.",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, store.stored)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "rejected_by_curation", resp["status"])
	require.Nil(t, resp["memoryId"])
	require.Equal(t, "small talk", resp["reasoning"])
}

func TestCuratedStore_ForceStorageSkipsJudge(t *testing.T) {
	judge := &stubJudge{response: `{"observations": []}`}
	store := &stubStore{}
	r := newTestRouter(store, judge)

	rec := postJSON(t, r, "/v1/curation/store", map[string]any{
		"witnessedBy":   []string{"claude-prime"},
		"content":       map[string]any{"text": "Keep this regardless."},
		"userInput":     "Keep this.",
		"agentResponse": "Will do.",
		"forceStorage":  true,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 0, judge.calls)
	require.NotNil(t, store.stored)
	require.Equal(t, model.StorageContext, store.stored.Metadata.StorageType)
}

func TestCuratedStore_RequiresWitnesses(t *testing.T) {
	r := newTestRouter(&stubStore{}, nil)

	rec := postJSON(t, r, "/v1/curation/store", map[string]any{
		"content": map[string]any{"text": "orphaned"},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "witness")
}

func TestCuratedRetrieve_IntentDrivesSearch(t *testing.T) {
	judge := &stubJudge{response: `{
		"intent_type": "facts",
		"storage_types_needed": ["facts"],
		"confidence_threshold": 0.55,
		"max_results": 3,
		"reasoning": "fact lookup"
	}`}
	store := &stubStore{}
	r := newTestRouter(store, judge)

	rec := postJSON(t, r, "/v1/curation/retrieve", map[string]any{
		"requestingEntity": "claude-prime",
		"query":            "what coffee does lars drink",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.searchReq)
	require.Equal(t, 3, store.searchReq.TopK)
	require.InDelta(t, 0.55, store.searchReq.SimilarityThreshold, 1e-9)
	require.True(t, store.searchReq.ExcludeDenials)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	analysis := resp["retrievalAnalysis"].(map[string]any)
	require.Equal(t, "facts", analysis["intentType"])
	require.InDelta(t, 0.55, analysis["confidenceThresholdUsed"].(float64), 1e-9)
}

func TestCuratedRetrieve_RequiresQuery(t *testing.T) {
	r := newTestRouter(&stubStore{}, nil)

	rec := postJSON(t, r, "/v1/curation/retrieve", map[string]any{
		"requestingEntity": "claude-prime",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "query")
}

func TestCleanup_ExecutesDelete(t *testing.T) {
	store := &stubStore{}
	r := newTestRouter(store, nil)

	rec := postJSON(t, r, "/v1/curation/cleanup", map[string]any{
		"requestingEntity": "eric",
		"action": map[string]any{
			"actionType": string(model.CleanupDelete),
			"memoryIds":  []string{"mem-1", "mem-2"},
			"reasoning":  "expired notes",
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"mem-1", "mem-2"}, store.deleted)
}

func TestCleanup_RejectsMissingEntity(t *testing.T) {
	r := newTestRouter(&stubStore{}, nil)

	rec := postJSON(t, r, "/v1/curation/cleanup", map[string]any{
		"action": map[string]any{
			"actionType": string(model.CleanupDelete),
			"memoryIds":  []string{"mem-1"},
		},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
