package curating

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/entrained/engram-service/internal/config"
	"github.com/entrained/engram-service/internal/curation"
	"github.com/entrained/engram-service/internal/identity"
	"github.com/entrained/engram-service/internal/model"
	registryembed "github.com/entrained/engram-service/internal/registry/embed"
	registryroute "github.com/entrained/engram-service/internal/registry/route"
	registrystore "github.com/entrained/engram-service/internal/registry/store"
	"github.com/entrained/engram-service/internal/service"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 200,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts the curation routes. Called after store initialization
// so the store, embedder and curator are available.
func MountRoutes(r *gin.Engine, curator *curation.Curator, store registrystore.MemoryStore, embedder registryembed.Embedder, cfg *config.Config) {
	g := r.Group("/v1/curation")

	g.POST("/analyze", func(c *gin.Context) {
		analyze(c, curator)
	})
	g.POST("/intent", func(c *gin.Context) {
		intent(c, curator)
	})
	g.POST("/store", func(c *gin.Context) {
		storeCurated(c, curator, store, embedder)
	})
	g.POST("/retrieve", func(c *gin.Context) {
		retrieveCurated(c, curator, store, embedder, cfg)
	})
	g.POST("/cleanup", func(c *gin.Context) {
		cleanup(c, store)
	})
}

func analyze(c *gin.Context, curator *curation.Curator) {
	var req curation.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	if req.UserInput == "" && req.AgentResponse == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "userInput or agentResponse is required"})
		return
	}

	decision := curator.Analyze(c.Request.Context(), req)
	c.JSON(http.StatusOK, gin.H{
		"decision":    decision,
		"shouldStore": decision.ShouldStore(),
	})
}

func intent(c *gin.Context, curator *curation.Curator) {
	var req struct {
		Query   string `json:"query"`
		Context string `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	if req.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "query is required"})
		return
	}

	c.JSON(http.StatusOK, curator.AnalyzeRetrievalIntent(c.Request.Context(), req.Query, req.Context))
}

type curatedStoreRequest struct {
	WitnessedBy   []string             `json:"witnessedBy"`
	SituationID   string               `json:"situationId"`
	SituationType string               `json:"situationType"`
	Content       model.Content        `json:"content"`
	Vector        []float32            `json:"vector"`
	Metadata      *model.Metadata      `json:"metadata"`
	AccessControl *model.AccessControl `json:"accessControl"`
	Causality     *model.Causality     `json:"causality"`

	UserInput           string                     `json:"userInput"`
	AgentResponse       string                     `json:"agentResponse"`
	ConversationContext string                     `json:"conversationContext"`
	Preferences         *model.CurationPreferences `json:"curationPreferences"`
	ForceStorage        bool                       `json:"forceStorage"`
}

// storeCurated gates a store through curation: the conversation turn is
// analyzed, non-worthy turns are declined, and the decision's aggregate
// fields are folded into the stored record's metadata.
func storeCurated(c *gin.Context, curator *curation.Curator, store registrystore.MemoryStore, embedder registryembed.Embedder) {
	var req curatedStoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	if len(req.WitnessedBy) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "memory must have at least one witness"})
		return
	}

	var decision *model.MemoryDecision
	if req.ForceStorage || req.UserInput == "" || req.AgentResponse == "" {
		decision = curation.DirectDecision()
	} else {
		decision = curator.Analyze(c.Request.Context(), curation.Request{
			UserInput:           req.UserInput,
			AgentResponse:       req.AgentResponse,
			ConversationContext: req.ConversationContext,
			ExistingMemoryCount: existingMemoryCount(c, store, req.WitnessedBy[0]),
			Preferences:         req.Preferences,
		})
	}

	if !decision.ShouldStore() {
		c.JSON(http.StatusOK, gin.H{
			"memoryId":        nil,
			"status":          "rejected_by_curation",
			"reasoning":       decision.OverallReasoning,
			"confidenceScore": decision.ConfidenceScore,
		})
		return
	}

	vector := req.Vector
	if len(vector) == 0 {
		if req.Content.Text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "either vector or content.text is required"})
			return
		}
		vectors, err := embedder.EmbedTexts(c.Request.Context(), []string{req.Content.Text})
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"code": "embedding_unavailable", "error": err.Error()})
			return
		}
		vector = vectors[0]
	}

	m := &model.Memory{
		WitnessedBy: req.WitnessedBy,
		Situation: model.Situation{
			ID:   req.SituationID,
			Type: req.SituationType,
		},
		Content:   req.Content,
		Vector:    vector,
		Causality: req.Causality,
	}
	if req.Metadata != nil {
		m.Metadata = *req.Metadata
	}
	if req.AccessControl != nil {
		m.AccessControl = *req.AccessControl
	}
	curation.ApplyDecision(&m.Metadata, decision, time.Now().UTC())

	id, err := store.Store(c.Request.Context(), m)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"memoryId":    id,
		"status":      "stored",
		"witnessedBy": m.WitnessedBy,
		"situationId": m.Situation.ID,
		"timestamp":   m.CreatedAt,
		"curationDecision": gin.H{
			"storageType":     decision.StorageType,
			"retentionPolicy": decision.RetentionPolicy,
			"confidenceScore": decision.ConfidenceScore,
			"keyInformation":  decision.KeyInformation,
			"reasoning":       decision.OverallReasoning,
		},
	})
}

type curatedRetrieveRequest struct {
	RequestingEntity    string                         `json:"requestingEntity"`
	Query               string                         `json:"query"`
	ConversationContext string                         `json:"conversationContext"`
	Vectors             []registrystore.WeightedVector `json:"vectors"`
	EntityFilters       registrystore.EntityFilters    `json:"entityFilters"`
	SituationFilters    registrystore.SituationFilters `json:"situationFilters"`
}

// retrieveCurated runs an intent-driven search: the query is classified first
// and the intent's confidence threshold and result cap drive the search.
func retrieveCurated(c *gin.Context, curator *curation.Curator, store registrystore.MemoryStore, embedder registryembed.Embedder, cfg *config.Config) {
	start := time.Now()

	var req curatedRetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	if req.RequestingEntity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "requestingEntity is required"})
		return
	}
	if req.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "query is required"})
		return
	}

	intent := curator.AnalyzeRetrievalIntent(c.Request.Context(), req.Query, req.ConversationContext)

	vectors := req.Vectors
	if len(vectors) == 0 {
		embedded, err := embedder.EmbedTexts(c.Request.Context(), []string{req.Query})
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"code": "embedding_unavailable", "error": err.Error()})
			return
		}
		vectors = []registrystore.WeightedVector{{Vector: embedded[0], Weight: 1}}
	}

	topK := cfg.SearchTopK
	if intent.MaxResults < topK {
		topK = intent.MaxResults
	}

	res, err := store.Search(c.Request.Context(), registrystore.SearchRequest{
		RequestingEntity:    req.RequestingEntity,
		Vectors:             vectors,
		EntityFilters:       req.EntityFilters,
		SituationFilters:    req.SituationFilters,
		TopK:                topK,
		SimilarityThreshold: intent.ConfidenceThreshold,
		ExcludeDenials:      true,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"memories":     res.Memories,
		"totalFound":   res.TotalFound,
		"searchTimeMs": time.Since(start).Milliseconds(),
		"retrievalAnalysis": gin.H{
			"intentType":              intent.IntentType,
			"storageTypesSearched":    intent.StorageTypesNeeded,
			"confidenceThresholdUsed": intent.ConfidenceThreshold,
			"reasoning":               intent.Reasoning,
		},
	})
}

func cleanup(c *gin.Context, store registrystore.MemoryStore) {
	var req struct {
		RequestingEntity string              `json:"requestingEntity"`
		Action           model.CleanupAction `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}

	result, err := service.ExecuteCleanupAction(c.Request.Context(), store, req.RequestingEntity, req.Action)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// existingMemoryCount is advisory context for the judge; lookup failures
// degrade to zero.
func existingMemoryCount(c *gin.Context, store registrystore.MemoryStore, entity string) int {
	ids, err := store.EntityMemoryIDs(c.Request.Context(), identity.Normalize(entity))
	if err != nil {
		return 0
	}
	return len(ids)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var indexDown *registrystore.IndexUnavailableError
	var upstream *registrystore.UpstreamError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &indexDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "index_unavailable", "error": err.Error()})
	case errors.As(err, &upstream):
		c.JSON(http.StatusBadGateway, gin.H{"code": "upstream_unavailable", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
