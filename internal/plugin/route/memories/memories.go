package memories

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/entrained/engram-service/internal/config"
	"github.com/entrained/engram-service/internal/identity"
	"github.com/entrained/engram-service/internal/model"
	registryembed "github.com/entrained/engram-service/internal/registry/embed"
	registryroute "github.com/entrained/engram-service/internal/registry/route"
	registrystore "github.com/entrained/engram-service/internal/registry/store"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 100,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts the memory routes on the given engine. Called after
// store initialization so the store and embedder are available.
func MountRoutes(r *gin.Engine, store registrystore.MemoryStore, embedder registryembed.Embedder, cfg *config.Config) {
	g := r.Group("/v1/memories")

	g.POST("", func(c *gin.Context) {
		storeMemory(c, store, embedder)
	})
	g.POST("/search", func(c *gin.Context) {
		searchMemories(c, store, embedder, cfg)
	})
	g.GET("/:memoryId", func(c *gin.Context) {
		getMemory(c, store)
	})
	g.GET("/entities/:entityId/situations", func(c *gin.Context) {
		entitySituations(c, store)
	})
}

type storeRequest struct {
	WitnessedBy   []string             `json:"witnessedBy"`
	SituationID   string               `json:"situationId"`
	SituationType string               `json:"situationType"`
	Content       model.Content        `json:"content"`
	Vector        []float32            `json:"vector"`
	Metadata      *model.Metadata      `json:"metadata"`
	AccessControl *model.AccessControl `json:"accessControl"`
	Causality     *model.Causality     `json:"causality"`
}

func storeMemory(c *gin.Context, store registrystore.MemoryStore, embedder registryembed.Embedder) {
	var req storeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	if len(req.WitnessedBy) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "memory must have at least one witness"})
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
		"accessControl": gin.H{
			"privacyLevel": m.AccessControl.PrivacyLevel,
			"witnessCount": len(m.WitnessedBy),
		},
	})
}

type searchRequest struct {
	RequestingEntity string                         `json:"requestingEntity"`
	Query            string                         `json:"query"`
	Vectors          []registrystore.WeightedVector `json:"vectors"`
	EntityFilters    registrystore.EntityFilters    `json:"entityFilters"`
	SituationFilters registrystore.SituationFilters `json:"situationFilters"`
	RetrievalOptions *retrievalOptions              `json:"retrievalOptions"`
}

type retrievalOptions struct {
	TopK                *int     `json:"topK"`
	SimilarityThreshold *float64 `json:"similarityThreshold"`
	ExcludeDenials      *bool    `json:"excludeDenials"`
}

func searchMemories(c *gin.Context, store registrystore.MemoryStore, embedder registryembed.Embedder, cfg *config.Config) {
	start := time.Now()

	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	if req.RequestingEntity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "requestingEntity is required"})
		return
	}

	vectors := req.Vectors
	if len(vectors) == 0 {
		if req.Query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "either vectors or query is required"})
			return
		}
		embedded, err := embedder.EmbedTexts(c.Request.Context(), []string{req.Query})
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"code": "embedding_unavailable", "error": err.Error()})
			return
		}
		vectors = []registrystore.WeightedVector{{Vector: embedded[0], Weight: 1}}
	}

	search := registrystore.SearchRequest{
		RequestingEntity:    req.RequestingEntity,
		Vectors:             vectors,
		EntityFilters:       req.EntityFilters,
		SituationFilters:    req.SituationFilters,
		TopK:                cfg.SearchTopK,
		SimilarityThreshold: cfg.SearchSimilarityThreshold,
		ExcludeDenials:      true,
	}
	if opts := req.RetrievalOptions; opts != nil {
		if opts.TopK != nil {
			search.TopK = *opts.TopK
		}
		if opts.SimilarityThreshold != nil {
			search.SimilarityThreshold = *opts.SimilarityThreshold
		}
		if opts.ExcludeDenials != nil {
			search.ExcludeDenials = *opts.ExcludeDenials
		}
	}

	res, err := store.Search(c.Request.Context(), search)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"memories":          res.Memories,
		"totalFound":        res.TotalFound,
		"accessDeniedCount": res.AccessDeniedCount,
		"searchTimeMs":      time.Since(start).Milliseconds(),
		"entityVerification": gin.H{
			"requestingEntity":   req.RequestingEntity,
			"accessGrantedCount": len(res.Memories),
			"searchScope":        "witnessed_memories_only",
		},
	})
}

func getMemory(c *gin.Context, store registrystore.MemoryStore) {
	requestingEntity := c.Query("requestingEntity")
	if requestingEntity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "requestingEntity query parameter is required"})
		return
	}

	m, err := store.Get(c.Request.Context(), c.Param("memoryId"), requestingEntity)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"memory": m,
		"accessVerification": gin.H{
			"requestingEntity": requestingEntity,
			"accessGranted":    true,
			"accessReason":     "entity_is_witness",
		},
	})
}

type situationSummary struct {
	SituationID   string   `json:"situationId"`
	SituationType string   `json:"situationType"`
	Participants  []string `json:"participants"`
	CreatedAt     string   `json:"createdAt"`
	MemoryCount   int      `json:"memoryCount"`
}

func entitySituations(c *gin.Context, store registrystore.MemoryStore) {
	entityID := c.Param("entityId")
	limit := queryInt(c, "limit", 50)

	// The access index is keyed by normalized token, same as the write path.
	ids, err := store.EntityMemoryIDs(c.Request.Context(), identity.Normalize(entityID))
	if err != nil {
		handleError(c, err)
		return
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	situations := map[string]*situationSummary{}
	for _, id := range ids {
		m, err := store.Get(c.Request.Context(), id, entityID)
		if err != nil {
			// Stale reference; primary record wins.
			continue
		}
		sitID := m.Situation.ID
		if sitID == "" {
			continue
		}
		if existing, ok := situations[sitID]; ok {
			existing.MemoryCount++
			continue
		}
		situations[sitID] = &situationSummary{
			SituationID:   sitID,
			SituationType: m.Situation.Type,
			Participants:  m.WitnessedBy,
			CreatedAt:     m.CreatedAt.Format(time.RFC3339Nano),
			MemoryCount:   1,
		}
	}

	list := make([]*situationSummary, 0, len(situations))
	for _, s := range situations {
		list = append(list, s)
	}

	c.JSON(http.StatusOK, gin.H{
		"entityId":        entityID,
		"situations":      list,
		"totalSituations": len(list),
	})
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

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return def
	}
	return i
}
