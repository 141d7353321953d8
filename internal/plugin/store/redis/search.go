package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/entrained/engram-service/internal/denial"
	"github.com/entrained/engram-service/internal/identity"
	"github.com/entrained/engram-service/internal/model"
	registrystore "github.com/entrained/engram-service/internal/registry/store"
	"github.com/entrained/engram-service/internal/vectorcodec"
	goredis "github.com/redis/go-redis/v9"
)

// Search runs a witness-restricted nearest-neighbor query. The witness
// predicate is part of the index query, not a post-filter: the engine never
// scores a memory the requesting entity did not witness.
func (s *Store) Search(ctx context.Context, req registrystore.SearchRequest) (*registrystore.SearchResponse, error) {
	if req.RequestingEntity == "" {
		return nil, &registrystore.ValidationError{Field: "requestingEntity", Message: "required"}
	}
	if identity.Normalize(req.RequestingEntity) == "" {
		return nil, &registrystore.ValidationError{Field: "requestingEntity", Message: "id contains no indexable characters"}
	}
	if len(req.Vectors) == 0 {
		return nil, &registrystore.ValidationError{Field: "vectors", Message: "at least one query vector is required"}
	}
	vectors := make([][]float32, len(req.Vectors))
	weights := make([]float64, len(req.Vectors))
	for i, wv := range req.Vectors {
		if len(wv.Vector) != s.opts.Dimensions {
			return nil, &registrystore.ValidationError{
				Field:   "vectors",
				Message: fmt.Sprintf("vector %d: expected %d dimensions, got %d", i, s.opts.Dimensions, len(wv.Vector)),
			}
		}
		vectors[i] = wv.Vector
		weights[i] = wv.Weight
	}
	queryVector, err := vectorcodec.Combine(vectors, weights)
	if err != nil {
		return nil, &registrystore.ValidationError{Field: "vectors", Message: err.Error()}
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	query := buildKNNQuery(req, topK)
	searchOpts := &goredis.FTSearchOptions{
		Params:         map[string]interface{}{"query_vector": vectorcodec.Encode(queryVector)},
		SortBy:         []goredis.FTSearchSortBy{{FieldName: "vector_score", Asc: true}},
		Limit:          topK,
		DialectVersion: 2,
		Return: []goredis.FTSearchReturn{
			{FieldName: "id"},
			{FieldName: "witnessed_by"},
			{FieldName: "situation_type"},
			{FieldName: "summary"},
			{FieldName: "speakers_json"},
			{FieldName: "privacy_level"},
			{FieldName: "memory_json"},
			{FieldName: "vector_score"},
		},
	}

	var result goredis.FTSearchResult
	err = s.withIndexRetry(ctx, func() error {
		var ferr error
		result, ferr = s.client.FTSearchWithArgs(ctx, s.opts.IndexName, query, searchOpts).Result()
		return ferr
	})
	if err != nil {
		return nil, err
	}

	hits := make([]registrystore.SearchHit, 0, len(result.Docs))
	for _, doc := range result.Docs {
		hit, ok := s.docToHit(doc, req)
		if !ok {
			continue
		}
		if hit.Similarity < req.SimilarityThreshold {
			continue
		}
		if req.ExcludeDenials && denial.IsDenial(hit.ContentPreview) {
			log.Debug("Filtered denial-shaped memory from results", "id", hit.MemoryID)
			continue
		}
		hits = append(hits, hit)
	}

	// FT.SEARCH already sorts by distance; keep the ordering stable after
	// filtering just the same.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })

	// Bump access statistics only on memories actually returned.
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, hit := range hits {
		key := memoryKey(hit.MemoryID)
		if err := s.client.HIncrBy(ctx, key, "access_count", 1).Err(); err != nil {
			log.Warn("Access count bump failed", "memory", hit.MemoryID, "err", err)
			continue
		}
		if err := s.client.HSet(ctx, key, "last_accessed", now).Err(); err != nil {
			log.Warn("Last-accessed update failed", "memory", hit.MemoryID, "err", err)
		}
	}

	return &registrystore.SearchResponse{
		Memories:   hits,
		TotalFound: len(hits),
		// The witness predicate runs inside the index, so nothing visible was
		// ever denied; the field is kept for API compatibility.
		AccessDeniedCount: 0,
	}, nil
}

func (s *Store) docToHit(doc goredis.Document, req registrystore.SearchRequest) (registrystore.SearchHit, bool) {
	fields := doc.Fields

	distance, err := strconv.ParseFloat(fields["vector_score"], 64)
	if err != nil {
		log.Warn("Search result missing vector score", "doc", doc.ID)
		return registrystore.SearchHit{}, false
	}

	var m model.Memory
	if err := json.Unmarshal([]byte(fields["memory_json"]), &m); err != nil {
		log.Warn("Search result has undecodable payload", "doc", doc.ID, "err", err)
		return registrystore.SearchHit{}, false
	}

	requesting := identity.Normalize(req.RequestingEntity)
	var coParticipants []string
	for _, w := range m.WitnessedBy {
		if identity.Normalize(w) != requesting {
			coParticipants = append(coParticipants, w)
		}
	}

	var speakers map[string]string
	_ = json.Unmarshal([]byte(fields["speakers_json"]), &speakers)
	speakersInvolved := make([]string, 0, len(speakers))
	for entity := range speakers {
		speakersInvolved = append(speakersInvolved, entity)
	}
	sort.Strings(speakersInvolved)

	return registrystore.SearchHit{
		MemoryID:         m.ID,
		Similarity:       vectorcodec.CosineSimilarity(distance),
		ContentPreview:   preview(m.Content.Text, s.opts.PreviewLength),
		CoParticipants:   coParticipants,
		SpeakersInvolved: speakersInvolved,
		SituationType:    fields["situation_type"],
		SituationSummary: fields["summary"],
		PrivacyLevel:     fields["privacy_level"],
		Metadata:         m.Metadata,
	}, true
}

// preview truncates text for result payloads without mutating the record.
// The limit counts runes so multi-byte text is never cut mid-character.
func preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

// buildKNNQuery renders the conjunctive predicate plus KNN clause, e.g.
//
//	(@witnessed_by:{tok} @situation_type:{a|b})=>[KNN 10 @embedding $query_vector AS vector_score]
func buildKNNQuery(req registrystore.SearchRequest, topK int) string {
	return fmt.Sprintf("(%s)=>[KNN %d @embedding $query_vector AS vector_score]",
		buildFilterQuery(req), topK)
}

// buildFilterQuery renders the access predicate and optional filters.
// Values within one dimension are OR'd; dimensions are AND'd (RediSearch
// ANDs space-separated clauses).
func buildFilterQuery(req registrystore.SearchRequest) string {
	parts := []string{
		fmt.Sprintf("@witnessed_by:{%s}", escapeTag(identity.Normalize(req.RequestingEntity))),
	}

	for _, co := range req.EntityFilters.CoParticipants {
		parts = append(parts, fmt.Sprintf("@witnessed_by:{%s}", escapeTag(identity.Normalize(co))))
	}

	if types := req.SituationFilters.SituationTypes; len(types) > 0 {
		parts = append(parts, fmt.Sprintf("@situation_type:{%s}", joinTagValues(types)))
	}
	if tags := req.SituationFilters.TopicTags; len(tags) > 0 {
		parts = append(parts, fmt.Sprintf("@topic_tags:{%s}", joinTagValues(tags)))
	}

	after, before := req.SituationFilters.After, req.SituationFilters.Before
	if after != nil || before != nil {
		lo, hi := "-inf", "+inf"
		if after != nil {
			lo = strconv.FormatInt(after.UnixMilli(), 10)
		}
		if before != nil {
			hi = strconv.FormatInt(before.UnixMilli(), 10)
		}
		parts = append(parts, fmt.Sprintf("@timestamp:[%s %s]", lo, hi))
	}

	return strings.Join(parts, " ")
}

func joinTagValues(values []string) string {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = escapeTag(v)
	}
	return strings.Join(escaped, "|")
}

// escapeTag backslash-escapes the punctuation the query syntax would
// otherwise interpret inside a TAG clause.
func escapeTag(value string) string {
	var b strings.Builder
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('\\')
		b.WriteRune(r)
	}
	return b.String()
}
