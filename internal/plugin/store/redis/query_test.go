package redis

import (
	"context"
	"testing"
	"time"
	"unicode/utf8"

	registrystore "github.com/entrained/engram-service/internal/registry/store"
	"github.com/stretchr/testify/require"
)

func TestBuildFilterQueryWitnessOnly(t *testing.T) {
	q := buildFilterQuery(registrystore.SearchRequest{RequestingEntity: "claude-prime"})
	require.Equal(t, "@witnessed_by:{claudeprime}", q)
}

func TestBuildFilterQueryCoParticipantsAreConjunctive(t *testing.T) {
	q := buildFilterQuery(registrystore.SearchRequest{
		RequestingEntity: "alice",
		EntityFilters:    registrystore.EntityFilters{CoParticipants: []string{"bob-2", "carol"}},
	})
	require.Equal(t, "@witnessed_by:{alice} @witnessed_by:{bob2} @witnessed_by:{carol}", q)
}

func TestBuildFilterQuerySituationTypesAreDisjunctive(t *testing.T) {
	q := buildFilterQuery(registrystore.SearchRequest{
		RequestingEntity: "alice",
		SituationFilters: registrystore.SituationFilters{
			SituationTypes: []string{"1:1_conversation", "group_chat"},
		},
	})
	require.Contains(t, q, `@situation_type:{1\:1_conversation|group_chat}`)
}

func TestBuildFilterQueryTopicTagsEscaped(t *testing.T) {
	q := buildFilterQuery(registrystore.SearchRequest{
		RequestingEntity: "alice",
		SituationFilters: registrystore.SituationFilters{TopicTags: []string{"q4 planning"}},
	})
	require.Contains(t, q, `@topic_tags:{q4\ planning}`)
}

func TestBuildFilterQueryTimeRange(t *testing.T) {
	after := time.UnixMilli(1000)
	before := time.UnixMilli(2000)

	q := buildFilterQuery(registrystore.SearchRequest{
		RequestingEntity: "alice",
		SituationFilters: registrystore.SituationFilters{After: &after, Before: &before},
	})
	require.Contains(t, q, "@timestamp:[1000 2000]")

	q = buildFilterQuery(registrystore.SearchRequest{
		RequestingEntity: "alice",
		SituationFilters: registrystore.SituationFilters{After: &after},
	})
	require.Contains(t, q, "@timestamp:[1000 +inf]")

	q = buildFilterQuery(registrystore.SearchRequest{
		RequestingEntity: "alice",
		SituationFilters: registrystore.SituationFilters{Before: &before},
	})
	require.Contains(t, q, "@timestamp:[-inf 2000]")
}

func TestBuildKNNQueryShape(t *testing.T) {
	q := buildKNNQuery(registrystore.SearchRequest{RequestingEntity: "alice"}, 5)
	require.Equal(t, "(@witnessed_by:{alice})=>[KNN 5 @embedding $query_vector AS vector_score]", q)
}

func TestEscapeTag(t *testing.T) {
	require.Equal(t, "plain_value", escapeTag("plain_value"))
	require.Equal(t, `a\-b`, escapeTag("a-b"))
	require.Equal(t, `1\:1`, escapeTag("1:1"))
}

func TestPreviewTruncation(t *testing.T) {
	require.Equal(t, "short", preview("short", 10))
	require.Equal(t, "0123456789...", preview("0123456789abcdef", 10))
}

func TestPreviewTruncatesOnRunes(t *testing.T) {
	require.Equal(t, "héllo ...", preview("héllo wörld", 6))
	require.Equal(t, "日本語...", preview("日本語のテキスト", 3))
	require.True(t, utf8.ValidString(preview("café au lait", 4)))
}

func TestSearchRejectsUnindexableEntity(t *testing.T) {
	store := &Store{opts: Options{Dimensions: testDims}}

	_, err := store.Search(context.Background(), registrystore.SearchRequest{
		RequestingEntity: "-",
		Vectors:          []registrystore.WeightedVector{{Vector: []float32{1, 0, 0, 0}, Weight: 1}},
	})

	var verr *registrystore.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "requestingEntity", verr.Field)
}
