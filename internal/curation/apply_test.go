package curation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/entrained/engram-service/internal/model"
)

func TestApplyDecisionFoldsAggregates(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	decision := &model.MemoryDecision{
		StorageType:        model.StorageFacts,
		RetentionPolicy:    model.RetentionLongTerm,
		PrivacySensitivity: model.PrivacyPersonal,
		ConfidenceScore:    0.85,
		Tags:               []string{"coffee", "preferences"},
		KeyInformation:     []string{"Lars prefers dark roast"},
	}

	meta := model.Metadata{TopicTags: []string{"coffee"}}
	ApplyDecision(&meta, decision, now)

	require.Equal(t, model.StorageFacts, meta.StorageType)
	require.Equal(t, model.RetentionLongTerm, meta.RetentionPolicy)
	require.Equal(t, model.PrivacyPersonal, meta.PrivacySensitivity)
	require.InDelta(t, 0.85, meta.ConfidenceScore, 1e-9)
	require.NotNil(t, meta.ExpiresAt)
	require.Equal(t, now.Add(365*24*time.Hour), *meta.ExpiresAt)
	// Tags merge without duplicating caller-provided ones.
	require.Equal(t, []string{"coffee", "preferences"}, meta.TopicTags)
	require.Equal(t, []string{"Lars prefers dark roast"}, meta.Extra["keyInformation"])
	require.Equal(t, "1.0", meta.Extra["curationVersion"])
}

func TestApplyDecisionPermanentHasNoExpiry(t *testing.T) {
	meta := model.Metadata{}
	ApplyDecision(&meta, &model.MemoryDecision{RetentionPolicy: model.RetentionPermanent}, time.Now().UTC())
	require.Nil(t, meta.ExpiresAt)
}

func TestDirectDecisionStores(t *testing.T) {
	d := DirectDecision()
	require.True(t, d.ShouldStore())
	require.Equal(t, model.StorageContext, d.StorageType)
	require.InDelta(t, 1.0, d.ConfidenceScore, 1e-9)
}
