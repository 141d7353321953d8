package curation

import (
	"time"

	"github.com/entrained/engram-service/internal/model"
)

// ApplyDecision folds a decision's aggregate fields into a memory's metadata
// before storage. Caller-provided topic tags are kept and the decision's tags
// are merged in; key information and curation provenance go into Extra.
func ApplyDecision(meta *model.Metadata, d *model.MemoryDecision, now time.Time) {
	meta.StorageType = d.StorageType
	meta.RetentionPolicy = d.RetentionPolicy
	meta.PrivacySensitivity = d.PrivacySensitivity
	meta.ConfidenceScore = d.ConfidenceScore
	meta.ExpiresAt = model.RetentionExpiry(d.RetentionPolicy, now)

	seen := make(map[string]struct{}, len(meta.TopicTags))
	for _, tag := range meta.TopicTags {
		seen[tag] = struct{}{}
	}
	for _, tag := range d.Tags {
		if _, ok := seen[tag]; ok {
			continue
		}
		meta.TopicTags = append(meta.TopicTags, tag)
		seen[tag] = struct{}{}
	}

	if meta.Extra == nil {
		meta.Extra = map[string]any{}
	}
	if len(d.KeyInformation) > 0 {
		meta.Extra["keyInformation"] = d.KeyInformation
	}
	meta.Extra["curationTimestamp"] = now.UTC().Format(time.RFC3339Nano)
	meta.Extra["curationVersion"] = "1.0"
}

// DirectDecision is the decision used when curation is bypassed, either
// explicitly or because no conversation turn was provided. Stores as context
// with full confidence.
func DirectDecision() *model.MemoryDecision {
	return &model.MemoryDecision{
		Observations: []model.Observation{{
			Type:               model.StorageContext,
			ConfidenceScore:    1,
			ContextualValue:    1,
			PrivacySensitivity: model.PrivacyPersonal,
			Reasoning:          "Direct storage requested",
		}},
		OverallReasoning:   "Direct storage requested",
		StorageType:        model.StorageContext,
		RetentionPolicy:    model.RetentionMediumTerm,
		PrivacySensitivity: model.PrivacyPersonal,
		ConfidenceScore:    1,
	}
}
