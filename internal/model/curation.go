package model

import "time"

// StorageType categorizes what kind of information an observation carries.
type StorageType string

const (
	StorageFacts         StorageType = "facts"
	StoragePreferences   StorageType = "preferences"
	StorageContext       StorageType = "context"
	StorageTemporary     StorageType = "temporary"
	StorageSkills        StorageType = "skills"
	StorageRelationships StorageType = "relationships"
)

// ValidStorageType reports whether s is a known storage type.
func ValidStorageType(s StorageType) bool {
	switch s {
	case StorageFacts, StoragePreferences, StorageContext, StorageTemporary, StorageSkills, StorageRelationships:
		return true
	}
	return false
}

// RetentionPolicy determines how long a memory is kept before expiry.
type RetentionPolicy string

const (
	RetentionPermanent   RetentionPolicy = "permanent"
	RetentionLongTerm    RetentionPolicy = "long_term"
	RetentionMediumTerm  RetentionPolicy = "medium_term"
	RetentionShortTerm   RetentionPolicy = "short_term"
	RetentionSessionOnly RetentionPolicy = "session_only"
)

// RetentionExpiry returns the expiry time for a policy relative to createdAt,
// or nil for permanent retention. Unknown policies fall back to medium-term.
func RetentionExpiry(policy RetentionPolicy, createdAt time.Time) *time.Time {
	var d time.Duration
	switch policy {
	case RetentionPermanent:
		return nil
	case RetentionLongTerm:
		d = 365 * 24 * time.Hour
	case RetentionMediumTerm:
		d = 30 * 24 * time.Hour
	case RetentionShortTerm:
		d = 7 * 24 * time.Hour
	case RetentionSessionOnly:
		d = 4 * time.Hour
	default:
		d = 30 * 24 * time.Hour
	}
	t := createdAt.Add(d)
	return &t
}

// PrivacySensitivity grades how sensitive an observation is.
type PrivacySensitivity string

const (
	PrivacyPublic       PrivacySensitivity = "public"
	PrivacyPersonal     PrivacySensitivity = "personal"
	PrivacyPrivate      PrivacySensitivity = "private"
	PrivacyConfidential PrivacySensitivity = "confidential"
)

// Observation is a single curation note about a conversation turn. It is
// ephemeral: observations are folded into a Memory's metadata, never
// persisted as records themselves.
type Observation struct {
	Type               StorageType        `json:"memory_type"`
	Content            string             `json:"content"`
	ConfidenceScore    float64            `json:"confidence_score"`
	EphemeralityScore  float64            `json:"ephemerality_score"`
	PrivacySensitivity PrivacySensitivity `json:"privacy_sensitivity"`
	ContextualValue    float64            `json:"contextual_value"`
	Tags               []string           `json:"tags"`
	Reasoning          string             `json:"reasoning"`
}

// ShouldStore applies the deterministic storage rule: keep unless highly
// ephemeral, very low confidence, or of negligible contextual value.
func (o Observation) ShouldStore() bool {
	if o.EphemeralityScore > 0.8 {
		return false
	}
	if o.ConfidenceScore < 0.3 {
		return false
	}
	if o.ContextualValue < 0.2 {
		return false
	}
	return true
}

// RetentionPolicy derives the retention policy from the observation's scores.
func (o Observation) RetentionPolicy() RetentionPolicy {
	switch {
	case o.EphemeralityScore > 0.6:
		return RetentionShortTerm
	case o.EphemeralityScore > 0.3:
		return RetentionMediumTerm
	case o.Type == StorageFacts || o.Type == StorageSkills:
		return RetentionLongTerm
	default:
		return RetentionMediumTerm
	}
}

// MemoryDecision is the outcome of curating one conversation turn: every
// observation the judge extracted, plus aggregate fields derived from the
// storage-worthy subset for callers that store a single record per turn.
type MemoryDecision struct {
	Observations            []Observation `json:"observations"`
	OverallReasoning        string        `json:"overallReasoning"`
	ConsolidationCandidates []string      `json:"consolidationCandidates,omitempty"`

	// Aggregate fields, derived from the storage-worthy observations.
	StorageType        StorageType        `json:"storageType"`
	KeyInformation     []string           `json:"keyInformation,omitempty"`
	RetentionPolicy    RetentionPolicy    `json:"retentionPolicy"`
	PrivacySensitivity PrivacySensitivity `json:"privacySensitivity"`
	ConfidenceScore    float64            `json:"confidenceScore"`
	Tags               []string           `json:"tags,omitempty"`
	RequiresReview     bool               `json:"requiresReview,omitempty"`
}

// ShouldStore reports whether any observation is worth storing.
func (d *MemoryDecision) ShouldStore() bool {
	for _, o := range d.Observations {
		if o.ShouldStore() {
			return true
		}
	}
	return false
}

// StorageWorthy returns the observations that pass the storage rule.
func (d *MemoryDecision) StorageWorthy() []Observation {
	var worthy []Observation
	for _, o := range d.Observations {
		if o.ShouldStore() {
			worthy = append(worthy, o)
		}
	}
	return worthy
}

// CurationPreferences tunes curation per agent.
type CurationPreferences struct {
	PriorityTopics     []string           `json:"priorityTopics,omitempty"`
	RetentionBias      string             `json:"retentionBias,omitempty"` // conservative, balanced, aggressive
	PrivacySensitivity PrivacySensitivity `json:"privacySensitivity,omitempty"`
	AgentPersonality   string             `json:"agentPersonality,omitempty"`
}

// RetrievalIntent describes what kinds of memories a query is asking for.
type RetrievalIntent struct {
	IntentType          string        `json:"intentType"` // facts, preferences, context, skills, relationships, mixed
	StorageTypesNeeded  []StorageType `json:"storageTypesNeeded"`
	TemporalFocus       string        `json:"temporalFocus"` // recent, all_time, specific_period
	ConfidenceThreshold float64       `json:"confidenceThreshold"`
	MaxResults          int           `json:"maxResults"`
	Reasoning           string        `json:"reasoning"`
}

// CleanupActionType enumerates the cleanup operations the scheduler executes.
type CleanupActionType string

const (
	CleanupDelete          CleanupActionType = "delete"
	CleanupArchive         CleanupActionType = "archive"
	CleanupConsolidate     CleanupActionType = "consolidate"
	CleanupUpdateRetention CleanupActionType = "update_retention"
	CleanupMerge           CleanupActionType = "merge"
)

// CleanupAction is a suggested or requested maintenance operation over one or
// more memories.
type CleanupAction struct {
	Type      CleanupActionType `json:"actionType"`
	MemoryIDs []string          `json:"memoryIds"`
	Reasoning string            `json:"reasoning"`
	// NewContent replaces the first memory's content when consolidating.
	NewContent string `json:"newContent,omitempty"`
	// NewRetention applies when Type is update_retention.
	NewRetention RetentionPolicy `json:"newRetention,omitempty"`
	Priority     string          `json:"priority,omitempty"` // low, medium, high, critical
}
