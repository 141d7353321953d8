package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewMemoryID returns a fresh memory id ("mem-" + 12 hex chars).
func NewMemoryID() string {
	return "mem-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// NewSituationID returns a fresh situation id ("sit-" + 12 hex chars).
func NewSituationID() string {
	return "sit-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Memory is a single shared-experience record witnessed by one or more
// entities. The witness list governs visibility: an entity can only retrieve
// memories it witnessed.
type Memory struct {
	ID string `json:"id"`

	// WitnessedBy lists the original (un-normalized) entity ids that
	// participated in or observed this memory. Never empty.
	WitnessedBy []string `json:"witnessedBy"`

	Situation Situation `json:"situation"`
	Content   Content   `json:"content"`

	// Vector is the embedding for the full content text. Its length must
	// equal the configured embedding dimension.
	Vector []float32 `json:"vector"`

	Metadata Metadata `json:"metadata"`

	// AccessControl is advisory; WitnessedBy is what search enforces.
	AccessControl AccessControl `json:"accessControl"`

	// Causality optionally links this memory to the memories it was
	// synthesized from.
	Causality *Causality `json:"causality,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Situation describes the shared context (conversation, meeting, thread)
// a memory belongs to.
type Situation struct {
	ID              string   `json:"situationId"`
	Type            string   `json:"situationType"`
	DurationMinutes *float64 `json:"durationMinutes,omitempty"`
	Location        string   `json:"location,omitempty"`
	Context         string   `json:"context,omitempty"`
}

// Content holds the remembered text plus optional per-speaker breakdown.
type Content struct {
	Text string `json:"text"`
	// Speakers maps entity id to that entity's contribution.
	Speakers map[string]string `json:"speakers,omitempty"`
	Summary  string            `json:"summary,omitempty"`
	Media    []string          `json:"media,omitempty"`
}

// Metadata carries a small fixed core plus an open extension bag for
// curation-derived fields. Fields in Extra are opinions, not schema.
type Metadata struct {
	Timestamp          time.Time `json:"timestamp"`
	InteractionQuality float64   `json:"interactionQuality,omitempty"`
	TopicTags          []string  `json:"topicTags,omitempty"`

	StorageType        StorageType        `json:"storageType,omitempty"`
	RetentionPolicy    RetentionPolicy    `json:"retentionPolicy,omitempty"`
	PrivacySensitivity PrivacySensitivity `json:"privacySensitivity,omitempty"`
	ConfidenceScore    float64            `json:"confidenceScore,omitempty"`
	ExpiresAt          *time.Time         `json:"expiresAt,omitempty"`

	AccessCount      int        `json:"accessCount,omitempty"`
	LastAccessed     *time.Time `json:"lastAccessed,omitempty"`
	ConsolidatedFrom []string   `json:"consolidatedFrom,omitempty"`
	Archived         bool       `json:"archived,omitempty"`
	ArchivedAt       *time.Time `json:"archivedAt,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// AccessControl holds advisory sharing settings.
type AccessControl struct {
	PrivacyLevel     string              `json:"privacyLevel,omitempty"`
	ExcludedEntities []string            `json:"excludedEntities,omitempty"`
	SharePermissions map[string][]string `json:"sharePermissions,omitempty"`
}

// DefaultPrivacyLevel is applied when a memory is stored without one.
const DefaultPrivacyLevel = "participants_only"

// Causality links a synthesized memory to its parents.
type Causality struct {
	ParentMemories   []string           `json:"parentMemories,omitempty"`
	InfluenceWeights map[string]float64 `json:"influenceWeights,omitempty"`
	SynthesisType    string             `json:"synthesisType,omitempty"`
}
