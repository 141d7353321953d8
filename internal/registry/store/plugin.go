package store

import (
	"context"
	"fmt"
	"time"

	"github.com/entrained/engram-service/internal/model"
)

// WeightedVector is one query vector with its blend weight.
type WeightedVector struct {
	Vector []float32 `json:"vector"`
	Weight float64   `json:"weight"`
}

// EntityFilters narrows search results by who else witnessed a memory.
type EntityFilters struct {
	// CoParticipants requires every listed entity to be a witness.
	CoParticipants []string `json:"coParticipants,omitempty"`
}

// SituationFilters narrows search results by situation attributes. Values
// within one field are OR'd; fields are AND'd.
type SituationFilters struct {
	SituationTypes []string   `json:"situationTypes,omitempty"`
	TopicTags      []string   `json:"topicTags,omitempty"`
	After          *time.Time `json:"after,omitempty"`
	Before         *time.Time `json:"before,omitempty"`
}

// SearchRequest is a visibility-constrained nearest-neighbor query.
type SearchRequest struct {
	RequestingEntity    string           `json:"requestingEntity"`
	Vectors             []WeightedVector `json:"vectors"`
	EntityFilters       EntityFilters    `json:"entityFilters"`
	SituationFilters    SituationFilters `json:"situationFilters"`
	TopK                int              `json:"topK"`
	SimilarityThreshold float64          `json:"similarityThreshold"`
	ExcludeDenials      bool             `json:"excludeDenials"`
}

// SearchHit is one visible memory, ranked by similarity.
type SearchHit struct {
	MemoryID         string         `json:"memoryId"`
	Similarity       float64        `json:"similarity"`
	ContentPreview   string         `json:"contentPreview"`
	CoParticipants   []string       `json:"coParticipants"`
	SpeakersInvolved []string       `json:"speakersInvolved,omitempty"`
	SituationType    string         `json:"situationType"`
	SituationSummary string         `json:"situationSummary,omitempty"`
	PrivacyLevel     string         `json:"privacyLevel"`
	Metadata         model.Metadata `json:"metadata"`
}

// SearchResponse is the ranked, visibility-correct result set.
type SearchResponse struct {
	Memories          []SearchHit `json:"memories"`
	TotalFound        int         `json:"totalFound"`
	AccessDeniedCount int         `json:"accessDeniedCount"`
}

// MemoryStats is the maintenance view of a record: the fields the cleanup
// scheduler needs without decoding the full payload.
type MemoryStats struct {
	ID           string
	WitnessedBy  []string
	SituationID  string
	StorageType  model.StorageType
	CreatedAt    time.Time
	ExpiresAt    *time.Time
	AccessCount  int
	LastAccessed *time.Time
	Archived     bool
}

// MemoryStore is the access-controlled vector store. Implementations own the
// primary record table, the vector index, and the per-entity and
// per-situation secondary indices. Secondary indices are soft-consistent:
// their updates are best-effort and a record whose primary is gone is always
// treated as absent regardless of stale references.
type MemoryStore interface {
	// Store validates, writes the primary record plus indexed fields, and
	// best-effort updates the secondary indices. Returns the memory id.
	Store(ctx context.Context, m *model.Memory) (string, error)

	// Get returns the memory if requestingEntity witnessed it, else a
	// NotFoundError (identical for missing and unauthorized).
	Get(ctx context.Context, id, requestingEntity string) (*model.Memory, error)

	// Search runs a predicate-restricted nearest-neighbor query and bumps
	// access statistics on every returned memory.
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)

	// Delete removes the primary record and best-effort removes the id from
	// every secondary index. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error

	// ListIDs enumerates all memory ids (snapshot semantics).
	ListIDs(ctx context.Context) ([]string, error)

	// Stats returns the maintenance view of a record.
	Stats(ctx context.Context, id string) (*MemoryStats, error)

	// EntityIDs enumerates normalized entity tokens with an access index.
	EntityIDs(ctx context.Context) ([]string, error)

	// EntityMemoryIDs lists the memory ids in an entity's access index.
	EntityMemoryIDs(ctx context.Context, entity string) ([]string, error)

	// Archive marks a memory archived instead of removing it.
	Archive(ctx context.Context, id string) error

	// UpdateRetention rewrites a memory's retention policy and expiry.
	UpdateRetention(ctx context.Context, id string, policy model.RetentionPolicy) error

	// Consolidate rewrites the target memory's content, records the absorbed
	// ids in consolidatedFrom, and hard-deletes the absorbed memories.
	Consolidate(ctx context.Context, targetID, newContent string, absorbed []string) error

	// MarkPotentiallyUnused flags a memory for review by retention tooling.
	MarkPotentiallyUnused(ctx context.Context, id string) error

	// CleanOrphanRefs removes secondary-index entries that point at ids with
	// no primary record. Returns the number of references removed.
	CleanOrphanRefs(ctx context.Context) (int, error)

	// PutCleanupSuggestions persists suggested cleanup actions for review.
	PutCleanupSuggestions(ctx context.Context, date string, actions []model.CleanupAction, ttl time.Duration) error

	// MaintenanceTouch nudges the vector index's background optimization.
	// Best-effort; no compaction guarantee.
	MaintenanceTouch(ctx context.Context) error

	// Name returns the plugin name.
	Name() string
}

// Loader creates a MemoryStore from config.
type Loader func(ctx context.Context) (MemoryStore, error)

// Plugin represents a memory store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a memory store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered memory store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named memory store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown memory store %q; valid: %v", name, Names())
}
