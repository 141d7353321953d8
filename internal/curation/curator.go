package curation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/entrained/engram-service/internal/model"
	registryjudge "github.com/entrained/engram-service/internal/registry/judge"
	registrystore "github.com/entrained/engram-service/internal/registry/store"
)

const judgeSystemPrompt = "You are an AI memory curation specialist. Always respond with valid JSON only, no additional text."

// Request carries one conversation turn for curation.
type Request struct {
	UserInput           string                     `json:"userInput"`
	AgentResponse       string                     `json:"agentResponse"`
	ConversationContext string                     `json:"conversationContext,omitempty"`
	ExistingMemoryCount int                        `json:"existingMemoryCount,omitempty"`
	Preferences         *model.CurationPreferences `json:"curationPreferences,omitempty"`
}

// Curator turns conversation turns into storage decisions using a language
// model judge. Every judge failure degrades to a deterministic fallback, so
// Analyze never returns an error to its caller.
type Curator struct {
	judge   registryjudge.Judge
	timeout time.Duration
}

// New builds a Curator. A nil judge is allowed and forces fallback decisions.
func New(judge registryjudge.Judge, timeout time.Duration) *Curator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Curator{judge: judge, timeout: timeout}
}

// Analyze decides what, if anything, from a conversation turn should be
// remembered.
func (c *Curator) Analyze(ctx context.Context, req Request) *model.MemoryDecision {
	raw, err := c.callJudge(ctx, buildCurationPrompt(req))
	if err != nil {
		log.Warn("Curation judge unavailable, using fallback decision", "err", err)
		return fallbackDecision()
	}

	decision, err := parseDecision(raw)
	if err != nil {
		log.Error("Curation response unparseable, using fallback decision", "err", err)
		return fallbackDecision()
	}

	log.Info("Memory curation decision",
		"store", decision.ShouldStore(),
		"observations", len(decision.Observations),
		"type", decision.StorageType)
	return decision
}

// AnalyzeRetrievalIntent classifies what kinds of memories a query needs.
func (c *Curator) AnalyzeRetrievalIntent(ctx context.Context, query, context_ string) *model.RetrievalIntent {
	raw, err := c.callJudge(ctx, buildIntentPrompt(query, context_))
	if err != nil {
		log.Warn("Intent judge unavailable, using fallback intent", "err", err)
		return fallbackIntent()
	}

	intent, err := parseIntent(raw)
	if err != nil {
		log.Error("Intent response unparseable, using fallback intent", "err", err)
		return fallbackIntent()
	}
	return intent
}

// SuggestCleanupActions inspects memory stats and proposes maintenance
// operations. Purely rule-based, no judge call.
func (c *Curator) SuggestCleanupActions(stats []*registrystore.MemoryStats, consolidationThreshold int) []model.CleanupAction {
	var actions []model.CleanupAction
	now := time.Now().UTC()

	var factIDs []string
	for _, s := range stats {
		if s.ExpiresAt != nil && s.ExpiresAt.Before(now) {
			actions = append(actions, model.CleanupAction{
				Type:      model.CleanupDelete,
				MemoryIDs: []string{s.ID},
				Reasoning: "Memory has expired based on retention policy",
				Priority:  "medium",
			})
		}
		if s.StorageType == model.StorageFacts {
			factIDs = append(factIDs, s.ID)
		}
	}

	if consolidationThreshold > 0 && len(factIDs) > consolidationThreshold {
		actions = append(actions, model.CleanupAction{
			Type:      model.CleanupConsolidate,
			MemoryIDs: factIDs,
			Reasoning: "Multiple fact memories could be consolidated for efficiency",
			Priority:  "low",
		})
	}
	return actions
}

func (c *Curator) callJudge(ctx context.Context, prompt string) (json.RawMessage, error) {
	if c.judge == nil {
		return nil, fmt.Errorf("no judge configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.judge.Judge(ctx, judgeSystemPrompt, prompt)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// rawObservation mirrors the judge's JSON shape before validation.
type rawObservation struct {
	MemoryType         string   `json:"memory_type"`
	Content            string   `json:"content"`
	ConfidenceScore    *float64 `json:"confidence_score"`
	EphemeralityScore  *float64 `json:"ephemerality_score"`
	PrivacySensitivity string   `json:"privacy_sensitivity"`
	ContextualValue    *float64 `json:"contextual_value"`
	Tags               []string `json:"tags"`
	Reasoning          string   `json:"reasoning"`
}

type rawDecision struct {
	Observations            []rawObservation `json:"observations"`
	OverallReasoning        string           `json:"overall_reasoning"`
	ConsolidationCandidates []string         `json:"consolidation_candidates"`
}

func parseDecision(raw json.RawMessage) (*model.MemoryDecision, error) {
	var parsed rawDecision
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode curation response: %w", err)
	}

	decision := &model.MemoryDecision{
		OverallReasoning:        parsed.OverallReasoning,
		ConsolidationCandidates: parsed.ConsolidationCandidates,
	}
	if decision.OverallReasoning == "" {
		decision.OverallReasoning = "Observation analysis"
	}

	for _, o := range parsed.Observations {
		obs, ok := validateObservation(o)
		if !ok {
			log.Warn("Skipping invalid observation", "type", o.MemoryType)
			continue
		}
		decision.Observations = append(decision.Observations, obs)
	}

	aggregate(decision)
	return decision, nil
}

func validateObservation(o rawObservation) (model.Observation, bool) {
	t := model.StorageType(o.MemoryType)
	if o.MemoryType == "" {
		t = model.StorageContext
	}
	if !model.ValidStorageType(t) {
		return model.Observation{}, false
	}

	privacy := model.PrivacySensitivity(o.PrivacySensitivity)
	switch privacy {
	case model.PrivacyPublic, model.PrivacyPersonal, model.PrivacyPrivate, model.PrivacyConfidential:
	case "":
		privacy = model.PrivacyPersonal
	default:
		return model.Observation{}, false
	}

	score := func(p *float64) float64 {
		if p == nil {
			return 0.5
		}
		return clamp01(*p)
	}

	reasoning := o.Reasoning
	if reasoning == "" {
		reasoning = "Observed information"
	}

	return model.Observation{
		Type:               t,
		Content:            o.Content,
		ConfidenceScore:    score(o.ConfidenceScore),
		EphemeralityScore:  score(o.EphemeralityScore),
		PrivacySensitivity: privacy,
		ContextualValue:    score(o.ContextualValue),
		Tags:               o.Tags,
		Reasoning:          reasoning,
	}, true
}

// aggregate derives the single-record fields from the storage-worthy subset.
func aggregate(d *model.MemoryDecision) {
	worthy := d.StorageWorthy()
	if len(worthy) == 0 {
		d.StorageType = model.StorageTemporary
		d.RetentionPolicy = model.RetentionSessionOnly
		d.PrivacySensitivity = model.PrivacyPublic
		d.ConfidenceScore = 0.1
		return
	}

	first := worthy[0]
	d.StorageType = first.Type
	d.RetentionPolicy = first.RetentionPolicy()
	d.PrivacySensitivity = first.PrivacySensitivity

	var confidence float64
	tagSet := map[string]struct{}{}
	for _, o := range worthy {
		confidence += o.ConfidenceScore
		d.KeyInformation = append(d.KeyInformation, o.Content)
		for _, tag := range o.Tags {
			tagSet[tag] = struct{}{}
		}
	}
	d.ConfidenceScore = confidence / float64(len(worthy))

	for tag := range tagSet {
		d.Tags = append(d.Tags, tag)
	}
	sort.Strings(d.Tags)
}

func fallbackDecision() *model.MemoryDecision {
	// Conservative: store as context and let cleanup sort it out later.
	return &model.MemoryDecision{
		Observations: []model.Observation{{
			Type:               model.StorageContext,
			ConfidenceScore:    0.3,
			EphemeralityScore:  0.5,
			PrivacySensitivity: model.PrivacyPersonal,
			ContextualValue:    0.5,
			Tags:               []string{"fallback", "needs_review"},
			Reasoning:          "Fallback decision due to analysis failure",
		}},
		OverallReasoning:   "Fallback decision due to analysis failure - conservative storage",
		StorageType:        model.StorageContext,
		RetentionPolicy:    model.RetentionMediumTerm,
		PrivacySensitivity: model.PrivacyPersonal,
		ConfidenceScore:    0.3,
		Tags:               []string{"fallback", "needs_review"},
		RequiresReview:     true,
	}
}

type rawIntent struct {
	IntentType          string   `json:"intent_type"`
	StorageTypesNeeded  []string `json:"storage_types_needed"`
	TemporalFocus       string   `json:"temporal_focus"`
	ConfidenceThreshold *float64 `json:"confidence_threshold"`
	MaxResults          *int     `json:"max_results"`
	Reasoning           string   `json:"reasoning"`
}

func parseIntent(raw json.RawMessage) (*model.RetrievalIntent, error) {
	var parsed rawIntent
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode intent response: %w", err)
	}

	intent := &model.RetrievalIntent{
		IntentType:          parsed.IntentType,
		TemporalFocus:       parsed.TemporalFocus,
		ConfidenceThreshold: 0.7,
		MaxResults:          10,
		Reasoning:           parsed.Reasoning,
	}
	if intent.IntentType == "" {
		intent.IntentType = "mixed"
	}
	if intent.TemporalFocus == "" {
		intent.TemporalFocus = "all_time"
	}
	if intent.Reasoning == "" {
		intent.Reasoning = "Automated intent analysis"
	}
	if parsed.ConfidenceThreshold != nil {
		intent.ConfidenceThreshold = clamp01(*parsed.ConfidenceThreshold)
	}
	if parsed.MaxResults != nil {
		n := *parsed.MaxResults
		if n < 1 {
			n = 1
		}
		if n > 50 {
			n = 50
		}
		intent.MaxResults = n
	}

	for _, t := range parsed.StorageTypesNeeded {
		st := model.StorageType(t)
		if model.ValidStorageType(st) {
			intent.StorageTypesNeeded = append(intent.StorageTypesNeeded, st)
		}
	}
	if len(intent.StorageTypesNeeded) == 0 {
		intent.StorageTypesNeeded = []model.StorageType{model.StorageContext}
	}
	return intent, nil
}

func fallbackIntent() *model.RetrievalIntent {
	return &model.RetrievalIntent{
		IntentType:          "mixed",
		StorageTypesNeeded:  []model.StorageType{model.StorageFacts, model.StorageContext, model.StoragePreferences},
		TemporalFocus:       "all_time",
		ConfidenceThreshold: 0.6,
		MaxResults:          10,
		Reasoning:           "Fallback analysis - search multiple types",
	}
}

func buildCurationPrompt(req Request) string {
	var b strings.Builder

	if req.Preferences != nil {
		fmt.Fprintf(&b, "Agent Preferences:\n")
		fmt.Fprintf(&b, "- Priority topics: %s\n", strings.Join(req.Preferences.PriorityTopics, ", "))
		fmt.Fprintf(&b, "- Retention bias: %s\n", req.Preferences.RetentionBias)
		fmt.Fprintf(&b, "- Privacy sensitivity: %s\n", req.Preferences.PrivacySensitivity)
		fmt.Fprintf(&b, "- Agent personality: %s\n\n", req.Preferences.AgentPersonality)
	}

	fmt.Fprintf(&b, "Conversation Turn:\nUser: %s\nAssistant: %s\n\n", req.UserInput, req.AgentResponse)

	if req.ExistingMemoryCount > 0 {
		fmt.Fprintf(&b, "Note: User already has %d stored memories.\n\n", req.ExistingMemoryCount)
	}

	contextLine := req.ConversationContext
	if contextLine == "" {
		contextLine = "No additional context"
	}
	fmt.Fprintf(&b, "Context: %s\n\n", contextLine)

	b.WriteString(curationInstructions)
	return b.String()
}

func buildIntentPrompt(query, context_ string) string {
	return fmt.Sprintf(intentInstructions, query, context_)
}
