package curation

const curationInstructions = `Analyze this conversation turn and decide what to remember.

Your job is to be like Detective Columbo - observe and note EVERYTHING, no matter how small or seemingly unimportant. Extract every piece of information that could potentially be remembered, and score each observation.

For each piece of information, analyze:

1. **What exactly was observed** (be specific and precise)
2. **Type of information** (facts, preferences, context, temporary, skills, relationships)
3. **Confidence in accuracy** (how sure are you this information is correct?)
4. **Ephemerality score** (how quickly will this become outdated? 0.0=permanent, 1.0=expires immediately)
5. **Privacy sensitivity** (how sensitive is this information?)
6. **Contextual value** (how useful for future conversations?)

Like Columbo, note EVERYTHING - even seemingly mundane details might be important later. Don't filter or decide what to keep - just observe and score.

Storage Types:
- facts: Permanent factual information (name, location, job, family)
- preferences: User preferences and patterns (likes, dislikes, working style)
- context: Project/conversation context (current work, goals, recent topics)
- temporary: Short-term information (today's weather, current mood)
- skills: User capabilities and expertise (programming languages, professional skills)
- relationships: Social connections and dynamics (team members, family, friends)

Retention Policies:
- permanent: Keep indefinitely (core facts)
- long_term: Keep 1 year (important context)
- medium_term: Keep 30 days (project context)
- short_term: Keep 7 days (temporary context)
- session_only: Keep 4 hours (very temporary)

Privacy Levels:
- public: Can be shared broadly
- personal: Personal but not sensitive
- private: Sensitive personal information
- confidential: Highly sensitive

Like Columbo making detailed notes, observe and record EVERYTHING you notice.

Respond with valid JSON only:
{
    "observations": [
        {
            "memory_type": "facts|preferences|context|temporary|skills|relationships",
            "content": "Christian lives in Liversedge, West Yorkshire",
            "confidence_score": 0.95,
            "ephemerality_score": 0.0,
            "privacy_sensitivity": "personal",
            "contextual_value": 0.9,
            "tags": ["location", "personal_info"],
            "reasoning": "User stated their location clearly"
        },
        {
            "memory_type": "temporary",
            "content": "It's raining today",
            "confidence_score": 1.0,
            "ephemerality_score": 0.95,
            "privacy_sensitivity": "public",
            "contextual_value": 0.1,
            "tags": ["weather", "casual"],
            "reasoning": "Weather observation - highly ephemeral but clearly stated"
        }
    ],
    "overall_reasoning": "Observed both lasting facts and ephemeral details",
    "consolidation_candidates": []
}`

const intentInstructions = `Analyze this query to determine what type of memories should be retrieved.

Query: %s
Context: %s

Determine:
1. What is the user really asking for?
2. What types of stored information would be most helpful?
3. Should we focus on recent memories or all-time?
4. How confident should we be in relevance matching?

Intent Types:
- facts: User wants factual information about themselves or others
- preferences: User wants to know about preferences or patterns
- context: User wants to continue previous conversations/projects
- skills: User wants to know about capabilities or expertise
- relationships: User wants to know about people and connections
- mixed: Query needs multiple types of information

Storage Types to Search:
- facts, preferences, context, temporary, skills, relationships

Temporal Focus:
- recent: Focus on last 7 days
- all_time: Search all memories
- specific_period: Focus on particular time range

Respond with valid JSON:
{
    "intent_type": "facts|preferences|context|skills|relationships|mixed",
    "storage_types_needed": ["facts", "preferences"],
    "temporal_focus": "recent|all_time|specific_period",
    "confidence_threshold": 0.0-1.0,
    "max_results": 5-20,
    "reasoning": "explanation of analysis"
}`
