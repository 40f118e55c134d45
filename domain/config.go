package domain

import "time"

// RetrievalConfig controls the hybrid rule-retrieval scoring of spec.md
// §4.1 "Filtering": final_score = w_vec*cos(query,rule_emb) + w_bm25*bm25(...).
type RetrievalConfig struct {
	VectorWeight float64 `toml:"vector_weight"`
	BM25Weight   float64 `toml:"bm25_weight"`
	TopK         int     `toml:"top_k"`
}

// EnforcementConfig controls spec.md §4.4 two-lane enforcement.
type EnforcementConfig struct {
	MaxRetries        int      `toml:"max_retries"`
	LLMJudgeModels    []string `toml:"llm_judge_models"`
	AlwaysEnforceGlobal bool   `toml:"always_enforce_global"` // default true
}

// EntityExtractionConfig controls spec.md §4.6 entity extraction.
type EntityExtractionConfig struct {
	MinConfidence float64 `toml:"min_confidence"`
}

// DedupConfig controls spec.md §4.6 four-stage deduplication thresholds.
type DedupConfig struct {
	FuzzyThreshold     float64 `toml:"fuzzy_threshold"`     // default 0.90
	EmbeddingThreshold float64 `toml:"embedding_threshold"`
}

// SummarizationConfig controls spec.md §4.6 hierarchical summarization.
type SummarizationConfig struct {
	TurnsPerSummary   int `toml:"turns_per_summary"`   // default 10
	SummariesPerMeta  int `toml:"summaries_per_meta"`
	EnabledAtTurnCount int `toml:"enabled_at_turn_count"`
}

// ChannelPolicy configures per-channel behavior (spec.md §6).
type ChannelPolicy struct {
	Channel          string        `toml:"channel"`
	AggregationWindow time.Duration `toml:"aggregation_window"`
	SupersedeMode    string        `toml:"supersede_mode"`
	MaxMessageLength int           `toml:"max_message_length"`
	TypingSupport    bool          `toml:"typing_support"`
}

// GapFillConfig controls spec.md §4.5 GAP_FILL missing-field resolution
// thresholds.
type GapFillConfig struct {
	UseThreshold       float64 `toml:"use_threshold"`       // default 0.85
	NoConfirmThreshold float64 `toml:"no_confirm_threshold"` // default 0.95
}

// PhaseFlags enables/disables individual pipeline phases. Disabled optional
// phases degrade per spec.md §4.1 rather than erroring; phases 1, 11 cannot
// be disabled (fatal phases) and this type does not expose flags for them.
type PhaseFlags struct {
	SituationalSensor bool `toml:"situational_sensor"`
	Retrieval         bool `toml:"retrieval"`
	Filtering         bool `toml:"filtering"`
	GapFillPlanning   bool `toml:"gap_fill_planning"`
	ToolExecution     bool `toml:"tool_execution"`
	Enforcement       bool `toml:"enforcement"`
	MemoryIngestion   bool `toml:"memory_ingestion"`
}

// PipelineConfig is the explicit configuration record spec.md §6 requires in
// place of the source's dynamic dicts (spec.md §9). Unknown TOML keys are
// rejected by the loader in align/config.go.
type PipelineConfig struct {
	Phases           PhaseFlags             `toml:"phases"`
	Retrieval        RetrievalConfig        `toml:"retrieval"`
	Enforcement      EnforcementConfig      `toml:"enforcement"`
	EntityExtraction EntityExtractionConfig `toml:"entity_extraction"`
	Dedup            DedupConfig            `toml:"dedup"`
	Summarization    SummarizationConfig    `toml:"summarization"`
	GapFill          GapFillConfig          `toml:"gap_fill"`
	Channels         []ChannelPolicy        `toml:"channels"`
	TurnDeadline     time.Duration          `toml:"turn_deadline"`
	EmbeddingBudget  time.Duration          `toml:"embedding_budget"`  // soft budget, default 500ms
	LLMJudgeBudget   time.Duration          `toml:"llm_judge_budget"` // soft budget, default 2s
}

// DefaultPipelineConfig returns conservative defaults matching spec.md's
// stated defaults (always_enforce_global=true, fuzzy_threshold=0.90,
// turns_per_summary=10, gap-fill thresholds 0.85/0.95).
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Phases: PhaseFlags{
			SituationalSensor: true,
			Retrieval:         true,
			Filtering:         true,
			GapFillPlanning:   true,
			ToolExecution:     true,
			Enforcement:       true,
			MemoryIngestion:   true,
		},
		Retrieval: RetrievalConfig{VectorWeight: 0.7, BM25Weight: 0.3, TopK: 20},
		Enforcement: EnforcementConfig{
			MaxRetries:          2,
			AlwaysEnforceGlobal: true,
		},
		EntityExtraction: EntityExtractionConfig{MinConfidence: 0.6},
		Dedup:            DedupConfig{FuzzyThreshold: 0.90, EmbeddingThreshold: 0.85},
		Summarization: SummarizationConfig{
			TurnsPerSummary:    10,
			SummariesPerMeta:   5,
			EnabledAtTurnCount: 10,
		},
		GapFill:         GapFillConfig{UseThreshold: 0.85, NoConfirmThreshold: 0.95},
		TurnDeadline:    30 * time.Second,
		EmbeddingBudget: 500 * time.Millisecond,
		LLMJudgeBudget:  2 * time.Second,
	}
}
