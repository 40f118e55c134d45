package pipeline

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/embedgw"
	"github.com/turnkit/align/store"
	"github.com/turnkit/align/telemetry"
)

// Retriever is Phase 4: hybrid rule retrieval. It embeds the turn's message,
// asks the config repository for vector-ranked candidates, then re-scores
// them with final_score = w_vec*cos + w_bm25*bm25 against rule.ConditionText
// (spec.md §4.1 "Filtering, detail"). A failure degrades to an empty
// candidate set (spec.md §7).
type Retriever struct {
	Config   store.ConfigRepository
	Embedder embedgw.Embedder
	Log      telemetry.Logger
}

func NewRetriever(cfg store.ConfigRepository, embedder embedgw.Embedder, log telemetry.Logger) *Retriever {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Retriever{Config: cfg, Embedder: embedder, Log: log}
}

func (r *Retriever) Name() string            { return "retrieval" }
func (r *Retriever) FailureMode() FailureMode { return FailDegrade }

// RetrievedRule is one candidate rule with its component and final scores,
// the input the Filtering phase's LLM judge and tie-break ordering consume.
type RetrievedRule struct {
	Rule       domain.Rule
	VecScore   float64
	BM25Score  float64
	FinalScore float64
}

func (r *Retriever) Run(ctx context.Context, ws *TurnWorkingSet) error {
	ws.retrieved = nil

	var queryEmbedding []float32
	if r.Embedder != nil {
		emb, err := r.Embedder.Embed(ctx, ws.Message)
		if err != nil {
			r.Log.Warn(ctx, "retrieval: embedding failed, degrading to empty result set", "error", err)
			return fmt.Errorf("degrade: %w", err)
		}
		queryEmbedding = emb
	}

	var scenarioID, stepID *domain.ID
	if ws.Session != nil {
		scenarioID, stepID = ws.Session.ActiveScenarioID, ws.Session.ActiveStepID
	}

	topK := ws.Config.Retrieval.TopK
	if topK <= 0 {
		topK = 20
	}
	candidates, err := r.Config.SearchRules(ctx, store.RuleSearchQuery{
		TenantID:       ws.TenantID,
		AgentID:        ws.AgentID,
		ScenarioID:     scenarioID,
		StepID:         stepID,
		QueryEmbedding: queryEmbedding,
		TopK:           topK * 3,
	})
	if err != nil {
		r.Log.Warn(ctx, "retrieval: rule search failed, degrading to empty result set", "error", err)
		return fmt.Errorf("degrade: %w", err)
	}

	wVec, wBM25 := ws.Config.Retrieval.VectorWeight, ws.Config.Retrieval.BM25Weight
	queryTerms := tokenize(ws.Message)

	scored := make([]RetrievedRule, 0, len(candidates))
	for _, rule := range candidates {
		vec := cosineSimilarity(queryEmbedding, rule.Embedding)
		bm25 := bm25Score(queryTerms, rule.ConditionText)
		scored = append(scored, RetrievedRule{
			Rule:       rule,
			VecScore:   vec,
			BM25Score:  bm25,
			FinalScore: wVec*vec + wBM25*bm25,
		})
	}
	if topK < len(scored) {
		scored = scored[:topK]
	}
	ws.retrieved = scored
	return nil
}

var tokenRe = regexp.MustCompile(`[a-zA-Z0-9]+`)

func tokenize(s string) []string {
	return tokenRe.FindAllString(strings.ToLower(s), -1)
}

// bm25Score is a single-document Okapi BM25 approximation (no corpus-wide
// IDF available at this layer, so idf is fixed at 1 per matching term; k1
// and b use Okapi's conventional defaults). No example repo in the pack
// ships a BM25 implementation, so this is a deliberately small stdlib
// function rather than an external dependency.
func bm25Score(queryTerms []string, doc string) float64 {
	docTerms := tokenize(doc)
	if len(docTerms) == 0 || len(queryTerms) == 0 {
		return 0
	}
	tf := make(map[string]int, len(docTerms))
	for _, t := range docTerms {
		tf[t]++
	}
	const k1, b = 1.2, 0.75
	avgLen := float64(len(docTerms)) // single-document corpus: avgdl == this doc's length
	var score float64
	for _, qt := range queryTerms {
		f := float64(tf[qt])
		if f == 0 {
			continue
		}
		num := f * (k1 + 1)
		den := f + k1*(1-b+b*float64(len(docTerms))/avgLen)
		score += num / den
	}
	return score
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
