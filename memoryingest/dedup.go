package memoryingest

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/store"
)

// ruleMatchers maps an entity type to the attribute keys that establish
// equality on their own (spec.md §4.6 stage 4: "e.g., equal email or phone
// for persons; equal order_id for orders"). Not exhaustive by design — types
// absent here simply have no stage-4 match and fall through to "new entity".
var ruleMatchers = map[string][]string{
	"person": {"email", "phone"},
	"order":  {"order_id"},
}

var normalizeRe = regexp.MustCompile(`[^a-z0-9 ]`)

// normalizeName lowercases and strips punctuation, the dedup stage-1 key
// (domain.Entity.NormalizedName).
func normalizeName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	stripped := normalizeRe.ReplaceAllString(lower, "")
	return strings.Join(strings.Fields(stripped), " ")
}

// Deduplicator resolves an ExtractedEntity to an existing domain.Entity
// through the four-stage match spec.md §4.6 defines, or reports that no
// match was found (the caller then creates a new entity).
type Deduplicator struct {
	Memory   store.MemoryRepository
	Embedder embedder
	Config   domain.DedupConfig
}

// embedder is the subset of embedgw.Embedder memory dedup needs; kept
// narrow so tests can stub it without pulling in embedgw's provider wiring.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Resolve runs the four-stage deduplicator for one extracted entity and
// returns the matching entity with ok=true, or ok=false if no stage matched
// (a new entity should be created). Which stage matched is not reported.
func (d *Deduplicator) Resolve(ctx context.Context, tenantID domain.ID, ext ExtractedEntity) (domain.Entity, bool, error) {
	normalized := normalizeName(ext.Name)

	// Stage 1: exact match on normalized name.
	if e, err := d.Memory.FindEntityByNormalizedName(ctx, tenantID, ext.Type, normalized); err == nil {
		return e, true, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Entity{}, false, err
	}

	// MemoryRepository has no dedicated "list entities by type" method;
	// SearchEntitiesByEmbedding with a nil query vector and topK<=0 scores
	// every candidate 0 and returns all of them, which doubles as that
	// listing for stages 2 and 4 below.
	candidates, err := d.Memory.SearchEntitiesByEmbedding(ctx, tenantID, ext.Type, nil, 0)
	if err != nil {
		return domain.Entity{}, false, err
	}

	// Stage 2: fuzzy edit-distance ratio on normalized name.
	threshold := d.Config.FuzzyThreshold
	if threshold == 0 {
		threshold = 0.90
	}
	for _, c := range candidates {
		if levenshtein.Match(normalized, c.NormalizedName, nil) >= threshold {
			return c, true, nil
		}
	}

	// Stage 3: embedding cosine similarity.
	if d.Embedder != nil {
		vec, err := d.Embedder.Embed(ctx, ext.Name)
		if err == nil {
			embThreshold := d.Config.EmbeddingThreshold
			if embThreshold == 0 {
				embThreshold = 0.85
			}
			for _, c := range candidates {
				if len(c.Embedding) == 0 {
					continue
				}
				if cosineSimilarity(vec, c.Embedding) >= embThreshold {
					return c, true, nil
				}
			}
		}
	}

	// Stage 4: rule-based equality on type-specific identifying attributes.
	for _, key := range ruleMatchers[ext.Type] {
		val, ok := ext.Attributes[key]
		if !ok {
			continue
		}
		for _, c := range candidates {
			if other, ok := c.Attributes[key]; ok && other == val {
				return c, true, nil
			}
		}
	}

	return domain.Entity{}, false, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
