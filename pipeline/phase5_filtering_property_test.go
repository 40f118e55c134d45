package pipeline

import (
	"context"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/llmgw"
)

// alwaysSatisfiedJudge reports every candidate rule as applying right now,
// so matchRules' only remaining job is the deterministic tie-break sort.
type alwaysSatisfiedJudge struct{}

func (alwaysSatisfiedJudge) Evaluate(_ context.Context, _ llmgw.JudgeRequest) (llmgw.JudgeVerdict, error) {
	return llmgw.JudgeVerdict{Satisfied: true, Parsed: true}, nil
}

type candidateSpec struct {
	priority   int
	finalScore float64
}

// TestFilteringTieBreakIsDeterministicProperty verifies spec.md §8 property
// 1: for any input, rule ordering after retrieval+filtering is a stable
// function of (priority desc, final_score desc, id asc).
func TestFilteringTieBreakIsDeterministicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("matched rules are ordered by priority desc, final_score desc, id asc", prop.ForAll(
		func(specs []candidateSpec) bool {
			f := NewFilterer(nil, alwaysSatisfiedJudge{}, "test-model", nil)
			ws := NewTurnWorkingSet(InboundMessage{Content: "hello"})
			ws.Config.Phases.Filtering = true

			type ruleWithID struct {
				id domain.ID
				candidateSpec
			}
			rules := make([]ruleWithID, len(specs))
			for i, s := range specs {
				rules[i] = ruleWithID{id: domain.NewID(), candidateSpec: s}
				ws.retrieved = append(ws.retrieved, RetrievedRule{
					Rule:       domain.Rule{ID: rules[i].id, Priority: s.priority, ConditionText: "always"},
					FinalScore: s.finalScore,
				})
			}

			if err := f.Run(context.Background(), ws); err != nil {
				return false
			}
			if len(ws.MatchedRules) != len(rules) {
				return false
			}

			want := make([]domain.ID, len(rules))
			sort.SliceStable(rules, func(i, j int) bool {
				a, b := rules[i], rules[j]
				if a.priority != b.priority {
					return a.priority > b.priority
				}
				if a.finalScore != b.finalScore {
					return a.finalScore > b.finalScore
				}
				return a.id.String() < b.id.String()
			})
			for i, r := range rules {
				want[i] = r.id
			}

			for i, m := range ws.MatchedRules {
				if m.RuleID != want[i] {
					return false
				}
			}
			return sort.SliceIsSorted(ws.MatchedRules, func(i, j int) bool {
				a, b := ws.MatchedRules[i], ws.MatchedRules[j]
				if a.Priority != b.Priority {
					return a.Priority > b.Priority
				}
				if a.FinalScore != b.FinalScore {
					return a.FinalScore > b.FinalScore
				}
				return a.RuleID.String() < b.RuleID.String()
			})
		},
		genCandidateSpecs(),
	))

	properties.TestingRun(t)
}

func genCandidateSpecs() gopter.Gen {
	return gen.SliceOfN(8, genCandidateSpec())
}

func genCandidateSpec() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(-100, 100),
		gen.Float64Range(0, 1),
	).Map(func(vals []any) candidateSpec {
		return candidateSpec{priority: vals[0].(int), finalScore: vals[1].(float64)}
	})
}
