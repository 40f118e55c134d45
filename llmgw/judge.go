package llmgw

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// verdictSchema constrains the judge's JSON reply to {"satisfied": bool,
// "rationale": string}. Compiled once; jsonschema/v6 compilers are safe for
// concurrent Validate calls.
var verdictSchema = mustCompileVerdictSchema()

func mustCompileVerdictSchema() *jsonschema.Schema {
	const doc = `{
		"type": "object",
		"required": ["satisfied"],
		"properties": {
			"satisfied": {"type": "boolean"},
			"rationale": {"type": "string"}
		}
	}`
	c := jsonschema.NewCompiler()
	if err := c.AddResource("verdict.json", strings.NewReader(doc)); err != nil {
		panic(fmt.Sprintf("llmgw: compile verdict schema: %v", err))
	}
	s, err := c.Compile("verdict.json")
	if err != nil {
		panic(fmt.Sprintf("llmgw: compile verdict schema: %v", err))
	}
	return s
}

// GeneratorJudge adapts any Generator into a Judge by issuing a
// temperature-0, non-streaming completion and parsing the model's reply as a
// JSON verdict object. A reply that fails to parse or fails schema
// validation yields JudgeVerdict{Parsed: false}, which the enforcement
// package's subjective lane treats as fail-open (spec.md §5.2).
type GeneratorJudge struct {
	Gen Generator
}

// NewGeneratorJudge wraps gen as a Judge.
func NewGeneratorJudge(gen Generator) *GeneratorJudge {
	return &GeneratorJudge{Gen: gen}
}

const judgeSystemPrompt = `You are a strict compliance judge. Given a conversational ` +
	`constraint and a candidate reply, decide whether the reply satisfies the ` +
	`constraint. Respond with ONLY a JSON object: {"satisfied": true|false, "rationale": "..."}.`

func (j *GeneratorJudge) Evaluate(ctx context.Context, req JudgeRequest) (JudgeVerdict, error) {
	messages := make([]Message, 0, len(req.Context)+2)
	messages = append(messages, Message{Role: "system", Content: judgeSystemPrompt})
	messages = append(messages, req.Context...)
	messages = append(messages, Message{
		Role: "user",
		Content: fmt.Sprintf("Constraint: %s\n\nCandidate reply:\n%s", req.Constraint, req.Candidate),
	})

	resp, err := j.Gen.Complete(ctx, Request{
		Model:       req.Model,
		Messages:    messages,
		Temperature: 0,
		MaxTokens:   256,
	})
	if err != nil {
		return JudgeVerdict{}, fmt.Errorf("llmgw: judge completion: %w", err)
	}

	var raw string
	for _, m := range resp.Content {
		raw += m.Content
	}
	return parseVerdict(raw), nil
}

func parseVerdict(raw string) JudgeVerdict {
	raw = extractJSONObject(raw)
	if raw == "" {
		return JudgeVerdict{Parsed: false}
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return JudgeVerdict{Parsed: false}
	}
	if err := verdictSchema.Validate(decoded); err != nil {
		return JudgeVerdict{Parsed: false}
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return JudgeVerdict{Parsed: false}
	}
	satisfied, _ := obj["satisfied"].(bool)
	rationale, _ := obj["rationale"].(string)
	return JudgeVerdict{Satisfied: satisfied, Parsed: true, Rationale: rationale}
}

// extractJSONObject returns s from its first '{' to its last '}', tolerating
// models that wrap their JSON in prose or code fences.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
