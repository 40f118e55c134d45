package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/turnkit/align/llmgw"
	"github.com/turnkit/align/telemetry"
)

var snapshotSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["language", "tone"],
	"properties": {
		"language": {"type": "string"},
		"intent_changed": {"type": "boolean"},
		"tone": {"type": "string"},
		"frustration_level": {"type": "number"},
		"candidate_vars": {"type": "object"}
	}
}`)

func mustCompileSchema(src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("snapshot.json", strings.NewReader(src)); err != nil {
		panic(err)
	}
	s, err := c.Compile("snapshot.json")
	if err != nil {
		panic(err)
	}
	return s
}

// SituationalSensor is Phase 2: an LLM call that classifies the turn's
// language, tone, frustration level, and whether the interlocutor's intent
// has visibly shifted since the last turn. A failure degrades to a neutral
// snapshot rather than blocking the turn (spec.md §4.1, §7).
type SituationalSensor struct {
	Gen   llmgw.Generator
	Model string
	Log   telemetry.Logger
}

func NewSituationalSensor(gen llmgw.Generator, model string, log telemetry.Logger) *SituationalSensor {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &SituationalSensor{Gen: gen, Model: model, Log: log}
}

func (s *SituationalSensor) Name() string            { return "situational_sensor" }
func (s *SituationalSensor) FailureMode() FailureMode { return FailDegrade }

func (s *SituationalSensor) Run(ctx context.Context, ws *TurnWorkingSet) error {
	if s.Gen == nil {
		ws.Snapshot = neutralSnapshot()
		return nil
	}

	prompt := buildSensorPrompt(ws)
	resp, err := s.Gen.Complete(ctx, llmgw.Request{
		Model:       s.Model,
		Temperature: 0,
		MaxTokens:   256,
		Messages: []llmgw.Message{
			{Role: "system", Content: sensorSystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		s.Log.Warn(ctx, "situational_sensor: generation failed, using neutral snapshot", "error", err)
		ws.Snapshot = neutralSnapshot()
		return fmt.Errorf("degrade: %w", err)
	}

	snap, err := parseSnapshot(concatContent(resp.Content))
	if err != nil {
		s.Log.Warn(ctx, "situational_sensor: unparseable response, using neutral snapshot", "error", err)
		ws.Snapshot = neutralSnapshot()
		return fmt.Errorf("degrade: %w", err)
	}
	ws.Snapshot = snap
	ws.TokensUsed += resp.Usage.TotalTokens
	return nil
}

const sensorSystemPrompt = `You observe one turn of a conversation and report its situational snapshot as JSON: language, tone, frustration_level (0-1), intent_changed (bool), and any candidate_vars you can confidently read off the message. Respond with JSON only.`

func buildSensorPrompt(ws *TurnWorkingSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Message: %s\n", ws.Message)
	if ws.Session != nil && len(ws.Session.StepHistory) > 0 {
		last := ws.Session.StepHistory[len(ws.Session.StepHistory)-1]
		fmt.Fprintf(&b, "Last step entered at turn %d.\n", last.TurnNumber)
	}
	return b.String()
}

func neutralSnapshot() SituationalSnapshot {
	return SituationalSnapshot{Language: "en", Tone: "neutral", FrustrationLevel: 0, CandidateVars: map[string]any{}}
}

func parseSnapshot(raw string) (SituationalSnapshot, error) {
	obj := extractJSONObject(raw)
	var payload struct {
		Language         string         `json:"language"`
		IntentChanged    bool           `json:"intent_changed"`
		Tone             string         `json:"tone"`
		FrustrationLevel float64        `json:"frustration_level"`
		CandidateVars    map[string]any `json:"candidate_vars"`
	}
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return SituationalSnapshot{}, err
	}
	var decoded any
	if err := json.Unmarshal([]byte(obj), &decoded); err != nil {
		return SituationalSnapshot{}, err
	}
	if err := snapshotSchema.Validate(decoded); err != nil {
		return SituationalSnapshot{}, fmt.Errorf("schema validation: %w", err)
	}
	if payload.CandidateVars == nil {
		payload.CandidateVars = map[string]any{}
	}
	return SituationalSnapshot{
		Language:         payload.Language,
		IntentChanged:    payload.IntentChanged,
		Tone:             payload.Tone,
		FrustrationLevel: payload.FrustrationLevel,
		CandidateVars:    payload.CandidateVars,
	}, nil
}

// extractJSONObject returns s from its first '{' to its last '}', tolerating
// prose or code-fence wrapping around the LLM's JSON reply.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
